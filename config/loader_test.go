package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentmesh/types"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Protocol.MessageTimeout)
	assert.Equal(t, int64(10*1024*1024), cfg.Protocol.MaxMessageSize)
	assert.Equal(t, 3, cfg.Protocol.MaxRetries)
	assert.True(t, cfg.Protocol.EnableRouting)
	assert.True(t, cfg.Protocol.EnableMultipart)
	assert.Equal(t, "memory", cfg.Artifact.Store)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Redis.Addr)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentmesh.yaml")
	content := `
protocol:
  message_timeout: 5s
  max_message_size: 4096
  max_retries: 7
  enable_routing: true
  enable_multipart: false
  content_handlers:
    text: true
    data: true
    binary: false
artifact:
  store: sqlite
  sqlite_path: /tmp/mesh.db
redis:
  addr: localhost:6379
  ttl: 1h
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Protocol.MessageTimeout)
	assert.Equal(t, int64(4096), cfg.Protocol.MaxMessageSize)
	assert.Equal(t, 7, cfg.Protocol.MaxRetries)
	assert.False(t, cfg.Protocol.EnableMultipart)
	assert.Equal(t, "sqlite", cfg.Artifact.Store)
	assert.Equal(t, "/tmp/mesh.db", cfg.Artifact.SQLitePath)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, time.Hour, cfg.Redis.TTL)
	assert.Equal(t, "debug", cfg.Log.Level)

	flags := cfg.Protocol.HandlerFlags()
	assert.True(t, flags[types.PartTypeText])
	assert.True(t, flags[types.PartTypeData])
	assert.False(t, flags[types.PartTypeBinary])
	assert.False(t, flags[types.PartTypeImage])
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).
		Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Protocol.MaxRetries)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("protocol: [not a mapping"), 0o600))

	_, err := NewLoader().WithConfigPath(path).Load()
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte("protocol:\n  max_retries: 7\n"), 0o600))

	t.Setenv("AGENTMESH_PROTOCOL_MAX_RETRIES", "9")
	t.Setenv("AGENTMESH_PROTOCOL_MESSAGE_TIMEOUT", "90s")
	t.Setenv("AGENTMESH_PROTOCOL_ENABLE_MULTIPART", "false")
	t.Setenv("AGENTMESH_LOG_OUTPUT_PATHS", "stdout, /var/log/agentmesh.log")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Protocol.MaxRetries)
	assert.Equal(t, 90*time.Second, cfg.Protocol.MessageTimeout)
	assert.False(t, cfg.Protocol.EnableMultipart)
	assert.Equal(t, []string{"stdout", "/var/log/agentmesh.log"}, cfg.Log.OutputPaths)
}

func TestCustomEnvPrefix(t *testing.T) {
	t.Setenv("MESH_PROTOCOL_MAX_RETRIES", "5")

	cfg, err := NewLoader().WithEnvPrefix("MESH").Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Protocol.MaxRetries)
}

func TestValidatorHookRejects(t *testing.T) {
	boom := errors.New("retries too generous")
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			if c.Protocol.MaxRetries > 1 {
				return boom
			}
			return nil
		}).
		Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative max size", func(c *Config) { c.Protocol.MaxMessageSize = -1 }},
		{"negative retries", func(c *Config) { c.Protocol.MaxRetries = -1 }},
		{"unknown handler", func(c *Config) {
			c.Protocol.ContentHandlers = map[string]bool{"hologram": true}
		}},
		{"unknown store", func(c *Config) { c.Artifact.Store = "papyrus" }},
		{"unknown log level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestHandlerFlagsDefaultEnablesAll(t *testing.T) {
	flags := DefaultProtocolConfig().HandlerFlags()
	for _, pt := range types.AllPartTypes() {
		assert.True(t, flags[pt], string(pt))
	}
}
