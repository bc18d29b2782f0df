// Package config loads the agentmesh runtime configuration from defaults,
// an optional YAML file, and environment variable overrides, in that order.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("agentmesh.yaml").
//	    WithEnvPrefix("AGENTMESH").
//	    Load()
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/agentmesh/types"
)

// Config is the complete agentmesh configuration.
type Config struct {
	// Protocol tunes the message protocol core.
	Protocol ProtocolConfig `yaml:"protocol" env:"PROTOCOL"`

	// Artifact tunes artifact storage.
	Artifact ArtifactConfig `yaml:"artifact" env:"ARTIFACT"`

	// Task tunes task tracking.
	Task TaskConfig `yaml:"task" env:"TASK"`

	// Redis configures the delivery dedupe index.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Log configures logging output.
	Log LogConfig `yaml:"log" env:"LOG"`
}

// ProtocolConfig tunes message construction and routing.
type ProtocolConfig struct {
	// MessageTimeout is the default TTL applied to outgoing messages.
	MessageTimeout time.Duration `yaml:"message_timeout" env:"MESSAGE_TIMEOUT"`
	// MaxMessageSize bounds payload bytes; 0 disables the bound.
	MaxMessageSize int64 `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	// MaxRetries is the default redelivery budget per message.
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// HeartbeatInterval is the agent liveness reporting interval. It is
	// recognized for deployment-level components; the protocol core itself
	// does not consume it.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	// DiscoveryTimeout is the agent discovery wait bound. Recognized for
	// deployment-level components; not consumed by the protocol core.
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout" env:"DISCOVERY_TIMEOUT"`
	// EnableRouting gates the router.
	EnableRouting bool `yaml:"enable_routing" env:"ENABLE_ROUTING"`
	// EnableMultipart gates multipart messages.
	EnableMultipart bool `yaml:"enable_multipart" env:"ENABLE_MULTIPART"`
	// ContentHandlers flags which part types may be constructed. Part types
	// absent from the map are disabled; an empty map enables all types.
	ContentHandlers map[string]bool `yaml:"content_handlers" env:"-"`
	// DeliveryRate caps delivery attempts per second; 0 means unlimited.
	DeliveryRate float64 `yaml:"delivery_rate" env:"DELIVERY_RATE"`
	// DeliveryBurst is the rate limiter burst size.
	DeliveryBurst int `yaml:"delivery_burst" env:"DELIVERY_BURST"`
}

// HandlerFlags converts the configured content-handler map to part-type
// keyed flags. An empty map yields flags with every part type enabled.
func (p ProtocolConfig) HandlerFlags() map[types.PartType]bool {
	flags := make(map[types.PartType]bool)
	if len(p.ContentHandlers) == 0 {
		for _, pt := range types.AllPartTypes() {
			flags[pt] = true
		}
		return flags
	}
	for name, on := range p.ContentHandlers {
		flags[types.PartType(name)] = on
	}
	return flags
}

// ArtifactConfig tunes artifact storage.
type ArtifactConfig struct {
	// Store selects the backing store: memory or sqlite.
	Store string `yaml:"store" env:"STORE"`
	// SQLitePath is the database path when Store is sqlite.
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	// CleanupInterval paces the expired-artifact sweep; 0 disables it.
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
}

// TaskConfig tunes task tracking.
type TaskConfig struct {
	// ReaperInterval paces the deadline sweep; 0 disables the reaper.
	ReaperInterval time.Duration `yaml:"reaper_interval" env:"REAPER_INTERVAL"`
	// DefaultDeadline is applied to tasks created without one; 0 means none.
	DefaultDeadline time.Duration `yaml:"default_deadline" env:"DEFAULT_DEADLINE"`
}

// RedisConfig configures the delivery dedupe index. An empty Addr disables
// deduplication.
type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"ADDR"`
	Password string        `yaml:"password" env:"PASSWORD"`
	DB       int           `yaml:"db" env:"DB"`
	TTL      time.Duration `yaml:"ttl" env:"TTL"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths lists zap output sinks.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// Loader builds a Config from layered sources.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the AGENTMESH env prefix and no file.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "AGENTMESH",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path. A missing file is not an error;
// defaults and environment overrides still apply.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation hook run after all sources are applied.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration: defaults, then YAML file, then
// environment overrides, then validators.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration accepts duration syntax, not raw integers.
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// Comma-separated string slices.
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads configuration from the given path, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads configuration from defaults and environment only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []string

	if c.Protocol.MaxMessageSize < 0 {
		errs = append(errs, "max_message_size must not be negative")
	}
	if c.Protocol.MaxRetries < 0 {
		errs = append(errs, "max_retries must not be negative")
	}
	if c.Protocol.MessageTimeout < 0 {
		errs = append(errs, "message_timeout must not be negative")
	}
	for name := range c.Protocol.ContentHandlers {
		if !types.PartType(name).IsValid() {
			errs = append(errs, fmt.Sprintf("unknown content handler: %q", name))
		}
	}
	switch c.Artifact.Store {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("unknown artifact store: %q", c.Artifact.Store))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("unknown log level: %q", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
