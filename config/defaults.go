package config

import "time"

// DefaultConfig returns the defaults applied before file and environment
// sources.
func DefaultConfig() *Config {
	return &Config{
		Protocol: DefaultProtocolConfig(),
		Artifact: DefaultArtifactConfig(),
		Task:     DefaultTaskConfig(),
		Redis:    DefaultRedisConfig(),
		Log:      DefaultLogConfig(),
	}
}

// DefaultProtocolConfig returns the protocol defaults.
func DefaultProtocolConfig() ProtocolConfig {
	return ProtocolConfig{
		MessageTimeout:    30 * time.Second,
		MaxMessageSize:    10 * 1024 * 1024,
		MaxRetries:        3,
		HeartbeatInterval: 30 * time.Second,
		DiscoveryTimeout:  10 * time.Second,
		EnableRouting:     true,
		EnableMultipart:   true,
	}
}

// DefaultArtifactConfig returns the artifact storage defaults.
func DefaultArtifactConfig() ArtifactConfig {
	return ArtifactConfig{
		Store:           "memory",
		SQLitePath:      "agentmesh.db",
		CleanupInterval: 0,
	}
}

// DefaultTaskConfig returns the task tracking defaults.
func DefaultTaskConfig() TaskConfig {
	return TaskConfig{
		ReaperInterval:  0,
		DefaultDeadline: 0,
	}
}

// DefaultRedisConfig returns the dedupe index defaults. The empty Addr
// leaves deduplication disabled until configured.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     "",
		Password: "",
		DB:       0,
		TTL:      24 * time.Hour,
	}
}

// DefaultLogConfig returns the logging defaults.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}
