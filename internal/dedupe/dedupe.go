// Package dedupe provides a redis-backed index of delivered message ids.
// The router consults it so a retry racing an acknowledged delivery does not
// hand the same message to a recipient twice. This package is internal and
// should not be imported by external projects.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config configures the dedupe index.
type Config struct {
	// Addr is the redis address.
	Addr string `yaml:"addr" json:"addr"`
	// Password is the redis password, empty for none.
	Password string `yaml:"password" json:"password"`
	// DB is the redis database number.
	DB int `yaml:"db" json:"db"`
	// TTL bounds how long a delivery marker is remembered. It should
	// exceed the longest message expiry in use.
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// DefaultConfig returns the dedupe defaults.
func DefaultConfig() Config {
	return Config{
		Addr: "localhost:6379",
		TTL:  10 * time.Minute,
	}
}

// Index remembers which (message, recipient) pairs have already been
// delivered.
type Index struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New connects to redis and verifies the connection.
func New(config Config, logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("dedupe: connect to redis: %w", err)
	}

	ttl := config.TTL
	if ttl <= 0 {
		ttl = DefaultConfig().TTL
	}

	return &Index{
		client: client,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "dedupe")),
	}, nil
}

// MarkDelivered records a delivery and reports whether it was the first for
// this (message, recipient) pair. A false return means a duplicate.
func (i *Index) MarkDelivered(ctx context.Context, messageID, recipient string) (bool, error) {
	first, err := i.client.SetNX(ctx, i.key(messageID, recipient), 1, i.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe: mark %s->%s: %w", messageID, recipient, err)
	}
	if !first {
		i.logger.Debug("duplicate delivery suppressed",
			zap.String("message_id", messageID),
			zap.String("recipient", recipient),
		)
	}
	return first, nil
}

// Seen reports whether the (message, recipient) pair was already delivered.
func (i *Index) Seen(ctx context.Context, messageID, recipient string) (bool, error) {
	n, err := i.client.Exists(ctx, i.key(messageID, recipient)).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe: check %s->%s: %w", messageID, recipient, err)
	}
	return n > 0, nil
}

// Close releases the redis connection.
func (i *Index) Close() error {
	return i.client.Close()
}

func (i *Index) key(messageID, recipient string) string {
	return "agentmesh:delivered:" + messageID + ":" + recipient
}
