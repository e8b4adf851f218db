package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/swarmqa/endurance/internal/config"
)

// ErrRedisDisabled is returned by NewRedisPublisher when redis.enabled is false.
var ErrRedisDisabled = errors.New("redis publisher disabled")

const connectTimeout = 5 * time.Second

// RedisPublisher mirrors the status file into Redis so dashboards can poll it.
// It writes <prefix>:status with the whole document and <prefix>:devices as a
// hash of device id to state.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

// NewRedisPublisher connects to Redis and pings it.
func NewRedisPublisher(ctx context.Context, cfg config.RedisConfig) (*RedisPublisher, error) {
	if !cfg.Enabled {
		return nil, ErrRedisDisabled
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if _, err := client.Ping(pingCtx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Address, err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "endurance"
	}
	return &RedisPublisher{client: client, prefix: prefix}, nil
}

// Key formats key with the configured prefix.
func (p *RedisPublisher) Key(key string) string {
	return FormatKey(p.prefix, key)
}

// FormatKey joins prefix and key the way every published key is named.
func FormatKey(prefix, key string) string {
	return fmt.Sprintf("%s:%s", prefix, key)
}

// Publish writes status in a single pipeline.
func (p *RedisPublisher) Publish(ctx context.Context, status Status) error {
	doc, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	fields, err := deviceFields(status)
	if err != nil {
		return err
	}

	pipe := p.client.Pipeline()
	pipe.Set(ctx, p.Key("status"), doc, 0)
	pipe.Del(ctx, p.Key("devices"))
	if len(fields) > 0 {
		pipe.HSet(ctx, p.Key("devices"), fields)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

func deviceFields(status Status) (map[string]any, error) {
	fields := make(map[string]any, len(status.Devices))
	for id, state := range status.Devices {
		b, err := json.Marshal(state)
		if err != nil {
			return nil, fmt.Errorf("marshal state of %s: %w", id, err)
		}
		fields[string(id)] = string(b)
	}
	return fields, nil
}
