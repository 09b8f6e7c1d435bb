package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"portfolio-agent/models"
)

const sessionPrefix = "session:"

// RedisBackend shares transcripts between replicas. Keys expire after ttl
// of inactivity; the transcript is not meant to outlive that.
type RedisBackend struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisBackend wraps an existing client
func NewRedisBackend(rdb *redis.Client, ttl time.Duration) *RedisBackend {
	return &RedisBackend{rdb: rdb, ttl: ttl}
}

// DialRedis parses url and verifies the connection
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func key(id string) string {
	return sessionPrefix + id
}

func (b *RedisBackend) Load(ctx context.Context, id string) ([]models.Message, bool, error) {
	data, err := b.rdb.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load session: %w", err)
	}

	var history []models.Message
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return history, true, nil
}

func (b *RedisBackend) Save(ctx context.Context, id string, history []models.Message) error {
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := b.rdb.Set(ctx, key(id), data, b.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}
