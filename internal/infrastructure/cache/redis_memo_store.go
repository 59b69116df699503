package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tallydash/backend/internal/domain/credit"
)

// RedisMemoStore implements credit.MemoStore using Redis.
// This is suitable for distributed deployments where multiple instances
// share the request-path throttle state.
type RedisMemoStore struct {
	client *redis.Client
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisMemoStore creates a new Redis-backed memo store and verifies the
// connection before returning.
func NewRedisMemoStore(cfg RedisConfig) (*RedisMemoStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisMemoStore{client: client}, nil
}

// NewRedisMemoStoreWithClient creates a store with an existing Redis client.
// Useful for testing or when sharing a client across components.
func NewRedisMemoStoreWithClient(client *redis.Client) *RedisMemoStore {
	return &RedisMemoStore{client: client}
}

// Get reports whether the key is present and unexpired.
func (s *RedisMemoStore) Get(ctx context.Context, key string) (bool, error) {
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check memo key: %w", err)
	}
	return exists > 0, nil
}

// Set marks the key present for the given TTL.
func (s *RedisMemoStore) Set(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to set memo key: %w", err)
	}
	return nil
}

// DeleteByPrefix removes all keys with the given prefix using SCAN so the
// server is never blocked by a KEYS sweep. Returns how many keys were removed.
func (s *RedisMemoStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	var removed int

	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, fmt.Errorf("failed to delete memo key: %w", err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan memo keys: %w", err)
	}

	return removed, nil
}

// Close closes the Redis client
func (s *RedisMemoStore) Close() error {
	return s.client.Close()
}

// Ensure RedisMemoStore implements MemoStore
var _ credit.MemoStore = (*RedisMemoStore)(nil)
