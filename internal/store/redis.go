package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/agentdeck/internal/models"
)

const (
	directoryTTL = 5 * time.Second
	directoryKey = "directory:agents"
)

// RedisStore handles Redis operations for caching and shared counters.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying client for the rate limiter and notifier.
// Returns nil on a nil store.
func (s *RedisStore) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// CachedDirectory returns the cached agent API directory listing.
// The boolean is false on a miss.
func (s *RedisStore) CachedDirectory(ctx context.Context) ([]models.RemoteAgent, bool) {
	if s == nil {
		return nil, false
	}
	data, err := s.client.Get(ctx, directoryKey).Bytes()
	if err != nil {
		return nil, false
	}
	var agents []models.RemoteAgent
	if err := json.Unmarshal(data, &agents); err != nil {
		return nil, false
	}
	return agents, true
}

// CacheDirectory stores the directory listing for one poll interval.
func (s *RedisStore) CacheDirectory(ctx context.Context, agents []models.RemoteAgent) error {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(agents)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, directoryKey, data, directoryTTL).Err()
}

// sendCounterKey returns the key for a user's daily message counter.
func sendCounterKey(userID string, day time.Time) string {
	return fmt.Sprintf("sends:%s:%s", userID, day.UTC().Format("2006-01-02"))
}

// IncrementSends bumps the user's message counter for today.
func (s *RedisStore) IncrementSends(ctx context.Context, userID string) (int64, error) {
	if s == nil {
		return 0, nil
	}
	key := sendCounterKey(userID, time.Now())

	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 48*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// SendsToday returns how many messages the user sent today.
func (s *RedisStore) SendsToday(ctx context.Context, userID string) (int64, error) {
	if s == nil {
		return 0, nil
	}
	n, err := s.client.Get(ctx, sendCounterKey(userID, time.Now())).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}
