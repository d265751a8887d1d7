package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/agentdeck/internal/models"
)

func TestRedisDirectoryCache(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	_, ok := s.CachedDirectory(ctx)
	assert.False(t, ok)

	agents := []models.RemoteAgent{{ID: "a1", Name: "Eliza"}}
	require.NoError(t, s.CacheDirectory(ctx, agents))

	got, ok := s.CachedDirectory(ctx)
	require.True(t, ok)
	assert.Equal(t, agents, got)

	mr.FastForward(directoryTTL)
	_, ok = s.CachedDirectory(ctx)
	assert.False(t, ok)
}

func TestRedisSendCounter(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	n, err := s.SendsToday(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.IncrementSends(ctx, "u1")
	require.NoError(t, err)
	n, err = s.IncrementSends(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.SendsToday(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestNilRedisStore(t *testing.T) {
	var s *RedisStore
	ctx := context.Background()

	assert.Nil(t, s.Client())
	_, ok := s.CachedDirectory(ctx)
	assert.False(t, ok)
	assert.NoError(t, s.CacheDirectory(ctx, nil))
	n, err := s.SendsToday(ctx, "u1")
	assert.NoError(t, err)
	assert.Zero(t, n)
}
