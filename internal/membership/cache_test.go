package membership

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheKeysAreIndependent(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "@c1", "1", time.Minute))

	ok, err := cache.Get(ctx, "@c2", "1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = cache.Get(ctx, "@c1", "2")
	require.NoError(t, err)
	assert.False(t, ok)
}

// Требует TEST_REDIS_URL, например redis://localhost:6379/15
func TestRedisCache(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL не установлен")
	}
	ctx := context.Background()

	cache, err := NewRedisCache(ctx, url)
	require.NoError(t, err)
	defer cache.Close()

	channel := "@test_" + time.Now().Format("150405.000000")

	ok, err := cache.Get(ctx, channel, "1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, channel, "1", time.Second))
	ok, err = cache.Get(ctx, channel, "1")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Eventually(t, func() bool {
		ok, err := cache.Get(ctx, channel, "1")
		return err == nil && !ok
	}, 3*time.Second, 100*time.Millisecond)
}

func TestNewRedisCacheBadURL(t *testing.T) {
	_, err := NewRedisCache(context.Background(), "not a url")
	assert.Error(t, err)
}
