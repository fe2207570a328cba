package membership

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "membership:"

func cacheKey(channel, userID string) string {
	return cacheKeyPrefix + channel + ":" + userID
}

// MemoryCache кэш в памяти процесса; просроченные записи убирает Sweep
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryCache создает кэш в памяти
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Get возвращает true, если положительный результат еще не истек
func (c *MemoryCache) Get(_ context.Context, channel, userID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(channel, userID)
	expires, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	if !c.now().Before(expires) {
		delete(c.entries, key)
		return false, nil
	}
	return true, nil
}

// Set запоминает положительный результат на ttl
func (c *MemoryCache) Set(_ context.Context, channel, userID string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey(channel, userID)] = c.now().Add(ttl)
	return nil
}

// Sweep удаляет просроченные записи и возвращает их количество
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, expires := range c.entries {
		if !now.Before(expires) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len количество записей, включая еще не убранные просроченные
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RedisCache кэш в Redis; истечение обеспечивает TTL ключа
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache подключается к Redis по URL
func NewRedisCache(ctx context.Context, redisURL string) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора REDIS_URL: %w", err)
	}

	// Настройки пула подключений
	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute

	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ошибка подключения к Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheWithClient оборачивает готовый клиент
func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get проверяет наличие ключа
func (c *RedisCache) Get(ctx context.Context, channel, userID string) (bool, error) {
	n, err := c.client.Exists(ctx, cacheKey(channel, userID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Set записывает ключ с TTL
func (c *RedisCache) Set(ctx context.Context, channel, userID string, ttl time.Duration) error {
	if err := c.client.Set(ctx, cacheKey(channel, userID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close закрывает клиент Redis
func (c *RedisCache) Close() error {
	return c.client.Close()
}
