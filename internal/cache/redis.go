package cache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kjstillabower/weather-location-service/internal/models"
)

const (
	scanBatch = 100
	// drainDelay is how long a replaced client stays open for commands already using it.
	drainDelay = 5 * time.Second
)

// RedisConfig addresses a single redis server.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// RedisCache implements Cache on redis. Pattern deletes use SCAN with MATCH.
type RedisCache struct {
	mu        sync.RWMutex
	client    *redis.Client
	opts      *redis.Options
	namespace string
	drain     time.Duration
}

// NewRedisCache connects to redis and pings it.
func NewRedisCache(ctx context.Context, cfg RedisConfig, namespace string) (*RedisCache, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	c := &RedisCache{client: redis.NewClient(opts), opts: opts, namespace: namespace, drain: drainDelay}
	if err := c.Ping(ctx); err != nil {
		_ = c.client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return c, nil
}

// NewRedisCacheFromClient wraps an existing client. Reconnect rebuilds it from the client's options.
func NewRedisCacheFromClient(client *redis.Client, namespace string) *RedisCache {
	return &RedisCache{client: client, opts: client.Options(), namespace: namespace, drain: drainDelay}
}

func (c *RedisCache) conn() *redis.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

func (c *RedisCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := c.conn().Get(ctx, NamespacedKey(c.namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, classifyRedis(err)
	}
	if err := decode(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}
	if err := c.conn().Set(ctx, NamespacedKey(c.namespace, key), raw, effectiveTTL(ttl)).Err(); err != nil {
		return classifyRedis(err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, patterns ...string) error {
	client := c.conn()
	var matched []string
	for _, p := range patterns {
		iter := client.Scan(ctx, 0, NamespacedKey(c.namespace, p), scanBatch).Iterator()
		for iter.Next(ctx) {
			matched = append(matched, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return classifyRedis(err)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	if err := client.Del(ctx, matched...).Err(); err != nil {
		return classifyRedis(err)
	}
	return nil
}

func (c *RedisCache) DeleteExact(ctx context.Context, key string) error {
	if err := c.conn().Del(ctx, NamespacedKey(c.namespace, key)).Err(); err != nil {
		return classifyRedis(err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.conn().Ping(ctx).Err(); err != nil {
		return classifyRedis(err)
	}
	return nil
}

// Reconnect replaces the client with a fresh one built from the same options.
// It is a no-op when the current client answers PING, which happens when a caller
// saw ErrClosed from a client another reconnect already replaced.
func (c *RedisCache) Reconnect(ctx context.Context) error {
	if err := c.conn().Ping(ctx).Err(); err == nil {
		return nil
	}
	return c.replace(ctx)
}

// replace swaps in a fresh client. The old one is closed after the drain delay so
// commands still running on it can finish.
func (c *RedisCache) replace(ctx context.Context) error {
	fresh := redis.NewClient(c.opts)
	if err := fresh.Ping(ctx).Err(); err != nil {
		_ = fresh.Close()
		return fmt.Errorf("redis reconnect: %w", err)
	}
	c.mu.Lock()
	old := c.client
	c.client = fresh
	c.mu.Unlock()
	if c.drain <= 0 {
		_ = old.Close()
		return nil
	}
	time.AfterFunc(c.drain, func() { _ = old.Close() })
	return nil
}

func (c *RedisCache) Close() error {
	return c.conn().Close()
}

func classifyRedis(err error) error {
	if errors.Is(err, redis.ErrClosed) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrCache, err)
}
