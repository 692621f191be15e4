package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/weather-location-service/internal/models"
)

const maxRelativeExp = 30 * 24 * 60 * 60 // memcached treats larger values as unix timestamps

// MemcachedCache implements Cache on memcached. Memcached cannot enumerate keys,
// so pattern deletes only reach keys this process has set; a key written by
// another replica expires by TTL.
type MemcachedCache struct {
	mu           sync.RWMutex
	client       *memcache.Client
	servers      []string
	timeout      time.Duration
	maxIdleConns int
	namespace    string

	keysMu sync.Mutex
	keys   map[string]time.Time // namespaced key -> expiry, for pattern deletes
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedCache(addrs, namespace string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	c := &MemcachedCache{
		servers:      servers,
		timeout:      timeout,
		maxIdleConns: maxIdleConns,
		namespace:    namespace,
		keys:         make(map[string]time.Time),
	}
	c.client = c.newClient()
	return c, nil
}

func (c *MemcachedCache) newClient() *memcache.Client {
	client := memcache.New(c.servers...)
	if c.timeout > 0 {
		client.Timeout = c.timeout
	}
	if c.maxIdleConns > 0 {
		client.MaxIdleConns = c.maxIdleConns
	}
	return client
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (c *MemcachedCache) conn() *memcache.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

func (c *MemcachedCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	item, err := c.conn().Get(NamespacedKey(c.namespace, key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return false, nil
		}
		return false, classifyMemcached(err)
	}
	if err := decode(item.Value, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *MemcachedCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := encode(value)
	if err != nil {
		return err
	}
	ttl = effectiveTTL(ttl)
	now := time.Now()
	k := NamespacedKey(c.namespace, key)
	if err := c.conn().Set(&memcache.Item{Key: k, Value: raw, Expiration: memcachedExpiration(ttl, now)}); err != nil {
		return classifyMemcached(err)
	}

	c.keysMu.Lock()
	c.keys[k] = now.Add(ttl)
	c.keysMu.Unlock()
	return nil
}

// memcachedExpiration converts ttl to memcached's Expiration field: relative seconds
// up to 30 days, an absolute unix time beyond that. Sub-second TTLs round up to 1s.
func memcachedExpiration(ttl time.Duration, now time.Time) int32 {
	secs := int64((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	if secs <= maxRelativeExp {
		return int32(secs)
	}
	return int32(now.Unix() + secs)
}

func (c *MemcachedCache) Delete(ctx context.Context, patterns ...string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var matched []string
	now := time.Now()
	c.keysMu.Lock()
	for k, exp := range c.keys {
		if now.After(exp) {
			delete(c.keys, k)
			continue
		}
		for _, p := range patterns {
			if ok, _ := path.Match(NamespacedKey(c.namespace, p), k); ok {
				matched = append(matched, k)
				break
			}
		}
	}
	c.keysMu.Unlock()

	for _, k := range matched {
		if err := c.deleteNamespaced(k); err != nil {
			return err
		}
	}
	return nil
}

func (c *MemcachedCache) DeleteExact(ctx context.Context, key string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return c.deleteNamespaced(NamespacedKey(c.namespace, key))
}

func (c *MemcachedCache) deleteNamespaced(k string) error {
	err := c.conn().Delete(k)
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return classifyMemcached(err)
	}
	c.keysMu.Lock()
	delete(c.keys, k)
	c.keysMu.Unlock()
	return nil
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping(ctx context.Context) error {
	return c.conn().Ping()
}

// Reconnect replaces the client, dropping every pooled connection.
func (c *MemcachedCache) Reconnect(ctx context.Context) error {
	fresh := c.newClient()
	if err := fresh.Ping(); err != nil {
		return fmt.Errorf("memcached reconnect: %w", err)
	}
	c.mu.Lock()
	old := c.client
	c.client = fresh
	c.mu.Unlock()
	_ = old.Close()
	return nil
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.conn().Close()
}

func classifyMemcached(err error) error {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, memcache.ErrNoServers) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return fmt.Errorf("%w: %v", models.ErrCache, err)
}
