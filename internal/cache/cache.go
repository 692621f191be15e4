package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/kjstillabower/weather-location-service/internal/models"
)

// Delimiter separates the namespace from the caller's key.
const Delimiter = "~"

// DefaultTTL applies when Set is called with a non-positive ttl.
const DefaultTTL = time.Hour

// ErrClosed reports that the backend connection is closed. ReconnectingCache
// reacts to it with a single reconnect attempt.
var ErrClosed = errors.New("cache: connection closed")

// Cache is a namespaced JSON key-value cache. Callers pass bare keys; every
// implementation scopes them as namespace + Delimiter + key.
//
// Errors are never authoritative: callers treat any error as a miss and fall
// through to the store.
type Cache interface {
	// Get decodes the value stored under key into dest. It returns false, nil on a miss.
	Get(ctx context.Context, key string, dest any) (bool, error)
	// Set stores value as JSON under key for ttl (DefaultTTL when ttl <= 0).
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Delete removes every key matching any of the glob patterns.
	Delete(ctx context.Context, patterns ...string) error
	// DeleteExact removes key without pattern expansion.
	DeleteExact(ctx context.Context, key string) error
}

// NamespacedKey joins namespace and key with Delimiter.
func NamespacedKey(namespace, key string) string {
	if namespace == "" {
		return key
	}
	return namespace + Delimiter + key
}

// RedactKey turns a namespaced key into a loggable pattern by replacing the
// variable suffix with <param>: "ns~base~id" and "ns~id" become "ns~base~<param>"
// and "ns~<param>".
func RedactKey(key string) string {
	parts := strings.Split(key, Delimiter)
	switch {
	case len(parts) >= 3:
		return parts[0] + Delimiter + parts[1] + Delimiter + "<param>"
	case len(parts) == 2:
		return parts[0] + Delimiter + "<param>"
	default:
		return "<param>"
	}
}

func effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

func encode(value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: encode value: %v", models.ErrCache, err)
	}
	return raw, nil
}

func decode(raw []byte, dest any) error {
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("%w: decode value: %v", models.ErrCache, err)
	}
	return nil
}

// InMemoryCache implements Cache with a mutex-guarded map. Expired entries are
// removed on access. Close makes every operation fail with ErrClosed until Reconnect.
type InMemoryCache struct {
	mu        sync.RWMutex
	namespace string
	data      map[string]cacheEntry
	closed    bool
	now       func() time.Time
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewInMemoryCache creates an empty cache scoped to namespace.
func NewInMemoryCache(namespace string) *InMemoryCache {
	return &InMemoryCache{
		namespace: namespace,
		data:      make(map[string]cacheEntry),
		now:       time.Now,
	}
}

func (c *InMemoryCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	k := NamespacedKey(c.namespace, key)

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return false, ErrClosed
	}
	entry, ok := c.data[k]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}

	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.data[k]; ok && cur.expiresAt.Equal(entry.expiresAt) {
			delete(c.data, k)
		}
		c.mu.Unlock()
		return false, nil
	}

	if err := decode(entry.value, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *InMemoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := encode(value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.data[NamespacedKey(c.namespace, key)] = cacheEntry{
		value:     raw,
		expiresAt: c.now().Add(effectiveTTL(ttl)),
	}
	return nil
}

func (c *InMemoryCache) Delete(ctx context.Context, patterns ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	for _, p := range patterns {
		full := NamespacedKey(c.namespace, p)
		if _, err := path.Match(full, ""); err != nil {
			return fmt.Errorf("%w: bad pattern %q: %v", models.ErrCache, p, err)
		}
		for k := range c.data {
			if ok, _ := path.Match(full, k); ok {
				delete(c.data, k)
			}
		}
	}
	return nil
}

func (c *InMemoryCache) DeleteExact(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	delete(c.data, NamespacedKey(c.namespace, key))
	return nil
}

// Ping reports ErrClosed after Close.
func (c *InMemoryCache) Ping(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	return ctx.Err()
}

// Close marks the cache closed. Stored entries are kept.
func (c *InMemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Reconnect reopens a closed cache.
func (c *InMemoryCache) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = false
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
