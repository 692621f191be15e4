package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-location-service/internal/observability"
)

// Reconnector is a Cache backend that can rebuild its connection.
type Reconnector interface {
	Cache
	Reconnect(ctx context.Context) error
}

// ReconnectingCache wraps a backend and reacts to ErrClosed with one reconnect
// attempt before returning the original error. A reconnect already in flight is
// skipped, not queued.
type ReconnectingCache struct {
	backend    Reconnector
	logger     *zap.Logger
	timeout    time.Duration
	inProgress atomic.Bool
	attempts   atomic.Int64
}

// NewReconnectingCache wraps backend. timeout bounds each reconnect attempt.
func NewReconnectingCache(backend Reconnector, logger *zap.Logger, timeout time.Duration) *ReconnectingCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ReconnectingCache{backend: backend, logger: logger, timeout: timeout}
}

func (c *ReconnectingCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	ok, err := c.backend.Get(ctx, key, dest)
	return ok, c.handle(ctx, err)
}

func (c *ReconnectingCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.handle(ctx, c.backend.Set(ctx, key, value, ttl))
}

func (c *ReconnectingCache) Delete(ctx context.Context, patterns ...string) error {
	return c.handle(ctx, c.backend.Delete(ctx, patterns...))
}

func (c *ReconnectingCache) DeleteExact(ctx context.Context, key string) error {
	return c.handle(ctx, c.backend.DeleteExact(ctx, key))
}

// Attempts returns how many reconnects have been started.
func (c *ReconnectingCache) Attempts() int64 {
	return c.attempts.Load()
}

// handle returns err unchanged, reconnecting first when it reports a closed connection.
func (c *ReconnectingCache) handle(ctx context.Context, err error) error {
	if err == nil || !errors.Is(err, ErrClosed) {
		return err
	}
	c.logger.Error("cache connection closed", zap.Error(err))
	c.reconnect(ctx)
	return err
}

func (c *ReconnectingCache) reconnect(ctx context.Context) {
	if !c.inProgress.CompareAndSwap(false, true) {
		c.logger.Debug("cache reconnect already in progress", zap.Int64("attempts", c.attempts.Load()))
		return
	}
	defer c.inProgress.Store(false)

	n := c.attempts.Add(1)
	c.logger.Info("cache reconnecting", zap.Int64("attempt", n))

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	if err := c.backend.Reconnect(rctx); err != nil {
		observability.CacheReconnectsTotal.WithLabelValues("failure").Inc()
		c.logger.Warn("cache reconnect failed", zap.Int64("attempt", n), zap.Error(err))
		return
	}
	observability.CacheReconnectsTotal.WithLabelValues("success").Inc()
	c.logger.Info("cache reconnected", zap.Int64("attempt", n))
}
