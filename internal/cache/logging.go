package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-location-service/internal/observability"
)

// LoggingCache records every operation as a structured log line and as metrics.
// Keys are logged in redacted form (see RedactKey).
type LoggingCache struct {
	next      Cache
	namespace string
	logger    *zap.Logger
}

// NewLoggingCache wraps next. namespace must match the one next applies so the
// logged pattern reflects the real key.
func NewLoggingCache(next Cache, namespace string, logger *zap.Logger) *LoggingCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingCache{next: next, namespace: namespace, logger: logger}
}

func (c *LoggingCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	start := time.Now()
	hit, err := c.next.Get(ctx, key, dest)
	status := "miss"
	if hit {
		status = "hit"
	}
	c.record(ctx, "get", key, status, start, err, zap.String("status", status))
	return hit, err
}

func (c *LoggingCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	start := time.Now()
	err := c.next.Set(ctx, key, value, ttl)
	c.record(ctx, "set", key, "", start, err, zap.Duration("expire_time", effectiveTTL(ttl)))
	return err
}

func (c *LoggingCache) Delete(ctx context.Context, patterns ...string) error {
	start := time.Now()
	err := c.next.Delete(ctx, patterns...)
	c.record(ctx, "delete", strings.Join(patterns, ","), "", start, err, zap.Int("patterns", len(patterns)))
	return err
}

func (c *LoggingCache) DeleteExact(ctx context.Context, key string) error {
	start := time.Now()
	err := c.next.DeleteExact(ctx, key)
	c.record(ctx, "delete_exact", key, "", start, err)
	return err
}

func (c *LoggingCache) record(ctx context.Context, op, key, status string, start time.Time, err error, extra ...zap.Field) {
	elapsed := time.Since(start)
	result := status
	if err != nil {
		result = "error"
	} else if result == "" {
		result = "success"
	}
	observability.CacheOperationsTotal.WithLabelValues(op, result).Inc()
	observability.CacheOperationDurationSeconds.WithLabelValues(op).Observe(elapsed.Seconds())

	logger := observability.LoggerFromContext(ctx, c.logger)
	fields := append([]zap.Field{
		zap.String("log_type", "cache_log"),
		zap.String("operation", op),
		zap.String("pattern", RedactKey(NamespacedKey(c.namespace, key))),
		zap.Duration("time_taken", elapsed),
	}, extra...)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues(op, categorizeCacheError(err)).Inc()
		logger.Warn("cache operation failed", append(fields, zap.Error(err))...)
		return
	}
	logger.Info("cache operation", fields...)
}

// categorizeCacheError returns a stable label for cache error metrics.
func categorizeCacheError(err error) string {
	switch {
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	if strings.Contains(errStr, "decode") || strings.Contains(errStr, "encode") {
		return "serialization"
	}
	return "unknown"
}
