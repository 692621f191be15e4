//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-location-service/internal/cache"
	"github.com/kjstillabower/weather-location-service/internal/client"
	"github.com/kjstillabower/weather-location-service/internal/geocoding"
	"github.com/kjstillabower/weather-location-service/internal/service"
	"github.com/kjstillabower/weather-location-service/internal/store"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey        string
	APIURL        string
	GeocodeURL    string
	DatabaseURL   string
	CacheBackend  string // "in_memory", "memcached" or "redis"
	MemcachedAddr string
	RedisAddr     string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if WEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}
	return IntegrationTestConfig{
		APIKey:        apiKey,
		APIURL:        envOr("WEATHER_API_URL", "https://api.openweathermap.org/data/2.5/weather"),
		GeocodeURL:    envOr("GEOCODE_API_URL", "https://api.openweathermap.org/geo/1.0/direct"),
		DatabaseURL:   os.Getenv("TEST_DATABASE_URL"),
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: envOr("MEMCACHED_ADDRS", "localhost:11211"),
		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// SetupIntegrationService wires the service against the live providers. The store is
// Postgres when TEST_DATABASE_URL is reachable and in-memory otherwise; the cache
// backend falls back to in-memory when the configured server is down.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.WeatherService, cache.Cache) {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	var st store.Store = store.NewMemory()
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL, store.PoolConfig{MinConns: 1, MaxConns: 4})
		if err != nil {
			t.Logf("Postgres not available (%v), using in-memory store", err)
		} else if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			t.Fatalf("Migrate() error = %v", err)
		} else {
			st = pg
		}
	}
	t.Cleanup(st.Close)

	cacheSvc := setupCache(t, cfg)

	weatherClient := SetupIntegrationClient(t, cfg)
	geo := geocoding.New(cfg.GeocodeURL, cfg.APIKey, 5*time.Second)

	resolver := service.NewLocationResolver(st, cacheSvc, geo, time.Hour, logger)
	engine := service.NewForecastEngine(resolver, st, weatherClient, 5*time.Second, logger)
	history := service.NewHistoryAggregator(st, logger)
	return service.NewWeatherService(resolver, engine, history), cacheSvc
}

func setupCache(t *testing.T, cfg IntegrationTestConfig) cache.Cache {
	t.Helper()
	const ns = "weather_integration"
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, ns, 500*time.Millisecond, 2)
		if err == nil {
			t.Cleanup(func() { _ = mc.Close() })
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
			return mc
		}
		t.Logf("Memcached not available (%v), using in-memory cache", err)
	case "redis":
		rc, err := cache.NewRedisCache(context.Background(), cache.RedisConfig{Addr: cfg.RedisAddr}, ns)
		if err == nil {
			t.Cleanup(func() { _ = rc.Close() })
			t.Logf("Using Redis cache at %s", cfg.RedisAddr)
			return rc
		}
		t.Logf("Redis not available (%v), using in-memory cache", err)
	}
	mem := cache.NewInMemoryCache(ns)
	t.Cleanup(func() { _ = mem.Close() })
	return mem
}

// SetupIntegrationClient creates a weather client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) client.WeatherClient {
	t.Helper()
	wc, err := client.NewOpenWeatherClient(cfg.APIKey, cfg.APIURL, 5*time.Second)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	return wc
}

// ClearCache drops every key in the cache namespace.
func ClearCache(ctx context.Context, cacheSvc cache.Cache) error {
	return cacheSvc.Delete(ctx, "*")
}
