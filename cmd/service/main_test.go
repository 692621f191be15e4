package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-location-service/internal/cache"
	"github.com/kjstillabower/weather-location-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-location-service/internal/config"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "migrate"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("Find(%q) = %v, %v", name, cmd, err)
		}
	}
	serveCmd, _, _ := root.Find([]string{"serve"})
	if f := serveCmd.Flags().Lookup("migrate"); f == nil || f.DefValue != "true" {
		t.Errorf("serve --migrate flag = %+v, want default true", f)
	}
}

func TestBuildCache(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name    string
		cfg     config.Config
		wantErr bool
	}{
		{name: "in memory", cfg: config.Config{CacheBackend: "in_memory", CacheNamespace: "weather_test"}},
		{name: "redis", cfg: config.Config{CacheBackend: "redis", CacheNamespace: "weather_test", RedisAddr: mr.Addr()}},
		{name: "redis unreachable", cfg: config.Config{CacheBackend: "redis", CacheNamespace: "weather_test", RedisAddr: "127.0.0.1:1"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			c, conn, err := buildCache(ctx, &tt.cfg, zap.NewNop())
			if tt.wantErr {
				if err == nil {
					t.Fatal("buildCache() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("buildCache() error = %v", err)
			}
			t.Cleanup(func() { _ = conn.Close() })

			if err := conn.Ping(ctx); err != nil {
				t.Errorf("Ping() error = %v", err)
			}
			if err := c.Set(ctx, "k", map[string]int{"v": 1}, time.Minute); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			var got map[string]int
			ok, err := c.Get(ctx, "k", &got)
			if err != nil || !ok || got["v"] != 1 {
				t.Errorf("Get() = %v, %v, %v", got, ok, err)
			}
		})
	}
}

func TestBuildCache_NamespacesRedisKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{CacheBackend: "redis", CacheNamespace: "weather_prod", RedisAddr: mr.Addr()}
	c, conn, err := buildCache(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("buildCache() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if err := c.Set(context.Background(), "all_locations", []string{}, 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !mr.Exists(cache.NamespacedKey("weather_prod", "all_locations")) {
		t.Errorf("redis keys = %v, want namespaced all_locations", mr.Keys())
	}
}

func TestNewBreaker_StartsClosed(t *testing.T) {
	cfg := &config.Config{BreakerFailureThreshold: 1, BreakerSuccessThreshold: 1, BreakerTimeout: time.Minute}
	cb := newBreaker("weather_api", cfg, zap.NewNop())
	if cb.State() != circuitbreaker.StateClosed {
		t.Errorf("State() = %v, want closed", cb.State())
	}
}
