package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-location-service/internal/cache"
	"github.com/kjstillabower/weather-location-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-location-service/internal/client"
	"github.com/kjstillabower/weather-location-service/internal/config"
	"github.com/kjstillabower/weather-location-service/internal/geocoding"
	httphandler "github.com/kjstillabower/weather-location-service/internal/http"
	"github.com/kjstillabower/weather-location-service/internal/observability"
	"github.com/kjstillabower/weather-location-service/internal/ratelimit"
	"github.com/kjstillabower/weather-location-service/internal/service"
	"github.com/kjstillabower/weather-location-service/internal/store"
	"github.com/kjstillabower/weather-location-service/internal/traffic"
)

func newServeCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply the database schema before serving")
	return cmd
}

// cacheBackend is what every cache implementation offers beyond the Cache interface.
type cacheBackend interface {
	cache.Reconnector
	Ping(ctx context.Context) error
	Close() error
}

// buildCache opens the configured backend and wraps it with reconnect and logging.
func buildCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.Cache, cacheBackend, error) {
	var backend cacheBackend
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.CacheNamespace, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, nil, fmt.Errorf("memcached cache: %w", err)
		}
		backend = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case "redis":
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: cfg.RedisPoolSize,
		}, cfg.CacheNamespace)
		if err != nil {
			return nil, nil, fmt.Errorf("redis cache: %w", err)
		}
		backend = rc
		logger.Info("cache backend: redis", zap.String("addr", cfg.RedisAddr))
	default:
		backend = cache.NewInMemoryCache(cfg.CacheNamespace)
		logger.Info("cache backend: in_memory")
	}

	wrapped := cache.NewLoggingCache(
		cache.NewReconnectingCache(backend, logger, cfg.CacheOpTimeout),
		cfg.CacheNamespace,
		logger,
	)
	return wrapped, backend, nil
}

// newBreaker builds a breaker for component that only counts transient upstream failures
// and mirrors its transitions into metrics and logs.
func newBreaker(component string, cfg *config.Config, logger *zap.Logger) *circuitbreaker.CircuitBreaker {
	cb := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Timeout:          cfg.BreakerTimeout,
		Component:        component,
		IsFailure:        client.IsRetryable,
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(component, from.String(), to.String(), float64(to))
			logger.Warn("circuit breaker transition",
				zap.String("component", component),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	observability.CircuitBreakerState.WithLabelValues(component).Set(float64(circuitbreaker.StateClosed))
	return cb
}

func serve(parent context.Context, migrate bool) error {
	logger, level, err := observability.NewLogger()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = observability.FlushTelemetry(logger) }()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config", zap.Error(err))
		return err
	}
	level.SetLevel(observability.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
	defer startCancel()

	st, err := store.NewPostgres(startCtx, cfg.DatabaseURL, store.PoolConfig{
		MinConns:        cfg.DBMinConns,
		MaxConns:        cfg.DBMaxConns,
		MaxConnIdleTime: cfg.DBMaxConnIdleTime,
	})
	if err != nil {
		logger.Error("store", zap.Error(err))
		return err
	}
	defer st.Close()
	if migrate {
		if err := st.Migrate(startCtx); err != nil {
			logger.Error("migrate", zap.Error(err))
			return err
		}
	}

	cacheSvc, cacheConn, err := buildCache(startCtx, cfg, logger)
	if err != nil {
		logger.Error("cache", zap.Error(err))
		return err
	}
	defer func() {
		if err := cacheConn.Close(); err != nil {
			logger.Warn("cache close", zap.Error(err))
		}
	}()

	weatherBreaker := newBreaker("weather_api", cfg, logger)
	geocodeBreaker := newBreaker("geocoding", cfg, logger)

	weatherClient, err := client.NewOpenWeatherClientWithRetry(
		cfg.WeatherAPIKey,
		cfg.WeatherAPIURL,
		cfg.WeatherAPITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		logger.Error("weather client", zap.Error(err))
		return err
	}
	weatherClient.SetCircuitBreaker(weatherBreaker)
	if cfg.ValidateAPIKeyOnStart {
		if err := weatherClient.ValidateAPIKey(startCtx); err != nil {
			logger.Error("weather api key validation", zap.Error(err))
			return err
		}
	}

	geocoder := geocoding.New(cfg.GeocodeURL, cfg.WeatherAPIKey, cfg.WeatherAPITimeout)
	geocoder.SetCircuitBreaker(geocodeBreaker)

	var coalesceTimeout time.Duration
	if cfg.CoalesceEnabled {
		coalesceTimeout = cfg.CoalesceTimeout
	}
	resolver := service.NewLocationResolver(st, cacheSvc, geocoder, cfg.CacheTTL, logger)
	engine := service.NewForecastEngine(resolver, st, weatherClient, coalesceTimeout, logger)
	history := service.NewHistoryAggregator(st, logger)
	weatherService := service.NewWeatherService(resolver, engine, history)

	tracker := traffic.NewTracker(cfg.DegradedWindow, nil)
	handler := httphandler.NewHandler(weatherService, &httphandler.HealthConfig{
		ServiceName:      cfg.ServiceName,
		Version:          version,
		StartTime:        time.Now(),
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		StorePing:        st.Ping,
		CachePing:        cacheConn.Ping,
		Breakers: map[string]httphandler.BreakerState{
			"weather_api": weatherBreaker,
			"geocoding":   geocodeBreaker,
		},
	}, logger, tracker)

	globalLimiter := rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	var clientLimiter *ratelimit.Limiter
	if cfg.ClientRateLimit > 0 {
		clientLimiter = ratelimit.New(cfg.ClientRateLimit, cfg.ClientRateWindow, nil)
		go clientLimiter.Run(ctx, cfg.ClientRateWindow)
	}

	inFlight := &httphandler.InFlightTracker{}
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Logger:         logger,
		InFlight:       inFlight,
		GlobalLimiter:  globalLimiter,
		ClientLimiter:  clientLimiter,
		RequestTimeout: cfg.RequestTimeout,
	})

	var warmer *cache.Warmer
	if cfg.WarmingEnabled {
		warmer = cache.NewWarmer(weatherService, logger, cfg.WarmingInterval, cfg.WarmingConcurrency)
		if err := warmer.Start(cfg.WarmingInterval); err != nil {
			logger.Warn("forecast warming disabled", zap.Error(err))
			warmer = nil
		}
	}

	watcher, err := config.NewWatcher(cfg.Path, cfg, config.Load, logger)
	if err != nil {
		logger.Warn("config hot reload disabled", zap.Error(err))
	} else {
		watcher.OnChange(func(next *config.Config) {
			level.SetLevel(observability.ParseLevel(next.LogLevel))
			globalLimiter.SetLimit(rate.Limit(next.RateLimitRPS))
			globalLimiter.SetBurst(next.RateLimitBurst)
		})
		watcher.Start()
		defer watcher.Stop()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("server", zap.Error(err))
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("graceful shutdown triggered")
	handler.SetShuttingDown(true)
	if warmer != nil {
		warmer.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := inFlight.WaitForZero(shutdownCtx, 50*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", inFlight.Count()))
	}

	logger.Info("shutdown complete")
	return nil
}
