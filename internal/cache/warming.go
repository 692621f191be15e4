package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-location-service/internal/models"
	"github.com/kjstillabower/weather-location-service/internal/observability"
)

// ForecastSource is implemented by the service layer. Used by Warmer to avoid a
// circular dependency on the service package.
type ForecastSource interface {
	Fetch(ctx context.Context, q models.LocationQuery) ([]models.Location, error)
	GetForecast(ctx context.Context, locationID string) (models.Forecast, error)
}

// Warmer keeps stored forecasts fresh by requesting a forecast for every known
// location. Each request refreshes the observation when it is older than the
// freshness window and primes the location cache keys on the way.
type Warmer struct {
	source      ForecastSource
	logger      *zap.Logger
	timeout     time.Duration
	concurrency int
	scheduler   *gocron.Scheduler
}

// NewWarmer creates a Warmer. timeout bounds one full pass.
func NewWarmer(source ForecastSource, logger *zap.Logger, timeout time.Duration, concurrency int) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Warmer{
		source:      source,
		logger:      logger,
		timeout:     timeout,
		concurrency: concurrency,
		scheduler:   gocron.NewScheduler(time.UTC),
	}
}

// Warm refreshes every stored location concurrently. Returns an error if any location failed (aggregated).
func (w *Warmer) Warm(ctx context.Context) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()

	locations, err := w.source.Fetch(ctx, models.LocationQuery{})
	if err != nil {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: list locations: %w", err)
	}
	w.logger.Info("warming cache", zap.Int("locations", len(locations)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
		sem  = make(chan struct{}, w.concurrency)
	)
	for _, loc := range locations {
		wg.Add(1)
		sem <- struct{}{}
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := w.source.GetForecast(ctx, id); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %s: %w", id, err))
				mu.Unlock()
			}
		}(loc.LocationID)
	}
	wg.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete", zap.Int("locations", len(locations)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// Start schedules Warm every interval, running the first pass immediately.
func (w *Warmer) Start(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("cache warming: interval must be positive, got %s", interval)
	}
	_, err := w.scheduler.Every(interval).SingletonMode().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		if err := w.Warm(ctx); err != nil {
			w.logger.Warn("periodic cache warm failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("cache warming: schedule: %w", err)
	}
	w.scheduler.StartAsync()
	return nil
}

// Stop cancels future passes. A pass already running finishes.
func (w *Warmer) Stop() {
	w.scheduler.Stop()
}
