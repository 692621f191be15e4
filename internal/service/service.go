// Package service implements the location, forecast and history operations on
// top of the store, the cache and the upstream providers.
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-location-service/internal/models"
	"github.com/kjstillabower/weather-location-service/internal/observability"
)

// AllLocationsKey caches the unfiltered location list.
const AllLocationsKey = "all_locations"

// FreshnessWindow is the maximum age of a stored observation that GetForecast serves
// without calling the provider.
const FreshnessWindow = time.Hour

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

// WeatherService bundles the three operation groups behind one value for handlers
// and the forecast warmer.
type WeatherService struct {
	*LocationResolver
	*ForecastEngine
	*HistoryAggregator
}

// NewWeatherService joins the resolver, engine and aggregator.
func NewWeatherService(locations *LocationResolver, forecasts *ForecastEngine, history *HistoryAggregator) *WeatherService {
	return &WeatherService{
		LocationResolver:  locations,
		ForecastEngine:    forecasts,
		HistoryAggregator: history,
	}
}

func loggerFromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	return observability.LoggerFromContext(ctx, fallback)
}

// recordStoreError counts store failures. Conflicts and missing rows are outcomes, not failures.
func recordStoreError(operation string, err error) {
	if err == nil || errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrConflict) {
		return
	}
	observability.StoreErrorsTotal.WithLabelValues(operation).Inc()
}

func nowOrDefault(now Clock) Clock {
	if now == nil {
		return time.Now
	}
	return now
}
