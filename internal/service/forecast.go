package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-location-service/internal/client"
	"github.com/kjstillabower/weather-location-service/internal/models"
	"github.com/kjstillabower/weather-location-service/internal/observability"
	"github.com/kjstillabower/weather-location-service/internal/store"
)

// ForecastEngine serves the current forecast for a location from the newest stored
// observation when it is within FreshnessWindow, and otherwise fetches, stores and
// serves a new one.
type ForecastEngine struct {
	locations *LocationResolver
	store     store.Store
	client    client.WeatherClient
	logger    *zap.Logger
	now       Clock
	newID     func() string
	refreshes *refreshTracker
	coalescer *requestCoalescer[models.WeatherObservation] // nil when coalescing is disabled
}

// NewForecastEngine creates a ForecastEngine. coalesceTimeout > 0 enables request
// coalescing of concurrent refreshes for the same location.
func NewForecastEngine(locations *LocationResolver, st store.Store, wc client.WeatherClient, coalesceTimeout time.Duration, logger *zap.Logger) *ForecastEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	var coalescer *requestCoalescer[models.WeatherObservation]
	if coalesceTimeout > 0 {
		coalescer = newRequestCoalescer[models.WeatherObservation](coalesceTimeout)
	}
	return &ForecastEngine{
		locations: locations,
		store:     st,
		client:    wc,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
		refreshes: newRefreshTracker(),
		coalescer: coalescer,
	}
}

func (e *ForecastEngine) WithClock(now Clock) *ForecastEngine {
	e.now = nowOrDefault(now)
	return e
}

// GetForecast returns the formatted forecast for locationID. An unknown location
// yields models.ErrNotFound.
func (e *ForecastEngine) GetForecast(ctx context.Context, locationID string) (models.Forecast, error) {
	logger := loggerFromContext(ctx, e.logger)

	locations, err := e.locations.Fetch(ctx, models.LocationQuery{ID: locationID})
	if err != nil {
		observability.ForecastsTotal.WithLabelValues("error").Inc()
		return models.Forecast{}, err
	}
	if len(locations) == 0 {
		return models.Forecast{}, fmt.Errorf("location %s: %w", locationID, models.ErrNotFound)
	}
	loc := locations[0]

	since := e.now().Add(-FreshnessWindow)
	obs, ok, err := e.store.LatestObservationSince(ctx, locationID, since)
	if err != nil {
		recordStoreError("latest_observation", err)
		observability.ForecastsTotal.WithLabelValues("error").Inc()
		return models.Forecast{}, fmt.Errorf("latest observation for %s: %w", locationID, err)
	}
	if ok {
		observability.ForecastsTotal.WithLabelValues("fresh").Inc()
		logger.Debug("forecast served", zap.String("location_id", locationID), zap.Bool("refreshed", false))
		return FormatForecast(loc.City, obs), nil
	}

	obs, err = e.refresh(ctx, loc)
	if err != nil {
		observability.ForecastsTotal.WithLabelValues("error").Inc()
		return models.Forecast{}, err
	}
	observability.ForecastsTotal.WithLabelValues("refreshed").Inc()
	logger.Debug("forecast served", zap.String("location_id", locationID), zap.Bool("refreshed", true))
	return FormatForecast(loc.City, obs), nil
}

func (e *ForecastEngine) refresh(ctx context.Context, loc models.Location) (models.WeatherObservation, error) {
	if concurrent := e.refreshes.Begin(loc.LocationID); concurrent > 1 {
		observability.ForecastStampedeDetectedTotal.Inc()
	}
	defer e.refreshes.End(loc.LocationID)

	if e.coalescer == nil {
		return e.fetchAndStore(ctx, loc)
	}

	// The shared fetch outlives any one caller but is bounded by the coalesce timeout.
	detached := context.WithoutCancel(ctx)
	obs, shared, err := e.coalescer.GetOrDo(ctx, loc.LocationID, func() (models.WeatherObservation, error) {
		fetchCtx, cancel := context.WithTimeout(detached, e.coalescer.timeout)
		defer cancel()
		return e.fetchAndStore(fetchCtx, loc)
	})
	if shared && err == nil {
		observability.RequestCoalescingHitsTotal.Inc()
	}
	return obs, err
}

func (e *ForecastEngine) fetchAndStore(ctx context.Context, loc models.Location) (models.WeatherObservation, error) {
	if !loc.HasCoordinates() {
		return models.WeatherObservation{}, fmt.Errorf("%w: location %s has no coordinates", models.ErrValidation, loc.LocationID)
	}

	conditions, err := e.client.GetCurrentConditions(ctx, *loc.Latitude, *loc.Longitude)
	if err != nil {
		return models.WeatherObservation{}, fmt.Errorf("current conditions for %s: %w", loc.LocationID, err)
	}

	now := e.now().UTC()
	obs := ObservationFromConditions(loc.LocationID, conditions)
	obs.WeatherID = e.newID()
	obs.Created = now
	obs.Updated = now
	if err := e.store.InsertObservation(ctx, obs); err != nil {
		recordStoreError("insert_observation", err)
		return models.WeatherObservation{}, fmt.Errorf("store observation for %s: %w", loc.LocationID, err)
	}
	return obs, nil
}

// ObservationFromConditions maps a provider payload onto an observation. Temperatures
// are rounded half to even; the first weather entry, if any, supplies the condition
// and description.
func ObservationFromConditions(locationID string, c models.CurrentConditions) models.WeatherObservation {
	obs := models.WeatherObservation{
		LocationID:           locationID,
		Temperature:          roundedInt(c.Main.Temp),
		FeelsLikeTemperature: roundedInt(c.Main.FeelsLike),
		AirPressure:          c.Main.Pressure,
		Humidity:             c.Main.Humidity,
		Windspeed:            c.Wind.Speed,
	}
	if len(c.Weather) > 0 {
		obs.CurrentWeather = optionalString(c.Weather[0].Main)
		obs.Description = optionalString(c.Weather[0].Description)
	}
	return obs
}

func roundedInt(v *float64) *int {
	if v == nil {
		return nil
	}
	n := int(math.RoundToEven(*v))
	return &n
}
