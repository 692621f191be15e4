package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-location-service/internal/cache"
	"github.com/kjstillabower/weather-location-service/internal/geocoding"
	"github.com/kjstillabower/weather-location-service/internal/models"
	"github.com/kjstillabower/weather-location-service/internal/observability"
	"github.com/kjstillabower/weather-location-service/internal/store"
)

// LocationResolver reads locations cache-aside and keeps the cache coherent with
// every write. It does not check existence or duplicates; callers do.
type LocationResolver struct {
	store    store.Store
	cache    cache.Cache
	geocoder geocoding.Geocoder
	ttl      time.Duration
	logger   *zap.Logger
	now      Clock
	newID    func() string
}

// NewLocationResolver creates a LocationResolver. ttl applies to cached location lists.
func NewLocationResolver(st store.Store, c cache.Cache, geo geocoding.Geocoder, ttl time.Duration, logger *zap.Logger) *LocationResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocationResolver{
		store:    st,
		cache:    c,
		geocoder: geo,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// WithClock replaces the clock used for created and updated timestamps.
func (r *LocationResolver) WithClock(now Clock) *LocationResolver {
	r.now = nowOrDefault(now)
	return r
}

// cacheKey returns the key consulted for q, or "" when q is not cached.
func cacheKey(q models.LocationQuery) string {
	switch {
	case q.ID != "":
		return q.ID
	case q.City == "":
		return AllLocationsKey
	default:
		return ""
	}
}

// Fetch returns the locations matching q. A query by id or the unfiltered list is
// served from cache when present; a query by city always reads the store.
func (r *LocationResolver) Fetch(ctx context.Context, q models.LocationQuery) ([]models.Location, error) {
	logger := loggerFromContext(ctx, r.logger)
	key := cacheKey(q)

	if key != "" {
		var cached []models.Location
		hit, err := r.cache.Get(ctx, key, &cached)
		if err == nil && hit {
			return cached, nil
		}
	}

	locations, err := r.store.ListLocations(ctx, q)
	if err != nil {
		recordStoreError("list_locations", err)
		return nil, fmt.Errorf("fetch locations: %w", err)
	}
	if locations == nil {
		locations = []models.Location{}
	}

	if key != "" && len(locations) > 0 {
		if err := r.cache.Set(ctx, key, locations, r.ttl); err != nil {
			logger.Warn("location cache populate failed", zap.String("key", cache.RedactKey(key)), zap.Error(err))
		}
	}
	return locations, nil
}

// ResolveCoordinates fills latitude, longitude, state and country of loc from the
// best geocoding match for loc.City. State and country are case-folded like
// validated request values.
func (r *LocationResolver) ResolveCoordinates(ctx context.Context, loc *models.Location) error {
	results, err := r.geocoder.Geocode(ctx, loc.City)
	if err != nil {
		return fmt.Errorf("resolve coordinates for %q: %w", loc.City, err)
	}
	if len(results) == 0 {
		return fmt.Errorf("resolve coordinates for %q: %w", loc.City, models.ErrNotFound)
	}
	best := results[0]
	lat, lon := best.Lat, best.Lon
	loc.Latitude = &lat
	loc.Longitude = &lon
	loc.State = optionalString(strings.ToLower(strings.TrimSpace(best.State)))
	loc.Country = optionalString(strings.ToLower(strings.TrimSpace(best.Country)))
	return nil
}

// Add stores a new location, geocoding it when coordinates are missing, and
// returns its id.
func (r *LocationResolver) Add(ctx context.Context, loc models.Location) (string, error) {
	if strings.TrimSpace(loc.City) == "" {
		return "", fmt.Errorf("%w: city is required", models.ErrValidation)
	}
	if !loc.HasCoordinates() {
		if err := r.ResolveCoordinates(ctx, &loc); err != nil {
			return "", err
		}
	}

	now := r.now().UTC()
	loc.LocationID = r.newID()
	loc.Created = now
	loc.Updated = now
	if err := r.store.InsertLocation(ctx, loc); err != nil {
		recordStoreError("insert_location", err)
		return "", fmt.Errorf("add location: %w", err)
	}

	r.invalidate(ctx, "add", AllLocationsKey)
	loggerFromContext(ctx, r.logger).Info("location added", zap.String("location_id", loc.LocationID), zap.String("city", loc.City))
	return loc.LocationID, nil
}

// Put replaces the location identified by loc.LocationID, geocoding it when
// coordinates are missing.
func (r *LocationResolver) Put(ctx context.Context, loc models.Location) error {
	if loc.LocationID == "" {
		return fmt.Errorf("%w: location_id is required", models.ErrValidation)
	}
	if strings.TrimSpace(loc.City) == "" {
		return fmt.Errorf("%w: city is required", models.ErrValidation)
	}
	if !loc.HasCoordinates() {
		if err := r.ResolveCoordinates(ctx, &loc); err != nil {
			return err
		}
	}

	loc.Updated = r.now().UTC()
	if err := r.store.UpdateLocation(ctx, loc); err != nil {
		recordStoreError("update_location", err)
		return fmt.Errorf("put location %s: %w", loc.LocationID, err)
	}

	r.invalidate(ctx, "put", loc.LocationID, AllLocationsKey)
	loggerFromContext(ctx, r.logger).Info("location updated", zap.String("location_id", loc.LocationID))
	return nil
}

// Delete removes the location and its observations.
func (r *LocationResolver) Delete(ctx context.Context, locationID string) error {
	if err := r.store.DeleteLocation(ctx, locationID); err != nil {
		recordStoreError("delete_location", err)
		return fmt.Errorf("delete location %s: %w", locationID, err)
	}

	r.invalidate(ctx, "delete", locationID, AllLocationsKey)
	loggerFromContext(ctx, r.logger).Info("location deleted", zap.String("location_id", locationID))
	return nil
}

// invalidate drops keys after a committed write. A failure leaves the entry until
// its TTL; the write itself still succeeds.
func (r *LocationResolver) invalidate(ctx context.Context, operation string, keys ...string) {
	for _, key := range keys {
		if err := r.cache.DeleteExact(ctx, key); err != nil {
			observability.CacheInvalidationFailuresTotal.WithLabelValues(operation).Inc()
			loggerFromContext(ctx, r.logger).Warn("cache invalidation failed",
				zap.String("operation", operation),
				zap.String("key", cache.RedactKey(key)),
				zap.Error(err),
			)
		}
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
