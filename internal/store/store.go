// Package store persists locations and weather observations.
package store

import (
	"context"
	"time"

	"github.com/kjstillabower/weather-location-service/internal/models"
)

// Store is the authoritative persistence for locations and observations.
// Implementations wrap failures in models.ErrStore, report a duplicate city as
// models.ErrConflict, and report a missing row on update or delete as models.ErrNotFound.
type Store interface {
	// ListLocations returns locations matching q. An empty result is not an error.
	ListLocations(ctx context.Context, q models.LocationQuery) ([]models.Location, error)
	InsertLocation(ctx context.Context, loc models.Location) error
	// UpdateLocation replaces the mutable fields of the location with loc.LocationID.
	UpdateLocation(ctx context.Context, loc models.Location) error
	// DeleteLocation removes the location and its observations.
	DeleteLocation(ctx context.Context, locationID string) error

	// LatestObservationSince returns the newest observation created at or after since.
	// ok is false when there is none.
	LatestObservationSince(ctx context.Context, locationID string, since time.Time) (obs models.WeatherObservation, ok bool, err error)
	InsertObservation(ctx context.Context, obs models.WeatherObservation) error
	// ObservationsSince returns every observation created at or after since, oldest first.
	ObservationsSince(ctx context.Context, locationID string, since time.Time) ([]models.WeatherObservation, error)

	Ping(ctx context.Context) error
	Close()
}
