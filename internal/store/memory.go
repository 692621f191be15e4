package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kjstillabower/weather-location-service/internal/models"
)

// MemoryStore implements Store in process. It enforces the same unique-city and
// cascade-delete rules as the Postgres schema. Safe for concurrent use.
type MemoryStore struct {
	mu           sync.RWMutex
	locations    map[string]models.Location
	observations map[string][]models.WeatherObservation
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		locations:    make(map[string]models.Location),
		observations: make(map[string][]models.WeatherObservation),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() {}

func (s *MemoryStore) ListLocations(ctx context.Context, q models.LocationQuery) ([]models.Location, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list locations: %w: %v", models.ErrStore, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Location{}
	for _, l := range s.locations {
		switch {
		case q.ID != "" && l.LocationID != q.ID:
			continue
		case q.ID == "" && q.City != "" && l.City != q.City:
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out, nil
}

func (s *MemoryStore) InsertLocation(ctx context.Context, l models.Location) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("insert location: %w: %v", models.ErrStore, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.locations[l.LocationID]; ok {
		return fmt.Errorf("insert location %s: %w: duplicate id", l.LocationID, models.ErrConflict)
	}
	if s.cityTakenLocked(l.City, "") {
		return fmt.Errorf("insert location: %w: city %q exists", models.ErrConflict, l.City)
	}
	s.locations[l.LocationID] = l
	return nil
}

func (s *MemoryStore) UpdateLocation(ctx context.Context, l models.Location) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("update location: %w: %v", models.ErrStore, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.locations[l.LocationID]
	if !ok {
		return fmt.Errorf("update location %s: %w", l.LocationID, models.ErrNotFound)
	}
	if s.cityTakenLocked(l.City, l.LocationID) {
		return fmt.Errorf("update location: %w: city %q exists", models.ErrConflict, l.City)
	}
	l.Created = existing.Created
	s.locations[l.LocationID] = l
	return nil
}

func (s *MemoryStore) DeleteLocation(ctx context.Context, locationID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("delete location: %w: %v", models.ErrStore, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.locations[locationID]; !ok {
		return fmt.Errorf("delete location %s: %w", locationID, models.ErrNotFound)
	}
	delete(s.locations, locationID)
	delete(s.observations, locationID)
	return nil
}

func (s *MemoryStore) LatestObservationSince(ctx context.Context, locationID string, since time.Time) (models.WeatherObservation, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.WeatherObservation{}, false, fmt.Errorf("latest observation: %w: %v", models.ErrStore, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest models.WeatherObservation
	found := false
	for _, o := range s.observations[locationID] {
		if o.Created.Before(since) {
			continue
		}
		if !found || o.Created.After(latest.Created) {
			latest = o
			found = true
		}
	}
	return latest, found, nil
}

func (s *MemoryStore) InsertObservation(ctx context.Context, o models.WeatherObservation) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("insert observation: %w: %v", models.ErrStore, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.locations[o.LocationID]; !ok {
		return fmt.Errorf("insert observation: %w: unknown location %s", models.ErrStore, o.LocationID)
	}
	s.observations[o.LocationID] = append(s.observations[o.LocationID], o)
	return nil
}

func (s *MemoryStore) ObservationsSince(ctx context.Context, locationID string, since time.Time) ([]models.WeatherObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list observations: %w: %v", models.ErrStore, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.WeatherObservation
	for _, o := range s.observations[locationID] {
		if !o.Created.Before(since) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out, nil
}

// cityTakenLocked reports whether another location (not exceptID) already uses city.
func (s *MemoryStore) cityTakenLocked(city, exceptID string) bool {
	for id, l := range s.locations {
		if id != exceptID && l.City == city {
			return true
		}
	}
	return false
}
