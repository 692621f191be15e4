package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/weather-location-service/internal/cache"
	"github.com/kjstillabower/weather-location-service/internal/models"
	"github.com/kjstillabower/weather-location-service/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func ptr[T any](v T) *T { return &v }

// countingStore counts ListLocations calls on top of a MemoryStore.
type countingStore struct {
	*store.MemoryStore
	lists    int32
	failList error
}

func (s *countingStore) ListLocations(ctx context.Context, q models.LocationQuery) ([]models.Location, error) {
	atomic.AddInt32(&s.lists, 1)
	if s.failList != nil {
		return nil, s.failList
	}
	return s.MemoryStore.ListLocations(ctx, q)
}

type mockGeocoder struct {
	mu      sync.Mutex
	calls   int
	results []models.GeoResult
	err     error
}

func (m *mockGeocoder) Geocode(ctx context.Context, city string) ([]models.GeoResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.results, m.err
}

type mockWeatherClient struct {
	mu         sync.Mutex
	calls      int
	conditions models.CurrentConditions
	err        error
	delay      time.Duration
}

func (m *mockWeatherClient) GetCurrentConditions(ctx context.Context, lat, lon float64) (models.CurrentConditions, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.conditions, m.err
}

func (m *mockWeatherClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// failingCache fails every operation.
type failingCache struct{}

var errCacheDown = errors.New("cache down")

func (failingCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	return false, errCacheDown
}
func (failingCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return errCacheDown
}
func (failingCache) Delete(ctx context.Context, patterns ...string) error { return errCacheDown }
func (failingCache) DeleteExact(ctx context.Context, key string) error    { return errCacheDown }

type fixture struct {
	store    *countingStore
	cache    *cache.InMemoryCache
	geocoder *mockGeocoder
	weather  *mockWeatherClient
	resolver *LocationResolver
	engine   *ForecastEngine
	history  *HistoryAggregator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: &countingStore{MemoryStore: store.NewMemory()},
		cache: cache.NewInMemoryCache("weather_test"),
		geocoder: &mockGeocoder{results: []models.GeoResult{
			{Name: "Seattle", Lat: 47.6038, Lon: -122.3301, State: "Washington", Country: "US"},
		}},
		weather: &mockWeatherClient{conditions: sampleConditions()},
	}
	f.resolver = NewLocationResolver(f.store, f.cache, f.geocoder, time.Hour, nil).WithClock(fixedClock)
	f.engine = NewForecastEngine(f.resolver, f.store, f.weather, 0, nil).WithClock(fixedClock)
	f.history = NewHistoryAggregator(f.store, nil).WithClock(fixedClock)
	return f
}

func sampleConditions() models.CurrentConditions {
	var c models.CurrentConditions
	c.Weather = append(c.Weather, struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	}{Main: "Clouds", Description: "broken clouds"})
	c.Main.Temp = ptr(12.4)
	c.Main.FeelsLike = ptr(10.5)
	c.Main.Pressure = ptr(1012)
	c.Main.Humidity = ptr(80)
	c.Wind.Speed = ptr(3.5)
	return c
}

func (f *fixture) addSeattle(t *testing.T) string {
	t.Helper()
	id, err := f.resolver.Add(context.Background(), models.Location{
		City:      "seattle",
		Latitude:  ptr(47.6),
		Longitude: ptr(-122.3),
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	return id
}

func TestNewWeatherService_PromotesOperations(t *testing.T) {
	f := newFixture(t)
	svc := NewWeatherService(f.resolver, f.engine, f.history)
	id := f.addSeattle(t)

	if _, err := svc.Fetch(context.Background(), models.LocationQuery{ID: id}); err != nil {
		t.Errorf("Fetch() error = %v", err)
	}
	if _, err := svc.GetForecast(context.Background(), id); err != nil {
		t.Errorf("GetForecast() error = %v", err)
	}
	if _, err := svc.GetHistory(context.Background(), id, 7); err != nil {
		t.Errorf("GetHistory() error = %v", err)
	}
}
