package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/weather-location-service/internal/models"
)

type mockForecastSource struct {
	mu        sync.Mutex
	locations []models.Location
	listErr   error
	failFor   map[string]error
	calls     []string
}

func (m *mockForecastSource) Fetch(ctx context.Context, q models.LocationQuery) ([]models.Location, error) {
	return m.locations, m.listErr
}

func (m *mockForecastSource) GetForecast(ctx context.Context, id string) (models.Forecast, error) {
	m.mu.Lock()
	m.calls = append(m.calls, id)
	m.mu.Unlock()
	if err := m.failFor[id]; err != nil {
		return models.Forecast{}, err
	}
	return models.Forecast{City: id}, nil
}

func (m *mockForecastSource) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func TestWarmer_Warm_Success(t *testing.T) {
	src := &mockForecastSource{locations: []models.Location{{LocationID: "a"}, {LocationID: "b"}, {LocationID: "c"}}}
	w := NewWarmer(src, nil, time.Second, 2)

	if err := w.Warm(context.Background()); err != nil {
		t.Fatalf("Warm() error = %v, want nil", err)
	}
	if src.callCount() != 3 {
		t.Errorf("GetForecast calls = %d, want 3", src.callCount())
	}
}

func TestWarmer_Warm_EmptyLocations(t *testing.T) {
	w := NewWarmer(&mockForecastSource{}, nil, time.Second, 0)
	if err := w.Warm(context.Background()); err != nil {
		t.Fatalf("Warm() with no locations error = %v, want nil", err)
	}
}

func TestWarmer_Warm_AggregatesErrors(t *testing.T) {
	src := &mockForecastSource{
		locations: []models.Location{{LocationID: "a"}, {LocationID: "b"}},
		failFor:   map[string]error{"b": errors.New("api down")},
	}
	w := NewWarmer(src, nil, time.Second, 2)

	err := w.Warm(context.Background())
	if err == nil {
		t.Fatal("Warm() error = nil, want non-nil")
	}
	if !strings.Contains(err.Error(), "warm b: api down") {
		t.Errorf("Warm() error = %q, want failure for b", err)
	}
}

func TestWarmer_Warm_ListError(t *testing.T) {
	src := &mockForecastSource{listErr: models.ErrStore}
	w := NewWarmer(src, nil, time.Second, 2)
	if err := w.Warm(context.Background()); !errors.Is(err, models.ErrStore) {
		t.Errorf("Warm() error = %v, want ErrStore", err)
	}
}

func TestWarmer_StartRunsImmediately(t *testing.T) {
	src := &mockForecastSource{locations: []models.Location{{LocationID: "a"}}}
	w := NewWarmer(src, nil, time.Second, 1)
	if err := w.Start(time.Hour); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for src.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if src.callCount() == 0 {
		t.Error("Start() did not run an initial warm pass")
	}
}

func TestWarmer_StartRejectsNonPositiveInterval(t *testing.T) {
	w := NewWarmer(&mockForecastSource{}, nil, time.Second, 1)
	if err := w.Start(0); err == nil {
		t.Error("Start(0) error = nil, want error")
	}
}
