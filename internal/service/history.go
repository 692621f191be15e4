package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-location-service/internal/models"
	"github.com/kjstillabower/weather-location-service/internal/store"
)

// HistoryWindows are the accepted history lengths in days.
var HistoryWindows = []int{7, 15, 30}

// ValidHistoryDays reports whether days is one of HistoryWindows.
func ValidHistoryDays(days int) bool {
	for _, d := range HistoryWindows {
		if d == days {
			return true
		}
	}
	return false
}

// HistoryAggregator reads observation windows from the store and summarises them.
type HistoryAggregator struct {
	store  store.Store
	logger *zap.Logger
	now    Clock
}

func NewHistoryAggregator(st store.Store, logger *zap.Logger) *HistoryAggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryAggregator{store: st, logger: logger, now: time.Now}
}

func (h *HistoryAggregator) WithClock(now Clock) *HistoryAggregator {
	h.now = nowOrDefault(now)
	return h
}

// GetHistory returns the observations of the last days days with their summary.
// An empty window is reported through History.Empty with a nil Summary.
func (h *HistoryAggregator) GetHistory(ctx context.Context, locationID string, days int) (models.History, error) {
	if !ValidHistoryDays(days) {
		return models.History{}, fmt.Errorf("%w: days must be one of 7, 15 or 30, got %d", models.ErrValidation, days)
	}

	since := h.now().Add(-time.Duration(days) * 24 * time.Hour)
	rows, err := h.store.ObservationsSince(ctx, locationID, since)
	if err != nil {
		recordStoreError("observations_since", err)
		return models.History{}, fmt.Errorf("history for %s: %w", locationID, err)
	}

	history := models.History{LocationID: locationID, Days: days, Observations: rows}
	if len(rows) == 0 {
		history.Observations = []models.WeatherObservation{}
		history.Empty = true
		loggerFromContext(ctx, h.logger).Debug("no history in window", zap.String("location_id", locationID), zap.Int("days", days))
		return history, nil
	}

	summary := Summarize(rows)
	history.Summary = &summary
	return history, nil
}

// Summarize reduces rows to max, min and average per metric over the values that
// are present. A metric with no values has nil fields.
func Summarize(rows []models.WeatherObservation) models.Summary {
	var temperature, pressure, humidity, windspeed []float64
	for _, r := range rows {
		if r.Temperature != nil {
			temperature = append(temperature, float64(*r.Temperature))
		}
		if r.AirPressure != nil {
			pressure = append(pressure, float64(*r.AirPressure))
		}
		if r.Humidity != nil {
			humidity = append(humidity, float64(*r.Humidity))
		}
		if r.Windspeed != nil {
			windspeed = append(windspeed, *r.Windspeed)
		}
	}
	return models.Summary{
		Temperature: summarizeAttribute(temperature),
		AirPressure: summarizeAttribute(pressure),
		Humidity:    summarizeAttribute(humidity),
		Windspeed:   summarizeAttribute(windspeed),
	}
}

func summarizeAttribute(values []float64) models.AttributeSummary {
	if len(values) == 0 {
		return models.AttributeSummary{}
	}
	maxV, minV, sum := values[0], values[0], 0.0
	for _, v := range values {
		maxV = max(maxV, v)
		minV = min(minV, v)
		sum += v
	}
	avg := sum / float64(len(values))
	return models.AttributeSummary{Max: &maxV, Min: &minV, Average: &avg}
}
