package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-location-service/internal/client"
	"github.com/kjstillabower/weather-location-service/internal/models"
	"github.com/kjstillabower/weather-location-service/internal/observability"
	"github.com/kjstillabower/weather-location-service/internal/traffic"
	"github.com/kjstillabower/weather-location-service/internal/validation"
)

// maxBodyBytes bounds POST and PUT bodies.
const maxBodyBytes = 1 << 20

// LocationService is the location CRUD surface used by the handlers.
type LocationService interface {
	Fetch(ctx context.Context, q models.LocationQuery) ([]models.Location, error)
	Add(ctx context.Context, loc models.Location) (string, error)
	Put(ctx context.Context, loc models.Location) error
	Delete(ctx context.Context, locationID string) error
}

// ForecastService returns the current forecast for a location.
type ForecastService interface {
	GetForecast(ctx context.Context, locationID string) (models.Forecast, error)
}

// HistoryService returns stored observations for a day window.
type HistoryService interface {
	GetHistory(ctx context.Context, locationID string, days int) (models.History, error)
}

// Service is everything the handlers call. *service.WeatherService satisfies it.
type Service interface {
	LocationService
	ForecastService
	HistoryService
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	service Service
	health  *HealthConfig
	logger  *zap.Logger
	traffic *traffic.Tracker

	shuttingDown atomic.Bool

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. A nil tracker disables error-rate health checks.
func NewHandler(svc Service, health *HealthConfig, logger *zap.Logger, tracker *traffic.Tracker) *Handler {
	if tracker == nil {
		tracker = &traffic.Tracker{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service: svc,
		health:  health,
		logger:  logger,
		traffic: tracker,
	}
}

// envelope is the success body for every resource route.
type envelope struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
	Data    any    `json:"data"`
}

// GetLocations handles GET /locations, GET /locations?city= and GET /locations/{location_id}.
func (h *Handler) GetLocations(w http.ResponseWriter, r *http.Request) {
	q := models.LocationQuery{
		ID:   mux.Vars(r)["location_id"],
		City: validation.City(r.URL.Query().Get("city")),
	}
	if q.ID != "" {
		if err := validation.LocationID(q.ID); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
	}

	locations, err := h.service.Fetch(r.Context(), q)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if q.ID != "" && len(locations) == 0 {
		h.writeServiceError(w, r, fmt.Errorf("location %s: %w", q.ID, models.ErrNotFound))
		return
	}
	h.writeOK(w, "all locations added by user", locations)
}

// PostLocation handles POST /locations.
func (h *Handler) PostLocation(w http.ResponseWriter, r *http.Request) {
	loc, ok := h.decodeLocation(w, r)
	if !ok {
		return
	}

	existing, err := h.service.Fetch(r.Context(), models.LocationQuery{City: loc.City})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if len(existing) > 0 {
		h.writeServiceError(w, r, fmt.Errorf("city %s already exists: %w", loc.City, models.ErrConflict))
		return
	}

	id, err := h.service.Add(r.Context(), loc)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeOK(w, "location added successfully", map[string]string{"location_id": id})
}

// PutLocation handles PUT /locations/{location_id}.
func (h *Handler) PutLocation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["location_id"]
	if err := validation.LocationID(id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	loc, ok := h.decodeLocation(w, r)
	if !ok {
		return
	}
	if !h.requireLocation(w, r, id) {
		return
	}

	loc.LocationID = id
	if err := h.service.Put(r.Context(), loc); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	updated, err := h.service.Fetch(r.Context(), models.LocationQuery{ID: id})
	if err != nil || len(updated) == 0 {
		// The write committed; report it even if the read-back failed.
		h.writeOK(w, "location updated successfully", loc)
		return
	}
	h.writeOK(w, "location updated successfully", updated[0])
}

// DeleteLocation handles DELETE /locations/{location_id}.
func (h *Handler) DeleteLocation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["location_id"]
	if err := validation.LocationID(id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !h.requireLocation(w, r, id) {
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeOK(w, "location deleted successfully", nil)
}

// GetWeather handles GET /weather/{location_id}.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["location_id"]
	if err := validation.LocationID(id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	forecast, err := h.service.GetForecast(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeOK(w, "forecast fetched", forecast)
}

// GetHistory handles GET /history/{location_id}?days=7|15|30.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["location_id"]
	if err := validation.LocationID(id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	days, err := validation.HistoryDays(r.URL.Query().Get("days"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	history, err := h.service.GetHistory(r.Context(), id, days)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if history.Empty {
		h.writeOK(w, "No history data available", history)
		return
	}
	h.writeOK(w, "history fetched successfully", history)
}

// decodeLocation reads and validates a location body. It writes the error response
// and returns false on failure.
func (h *Handler) decodeLocation(w http.ResponseWriter, r *http.Request) (models.Location, bool) {
	var req validation.LocationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeServiceError(w, r, fmt.Errorf("%w: invalid JSON body: %v", models.ErrValidation, err))
		return models.Location{}, false
	}
	loc, err := validation.Location(req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return models.Location{}, false
	}
	return loc, true
}

// requireLocation writes 404 and returns false when id does not exist.
func (h *Handler) requireLocation(w http.ResponseWriter, r *http.Request, id string) bool {
	existing, err := h.service.Fetch(r.Context(), models.LocationQuery{ID: id})
	if err != nil {
		h.writeServiceError(w, r, err)
		return false
	}
	if len(existing) == 0 {
		h.writeServiceError(w, r, fmt.Errorf("city with given location_id does not exist: %w", models.ErrNotFound))
		return false
	}
	return true
}

func (h *Handler) writeOK(w http.ResponseWriter, message string, data any) {
	h.traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, envelope{Message: message, Success: true, Data: data})
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeServiceError maps err to a status and error code. Server-side failures count
// toward the degraded error rate; caller mistakes do not.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classify(err)
	logger := observability.LoggerFromContext(r.Context(), h.logger)
	if status >= http.StatusInternalServerError || status == http.StatusFailedDependency {
		h.traffic.RecordError()
		logger.Error("request failed", zap.Int("status", status), zap.String("code", code), zap.Error(err))
	} else {
		h.traffic.RecordSuccess()
		logger.Debug("request rejected", zap.Int("status", status), zap.String("code", code), zap.Error(err))
	}
	writeError(w, r, status, code, message)
}

// classify returns the HTTP status, error code and client-facing message for err.
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, "INVALID_REQUEST", strings.TrimPrefix(err.Error(), models.ErrValidation.Error()+": ")
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict, "CITY_EXISTS", err.Error()
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", err.Error()
	}

	var upstream *models.UpstreamError
	if errors.As(err, &upstream) {
		msg := "upstream provider request failed"
		if upstream.Message != "" {
			msg = upstream.Message
		}
		return http.StatusFailedDependency, "UPSTREAM_FAILED", msg
	}

	switch client.CategorizeError(err) {
	case client.ErrorCategoryCircuitOpen:
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data"
	case client.ErrorCategoryTimeout:
		return http.StatusGatewayTimeout, "TIMEOUT", "request timed out"
	case client.ErrorCategoryNetwork, client.ErrorCategoryParsing, client.ErrorCategoryRateLimited,
		client.ErrorCategoryInvalidAPIKey, client.ErrorCategoryUpstream4xx, client.ErrorCategoryUpstream5xx:
		return http.StatusFailedDependency, "UPSTREAM_FAILED", "upstream provider request failed"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}
