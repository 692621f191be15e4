package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-location-service/internal/observability"
	"github.com/kjstillabower/weather-location-service/internal/ratelimit"
)

// RouterConfig holds the optional middleware dependencies. Nil limiters disable them.
type RouterConfig struct {
	Logger         *zap.Logger
	InFlight       *InFlightTracker
	GlobalLimiter  *rate.Limiter
	ClientLimiter  *ratelimit.Limiter
	RequestTimeout time.Duration
}

// NewRouter registers every route. /health and /metrics bypass rate limiting and the
// request timeout; resource routes get both.
func NewRouter(h *Handler, rc RouterConfig) *mux.Router {
	logger := rc.Logger
	if logger == nil {
		logger = h.logger
	}

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware(rc.InFlight))
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	api.Use(RateLimitMiddleware(rc.GlobalLimiter, h.traffic))
	api.Use(ClientRateLimitMiddleware(rc.ClientLimiter, h.traffic))
	if rc.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(rc.RequestTimeout))
	}

	api.HandleFunc("/locations", h.GetLocations).Methods(http.MethodGet)
	api.HandleFunc("/locations", h.PostLocation).Methods(http.MethodPost)
	api.HandleFunc("/locations/{location_id}", h.GetLocations).Methods(http.MethodGet)
	api.HandleFunc("/locations/{location_id}", h.PutLocation).Methods(http.MethodPut)
	api.HandleFunc("/locations/{location_id}", h.DeleteLocation).Methods(http.MethodDelete)
	api.HandleFunc("/weather/{location_id}", h.GetWeather).Methods(http.MethodGet)
	api.HandleFunc("/history/{location_id}", h.GetHistory).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})
	return router
}
