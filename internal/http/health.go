package http

import (
	"context"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-location-service/internal/circuitbreaker"
)

// BreakerState reports a circuit breaker's current state.
type BreakerState interface {
	State() circuitbreaker.State
}

// HealthConfig holds the dependencies and thresholds for GET /health.
type HealthConfig struct {
	ServiceName string
	Version     string
	StartTime   time.Time

	// DegradedWindow and DegradedErrorPct define the error-rate breach. Zero disables it.
	DegradedWindow   time.Duration
	DegradedErrorPct int

	// StorePing is required for a healthy status when set.
	StorePing func(ctx context.Context) error
	// CachePing is informational: cache failures degrade to misses.
	CachePing func(ctx context.Context) error

	// Breakers maps upstream component name to its circuit breaker.
	Breakers map[string]BreakerState
}

// SetShuttingDown flips the flag reported by /health. Set on SIGTERM before draining.
func (h *Handler) SetShuttingDown(v bool) {
	h.shuttingDown.Store(v)
}

// IsShuttingDown reports whether graceful shutdown has begun.
func (h *Handler) IsShuttingDown() bool {
	return h.shuttingDown.Load()
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
	checks     map[string]string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	resp := map[string]any{
		"status":    result.status,
		"checks":    result.checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.health != nil {
		resp["service"] = h.health.ServiceName
		resp["version"] = h.health.Version
		if !h.health.StartTime.IsZero() {
			resp["uptime"] = time.Since(h.health.StartTime).Round(time.Second).String()
		}
	}
	if result.reason != "" {
		resp["reason"] = result.reason
	}
	if h.health != nil && h.health.DegradedWindow > 0 {
		errs, _ := h.traffic.ErrorRate(h.health.DegradedWindow)
		resp["traffic"] = map[string]any{
			"window":   h.health.DegradedWindow.String(),
			"requests": h.traffic.RequestCount(h.health.DegradedWindow),
			"errors":   errs,
			"denied":   h.traffic.DenialCount(h.health.DegradedWindow),
		}
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates, in priority order: shutting-down, store reachability,
// open circuit breakers, then the error-rate breach. Cache state is reported but never
// changes the status.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	checks := make(map[string]string)
	if h.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal", checks}
	}
	if h.health == nil {
		return healthResult{"healthy", http.StatusOK, "", checks}
	}

	if h.health.CachePing != nil {
		checks["cache"] = pingStatus(ctx, h.health.CachePing)
	}
	if h.health.StorePing != nil {
		checks["store"] = pingStatus(ctx, h.health.StorePing)
		if checks["store"] != "healthy" {
			return healthResult{"unhealthy", http.StatusServiceUnavailable, "store_unreachable", checks}
		}
	}

	names := make([]string, 0, len(h.health.Breakers))
	for name := range h.health.Breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	var openBreaker string
	for _, name := range names {
		state := h.health.Breakers[name].State()
		checks[name] = state.String()
		if state == circuitbreaker.StateOpen && openBreaker == "" {
			openBreaker = name
		}
	}
	if openBreaker != "" {
		return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open:" + openBreaker, checks}
	}

	if h.health.DegradedWindow > 0 && h.health.DegradedErrorPct > 0 {
		errs, total := h.traffic.ErrorRate(h.health.DegradedWindow)
		if total > 0 {
			pct := float64(errs) * 100 / float64(total)
			if pct >= float64(h.health.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach", checks}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, "", checks}
}

func pingStatus(ctx context.Context, ping func(context.Context) error) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := ping(ctx); err != nil {
		return "unhealthy"
	}
	return "healthy"
}
