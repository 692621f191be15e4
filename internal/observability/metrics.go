package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream provider call rate by provider (weather, geocoding) and status.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Upstream latency per request. Watch for: p95 > 2s (upstream degradation), p99 > 5s (timeout risk).
	WeatherAPIDuration *prometheus.HistogramVec

	// Retry attempts for the weather API. Watch for: high retries = unstable upstream.
	WeatherAPIRetriesTotal prometheus.Counter

	// Upstream errors by category (see client.CategorizeError).
	WeatherAPIErrorsTotal *prometheus.CounterVec

	// Cache operations by operation and result (hit, miss, success, error).
	CacheOperationsTotal *prometheus.CounterVec

	// Cache operation latency.
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Cache errors by operation and category. Every error degrades to a miss.
	CacheErrorsTotal *prometheus.CounterVec

	// Reconnect attempts after a closed cache connection.
	CacheReconnectsTotal *prometheus.CounterVec

	// Invalidations that failed after a successful store write. Entries live until TTL.
	CacheInvalidationFailuresTotal *prometheus.CounterVec

	// Forecast warming passes, failed passes and pass duration.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// Forecast outcomes: fresh (served from store), refreshed (fetched upstream), error.
	ForecastsTotal *prometheus.CounterVec

	// Concurrent upstream refreshes for the same location. Watch for: stampedes after outages.
	ForecastStampedeDetectedTotal prometheus.Counter

	// Forecasts served by joining an in-flight refresh.
	RequestCoalescingHitsTotal prometheus.Counter

	// Store failures by operation.
	StoreErrorsTotal *prometheus.CounterVec

	// Rate limit denials by limiter (global, client). Watch for: overload, abusive clients.
	RateLimitDeniedTotal *prometheus.CounterVec

	// Circuit breaker state per component: 0 closed, 1 half-open, 2 open.
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions per component.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of upstream provider calls",
		},
		[]string{"provider", "status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "Upstream provider latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "status"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of retry attempts for weather API calls",
		},
	)
	WeatherAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiErrorsTotal",
			Help: "Upstream provider errors by category",
		},
		[]string{"provider", "category"},
	)
	CacheOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheOperationsTotal",
			Help: "Cache operations by operation and result",
		},
		[]string{"operation", "result"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache operation latency in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		},
		[]string{"operation"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache errors by operation and category",
		},
		[]string{"operation", "category"},
	)
	CacheReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheReconnectsTotal",
			Help: "Cache reconnect attempts by result",
		},
		[]string{"result"},
	)
	CacheInvalidationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheInvalidationFailuresTotal",
			Help: "Cache invalidations that failed after a store write, by write operation",
		},
		[]string{"operation"},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Forecast warming passes started",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Forecast warming passes with at least one failure",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Forecast warming pass duration in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30},
		},
	)
	ForecastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastsTotal",
			Help: "Forecast requests by outcome (fresh, refreshed, error)",
		},
		[]string{"outcome"},
	)
	ForecastStampedeDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forecastStampedeDetectedTotal",
			Help: "Upstream refreshes started while another refresh for the same location was running",
		},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "requestCoalescingHitsTotal",
			Help: "Forecast refreshes served by an in-flight request for the same location",
		},
	)
	StoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeErrorsTotal",
			Help: "Store failures by operation",
		},
		[]string{"operation"},
	)
	RateLimitDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by a rate limiter (429)",
		},
		[]string{"limiter"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIRetriesTotal, WeatherAPIErrorsTotal,
		CacheOperationsTotal, CacheOperationDurationSeconds, CacheErrorsTotal, CacheReconnectsTotal,
		CacheInvalidationFailuresTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		ForecastsTotal, ForecastStampedeDetectedTotal, RequestCoalescingHitsTotal,
		StoreErrorsTotal,
		RateLimitDeniedTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
	)
}

// RecordCircuitBreakerTransition updates the state gauge and transition counter.
// state is 0 closed, 1 half-open, 2 open.
func RecordCircuitBreakerTransition(component, from, to string, state float64) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(state)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
