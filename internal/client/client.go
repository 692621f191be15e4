// Package client fetches current conditions from the OpenWeather API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/weather-location-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-location-service/internal/models"
	"github.com/kjstillabower/weather-location-service/internal/observability"
)

const providerLabel = "weather"

// WeatherClient returns current conditions for a coordinate pair.
type WeatherClient interface {
	GetCurrentConditions(ctx context.Context, lat, lon float64) (models.CurrentConditions, error)
}

var (
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrRateLimited      = errors.New("rate limited")
	ErrUpstreamRejected = errors.New("upstream rejected request")
)

type OpenWeatherClient struct {
	apiKey         string
	apiURL         string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker
}

func NewOpenWeatherClient(apiKey, apiURL string, timeout time.Duration) (*OpenWeatherClient, error) {
	return NewOpenWeatherClientWithRetry(apiKey, apiURL, timeout, 3, 100*time.Millisecond, 2*time.Second)
}

func NewOpenWeatherClientWithRetry(apiKey, apiURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*OpenWeatherClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if retryAttempts <= 0 {
		retryAttempts = 1
	}

	return &OpenWeatherClient{
		apiKey:         apiKey,
		apiURL:         apiURL,
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker guards every attempt with cb. Nil disables the breaker.
func (c *OpenWeatherClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// errorResponse is the provider's error body, e.g. {"cod":401,"message":"Invalid API key."}.
type errorResponse struct {
	Message string `json:"message"`
}

// GetCurrentConditions fetches current conditions in metric units, retrying
// rate-limit, 5xx and timeout failures with exponential backoff.
func (c *OpenWeatherClient) GetCurrentConditions(ctx context.Context, lat, lon float64) (models.CurrentConditions, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return models.CurrentConditions{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := c.guardedCall(ctx, lat, lon)
		if err == nil {
			return result, nil
		}

		lastErr = err
		observability.WeatherAPIErrorsTotal.WithLabelValues(providerLabel, string(CategorizeError(err))).Inc()
		if !IsRetryable(err) {
			return models.CurrentConditions{}, err
		}
	}

	return models.CurrentConditions{}, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *OpenWeatherClient) guardedCall(ctx context.Context, lat, lon float64) (models.CurrentConditions, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, lat, lon)
	}
	var result models.CurrentConditions
	err := c.breaker.Call(ctx, func() error {
		var callErr error
		result, callErr = c.callAPI(ctx, lat, lon)
		return callErr
	})
	return result, err
}

func (c *OpenWeatherClient) callAPI(ctx context.Context, lat, lon float64) (models.CurrentConditions, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, lat, lon)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(providerLabel, "error").Inc()
		return models.CurrentConditions{}, fmt.Errorf("build request: %w", err)
	}

	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues(providerLabel, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(providerLabel, "error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.CurrentConditions{}, fmt.Errorf("request timeout: %w", err)
		}
		return models.CurrentConditions{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := StatusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(providerLabel, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(providerLabel, status).Observe(duration)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.CurrentConditions{}, fmt.Errorf("read response body: %w", err)
	}

	if err := HandleErrorResponse(resp.StatusCode, body); err != nil {
		return models.CurrentConditions{}, err
	}

	var conditions models.CurrentConditions
	if err := json.Unmarshal(body, &conditions); err != nil {
		return models.CurrentConditions{}, fmt.Errorf("parse response: %w", err)
	}
	return conditions, nil
}

// IsRetryable reports whether err is worth another attempt: rate limiting,
// provider 5xx and timeouts. It also decides what counts against the circuit breaker.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}

	if errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, ErrUpstreamFailure) {
		return true
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "context deadline exceeded") {
		return true
	}

	return false
}

func (c *OpenWeatherClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, lat, lon float64) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

// HandleErrorResponse turns a non-2xx provider reply into a *models.UpstreamError
// carrying the provider's message. The wrapped sentinel classifies the failure.
func HandleErrorResponse(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var sentinel error
	switch {
	case statusCode == http.StatusUnauthorized:
		sentinel = ErrInvalidAPIKey
	case statusCode == http.StatusNotFound:
		sentinel = ErrLocationNotFound
	case statusCode == http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	case statusCode >= 400 && statusCode < 500:
		sentinel = ErrUpstreamRejected
	default:
		sentinel = ErrUpstreamFailure
	}

	var er errorResponse
	_ = json.Unmarshal(body, &er)
	return &models.UpstreamError{StatusCode: statusCode, Message: er.Message, Err: sentinel}
}

// StatusLabel maps an HTTP status to a low-cardinality metric label.
func StatusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey issues one request and fails on 401. Call once at startup.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, 51.5074, -0.1278)
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}

	return nil
}
