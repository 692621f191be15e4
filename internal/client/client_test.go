package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/weather-location-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-location-service/internal/models"
	"github.com/kjstillabower/weather-location-service/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const conditionsBody = `{
	"weather": [{"main": "Clouds", "description": "scattered clouds"}],
	"main": {"temp": 15.5, "feels_like": 14.2, "pressure": 1012, "humidity": 65},
	"wind": {"speed": 3.2},
	"name": "Seattle"
}`

func newTestClient(t *testing.T, url string, attempts int) *OpenWeatherClient {
	t.Helper()
	c, err := NewOpenWeatherClientWithRetry("test-api-key-12345", url, 2*time.Second, attempts, time.Millisecond, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("NewOpenWeatherClientWithRetry() error = %v", err)
	}
	return c
}

func TestNewOpenWeatherClient_InvalidAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		wantErr error
	}{
		{"empty API key", "", ErrInvalidAPIKey},
		{"too short API key", "short", ErrInvalidAPIKey},
		{"valid API key", "valid-api-key-12345", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewOpenWeatherClient(tt.apiKey, "https://api.test.com", 2*time.Second)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("NewOpenWeatherClient() error = %v, want %v", err, tt.wantErr)
				}
				if client != nil {
					t.Errorf("NewOpenWeatherClient() expected nil client on error")
				}
				return
			}
			if err != nil || client == nil {
				t.Fatalf("NewOpenWeatherClient() = %v, %v", client, err)
			}
		})
	}
}

func TestOpenWeatherClient_GetCurrentConditions_Success(t *testing.T) {
	var gotQuery map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"lat": q.Get("lat"), "lon": q.Get("lon"), "units": q.Get("units"), "appid": q.Get("appid"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(conditionsBody))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 1)
	got, err := c.GetCurrentConditions(context.Background(), 47.6062, -122.3321)
	if err != nil {
		t.Fatalf("GetCurrentConditions() error = %v", err)
	}

	wantQuery := map[string]string{"lat": "47.6062", "lon": "-122.3321", "units": "metric", "appid": "test-api-key-12345"}
	for k, v := range wantQuery {
		if gotQuery[k] != v {
			t.Errorf("query %s = %q, want %q", k, gotQuery[k], v)
		}
	}
	if len(got.Weather) != 1 || got.Weather[0].Main != "Clouds" || got.Weather[0].Description != "scattered clouds" {
		t.Errorf("Weather = %+v", got.Weather)
	}
	if got.Main.Temp == nil || *got.Main.Temp != 15.5 {
		t.Errorf("Main.Temp = %v, want 15.5", got.Main.Temp)
	}
	if got.Main.Pressure == nil || *got.Main.Pressure != 1012 {
		t.Errorf("Main.Pressure = %v, want 1012", got.Main.Pressure)
	}
	if got.Wind.Speed == nil || *got.Wind.Speed != 3.2 {
		t.Errorf("Wind.Speed = %v, want 3.2", got.Wind.Speed)
	}
}

func TestOpenWeatherClient_GetCurrentConditions_MissingFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"weather": [], "main": {"temp": 3}}`))
	}))
	defer server.Close()

	got, err := newTestClient(t, server.URL, 1).GetCurrentConditions(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("GetCurrentConditions() error = %v", err)
	}
	if got.Main.Humidity != nil || got.Main.FeelsLike != nil || got.Wind.Speed != nil {
		t.Errorf("absent fields should be nil, got %+v", got)
	}
}

func TestOpenWeatherClient_GetCurrentConditions_ErrorHandling(t *testing.T) {
	tests := []struct {
		name        string
		statusCode  int
		body        string
		wantErr     error
		wantMessage string
	}{
		{"401 invalid key", http.StatusUnauthorized, `{"cod":401,"message":"Invalid API key."}`, ErrInvalidAPIKey, "Invalid API key."},
		{"404 not found", http.StatusNotFound, `{"cod":"404","message":"city not found"}`, ErrLocationNotFound, "city not found"},
		{"400 bad request", http.StatusBadRequest, `{"cod":"400","message":"wrong latitude"}`, ErrUpstreamRejected, "wrong latitude"},
		{"500 no body", http.StatusInternalServerError, ``, ErrUpstreamFailure, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(t, server.URL, 1).GetCurrentConditions(context.Background(), 1, 2)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("GetCurrentConditions() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, models.ErrUpstream) {
				t.Errorf("error should match models.ErrUpstream, got %v", err)
			}
			var upErr *models.UpstreamError
			if !errors.As(err, &upErr) {
				t.Fatalf("error should be *models.UpstreamError, got %T", err)
			}
			if upErr.StatusCode != tt.statusCode {
				t.Errorf("StatusCode = %d, want %d", upErr.StatusCode, tt.statusCode)
			}
			if upErr.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", upErr.Message, tt.wantMessage)
			}
		})
	}
}

func TestOpenWeatherClient_GetCurrentConditions_RetryLogic(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(conditionsBody))
	}))
	defer server.Close()

	before := testutil.ToFloat64(observability.WeatherAPIRetriesTotal)
	_, err := newTestClient(t, server.URL, 3).GetCurrentConditions(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("GetCurrentConditions() error = %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
	if got := testutil.ToFloat64(observability.WeatherAPIRetriesTotal) - before; got != 2 {
		t.Errorf("retries recorded = %v, want 2", got)
	}
}

func TestOpenWeatherClient_GetCurrentConditions_NoRetryOnNonRetryableError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, 3).GetCurrentConditions(context.Background(), 1, 2)
	if !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("GetCurrentConditions() error = %v, want ErrInvalidAPIKey", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestOpenWeatherClient_GetCurrentConditions_ExhaustedRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, 2).GetCurrentConditions(context.Background(), 1, 2)
	if err == nil || !strings.Contains(err.Error(), "exhausted retries") {
		t.Fatalf("GetCurrentConditions() error = %v, want exhausted retries", err)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("error should wrap ErrRateLimited, got %v", err)
	}
}

func TestOpenWeatherClient_GetCurrentConditions_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c, err := NewOpenWeatherClientWithRetry("test-api-key-12345", server.URL, 2*time.Second, 3, time.Second, time.Second)
	if err != nil {
		t.Fatalf("NewOpenWeatherClientWithRetry() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = c.GetCurrentConditions(ctx, 1, 2)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("GetCurrentConditions() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestOpenWeatherClient_GetCurrentConditions_CorrelationID(t *testing.T) {
	var captured string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Header.Get("X-Correlation-ID")
		_, _ = w.Write([]byte(conditionsBody))
	}))
	defer server.Close()

	ctx := context.WithValue(context.Background(), observability.CorrelationIDKey, "test-correlation-id-123")
	if _, err := newTestClient(t, server.URL, 1).GetCurrentConditions(ctx, 1, 2); err != nil {
		t.Fatalf("GetCurrentConditions() error = %v", err)
	}
	if captured != "test-correlation-id-123" {
		t.Errorf("X-Correlation-ID header = %q, want %q", captured, "test-correlation-id-123")
	}
}

func TestOpenWeatherClient_GetCurrentConditions_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, 1).GetCurrentConditions(context.Background(), 1, 2)
	if err == nil || !strings.Contains(err.Error(), "parse response") {
		t.Errorf("GetCurrentConditions() error = %v, want parse error", err)
	}
}

func TestOpenWeatherClient_GetCurrentConditions_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(conditionsBody))
	}))
	defer server.Close()

	c, err := NewOpenWeatherClientWithRetry("test-api-key-12345", server.URL, 20*time.Millisecond, 1, time.Millisecond, time.Millisecond)
	if err != nil {
		t.Fatalf("NewOpenWeatherClientWithRetry() error = %v", err)
	}
	_, err = c.GetCurrentConditions(context.Background(), 1, 2)
	if err == nil {
		t.Fatal("GetCurrentConditions() expected timeout error, got nil")
	}
	if !IsRetryable(err) {
		t.Errorf("timeout error should be retryable: %v", err)
	}
}

func TestOpenWeatherClient_GetCurrentConditions_InvalidURL(t *testing.T) {
	_, err := newTestClient(t, "://bad url", 1).GetCurrentConditions(context.Background(), 1, 2)
	if err == nil || !strings.Contains(err.Error(), "build request") {
		t.Errorf("GetCurrentConditions() error = %v, want build request error", err)
	}
}

func TestOpenWeatherClient_CircuitBreaker(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 1)
	c.SetCircuitBreaker(circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 2,
		Timeout:          time.Minute,
		Component:        "weather_api",
		IsFailure:        IsRetryable,
	}))

	for i := 0; i < 2; i++ {
		if _, err := c.GetCurrentConditions(context.Background(), 1, 2); !errors.Is(err, ErrUpstreamFailure) {
			t.Fatalf("call %d error = %v, want ErrUpstreamFailure", i, err)
		}
	}
	_, err := c.GetCurrentConditions(context.Background(), 1, 2)
	if !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Fatalf("third call error = %v, want circuitbreaker.ErrOpen", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("upstream calls = %d, want 2", got)
	}
}

func TestOpenWeatherClient_CircuitBreaker_IgnoresClientErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	cb := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, Component: "weather_api", IsFailure: IsRetryable})
	c := newTestClient(t, server.URL, 1)
	c.SetCircuitBreaker(cb)

	for i := 0; i < 3; i++ {
		_, _ = c.GetCurrentConditions(context.Background(), 1, 2)
	}
	if cb.State() != circuitbreaker.StateClosed {
		t.Errorf("State() = %v, want closed", cb.State())
	}
}

func TestOpenWeatherClient_calculateBackoff(t *testing.T) {
	c := &OpenWeatherClient{retryBaseDelay: 100 * time.Millisecond, retryMaxDelay: time.Second}
	tests := []struct {
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{1, 100 * time.Millisecond, 110 * time.Millisecond},
		{2, 200 * time.Millisecond, 220 * time.Millisecond},
		{3, 400 * time.Millisecond, 440 * time.Millisecond},
		{10, time.Second, 1100 * time.Millisecond},
	}
	for _, tt := range tests {
		got := c.calculateBackoff(tt.attempt)
		if got < tt.min || got > tt.max {
			t.Errorf("calculateBackoff(%d) = %v, want between %v and %v", tt.attempt, got, tt.min, tt.max)
		}
	}
}

func TestOpenWeatherClient_ValidateAPIKey(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantErr    error
		wantAnyErr bool
	}{
		{"valid", http.StatusOK, nil, false},
		{"unauthorized", http.StatusUnauthorized, ErrInvalidAPIKey, true},
		{"server error", http.StatusInternalServerError, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			err := newTestClient(t, server.URL, 1).ValidateAPIKey(context.Background())
			if (err != nil) != tt.wantAnyErr {
				t.Fatalf("ValidateAPIKey() error = %v, wantErr %v", err, tt.wantAnyErr)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateAPIKey() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestHandleErrorResponse(t *testing.T) {
	if err := HandleErrorResponse(http.StatusOK, nil); err != nil {
		t.Errorf("HandleErrorResponse(200) = %v, want nil", err)
	}
	for _, code := range []int{502, 503, 504} {
		err := HandleErrorResponse(code, []byte(`{"message":"bad gateway"}`))
		if !errors.Is(err, ErrUpstreamFailure) {
			t.Errorf("HandleErrorResponse(%d) = %v, want ErrUpstreamFailure", code, err)
		}
		if !IsRetryable(err) {
			t.Errorf("HandleErrorResponse(%d) should be retryable", code)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", ErrRateLimited, true},
		{"upstream", &models.UpstreamError{StatusCode: 503, Err: ErrUpstreamFailure}, true},
		{"timeout text", errors.New("request timeout: boom"), true},
		{"deadline text", errors.New("context deadline exceeded"), true},
		{"invalid key", ErrInvalidAPIKey, false},
		{"rejected", &models.UpstreamError{StatusCode: 400, Err: ErrUpstreamRejected}, false},
		{"circuit open", circuitbreaker.ErrOpen, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestStatusLabel(t *testing.T) {
	tests := map[int]string{200: "success", 204: "success", 429: "rate_limited", 404: "client_error", 503: "server_error", 100: "error"}
	for code, want := range tests {
		if got := StatusLabel(code); got != want {
			t.Errorf("StatusLabel(%d) = %q, want %q", code, got, want)
		}
	}
}
