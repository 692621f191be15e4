// Package geocoding resolves a city name to coordinates using the OpenWeather
// direct geocoding API.
package geocoding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/kjstillabower/weather-location-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-location-service/internal/client"
	"github.com/kjstillabower/weather-location-service/internal/models"
	"github.com/kjstillabower/weather-location-service/internal/observability"
)

const providerLabel = "geocoding"

// Geocoder returns the matches for a city name, best match first.
type Geocoder interface {
	Geocode(ctx context.Context, city string) ([]models.GeoResult, error)
}

type Client struct {
	http    *resty.Client
	url     string
	apiKey  string
	limit   int
	breaker *circuitbreaker.CircuitBreaker
}

// New builds a client for the geocoding endpoint at url, e.g.
// "https://api.openweathermap.org/geo/1.0/direct".
func New(url, apiKey string, timeout time.Duration) *Client {
	return &Client{
		http:   resty.New().SetTimeout(timeout).SetHeader("Accept", "application/json"),
		url:    url,
		apiKey: apiKey,
		limit:  1,
	}
}

func (c *Client) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// Geocode looks up city. A non-2xx reply yields a *models.UpstreamError with the
// provider's message; an empty result list yields models.ErrNotFound.
func (c *Client) Geocode(ctx context.Context, city string) ([]models.GeoResult, error) {
	var results []models.GeoResult
	call := func() error {
		var err error
		results, err = c.lookup(ctx, city)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(ctx, call)
	} else {
		err = call()
	}
	if err != nil {
		observability.WeatherAPIErrorsTotal.WithLabelValues(providerLabel, string(client.CategorizeError(err))).Inc()
		return nil, err
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("geocode %q: %w", city, models.ErrNotFound)
	}
	return results, nil
}

func (c *Client) lookup(ctx context.Context, city string) ([]models.GeoResult, error) {
	start := time.Now()

	req := c.http.R().SetContext(ctx).SetQueryParams(map[string]string{
		"q":     city,
		"limit": fmt.Sprint(c.limit),
		"appid": c.apiKey,
	})
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.SetHeader("X-Correlation-ID", corrID)
	}

	response, err := req.Get(c.url)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(providerLabel, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(providerLabel, "error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("geocoding request failed: %w", err)
	}

	status := client.StatusLabel(response.StatusCode())
	observability.WeatherAPICallsTotal.WithLabelValues(providerLabel, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(providerLabel, status).Observe(time.Since(start).Seconds())

	if response.StatusCode() != http.StatusOK {
		if err := client.HandleErrorResponse(response.StatusCode(), response.Body()); err != nil {
			return nil, err
		}
		return nil, &models.UpstreamError{StatusCode: response.StatusCode(), Err: client.ErrUpstreamFailure}
	}

	var results []models.GeoResult
	if err := json.Unmarshal(response.Body(), &results); err != nil {
		return nil, fmt.Errorf("parse geocoding response: %w", err)
	}
	return results, nil
}
