//go:build integration
// +build integration

package client

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"testing"
	"time"
)

func isValidAPIKeyFormat(key string) error {
	if len(key) != 32 {
		return fmt.Errorf("API key length is %d, expected 32", len(key))
	}

	hexPattern := regexp.MustCompile(`^[0-9a-fA-F]+$`)
	if !hexPattern.MatchString(key) {
		return fmt.Errorf("API key contains non-hexadecimal characters")
	}

	return nil
}

func integrationClient(t *testing.T) *OpenWeatherClient {
	t.Helper()
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}
	if err := isValidAPIKeyFormat(apiKey); err != nil {
		t.Fatalf("API key format validation failed: %v", err)
	}
	c, err := NewOpenWeatherClient(apiKey, "https://api.openweathermap.org/data/2.5/weather", 5*time.Second)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	return c
}

func TestOpenWeatherClient_ValidateAPIKey_Integration(t *testing.T) {
	c := integrationClient(t)
	if err := c.ValidateAPIKey(context.Background()); err != nil {
		t.Errorf("ValidateAPIKey() error = %v, want nil (API key may not be activated yet)", err)
	}
}

func TestOpenWeatherClient_GetCurrentConditions_Integration(t *testing.T) {
	c := integrationClient(t)

	conditions, err := c.GetCurrentConditions(context.Background(), 51.5074, -0.1278)
	if err != nil {
		t.Fatalf("GetCurrentConditions() error = %v (API key may not be activated yet)", err)
	}
	if conditions.Main.Temp == nil {
		t.Error("GetCurrentConditions() returned no temperature")
	}
	if len(conditions.Weather) == 0 {
		t.Error("GetCurrentConditions() returned no weather description")
	}
}
