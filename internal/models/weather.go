package models

import "time"

// WeatherObservation is one persisted reading for a location. Rows are append-only.
type WeatherObservation struct {
	WeatherID            string    `json:"weather_id"`
	LocationID           string    `json:"location_id"`
	CurrentWeather       *string   `json:"current_weather"`
	Description          *string   `json:"description"`
	Temperature          *int      `json:"temperature"`
	FeelsLikeTemperature *int      `json:"feels_like_temperature"`
	AirPressure          *int      `json:"air_pressure"`
	Humidity             *int      `json:"humidity"`
	Windspeed            *float64  `json:"windspeed"`
	Created              time.Time `json:"created"`
	Updated              time.Time `json:"updated"`
}

// Forecast is the display form of an observation with units attached.
// Fields the provider did not report are null.
type Forecast struct {
	City                 string  `json:"city"`
	CurrentWeather       *string `json:"current_weather"`
	Description          *string `json:"description"`
	Temperature          *string `json:"temperature"`
	FeelsLikeTemperature *string `json:"feels_like_temperature"`
	AirPressure          *string `json:"air_pressure"`
	Humidity             *string `json:"humidity"`
	Windspeed            *string `json:"windspeed"`
}

// AttributeSummary holds the reduction of one metric over a history window.
// All fields are nil when the window had no values for the metric.
type AttributeSummary struct {
	Max     *float64 `json:"max"`
	Min     *float64 `json:"min"`
	Average *float64 `json:"average"`
}

// Summary reduces a history window per metric.
type Summary struct {
	Temperature AttributeSummary `json:"temperature"`
	AirPressure AttributeSummary `json:"air_pressure"`
	Humidity    AttributeSummary `json:"humidity"`
	Windspeed   AttributeSummary `json:"windspeed"`
}

// History is the observations for a location within a day window plus their summary.
// Empty is set when the window held no rows; Summary is nil in that case.
type History struct {
	LocationID   string               `json:"location_id"`
	Days         int                  `json:"days"`
	Observations []WeatherObservation `json:"history"`
	Summary      *Summary             `json:"summary"`
	Empty        bool                 `json:"-"`
}

// CurrentConditions is the provider's current-weather payload, reduced to the fields we keep.
type CurrentConditions struct {
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp      *float64 `json:"temp"`
		FeelsLike *float64 `json:"feels_like"`
		Pressure  *int     `json:"pressure"`
		Humidity  *int     `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed *float64 `json:"speed"`
	} `json:"wind"`
}

// GeoResult is a single geocoding match.
type GeoResult struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	State   string  `json:"state,omitempty"`
	Country string  `json:"country,omitempty"`
}
