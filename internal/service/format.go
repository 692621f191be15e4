package service

import (
	"strconv"

	"github.com/kjstillabower/weather-location-service/internal/models"
)

// Display units attached by FormatForecast.
const (
	UnitTemperature = "°C"
	UnitAirPressure = "hPa"
	UnitHumidity    = "%"
	UnitWindspeed   = "m/s"
)

// FormatForecast renders obs for display: "12°C", "1012 hPa", "80%", "3.5 m/s".
// Absent values stay nil.
func FormatForecast(city string, obs models.WeatherObservation) models.Forecast {
	return models.Forecast{
		City:                 city,
		CurrentWeather:       obs.CurrentWeather,
		Description:          obs.Description,
		Temperature:          formatInt(obs.Temperature, UnitTemperature),
		FeelsLikeTemperature: formatInt(obs.FeelsLikeTemperature, UnitTemperature),
		AirPressure:          formatInt(obs.AirPressure, " "+UnitAirPressure),
		Humidity:             formatInt(obs.Humidity, UnitHumidity),
		Windspeed:            formatFloat(obs.Windspeed, " "+UnitWindspeed),
	}
}

func formatInt(v *int, suffix string) *string {
	if v == nil {
		return nil
	}
	s := strconv.Itoa(*v) + suffix
	return &s
}

func formatFloat(v *float64, suffix string) *string {
	if v == nil {
		return nil
	}
	s := strconv.FormatFloat(*v, 'f', -1, 64) + suffix
	return &s
}
