package models

import "time"

// Location is a tracked place. City is stored case-folded and is unique across locations.
// Coordinates and the administrative fields are nullable until resolved by geocoding.
type Location struct {
	LocationID string    `json:"location_id"`
	City       string    `json:"city"`
	Latitude   *float64  `json:"latitude"`
	Longitude  *float64  `json:"longitude"`
	State      *string   `json:"state"`
	Country    *string   `json:"country"`
	Created    time.Time `json:"created"`
	Updated    time.Time `json:"updated"`
}

// HasCoordinates reports whether both latitude and longitude are set.
func (l Location) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// LocationQuery filters a location lookup. ID takes precedence over City;
// an empty query matches every location.
type LocationQuery struct {
	ID   string
	City string
}
