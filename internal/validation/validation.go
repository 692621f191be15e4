// Package validation checks and normalises request input before it reaches the service layer.
package validation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/biter777/countries"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kjstillabower/weather-location-service/internal/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("country", func(fl validator.FieldLevel) bool {
		return countries.ByName(fl.Field().String()) != countries.Unknown
	})
	return v
}

// LocationRequest is the body of POST and PUT /locations.
type LocationRequest struct {
	City      string   `json:"city" validate:"required,max=100"`
	Latitude  *float64 `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	State     *string  `json:"state" validate:"omitempty,max=100"`
	Country   *string  `json:"country" validate:"omitempty,country"`
}

// Location validates req and returns it as a Location with city, state and country
// case-folded. Country accepts an ISO-3166 alpha-2 or alpha-3 code or an English name.
func Location(req LocationRequest) (models.Location, error) {
	req.City = fold(req.City)
	req.State = foldOptional(req.State)
	req.Country = foldOptional(req.Country)

	if err := validate.Struct(req); err != nil {
		return models.Location{}, formatValidationError(err)
	}
	return models.Location{
		City:      req.City,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		State:     req.State,
		Country:   req.Country,
	}, nil
}

// City case-folds a city query parameter. Empty stays empty.
func City(s string) string {
	return fold(s)
}

// LocationID rejects ids that are not UUIDs.
func LocationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: location_id must be a UUID", models.ErrValidation)
	}
	return nil
}

// HistoryDays parses the days query parameter. It must be 7, 15 or 30.
func HistoryDays(s string) (int, error) {
	days, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || (days != 7 && days != 15 && days != 30) {
		return 0, fmt.Errorf("%w: history of last 7, 15 and 30 days can be accessed", models.ErrValidation)
	}
	return days, nil
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func foldOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := fold(*s)
	if v == "" {
		return nil
	}
	return &v
}

func formatValidationError(err error) error {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	msgs := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		msgs = append(msgs, formatFieldError(e))
	}
	return fmt.Errorf("%w: %s", models.ErrValidation, strings.Join(msgs, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := strings.ToLower(e.Field())
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, e.Param())
	case "gte", "lte":
		return fmt.Sprintf("wrong %s", field)
	case "country":
		return "wrong country"
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
