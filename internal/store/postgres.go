package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjstillabower/weather-location-service/internal/models"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

const (
	locationColumns    = `location_id, city, latitude, longitude, state, country, created, updated`
	observationColumns = `weather_id, location_id, current_weather, description, temperature, feels_like_temperature,
		air_pressure, humidity, windspeed, created, updated`
)

// PoolConfig sizes the connection pool. Zero values fall back to 10 min / 100 max connections.
type PoolConfig struct {
	MinConns        int32
	MaxConns        int32
	MaxConnIdleTime time.Duration
}

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and verifies the connection with a ping.
func NewPostgres(ctx context.Context, dsn string, pc PoolConfig) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	cfg.MinConns = pc.MinConns
	if cfg.MinConns <= 0 {
		cfg.MinConns = 10
	}
	cfg.MaxConns = pc.MaxConns
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 100
	}
	if cfg.MinConns > cfg.MaxConns {
		cfg.MinConns = cfg.MaxConns
	}
	if pc.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = pc.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("%w: migrate: %v", models.ErrStore, err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) ListLocations(ctx context.Context, q models.LocationQuery) ([]models.Location, error) {
	query := `SELECT ` + locationColumns + ` FROM location`
	var args []any
	switch {
	case q.ID != "":
		query += ` WHERE location_id = $1`
		args = append(args, q.ID)
	case q.City != "":
		query += ` WHERE city = $1`
		args = append(args, q.City)
	}
	query += ` ORDER BY created`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list locations", err)
	}
	defer rows.Close()

	locations := []models.Location{}
	for rows.Next() {
		var l models.Location
		if err := rows.Scan(&l.LocationID, &l.City, &l.Latitude, &l.Longitude, &l.State, &l.Country, &l.Created, &l.Updated); err != nil {
			return nil, wrapErr("scan location", err)
		}
		locations = append(locations, l)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list locations", err)
	}
	return locations, nil
}

func (s *PostgresStore) InsertLocation(ctx context.Context, l models.Location) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO location (`+locationColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.LocationID, l.City, l.Latitude, l.Longitude, l.State, l.Country, l.Created, l.Updated,
	)
	if err != nil {
		return wrapErr("insert location", err)
	}
	return nil
}

func (s *PostgresStore) UpdateLocation(ctx context.Context, l models.Location) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE location SET city = $2, latitude = $3, longitude = $4, state = $5, country = $6, updated = $7
		 WHERE location_id = $1`,
		l.LocationID, l.City, l.Latitude, l.Longitude, l.State, l.Country, l.Updated,
	)
	if err != nil {
		return wrapErr("update location", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update location %s: %w", l.LocationID, models.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteLocation(ctx context.Context, locationID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM location WHERE location_id = $1`, locationID)
	if err != nil {
		return wrapErr("delete location", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete location %s: %w", locationID, models.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) LatestObservationSince(ctx context.Context, locationID string, since time.Time) (models.WeatherObservation, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+observationColumns+` FROM weather
		 WHERE location_id = $1 AND created >= $2
		 ORDER BY created DESC
		 LIMIT 1`,
		locationID, since,
	)
	o, err := scanObservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WeatherObservation{}, false, nil
	}
	if err != nil {
		return models.WeatherObservation{}, false, wrapErr("latest observation", err)
	}
	return o, true, nil
}

func (s *PostgresStore) InsertObservation(ctx context.Context, o models.WeatherObservation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO weather (`+observationColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		o.WeatherID, o.LocationID, o.CurrentWeather, o.Description, o.Temperature, o.FeelsLikeTemperature,
		o.AirPressure, o.Humidity, o.Windspeed, o.Created, o.Updated,
	)
	if err != nil {
		return wrapErr("insert observation", err)
	}
	return nil
}

func (s *PostgresStore) ObservationsSince(ctx context.Context, locationID string, since time.Time) ([]models.WeatherObservation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+observationColumns+` FROM weather
		 WHERE location_id = $1 AND created >= $2
		 ORDER BY created`,
		locationID, since,
	)
	if err != nil {
		return nil, wrapErr("list observations", err)
	}
	defer rows.Close()

	var out []models.WeatherObservation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, wrapErr("scan observation", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list observations", err)
	}
	return out, nil
}

func scanObservation(row pgx.Row) (models.WeatherObservation, error) {
	var o models.WeatherObservation
	err := row.Scan(
		&o.WeatherID, &o.LocationID, &o.CurrentWeather, &o.Description, &o.Temperature, &o.FeelsLikeTemperature,
		&o.AirPressure, &o.Humidity, &o.Windspeed, &o.Created, &o.Updated,
	)
	return o, err
}

// wrapErr classifies a driver error. Unique violations become ErrConflict.
func wrapErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w: %s", op, models.ErrConflict, pgErr.ConstraintName)
	}
	return fmt.Errorf("%s: %w: %v", op, models.ErrStore, err)
}
