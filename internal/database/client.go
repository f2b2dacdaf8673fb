// Package database reads recorded OwnTracks trails from PostgreSQL so that a
// real walk can be replayed as the device location.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/stuartshay/treasurio/internal/location"
)

// Client wraps a PostgreSQL database connection
type Client struct {
	db *sql.DB
}

// Point is one OwnTracks location record
type Point struct {
	ID        int64
	DeviceID  string
	Latitude  float64
	Longitude float64
	Accuracy  int
	Timestamp time.Time
}

// Sample converts the record into a location sample
func (p Point) Sample() location.Sample {
	return location.Sample{
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Accuracy:  float64(p.Accuracy),
		Timestamp: p.Timestamp,
	}
}

// NewClient creates a new database client with connection pooling
func NewClient(dsn string) (*Client, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Replay reads are few and sequential
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (also failed to close: %w)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db}, nil
}

// NewClientWithDB wraps an already opened connection
func NewClientWithDB(db *sql.DB) *Client {
	return &Client{db: db}
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// GetTrail returns the points a device recorded on date (YYYY-MM-DD),
// oldest first. Rows without a device timestamp fall back to created_at.
func (c *Client) GetTrail(ctx context.Context, date string, deviceID string) ([]Point, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}

	query := `
		SELECT
			id, device_id, latitude, longitude, accuracy,
			EXTRACT(EPOCH FROM timestamp)::bigint AS timestamp, created_at
		FROM public.locations
		WHERE DATE(created_at) = $1
	`

	args := []interface{}{date}

	if deviceID != "" {
		query += " AND device_id = $2"
		args = append(args, deviceID)
	}

	query += " ORDER BY created_at ASC"

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }() // nolint:errcheck // Close in defer, error not actionable

	var points []Point
	for rows.Next() {
		var p Point
		var accuracy, timestamp sql.NullInt64
		var createdAt time.Time

		err := rows.Scan(
			&p.ID,
			&p.DeviceID,
			&p.Latitude,
			&p.Longitude,
			&accuracy,
			&timestamp,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}

		if accuracy.Valid {
			p.Accuracy = int(accuracy.Int64)
		}
		if timestamp.Valid && timestamp.Int64 > 0 {
			p.Timestamp = time.Unix(timestamp.Int64, 0).UTC()
		} else {
			p.Timestamp = createdAt.UTC()
		}

		points = append(points, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return points, nil
}

// LoadTrail returns the device's trail on date as location samples
func (c *Client) LoadTrail(ctx context.Context, date string, deviceID string) ([]location.Sample, error) {
	points, err := c.GetTrail(ctx, date, deviceID)
	if err != nil {
		return nil, err
	}

	samples := make([]location.Sample, 0, len(points))
	for _, p := range points {
		samples = append(samples, p.Sample())
	}
	return samples, nil
}

// GetDevices returns a list of unique device IDs from the database
func (c *Client) GetDevices(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT device_id
		FROM public.locations
		WHERE device_id IS NOT NULL
		ORDER BY device_id
	`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }() // nolint:errcheck // Close in defer, error not actionable

	var devices []string
	for rows.Next() {
		var deviceID string
		if err := rows.Scan(&deviceID); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		devices = append(devices, deviceID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return devices, nil
}

// ResolveDevice returns deviceID when set, else the first recorded device,
// so a replay never mixes the trails of several devices
func (c *Client) ResolveDevice(ctx context.Context, deviceID string) (string, error) {
	if deviceID != "" {
		return deviceID, nil
	}

	devices, err := c.GetDevices(ctx)
	if err != nil {
		return "", err
	}
	if len(devices) == 0 {
		return "", fmt.Errorf("no devices recorded")
	}

	log.Info().
		Str("device_id", devices[0]).
		Strs("devices", devices).
		Msg("No replay device configured, using the first recorded device")
	return devices[0], nil
}
