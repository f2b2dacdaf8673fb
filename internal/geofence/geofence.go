// Package geofence verifies that the device is close enough to an objective.
package geofence

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/stuartshay/treasurio/internal/calculator"
	"github.com/stuartshay/treasurio/internal/location"
)

// DefaultRadiusM is the proximity threshold around an objective, in meters
const DefaultRadiusM = 50.0

// Result is the outcome of a proximity check. Permitted is false when
// location access was denied; in that case no position was read.
type Result struct {
	Permitted      bool            `json:"permitted"`
	WithinRange    bool            `json:"withinRange"`
	DistanceMeters float64         `json:"distanceMeters"`
	Position       location.Sample `json:"position"`
}

// Checker compares a fresh device fix against a target
type Checker struct {
	provider location.Provider
	radius   float64
}

// NewChecker creates a checker; radius <= 0 selects DefaultRadiusM
func NewChecker(provider location.Provider, radius float64) *Checker {
	if radius <= 0 {
		radius = DefaultRadiusM
	}
	return &Checker{provider: provider, radius: radius}
}

// Radius returns the proximity threshold in meters
func (c *Checker) Radius() float64 {
	return c.radius
}

// Check requests foreground permission, reads the current position and
// reports whether it lies strictly inside the radius of the target. Position
// errors are returned as-is; retrying is up to the caller.
func (c *Checker) Check(ctx context.Context, targetLat, targetLon float64) (Result, error) {
	status, err := c.provider.RequestForegroundPermission(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to request location permission: %w", err)
	}
	if !status.Granted() {
		log.Info().Str("status", string(status)).Msg("Location permission denied, skipping position read")
		return Result{}, nil
	}

	pos, err := c.provider.CurrentPosition(ctx)
	if err != nil {
		return Result{Permitted: true}, fmt.Errorf("failed to read current position: %w", err)
	}

	distance := calculator.DistanceMeters(pos.Latitude, pos.Longitude, targetLat, targetLon)

	log.Debug().
		Float64("distance_m", distance).
		Float64("radius_m", c.radius).
		Msg("Geofence check")

	return Result{
		Permitted:      true,
		WithinRange:    distance < c.radius,
		DistanceMeters: distance,
		Position:       pos,
	}, nil
}
