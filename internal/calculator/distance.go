// Package calculator provides GPS distance calculations using the Haversine formula
// to compute great-circle distances between geographic coordinates.
package calculator

import (
	"math"
)

const (
	// EarthRadiusKM is the Earth's radius in kilometers
	EarthRadiusKM = 6371.0

	// EarthRadiusM is the Earth's radius in meters
	EarthRadiusM = EarthRadiusKM * 1000
)

// Location represents a GPS coordinate
type Location struct {
	Latitude  float64
	Longitude float64
}

// DistanceMeters returns the great-circle distance in meters between two
// points given in decimal degrees. NaN inputs yield NaN.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	return Haversine(lat1, lon1, lat2, lon2) * 1000
}

// Haversine calculates the great-circle distance between two points
// on the Earth's surface given their latitudes and longitudes in decimal degrees
//
// Formula:
// a = sin²(Δφ/2) + cos φ1 ⋅ cos φ2 ⋅ sin²(Δλ/2)
// c = 2 ⋅ atan2( √a, √(1−a) )
// d = R ⋅ c
//
// where:
// φ is latitude, λ is longitude, R is earth's radius (6371 km)
// Δφ is the difference in latitude, Δλ is the difference in longitude
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := degreesToRadians(lat1)
	lat2Rad := degreesToRadians(lat2)

	deltaLat := degreesToRadians(lat2 - lat1)
	deltaLon := degreesToRadians(lon2 - lon1)

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	// Distance in kilometers
	return EarthRadiusKM * c
}

// Destination returns the point reached by travelling distanceM meters from
// (lat, lon) along the initial bearing bearingDeg (0 = north, 90 = east) on
// the same sphere Haversine uses.
func Destination(lat, lon, bearingDeg, distanceM float64) (float64, float64) {
	latRad := degreesToRadians(lat)
	lonRad := degreesToRadians(lon)
	bearing := degreesToRadians(bearingDeg)
	angular := distanceM / EarthRadiusM

	destLat := math.Asin(math.Sin(latRad)*math.Cos(angular) +
		math.Cos(latRad)*math.Sin(angular)*math.Cos(bearing))
	destLon := lonRad + math.Atan2(
		math.Sin(bearing)*math.Sin(angular)*math.Cos(latRad),
		math.Cos(angular)-math.Sin(latRad)*math.Sin(destLat),
	)

	// Normalize longitude to [-180, 180)
	destLon = math.Mod(destLon+3*math.Pi, 2*math.Pi) - math.Pi

	return radiansToDegrees(destLat), radiansToDegrees(destLon)
}

// degreesToRadians converts degrees to radians
func degreesToRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

func radiansToDegrees(radians float64) float64 {
	return radians * 180 / math.Pi
}

// DistanceMetrics holds distance statistics of a trail relative to a target,
// all in meters.
type DistanceMetrics struct {
	MaxDistanceM   float64
	MinDistanceM   float64
	AvgDistanceM   float64
	TotalLocations int
	// ClosestIndex is the index of the location nearest to the target, -1
	// when there are no locations.
	ClosestIndex int
}

// CalculateMetrics computes how close a set of locations gets to a target
// coordinate.
func CalculateMetrics(targetLat, targetLon float64, locations []Location) DistanceMetrics {
	if len(locations) == 0 {
		return DistanceMetrics{ClosestIndex: -1}
	}

	metrics := DistanceMetrics{
		TotalLocations: len(locations),
		MinDistanceM:   math.MaxFloat64,
		ClosestIndex:   -1,
	}

	var totalDistance float64

	for i, loc := range locations {
		distance := DistanceMeters(targetLat, targetLon, loc.Latitude, loc.Longitude)
		totalDistance += distance

		if distance > metrics.MaxDistanceM {
			metrics.MaxDistanceM = distance
		}
		if distance < metrics.MinDistanceM {
			metrics.MinDistanceM = distance
			metrics.ClosestIndex = i
		}
	}

	metrics.AvgDistanceM = totalDistance / float64(len(locations))

	// All distances were NaN
	if metrics.MinDistanceM == math.MaxFloat64 {
		metrics.MinDistanceM = 0
	}

	return metrics
}
