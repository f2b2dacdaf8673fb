// Package location defines device location samples and the provider
// contract the tracker and the geofence checker read positions through.
package location

import (
	"context"
	"time"
)

// Sample is one device position fix.
type Sample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Batch is what a watch subscription delivers: one or more samples, or an
// error from the provider.
type Batch struct {
	Samples []Sample
	Err     error
}

// PermissionStatus is the outcome of a permission request.
type PermissionStatus string

const (
	PermissionGranted      PermissionStatus = "granted"
	PermissionDenied       PermissionStatus = "denied"
	PermissionUndetermined PermissionStatus = "undetermined"
)

// Granted reports whether the status allows location access.
func (s PermissionStatus) Granted() bool {
	return s == PermissionGranted
}

// Accuracy is the requested fix accuracy of a watch subscription.
type Accuracy int

const (
	AccuracyLowest Accuracy = iota + 1
	AccuracyLow
	AccuracyBalanced
	AccuracyHigh
	AccuracyHighest
)

// WatchOptions configures a watch subscription. A sample is delivered only
// after at least TimeInterval has elapsed and DistanceInterval meters have
// been covered since the previous delivered sample.
type WatchOptions struct {
	Accuracy         Accuracy
	TimeInterval     time.Duration
	DistanceInterval float64
}

// Provider is the device location service.
type Provider interface {
	RequestForegroundPermission(ctx context.Context) (PermissionStatus, error)
	RequestBackgroundPermission(ctx context.Context) (PermissionStatus, error)
	// CurrentPosition returns a fresh one-shot fix
	CurrentPosition(ctx context.Context) (Sample, error)
	// Watch starts a standing subscription. The channel is closed once ctx
	// is done.
	Watch(ctx context.Context, opts WatchOptions) (<-chan Batch, error)
}
