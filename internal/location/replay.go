package location

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stuartshay/treasurio/internal/calculator"
)

// ErrEmptyTrail is returned when a replay is built from no samples
var ErrEmptyTrail = errors.New("trail has no samples")

// ReplayOptions configures a Replay provider
type ReplayOptions struct {
	// Speed multiplies the pace of the recorded trail; values <= 0 mean 1.
	Speed float64
	// Foreground and Background are the answers to permission requests;
	// empty means granted.
	Foreground PermissionStatus
	Background PermissionStatus
	// Now overrides the wall clock, mainly for tests.
	Now func() time.Time
}

// Replay is a Provider that plays back a recorded trail as if the device
// were moving along it. Trail time starts when the Replay is created;
// emitted samples are re-stamped onto that start so that their spacing
// matches the recording.
type Replay struct {
	trail      []Sample
	speed      float64
	foreground PermissionStatus
	background PermissionStatus
	now        func() time.Time
	started    time.Time
}

// NewReplay builds a Replay over trail, sorted by timestamp
func NewReplay(trail []Sample, opts ReplayOptions) (*Replay, error) {
	if len(trail) == 0 {
		return nil, ErrEmptyTrail
	}

	sorted := make([]Sample, len(trail))
	copy(sorted, trail)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	r := &Replay{
		trail:      sorted,
		speed:      opts.Speed,
		foreground: opts.Foreground,
		background: opts.Background,
		now:        opts.Now,
	}
	if r.speed <= 0 {
		r.speed = 1
	}
	if r.foreground == "" {
		r.foreground = PermissionGranted
	}
	if r.background == "" {
		r.background = PermissionGranted
	}
	if r.now == nil {
		r.now = time.Now
	}
	r.started = r.now()

	return r, nil
}

// RequestForegroundPermission returns the configured foreground answer
func (r *Replay) RequestForegroundPermission(_ context.Context) (PermissionStatus, error) {
	return r.foreground, nil
}

// RequestBackgroundPermission returns the configured background answer
func (r *Replay) RequestBackgroundPermission(_ context.Context) (PermissionStatus, error) {
	return r.background, nil
}

// CurrentPosition returns the trail position at the current replay time
func (r *Replay) CurrentPosition(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	return r.restamp(r.trail[r.indexAt(r.elapsed())]), nil
}

// Watch streams trail samples from the current replay time onwards, paced
// by the recording and filtered by opts
func (r *Replay) Watch(ctx context.Context, opts WatchOptions) (<-chan Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(chan Batch)
	start := r.indexAt(r.elapsed())

	go func() {
		defer close(out)

		var last *Sample
		for i := start; i < len(r.trail); i++ {
			sample := r.trail[i]

			if wait := r.untilTrailOffset(sample.Timestamp.Sub(r.trail[0].Timestamp)); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}

			if last != nil && !passes(*last, sample, opts) {
				continue
			}
			s := sample
			last = &s

			select {
			case <-ctx.Done():
				return
			case out <- Batch{Samples: []Sample{r.restamp(sample)}}:
			}
		}

		log.Debug().Int("samples", len(r.trail)).Msg("Replay trail exhausted")
		<-ctx.Done()
	}()

	return out, nil
}

// passes applies the watch interval filters between two trail samples
func passes(prev, next Sample, opts WatchOptions) bool {
	if next.Timestamp.Sub(prev.Timestamp) < opts.TimeInterval {
		return false
	}
	if opts.DistanceInterval > 0 {
		d := calculator.DistanceMeters(prev.Latitude, prev.Longitude, next.Latitude, next.Longitude)
		if d < opts.DistanceInterval {
			return false
		}
	}
	return true
}

// elapsed returns the trail time covered since the replay started
func (r *Replay) elapsed() time.Duration {
	return time.Duration(float64(r.now().Sub(r.started)) * r.speed)
}

// untilTrailOffset returns the wall time left before trail offset is reached
func (r *Replay) untilTrailOffset(offset time.Duration) time.Duration {
	remaining := offset - r.elapsed()
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining) / r.speed)
}

// indexAt returns the last sample recorded at or before trail offset
func (r *Replay) indexAt(offset time.Duration) int {
	origin := r.trail[0].Timestamp
	i := sort.Search(len(r.trail), func(i int) bool {
		return r.trail[i].Timestamp.Sub(origin) > offset
	})
	if i == 0 {
		return 0
	}
	return i - 1
}

func (r *Replay) restamp(s Sample) Sample {
	s.Timestamp = r.started.Add(s.Timestamp.Sub(r.trail[0].Timestamp))
	return s
}

var _ Provider = (*Replay)(nil)
