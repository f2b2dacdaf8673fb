// Package tracker runs the background location reporter. A single actor
// goroutine owns the active team, the throttle high-water mark and the
// provider subscription; public methods are messages to it. Accepted samples
// are handed to a report queue so that a slow backend never stalls the
// subscription.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stuartshay/treasurio/internal/api"
	apperrors "github.com/stuartshay/treasurio/internal/errors"
	"github.com/stuartshay/treasurio/internal/location"
	"github.com/stuartshay/treasurio/internal/queue"
)

// DefaultWindow is the minimum spacing between two accepted samples
const DefaultWindow = 30 * time.Second

// ErrClosed is returned by calls made after Close
var ErrClosed = errors.New("tracker is closed")

// Reporter pushes a team position to the backend
type Reporter interface {
	SetTeamLocation(ctx context.Context, latitude, longitude float64, teamID int) (*api.LocationResult, error)
}

// StopReason tells why tracking stopped
type StopReason string

const (
	StopRequested    StopReason = "requested"
	StopRaceFinished StopReason = "race_finished"
	StopStreamClosed StopReason = "stream_closed"
)

// Config holds tracker settings
type Config struct {
	// Window is the throttle window between accepted samples
	Window time.Duration
	// TimeInterval and DistanceInterval are passed to the provider watch
	TimeInterval     time.Duration
	DistanceInterval float64
	Workers          int
	QueueSize        int
	// ReportTimeout bounds a single location push
	ReportTimeout time.Duration
	// OnStopped, when set, is called from the actor after tracking stops.
	// It must not wait on the tracker.
	OnStopped func(teamID int, reason StopReason)
}

// Status is a point-in-time view of the tracker
type Status struct {
	Running      bool           `json:"running"`
	TeamID       int            `json:"teamId"`
	LastAccepted time.Time      `json:"lastAccepted"`
	Reports      map[string]int `json:"reports"`
}

// Tracker reports the device position for the active team at most once per
// window
type Tracker struct {
	provider location.Provider
	reporter Reporter
	cfg      Config
	reports  *queue.Queue

	requests  chan func(*state)
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// state is owned by the actor goroutine
type state struct {
	teamID       int
	lastAccepted time.Time
	running      bool
	cancel       context.CancelFunc
	updates      <-chan location.Batch
}

// New creates a tracker and starts its actor. Tracking itself starts with
// Start.
func New(provider location.Provider, reporter Reporter, cfg Config) *Tracker {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = 30 * time.Second
	}

	t := &Tracker{
		provider: provider,
		reporter: reporter,
		cfg:      cfg,
		requests: make(chan func(*state)),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	t.reports = queue.NewQueue(cfg.Workers, cfg.QueueSize, t.report)

	go t.run()

	return t
}

func (t *Tracker) run() {
	defer close(t.done)

	st := &state{}
	for {
		select {
		case <-t.quit:
			if st.running {
				t.stop(st, StopRequested)
			}
			return
		case fn := <-t.requests:
			fn(st)
		case batch, ok := <-st.updates:
			if !ok {
				st.updates = nil
				if st.running {
					t.stop(st, StopStreamClosed)
				}
				continue
			}
			t.handle(st, batch)
		}
	}
}

// do runs fn on the actor and waits for it to finish
func (t *Tracker) do(fn func(*state)) error {
	finished := make(chan struct{})
	select {
	case t.requests <- func(s *state) { fn(s); close(finished) }:
	case <-t.done:
		return ErrClosed
	}
	<-finished
	return nil
}

// handle applies the throttle to a delivered batch. Only the first sample of
// a batch is considered.
func (t *Tracker) handle(st *state, batch location.Batch) {
	if batch.Err != nil {
		log.Warn().Err(batch.Err).Msg("Location update error")
		return
	}
	if len(batch.Samples) == 0 {
		return
	}

	sample := batch.Samples[0]
	if !sample.Timestamp.After(st.lastAccepted.Add(t.cfg.Window)) {
		log.Debug().
			Time("timestamp", sample.Timestamp).
			Time("last_accepted", st.lastAccepted).
			Msg("Location sample inside throttle window, dropping")
		return
	}
	if st.teamID == 0 {
		log.Debug().Msg("No active team, dropping location sample")
		return
	}

	st.lastAccepted = sample.Timestamp
	if _, err := t.reports.Enqueue(st.teamID, sample); err != nil {
		log.Warn().Err(err).Int("team_id", st.teamID).Msg("Failed to queue location report")
	}
}

func (t *Tracker) stop(st *state, reason StopReason) {
	if st.cancel != nil {
		st.cancel()
	}
	st.cancel = nil
	st.updates = nil
	st.running = false

	log.Info().Int("team_id", st.teamID).Str("reason", string(reason)).Msg("Location tracking stopped")

	if t.cfg.OnStopped != nil {
		t.cfg.OnStopped(st.teamID, reason)
	}
}

// report is the queue processor: it pushes one sample and stops tracking when
// the backend says the team's race is over
func (t *Tracker) report(ctx context.Context, job *queue.Job) (*queue.JobResult, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ReportTimeout)
	defer cancel()

	res, err := t.reporter.SetTeamLocation(ctx, job.Sample.Latitude, job.Sample.Longitude, job.TeamID)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Int("team_id", job.TeamID).
		Float64("latitude", job.Sample.Latitude).
		Float64("longitude", job.Sample.Longitude).
		Str("status", res.Status).
		Msg("Location reported")

	if res.RaceFinished {
		teamID := job.TeamID
		_ = t.do(func(s *state) {
			if s.running && s.teamID == teamID {
				t.stop(s, StopRaceFinished)
			}
		})
	}

	return &queue.JobResult{
		Status:       res.Status,
		Message:      res.Message,
		RaceFinished: res.RaceFinished,
	}, nil
}

// RequestPermissions asks for foreground then background location access and
// reports whether both were granted. Background access is not requested when
// foreground access is denied.
func (t *Tracker) RequestPermissions(ctx context.Context) (bool, error) {
	fg, err := t.provider.RequestForegroundPermission(ctx)
	if err != nil {
		return false, err
	}
	if !fg.Granted() {
		log.Info().Str("status", string(fg)).Msg("Foreground location permission not granted")
		return false, nil
	}

	bg, err := t.provider.RequestBackgroundPermission(ctx)
	if err != nil {
		return false, err
	}
	if !bg.Granted() {
		log.Info().Str("status", string(bg)).Msg("Background location permission not granted")
		return false, nil
	}

	return true, nil
}

// Start subscribes to location updates. It does nothing when tracking is
// already running and fails with a permission error when background access
// is denied.
func (t *Tracker) Start(ctx context.Context) error {
	if t.Running() {
		return nil
	}

	bg, err := t.provider.RequestBackgroundPermission(ctx)
	if err != nil {
		return fmt.Errorf("failed to request background permission: %w", err)
	}
	if !bg.Granted() {
		return apperrors.Permission("background location permission denied")
	}

	var startErr error
	if err := t.do(func(s *state) {
		if s.running {
			return
		}

		watchCtx, cancel := context.WithCancel(context.Background())
		updates, err := t.provider.Watch(watchCtx, location.WatchOptions{
			Accuracy:         location.AccuracyBalanced,
			TimeInterval:     t.cfg.TimeInterval,
			DistanceInterval: t.cfg.DistanceInterval,
		})
		if err != nil {
			cancel()
			startErr = fmt.Errorf("failed to watch location: %w", err)
			return
		}

		s.cancel = cancel
		s.updates = updates
		s.running = true
		log.Info().Int("team_id", s.teamID).Msg("Location tracking started")
	}); err != nil {
		return err
	}

	return startErr
}

// Stop cancels the subscription. Stopping a tracker that is not running is a
// no-op.
func (t *Tracker) Stop(_ context.Context) error {
	err := t.do(func(s *state) {
		if s.running {
			t.stop(s, StopRequested)
		}
	})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// SetActiveTeam associates subsequent reports with teamID; 0 clears it
func (t *Tracker) SetActiveTeam(teamID int) error {
	return t.do(func(s *state) {
		s.teamID = teamID
	})
}

// Running reports whether the subscription is active
func (t *Tracker) Running() bool {
	var running bool
	_ = t.do(func(s *state) { running = s.running })
	return running
}

// Status returns the tracker state and report statistics
func (t *Tracker) Status() Status {
	var st Status
	_ = t.do(func(s *state) {
		st.Running = s.running
		st.TeamID = s.teamID
		st.LastAccepted = s.lastAccepted
	})
	st.Reports = t.reports.GetStats()
	return st
}

// Reports lists the most recent location reports, newest first
func (t *Tracker) Reports(limit int) []*queue.Job {
	return t.reports.ListJobs("", limit, 0)
}

// Close stops tracking, the actor and the report workers
func (t *Tracker) Close(timeout time.Duration) error {
	t.closeOnce.Do(func() { close(t.quit) })
	<-t.done

	return t.reports.Shutdown(timeout)
}
