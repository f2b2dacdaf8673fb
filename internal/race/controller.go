// Package race drives the progress of the signed-in user's team through a
// race: it derives the current objective from server data, runs geofence
// checks, and performs the two-phase confirm-then-advance protocol. The
// objective index is always taken from the server after an advance, never
// incremented locally, so teammates advancing concurrently converge on the
// server's answer.
package race

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stuartshay/treasurio/internal/api"
	apperrors "github.com/stuartshay/treasurio/internal/errors"
	"github.com/stuartshay/treasurio/internal/geofence"
	"github.com/stuartshay/treasurio/internal/team"
)

// DefaultNoticeTTL is how long a transient notice stays visible
const DefaultNoticeTTL = 5 * time.Second

const backgroundRefreshTimeout = 30 * time.Second

// Data is the cached race data the controller reads
type Data interface {
	Teams(ctx context.Context, raceID int) ([]team.Team, error)
	Objectives(ctx context.Context, raceID int) ([]api.Objective, error)
	InvalidateTeams(raceID int)
	InvalidateObjectives(raceID int)
}

// Backend is the subset of the backend the controller mutates through
type Backend interface {
	AdvanceObjective(ctx context.Context, teamID, raceID, objectiveOrder int, objectiveTitle string) (*api.AdvanceResult, error)
	TeamFinishedRace(ctx context.Context, teamID int) error
}

// Checker verifies proximity to a target
type Checker interface {
	Check(ctx context.Context, targetLat, targetLon float64) (geofence.Result, error)
}

// Tracker is the background location reporter
type Tracker interface {
	RequestPermissions(ctx context.Context) (bool, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SetActiveTeam(teamID int) error
}

// Config identifies the race and the user playing it
type Config struct {
	RaceID    int
	UserEmail string
	NoticeTTL time.Duration
}

// Controller is the race progress state machine
type Controller struct {
	cfg     Config
	data    Data
	backend Backend
	checker Checker
	tracker Tracker
	tracer  trace.Tracer

	mu          sync.Mutex
	state       State
	team        team.Team
	hasTeam     bool
	objectives  []api.Objective
	objective   api.Objective
	notice      Notice
	noticeSeq   uint64
	noticeTimer *time.Timer
	lastErr     string
	lastCheck   *geofence.Result
	tracking    bool
	finished    bool
	updatedAt   time.Time
	subscribers map[int]chan Snapshot
	nextSub     int
	closed      bool

	// loadSeq numbers reloads as they start; settledSeq is the newest one
	// that has landed. Older results are dropped.
	loadSeq    uint64
	settledSeq uint64

	background sync.WaitGroup
}

// NewController creates a controller in the loading state
func NewController(cfg Config, data Data, backend Backend, checker Checker, tracker Tracker) *Controller {
	if cfg.NoticeTTL <= 0 {
		cfg.NoticeTTL = DefaultNoticeTTL
	}

	return &Controller{
		cfg:         cfg,
		data:        data,
		backend:     backend,
		checker:     checker,
		tracker:     tracker,
		tracer:      otel.Tracer("github.com/stuartshay/treasurio/internal/race"),
		state:       StateLoading,
		updatedAt:   time.Now().UTC(),
		subscribers: make(map[int]chan Snapshot),
	}
}

// Load fetches objectives and teams and derives the current state. A failed
// fetch leaves the state unchanged with a retryable error message.
func (c *Controller) Load(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "race.Load", trace.WithAttributes(
		attribute.Int("race.id", c.cfg.RaceID),
	))
	defer span.End()

	err := c.reload(ctx, false)
	recordError(span, err)
	return err
}

// Refresh drops cached race data and loads it again. A pending confirmation
// is discarded; refreshing while an advance is in flight is refused.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateAdvancing:
		c.mu.Unlock()
		return apperrors.Conflictf("cannot refresh while advancing")
	case StatePendingConfirmation:
		c.state = StateInProgress
		c.publishLocked()
	}
	c.mu.Unlock()

	c.data.InvalidateTeams(c.cfg.RaceID)
	c.data.InvalidateObjectives(c.cfg.RaceID)

	return c.Load(ctx)
}

func (c *Controller) reload(ctx context.Context, fromAdvance bool) error {
	c.mu.Lock()
	c.loadSeq++
	seq := c.loadSeq
	c.mu.Unlock()

	objectives, err := c.data.Objectives(ctx, c.cfg.RaceID)
	if err != nil {
		return c.loadFailed(seq, fromAdvance, fmt.Errorf("failed to fetch objectives: %w", err))
	}

	teams, err := c.data.Teams(ctx, c.cfg.RaceID)
	if err != nil {
		return c.loadFailed(seq, fromAdvance, fmt.Errorf("failed to fetch teams: %w", err))
	}

	return c.apply(ctx, seq, objectives, teams, fromAdvance)
}

// settleLocked reports whether the reload numbered seq is still the newest
// to land, and records it as such
func (c *Controller) settleLocked(seq uint64) bool {
	if seq < c.settledSeq {
		log.Debug().Uint64("reload", seq).Uint64("settled", c.settledSeq).Msg("Dropping stale race data")
		return false
	}
	c.settledSeq = seq
	return true
}

func (c *Controller) loadFailed(seq uint64, fromAdvance bool, err error) error {
	log.Warn().Err(err).Int("race_id", c.cfg.RaceID).Msg("Race data fetch failed")

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.settleLocked(seq) {
		return err
	}
	c.lastErr = apperrors.Message(err)
	if fromAdvance && c.state == StateAdvancing {
		c.state = StateLoading
	}
	c.publishLocked()

	return err
}

// apply installs fresh server data and runs the side effects of the
// resulting transition outside the lock
func (c *Controller) apply(ctx context.Context, seq uint64, objectives []api.Objective, teams []team.Team, fromAdvance bool) error {
	own, ok := team.FindByMember(teams, c.cfg.UserEmail)

	c.mu.Lock()
	if !c.settleLocked(seq) {
		c.mu.Unlock()
		return nil
	}
	c.objectives = objectives
	if !ok {
		c.hasTeam = false
		if c.state != StateVictory {
			c.state = StateLoading
		}
		c.lastErr = "you are not in a team for this race"
		c.publishLocked()
		c.mu.Unlock()

		_ = c.tracker.SetActiveTeam(0)
		return apperrors.NotFoundf("user %s is not in a team of race %d", c.cfg.UserEmail, c.cfg.RaceID)
	}

	c.team, c.hasTeam = own, true
	c.lastErr = ""
	enteredVictory := c.deriveLocked(fromAdvance)
	state := c.state
	c.publishLocked()
	c.mu.Unlock()

	log.Debug().
		Int("team_id", own.ID).
		Int("objective_index", own.ObjectiveIndex).
		Int("objectives", len(objectives)).
		Str("state", string(state)).
		Msg("Race state derived")

	if err := c.tracker.SetActiveTeam(own.ID); err != nil {
		log.Warn().Err(err).Msg("Failed to set tracker team")
	}
	if enteredVictory {
		c.finish(ctx, own.ID)
	}

	return nil
}

// deriveLocked computes the state from the team's server index. It reports
// whether victory was entered for the first time.
func (c *Controller) deriveLocked(fromAdvance bool) bool {
	switch c.state {
	case StateVictory:
		return false
	case StateAdvancing:
		if !fromAdvance {
			return false
		}
	case StatePendingConfirmation:
		if c.team.ObjectiveIndex == c.objective.Order {
			return false
		}
	}

	index := c.team.ObjectiveIndex
	if index >= len(c.objectives) {
		c.state = StateVictory
		c.clearNoticeLocked()
		if c.finished {
			return false
		}
		c.finished = true
		return true
	}

	for _, o := range c.objectives {
		if o.Order == index {
			c.objective = o
			c.state = StateInProgress
			return false
		}
	}

	c.state = StateLoading
	c.lastErr = fmt.Sprintf("objective %d not found in race %d", index, c.cfg.RaceID)
	return false
}

// finish runs once on entering victory: tracking stops and the server is
// told the team finished. Failures are logged only.
func (c *Controller) finish(ctx context.Context, teamID int) {
	ctx = context.WithoutCancel(ctx)

	log.Info().Int("team_id", teamID).Int("race_id", c.cfg.RaceID).Msg("Team finished race")

	if err := c.tracker.Stop(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to stop tracker after victory")
	}

	c.mu.Lock()
	c.tracking = false
	c.publishLocked()
	c.mu.Unlock()

	if err := c.backend.TeamFinishedRace(ctx, teamID); err != nil {
		log.Warn().Err(err).Int("team_id", teamID).Msg("Failed to notify race finish")
	}
}

// CheckLocation runs a geofence check against the current objective. Inside
// the geofence the state moves to pending confirmation; otherwise a
// transient notice is shown and, when simply too far, team data is
// refreshed in the background in case a teammate advanced meanwhile.
func (c *Controller) CheckLocation(ctx context.Context) (geofence.Result, error) {
	c.mu.Lock()
	if c.state != StateInProgress {
		state := c.state
		c.mu.Unlock()
		return geofence.Result{}, apperrors.Conflictf("cannot check location while %s", state)
	}
	target := c.objective
	c.mu.Unlock()

	ctx, span := c.tracer.Start(ctx, "race.CheckLocation", trace.WithAttributes(
		attribute.Int("race.id", c.cfg.RaceID),
		attribute.Int("objective.order", target.Order),
	))
	defer span.End()

	res, err := c.checker.Check(ctx, target.Latitude, target.Longitude)
	if err != nil {
		recordError(span, err)
		c.mu.Lock()
		c.lastErr = fmt.Sprintf("failed to read location: %v", err)
		c.publishLocked()
		c.mu.Unlock()
		return res, err
	}

	span.SetAttributes(
		attribute.Bool("geofence.permitted", res.Permitted),
		attribute.Bool("geofence.within_range", res.WithinRange),
		attribute.Float64("geofence.distance_m", res.DistanceMeters),
	)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastCheck = &res
	if c.state != StateInProgress || c.objective.Order != target.Order {
		c.publishLocked()
		return res, nil
	}

	switch {
	case !res.Permitted:
		c.setNoticeLocked(NoticeLocationDisabled)
	case !res.WithinRange:
		c.setNoticeLocked(NoticeNotHere)
		c.refreshInBackgroundLocked()
	default:
		c.clearNoticeLocked()
		c.lastErr = ""
		c.state = StatePendingConfirmation
		log.Info().
			Int("team_id", c.team.ID).
			Int("objective_order", target.Order).
			Float64("distance_m", res.DistanceMeters).
			Msg("Objective reached, awaiting confirmation")
	}
	c.publishLocked()

	return res, nil
}

// Advance confirms the pending objective with the server. Success, including
// a teammate having advanced first, reloads teams and follows the server's
// index. A transport failure or a rejection returns to pending confirmation
// with the error message so the user can retry.
func (c *Controller) Advance(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StatePendingConfirmation {
		state := c.state
		c.mu.Unlock()
		return apperrors.Conflictf("cannot advance while %s", state)
	}
	c.state = StateAdvancing
	c.lastErr = ""
	teamID, objective := c.team.ID, c.objective
	c.publishLocked()
	c.mu.Unlock()

	ctx, span := c.tracer.Start(ctx, "race.Advance", trace.WithAttributes(
		attribute.Int("race.id", c.cfg.RaceID),
		attribute.Int("team.id", teamID),
		attribute.Int("objective.order", objective.Order),
	))
	defer span.End()

	res, err := c.backend.AdvanceObjective(ctx, teamID, c.cfg.RaceID, objective.Order, objective.Title)
	if err != nil {
		recordError(span, err)
		c.backToPending(apperrors.Message(err))
		return err
	}

	if res == nil || (!res.Check && !res.TeamHasAlreadyAdvanced) {
		var msg string
		if res != nil {
			msg = res.Error
		}
		rejected := apperrors.Rejected(msg)
		recordError(span, rejected)
		c.backToPending(rejected.Message)
		c.reconcile(ctx, rejected.Message)
		return rejected
	}

	span.SetAttributes(attribute.Bool("advance.already_advanced", res.TeamHasAlreadyAdvanced))
	log.Info().
		Int("team_id", teamID).
		Int("objective_order", objective.Order).
		Bool("already_advanced", res.TeamHasAlreadyAdvanced).
		Msg("Objective advanced")

	c.data.InvalidateTeams(c.cfg.RaceID)
	if err := c.reload(ctx, true); err != nil {
		recordError(span, err)
		return err
	}

	return nil
}

func (c *Controller) backToPending(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StatePendingConfirmation
	c.lastErr = msg
	c.publishLocked()
}

// reconcile refetches teams after a rejected advance. The pending
// confirmation survives unless the server shows the team already past the
// objective.
func (c *Controller) reconcile(ctx context.Context, msg string) {
	c.data.InvalidateTeams(c.cfg.RaceID)
	if err := c.reload(ctx, false); err != nil {
		log.Debug().Err(err).Msg("Reconcile after rejected advance failed")
	}

	c.mu.Lock()
	c.lastErr = msg
	c.publishLocked()
	c.mu.Unlock()
}

// refreshInBackgroundLocked reloads team data without blocking the caller
func (c *Controller) refreshInBackgroundLocked() {
	if c.closed {
		return
	}

	c.background.Add(1)
	go func() {
		defer c.background.Done()

		ctx, cancel := context.WithTimeout(context.Background(), backgroundRefreshTimeout)
		defer cancel()

		c.data.InvalidateTeams(c.cfg.RaceID)
		if err := c.reload(ctx, false); err != nil {
			log.Debug().Err(err).Msg("Background refresh failed")
		}
	}()
}

// RequestPermissions re-requests location access. A granted request clears
// the location-disabled notice.
func (c *Controller) RequestPermissions(ctx context.Context) (bool, error) {
	granted, err := c.tracker.RequestPermissions(ctx)
	if err != nil {
		return false, err
	}

	if granted {
		c.mu.Lock()
		if c.notice == NoticeLocationDisabled {
			c.clearNoticeLocked()
			c.publishLocked()
		}
		c.mu.Unlock()
	}

	return granted, nil
}

// StartTracking starts background location reporting for the team
func (c *Controller) StartTracking(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateVictory {
		c.mu.Unlock()
		return apperrors.Conflictf("race is finished")
	}
	c.mu.Unlock()

	if err := c.tracker.Start(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.tracking = true
	c.publishLocked()
	c.mu.Unlock()

	return nil
}

// StopTracking stops background location reporting
func (c *Controller) StopTracking(ctx context.Context) error {
	if err := c.tracker.Stop(ctx); err != nil {
		return err
	}
	c.TrackingStopped()
	return nil
}

// TrackingStopped records that the tracker stopped on its own
func (c *Controller) TrackingStopped() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.tracking {
		return
	}
	c.tracking = false
	c.publishLocked()
}

func (c *Controller) setNoticeLocked(n Notice) {
	c.notice = n
	c.noticeSeq++
	seq := c.noticeSeq

	if c.noticeTimer != nil {
		c.noticeTimer.Stop()
	}
	c.noticeTimer = time.AfterFunc(c.cfg.NoticeTTL, func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.noticeSeq != seq {
			return
		}
		c.notice = NoticeNone
		c.publishLocked()
	})
}

func (c *Controller) clearNoticeLocked() {
	c.notice = NoticeNone
	c.noticeSeq++
	if c.noticeTimer != nil {
		c.noticeTimer.Stop()
		c.noticeTimer = nil
	}
}

// Snapshot returns the current state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		RaceID:         c.cfg.RaceID,
		State:          c.state,
		ObjectiveCount: len(c.objectives),
		Notice:         c.notice,
		Error:          c.lastErr,
		Tracking:       c.tracking,
		UpdatedAt:      c.updatedAt,
	}
	if c.hasTeam {
		t := c.team
		s.Team = &t
	}
	switch c.state {
	case StateInProgress, StatePendingConfirmation, StateAdvancing:
		o := c.objective
		s.Objective = &o
	}
	if c.lastCheck != nil {
		r := *c.lastCheck
		s.LastCheck = &r
	}
	return s
}

// Subscribe returns a channel receiving the latest snapshot after every
// change, starting with the current one. Slow readers only see the most
// recent snapshot. The returned function cancels the subscription.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Snapshot, 1)
	if c.closed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = ch
	ch <- c.snapshotLocked()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(sub)
		}
	}
}

func (c *Controller) publishLocked() {
	c.updatedAt = time.Now().UTC()
	s := c.snapshotLocked()

	for _, ch := range c.subscribers {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
}

// Close cancels pending timers, ends subscriptions and waits for background
// refreshes
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	if c.noticeTimer != nil {
		c.noticeTimer.Stop()
	}
	for id, ch := range c.subscribers {
		delete(c.subscribers, id)
		close(ch)
	}
	c.mu.Unlock()

	c.background.Wait()
}

func recordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
