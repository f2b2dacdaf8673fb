package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stuartshay/treasurio/internal/api"
	"github.com/stuartshay/treasurio/internal/geofence"
	"github.com/stuartshay/treasurio/internal/queue"
	"github.com/stuartshay/treasurio/internal/race"
	"github.com/stuartshay/treasurio/internal/team"
	"github.com/stuartshay/treasurio/internal/tracker"
)

// Race is the race controller
type Race interface {
	Snapshot() race.Snapshot
	Subscribe() (<-chan race.Snapshot, func())
	Refresh(ctx context.Context) error
	CheckLocation(ctx context.Context) (geofence.Result, error)
	Advance(ctx context.Context) error
	RequestPermissions(ctx context.Context) (bool, error)
	StartTracking(ctx context.Context) error
	StopTracking(ctx context.Context) error
}

// Tracking exposes the background reporter state
type Tracking interface {
	Status() tracker.Status
	Reports(limit int) []*queue.Job
}

// Roster performs race and team membership actions
type Roster interface {
	Races(ctx context.Context) ([]api.RaceMembership, error)
	Teams(ctx context.Context, raceID int) ([]team.Team, error)
	JoinRace(ctx context.Context, code string) error
	QuitRace(ctx context.Context, raceID int) error
	CreateTeam(ctx context.Context, raceID int, name string) error
	EnterTeam(ctx context.Context, raceID, teamID int) error
	QuitTeam(ctx context.Context, raceID, teamID int) error
	DeleteTeam(ctx context.Context, raceID, teamID int) error
	InviteQR(ctx context.Context, raceID, size int) ([]byte, error)
}

// Account is the signed-in user's session
type Account interface {
	Current() (api.User, bool)
	Rename(ctx context.Context, name string) error
	SignOut(ctx context.Context) error
	DeleteAccount(ctx context.Context) error
}

// Handlers serves the local API. Roster and Account are optional; their
// routes are only mounted when set.
type Handlers struct {
	ServiceName string
	Race        Race
	Tracking    Tracking
	Roster      Roster
	Account     Account
	// RequestTimeout bounds every non-streaming request
	RequestTimeout time.Duration
}

// Router returns a configured chi router with all routes
func (h *Handlers) Router() chi.Router {
	timeout := h.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealthz)

	// Snapshot stream stays open, so it sits outside the timeout group
	r.Get("/v1/race/events", h.handleEvents)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))

		r.Get("/v1/race", h.handleGetRace)
		r.Post("/v1/race/refresh", h.handleRefresh)
		r.Post("/v1/race/check", h.handleCheck)
		r.Post("/v1/race/advance", h.handleAdvance)

		r.Post("/v1/location/permissions", h.handlePermissions)
		r.Get("/v1/tracking", h.handleTrackingStatus)
		r.Post("/v1/tracking/start", h.handleStartTracking)
		r.Post("/v1/tracking/stop", h.handleStopTracking)

		if h.Roster != nil {
			r.Get("/v1/races", h.handleListRaces)
			r.Post("/v1/races/join", h.handleJoinRace)
			r.Post("/v1/races/{raceID}/quit", h.handleQuitRace)
			r.Get("/v1/races/{raceID}/invite.png", h.handleInviteQR)
			r.Get("/v1/races/{raceID}/teams", h.handleListTeams)
			r.Post("/v1/races/{raceID}/teams", h.handleCreateTeam)
			r.Post("/v1/races/{raceID}/teams/{teamID}/enter", h.handleEnterTeam)
			r.Post("/v1/races/{raceID}/teams/{teamID}/quit", h.handleQuitTeam)
			r.Delete("/v1/races/{raceID}/teams/{teamID}", h.handleDeleteTeam)
		}

		if h.Account != nil {
			r.Get("/v1/me", h.handleMe)
			r.Put("/v1/me/name", h.handleRename)
			r.Post("/v1/me/signout", h.handleSignOut)
			r.Delete("/v1/me", h.handleDeleteAccount)
		}
	})

	return r
}

// requestLogger logs each request at debug level
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logRequest(r, ww.Status(), time.Since(start))
	})
}

func (h *Handlers) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respondOK(w, map[string]string{"status": "healthy", "service": h.ServiceName})
}
