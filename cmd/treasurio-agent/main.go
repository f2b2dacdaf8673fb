package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stuartshay/treasurio/internal/api"
	"github.com/stuartshay/treasurio/internal/calculator"
	"github.com/stuartshay/treasurio/internal/config"
	"github.com/stuartshay/treasurio/internal/database"
	"github.com/stuartshay/treasurio/internal/geofence"
	grpcserver "github.com/stuartshay/treasurio/internal/grpc"
	"github.com/stuartshay/treasurio/internal/httpapi"
	"github.com/stuartshay/treasurio/internal/location"
	"github.com/stuartshay/treasurio/internal/race"
	"github.com/stuartshay/treasurio/internal/racedata"
	"github.com/stuartshay/treasurio/internal/roster"
	"github.com/stuartshay/treasurio/internal/session"
	"github.com/stuartshay/treasurio/internal/tracing"
	"github.com/stuartshay/treasurio/internal/tracker"
)

var version = "dev"

func main() {
	// Initialize structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	log.Info().Msg("Starting treasurio agent")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setLogLevel(cfg.LogLevel)

	log.Info().
		Str("service_name", cfg.ServiceName).
		Str("environment", cfg.Environment).
		Str("http_port", cfg.HTTPPort).
		Str("grpc_port", cfg.GRPCPort).
		Str("replay_source", cfg.ReplaySource).
		Dur("report_window", cfg.ReportWindow).
		Float64("geofence_radius_m", cfg.GeofenceRadiusM).
		Msg("Configuration loaded")

	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("Agent failed")
	}

	if err := shutdownTracing(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown tracing")
	}

	log.Info().Msg("Agent shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	client := api.NewHTTPClient(cfg.APIBaseURL, cfg.APITimeout)
	log.Info().Str("api", client.BaseURL()).Dur("timeout", cfg.APITimeout).Msg("Backend client ready")

	trail, err := loadTrail(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to load replay trail: %w", err)
	}
	permission := location.PermissionStatus(cfg.ReplayPermission)
	provider, err := location.NewReplay(trail, location.ReplayOptions{
		Speed:      cfg.ReplaySpeed,
		Foreground: permission,
		Background: permission,
	})
	if err != nil {
		return fmt.Errorf("failed to build replay provider: %w", err)
	}
	log.Info().Int("samples", len(trail)).Float64("speed", cfg.ReplaySpeed).Msg("Replay provider ready")

	// OnStopped only fires after StartTracking, by which time ctrl is set
	var ctrl *race.Controller
	trk := tracker.New(provider, client, tracker.Config{
		Window:           cfg.ReportWindow,
		TimeInterval:     cfg.LocationTimeInterval,
		DistanceInterval: cfg.LocationDistanceInterval,
		Workers:          cfg.ReportWorkers,
		QueueSize:        cfg.ReportQueueSize,
		ReportTimeout:    cfg.APITimeout,
		OnStopped: func(teamID int, reason tracker.StopReason) {
			log.Info().Int("team_id", teamID).Str("reason", string(reason)).Msg("Tracking stopped")
			if ctrl != nil {
				go ctrl.TrackingStopped()
			}
		},
	})
	defer func() {
		if err := trk.Close(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown tracker")
		}
	}()

	store, err := session.OpenStore(cfg.SessionDBPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	sess := session.New(store, client, trk)
	stopOnSignOut(sess, stop)
	user, err := signIn(ctx, sess, cfg)
	if err != nil {
		return err
	}

	if err := onboard(ctx, sess, trk); err != nil {
		return err
	}

	repo := racedata.NewRepository(client, racedata.Config{
		TeamsTTL:      cfg.TeamsTTL,
		ObjectivesTTL: cfg.ObjectivesTTL,
	})
	members := roster.New(client, repo, sess)

	raceID, err := pickRace(ctx, members, cfg.RaceID)
	if err != nil {
		return err
	}

	ctrl = race.NewController(race.Config{
		RaceID:    raceID,
		UserEmail: user.Email,
		NoticeTTL: cfg.NoticeTTL,
	}, repo, client, geofence.NewChecker(provider, cfg.GeofenceRadiusM), trk)
	defer ctrl.Close()

	if err := ctrl.Load(ctx); err != nil {
		log.Warn().Err(err).Int("race_id", raceID).Msg("Initial race load failed, autopilot will retry")
	}

	if objectives, err := repo.Objectives(ctx, raceID); err == nil {
		for _, reach := range previewTrail(trail, objectives, cfg.GeofenceRadiusM) {
			log.Info().
				Int("order", reach.Order).
				Str("title", reach.Title).
				Float64("closest_m", reach.ClosestM).
				Bool("reachable", reach.Reachable).
				Msg("Objective reach along replay trail")
		}
	}

	if err := ctrl.StartTracking(ctx); err != nil {
		log.Warn().Err(err).Msg("Tracking not started")
	}

	handlers := &httpapi.Handlers{
		ServiceName:    cfg.ServiceName,
		Race:           ctrl,
		Tracking:       trk,
		Roster:         members,
		Account:        sess,
		RequestTimeout: cfg.APITimeout + 5*time.Second,
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           handlers.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := grpcserver.NewServer()
	listener, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to create TCP listener: %w", err)
	}

	go func() {
		log.Info().Str("port", cfg.GRPCPort).Msg("gRPC server listening")
		if err := grpcServer.Serve(listener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr()).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()
	go grpcServer.Follow(ctx, ctrl)
	go ctrl.Autopilot(ctx, cfg.AutoCheckInterval, cfg.AutoAdvance)

	<-ctx.Done()

	log.Info().Msg("Shutting down, gracefully stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := ctrl.StopTracking(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to stop tracking")
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown HTTP server")
	}
	grpcServer.Shutdown(shutdownCtx)

	return nil
}

// loadTrail reads the recorded trail the replay provider plays back
func loadTrail(ctx context.Context, cfg *config.Config) ([]location.Sample, error) {
	switch cfg.ReplaySource {
	case config.ReplayOwnTracks:
		date := cfg.ReplayDate
		if date == "" {
			date = time.Now().AddDate(0, 0, -1).Format("2006-01-02")
		}

		db, err := database.NewClient(cfg.DatabaseDSN())
		if err != nil {
			return nil, err
		}
		defer func() { _ = db.Close() }()

		device, err := db.ResolveDevice(ctx, cfg.ReplayDeviceID)
		if err != nil {
			return nil, fmt.Errorf("failed to pick replay device: %w", err)
		}

		log.Info().Str("date", date).Str("device_id", device).Msg("Loading OwnTracks trail")
		return db.LoadTrail(ctx, date, device)

	default:
		if cfg.ReplayGPXPath == "" {
			return nil, errors.New("REPLAY_GPX_PATH is required for gpx replay")
		}
		return location.LoadGPX(cfg.ReplayGPXPath)
	}
}

// signIn restores the previous session or signs in the configured user
func signIn(ctx context.Context, sess *session.Session, cfg *config.Config) (api.User, error) {
	found, err := sess.Restore(ctx)
	if err != nil {
		return api.User{}, fmt.Errorf("failed to restore session: %w", err)
	}

	if found {
		u, _ := sess.Current()
		if cfg.UserEmail == "" || u.Email == cfg.UserEmail {
			return u, nil
		}
	}

	if cfg.UserEmail == "" {
		return api.User{}, errors.New("no stored session and USER_EMAIL is not set")
	}

	return sess.SignIn(ctx, api.User{ID: cfg.UserID, Email: cfg.UserEmail, Name: cfg.UserName})
}

// stopOnSignOut ends the agent run once the user signs out; the tracker is
// already stopped by then
func stopOnSignOut(sess *session.Session, stop context.CancelFunc) {
	sess.OnSignOut(func() {
		log.Info().Msg("Signed out, stopping agent")
		stop()
	})
}

// permissionRequester asks for location access
type permissionRequester interface {
	RequestPermissions(ctx context.Context) (bool, error)
}

// onboard requests location access the first time the agent runs
func onboard(ctx context.Context, sess *session.Session, perms permissionRequester) error {
	done, err := sess.Onboarded(ctx)
	if err != nil || done {
		return err
	}

	granted, err := perms.RequestPermissions(ctx)
	if err != nil {
		return fmt.Errorf("failed to request location permissions: %w", err)
	}
	log.Info().Bool("granted", granted).Msg("Onboarding location permissions requested")

	return sess.MarkOnboarded(ctx)
}

// raceLister lists the user's races
type raceLister interface {
	Races(ctx context.Context) ([]api.RaceMembership, error)
	LaunchedRace(ctx context.Context, raceID int) (bool, error)
}

// pickRace returns raceID when set, else the first launched race the user
// has joined
func pickRace(ctx context.Context, races raceLister, raceID int) (int, error) {
	if raceID > 0 {
		launched, err := races.LaunchedRace(ctx, raceID)
		if err != nil {
			return 0, err
		}
		if !launched {
			log.Warn().Int("race_id", raceID).Msg("Race has not been launched yet")
		}
		return raceID, nil
	}

	joined, err := races.Races(ctx)
	if err != nil {
		return 0, err
	}
	for _, m := range joined {
		if m.Race.Launched {
			log.Info().Int("race_id", m.Race.ID).Str("race", m.Race.Name).Msg("Selected launched race")
			return m.Race.ID, nil
		}
	}
	return 0, errors.New("no launched race joined; set RACE_ID")
}

// objectiveReach summarizes how close a replay trail gets to an objective
type objectiveReach struct {
	Order     int
	Title     string
	ClosestM  float64
	Reachable bool
}

// previewTrail reports, per objective, whether the trail ever enters its
// geofence
func previewTrail(trail []location.Sample, objectives []api.Objective, radiusM float64) []objectiveReach {
	if radiusM <= 0 {
		radiusM = geofence.DefaultRadiusM
	}

	points := make([]calculator.Location, len(trail))
	for i, s := range trail {
		points[i] = calculator.Location{Latitude: s.Latitude, Longitude: s.Longitude}
	}

	reach := make([]objectiveReach, 0, len(objectives))
	for _, o := range objectives {
		m := calculator.CalculateMetrics(o.Latitude, o.Longitude, points)
		reach = append(reach, objectiveReach{
			Order:     o.Order,
			Title:     o.Title,
			ClosestM:  m.MinDistanceM,
			Reachable: m.TotalLocations > 0 && m.MinDistanceM < radiusM,
		})
	}
	return reach
}

// setLogLevel configures the global log level
func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Info().Str("level", level).Msg("Log level set")
}
