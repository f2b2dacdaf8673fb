// Package grpc serves the standard gRPC health protocol for the agent. The
// race tracking service reports SERVING while the team is racing with
// location tracking on, so orchestration can tell a live agent from one
// that has finished or lost its location feed.
package grpc

import (
	"context"
	"net"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/stuartshay/treasurio/internal/race"
)

// RaceService is the health service name reporting race tracking
const RaceService = "treasurio.RaceTracker"

// Snapshots is the stream of race states the health status follows
type Snapshots interface {
	Subscribe() (<-chan race.Snapshot, func())
}

// Server is the agent's gRPC server
type Server struct {
	grpc   *grpc.Server
	health *health.Server

	mu     sync.Mutex
	status grpc_health_v1.HealthCheckResponse_ServingStatus
}

// NewServer creates a gRPC server with health and reflection registered
func NewServer() *Server {
	s := &Server{
		grpc:   grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler())),
		health: health.NewServer(),
		status: grpc_health_v1.HealthCheckResponse_NOT_SERVING,
	}

	grpc_health_v1.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(RaceService, s.status)

	// Enable server reflection for debugging
	reflection.Register(s.grpc)

	return s
}

// StatusFor maps a race snapshot to the tracking service status
func StatusFor(snap race.Snapshot) grpc_health_v1.HealthCheckResponse_ServingStatus {
	switch snap.State {
	case race.StateInProgress, race.StatePendingConfirmation, race.StateAdvancing:
		if snap.Tracking {
			return grpc_health_v1.HealthCheckResponse_SERVING
		}
	}
	return grpc_health_v1.HealthCheckResponse_NOT_SERVING
}

// Follow updates the tracking service status from src until ctx is done or
// the stream ends
func (s *Server) Follow(ctx context.Context, src Snapshots) {
	snaps, cancel := src.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				s.setStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
				return
			}
			s.setStatus(StatusFor(snap))
		}
	}
}

func (s *Server) setStatus(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == status {
		return
	}
	s.status = status
	s.health.SetServingStatus(RaceService, status)
	log.Info().Str("service", RaceService).Str("status", status.String()).Msg("Health status changed")
}

// Status returns the current tracking service status
func (s *Server) Status() grpc_health_v1.HealthCheckResponse_ServingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Serve accepts connections on lis until the server stops
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Shutdown marks every service NOT_SERVING and stops gracefully, forcing
// the stop once ctx is done
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		log.Warn().Msg("Shutdown timeout exceeded, forcing stop")
		s.grpc.Stop()
	case <-stopped:
		log.Info().Msg("gRPC server stopped")
	}
}
