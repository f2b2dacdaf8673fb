package race

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Autopilot drives the controller without user input: every interval it
// loads while loading, checks the location while in progress and, when
// autoAdvance is set, confirms a pending objective. It returns once ctx is
// done or the race is won.
func (c *Controller) Autopilot(ctx context.Context, interval time.Duration, autoAdvance bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		c.Step(ctx, autoAdvance)
		if c.Snapshot().Finished() {
			log.Info().Int("race_id", c.cfg.RaceID).Msg("Autopilot finished")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Step performs the single action the current state calls for. Errors are
// logged; the next step retries.
func (c *Controller) Step(ctx context.Context, autoAdvance bool) {
	switch c.Snapshot().State {
	case StateLoading:
		if err := c.Load(ctx); err != nil {
			log.Warn().Err(err).Msg("Autopilot load failed")
		}
	case StateInProgress:
		res, err := c.CheckLocation(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Autopilot location check failed")
			return
		}
		log.Info().
			Bool("permitted", res.Permitted).
			Bool("within_range", res.WithinRange).
			Float64("distance_m", res.DistanceMeters).
			Msg("Autopilot location check")
		if autoAdvance && c.Snapshot().State == StatePendingConfirmation {
			c.advance(ctx)
		}
	case StatePendingConfirmation:
		if autoAdvance {
			c.advance(ctx)
		}
	}
}

func (c *Controller) advance(ctx context.Context) {
	if err := c.Advance(ctx); err != nil {
		log.Warn().Err(err).Msg("Autopilot advance failed")
	}
}
