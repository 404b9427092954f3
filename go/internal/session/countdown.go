package session

import (
	"context"
	"time"

	"github.com/mcdev12/syncplay/go/internal/events"
	"github.com/rs/zerolog/log"
)

// runCountdown broadcasts the remaining time every tick until the target is
// reached, then hands the fire reading back to the coordinator goroutine.
// Cancelling ctx stops it; it never touches session state directly.
func (c *Coordinator) runCountdown(ctx context.Context, roundID string, target time.Time) {
	ticker := c.clock.NewTicker(c.config.TickInterval)
	defer ticker.Stop()

	for {
		reading := c.timeSource.Now(ctx)
		if ctx.Err() != nil {
			return
		}

		remaining := target.Sub(reading.Instant)
		if remaining <= 0 {
			select {
			case c.cmds <- countdownFinished{roundID: roundID, reading: reading}:
			case <-ctx.Done():
			}
			return
		}

		c.broadcaster.Broadcast(events.MustNew(events.EventTypeCountdownTick, events.CountdownTickPayload{
			RoundID:     roundID,
			RemainingMs: remaining.Milliseconds(),
		}))

		select {
		case <-ctx.Done():
			log.Debug().Str("round_id", roundID).Msg("countdown stopped")
			return
		case <-ticker.Chan():
		}
	}
}
