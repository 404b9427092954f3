package publish

import (
	"context"

	"github.com/rs/zerolog/log"
)

// NoopPublisher drops every event
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, event SessionEvent) error { return nil }

// LogPublisher writes events to the log instead of a bus, for development
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) Publish(ctx context.Context, event SessionEvent) error {
	log.Info().
		Str("event_id", event.ID.String()).
		Str("event_type", event.EventType).
		Str("round_id", event.RoundID).
		RawJSON("payload", nonEmptyJSON(event.Payload)).
		Msg("publishing session event")
	return nil
}

func nonEmptyJSON(b []byte) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	return b
}
