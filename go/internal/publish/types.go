package publish

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Observer event types published for each round
const (
	EventRoundScheduled = "round_scheduled"
	EventPlayNow        = "play_now"
	EventPlaybackFired  = "playback_fired"
)

// SessionEvent is one observability record about a playback round
type SessionEvent struct {
	ID        uuid.UUID
	RoundID   string
	EventType string
	Payload   []byte
	CreatedAt time.Time
}

// EventPublisher ships session events to observers
type EventPublisher interface {
	Publish(ctx context.Context, event SessionEvent) error
}
