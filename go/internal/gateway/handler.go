package gateway

import (
	"context"
	"time"

	"github.com/mcdev12/syncplay/go/internal/events"
	"github.com/mcdev12/syncplay/go/internal/membership"
	"github.com/mcdev12/syncplay/go/internal/session"
	"github.com/mcdev12/syncplay/go/internal/timesource"
	"github.com/rs/zerolog/log"
)

// Coordinator is the session actor as seen by the transport. Satisfied by *session.Coordinator.
type Coordinator interface {
	Join(ctx context.Context, participantID string) (membership.Participant, error)
	Leave(ctx context.Context, participantID string) error
	RequestStart(ctx context.Context, requester string) (session.Session, error)
	SelectSong(ctx context.Context, song string) (string, error)
	SongEnded(ctx context.Context, roundID string) error
	Reset(ctx context.Context) (session.Session, error)
	ReportPlayback(ctx context.Context, participantID string, report events.PlaybackFiredPayload) error
	State(ctx context.Context) (session.State, error)
}

// TimeSource is satisfied by *timesource.Source
type TimeSource interface {
	Now(ctx context.Context) timesource.Reading
}

// SessionHandler routes client messages to the session coordinator. Time
// requests are answered on the connection's own goroutine so a slow reference
// never delays other participants.
type SessionHandler struct {
	coordinator    Coordinator
	timeSource     TimeSource
	commandTimeout time.Duration
}

func NewSessionHandler(coordinator Coordinator, timeSource TimeSource) *SessionHandler {
	return &SessionHandler{
		coordinator:    coordinator,
		timeSource:     timeSource,
		commandTimeout: 10 * time.Second,
	}
}

func (h *SessionHandler) Connected(ctx context.Context, conn *Connection) {
	welcome := events.MustNew(events.EventTypeWelcome, events.WelcomePayload{
		ParticipantID: conn.ID,
		JoinedAtMs:    events.ToMillis(conn.ConnectedAt),
	})
	if err := conn.SendEvent(welcome); err != nil {
		log.Warn().Err(err).Str("participant_id", conn.ID).Msg("failed to send welcome")
	}

	cmdCtx, cancel := context.WithTimeout(ctx, h.commandTimeout)
	defer cancel()
	if _, err := h.coordinator.Join(cmdCtx, conn.ID); err != nil {
		log.Error().Err(err).Str("participant_id", conn.ID).Msg("failed to join session")
	}
}

func (h *SessionHandler) Disconnected(ctx context.Context, conn *Connection) {
	cmdCtx, cancel := context.WithTimeout(ctx, h.commandTimeout)
	defer cancel()
	if err := h.coordinator.Leave(cmdCtx, conn.ID); err != nil {
		log.Error().Err(err).Str("participant_id", conn.ID).Msg("failed to leave session")
	}
}

func (h *SessionHandler) HandleMessage(ctx context.Context, conn *Connection, event *events.Event) {
	cmdCtx, cancel := context.WithTimeout(ctx, h.commandTimeout)
	defer cancel()

	var err error
	switch event.Type {
	case events.EventTypeTimeRequest:
		err = h.handleTimeRequest(cmdCtx, conn, event)

	case events.EventTypeStartRequest:
		_, err = h.coordinator.RequestStart(cmdCtx, conn.ID)

	case events.EventTypePlaybackFired:
		var report events.PlaybackFiredPayload
		if err = event.Decode(&report); err == nil {
			err = h.coordinator.ReportPlayback(cmdCtx, conn.ID, report)
		}

	case events.EventTypeSelectSong:
		var payload events.SelectSongPayload
		if err = event.Decode(&payload); err == nil {
			_, err = h.coordinator.SelectSong(cmdCtx, payload.Song)
		}

	case events.EventTypeSongEnded:
		var payload events.SongEndedPayload
		if err = event.Decode(&payload); err == nil {
			err = h.coordinator.SongEnded(cmdCtx, payload.RoundID)
		}

	default:
		log.Warn().
			Str("participant_id", conn.ID).
			Str("event_type", string(event.Type)).
			Msg("unsupported client event")
		return
	}

	if err != nil {
		log.Error().
			Err(err).
			Str("participant_id", conn.ID).
			Str("event_type", string(event.Type)).
			Msg("failed to handle client event")
	}
}

func (h *SessionHandler) handleTimeRequest(ctx context.Context, conn *Connection, event *events.Event) error {
	var req events.TimeRequestPayload
	if err := event.Decode(&req); err != nil {
		return err
	}

	reading := h.timeSource.Now(ctx)
	return conn.SendEvent(events.MustNew(events.EventTypeTimeResponse, events.TimeResponsePayload{
		ProbeID:         req.ProbeID,
		ServerInstantMs: events.ToMillis(reading.Instant),
		Origin:          reading.Origin,
	}))
}
