package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/syncplay/go/internal/events"
	"github.com/mcdev12/syncplay/go/internal/timesource"
)

var (
	// ErrStopped is returned when the coordinator is no longer running
	ErrStopped = errors.New("session coordinator stopped")
	// ErrEmptySong is returned when a song selection names nothing
	ErrEmptySong = errors.New("song name is empty")
)

// Status is the lifecycle state of the playback session
type Status string

const (
	StatusIdle      Status = "IDLE"
	StatusCountdown Status = "COUNTDOWN"
	StatusPlaying   Status = "PLAYING"
)

// ResetPolicy decides when a fired round returns the session to IDLE
type ResetPolicy string

const (
	// ResetAuto returns to IDLE right after play_now
	ResetAuto ResetPolicy = "auto"
	// ResetHold keeps PLAYING until song_ended or an explicit reset
	ResetHold ResetPolicy = "hold"
)

// ParseResetPolicy validates a configured policy name
func ParseResetPolicy(s string) (ResetPolicy, error) {
	switch ResetPolicy(s) {
	case ResetAuto, ResetHold:
		return ResetPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown reset policy %q", s)
	}
}

// Session is a copy of the coordinator's session state. The live value is
// owned by the coordinator goroutine.
type Session struct {
	Status        Status    `json:"status"`
	RoundID       string    `json:"round_id,omitempty"`
	TargetInstant time.Time `json:"target_instant,omitempty"`
	FireInstant   time.Time `json:"fire_instant,omitempty"`
	SongRef       string    `json:"song_ref,omitempty"`
	Origin        string    `json:"origin,omitempty"`
	Degraded      bool      `json:"degraded"`
	Reports       int       `json:"reports"`
}

// State is what the HTTP state endpoint shows
type State struct {
	Session      Session     `json:"session"`
	Policy       ResetPolicy `json:"policy"`
	Participants []string    `json:"participants"`
	Count        int         `json:"count"`
}

// Config holds the countdown protocol settings
type Config struct {
	LeadTime     time.Duration
	TickInterval time.Duration
	ResetPolicy  ResetPolicy
	SongBaseURL  string
}

func DefaultConfig() Config {
	return Config{
		LeadTime:     3 * time.Second,
		TickInterval: 100 * time.Millisecond,
		ResetPolicy:  ResetAuto,
	}
}

// Broadcaster delivers events to connected participants. Implementations must be
// safe for concurrent use; the countdown loop broadcasts from its own goroutine.
type Broadcaster interface {
	Broadcast(event *events.Event)
	SendTo(participantID string, event *events.Event)
}

// TimeSource is satisfied by *timesource.Source
type TimeSource interface {
	Now(ctx context.Context) timesource.Reading
}

// EventSink receives round events for observers. Satisfied by *publish.Dispatcher.
type EventSink interface {
	Enqueue(eventType, roundID string, payload interface{})
}

type noopSink struct{}

func (noopSink) Enqueue(string, string, interface{}) {}
