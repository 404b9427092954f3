package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope for every message exchanged over the event channel
type Event struct {
	ID        string          `json:"id"`             // Event UUID
	Type      EventType       `json:"type"`           // Event type
	Timestamp time.Time       `json:"timestamp"`      // Event creation time
	Data      json.RawMessage `json:"data,omitempty"` // Event-specific payload
}

// EventType represents the type of a sync event
type EventType string

const (
	// client -> coordinator
	EventTypeTimeRequest   EventType = "time_request"
	EventTypeStartRequest  EventType = "start_request"
	EventTypePlaybackFired EventType = "playback_fired"
	EventTypeSelectSong    EventType = "select_song"
	EventTypeSongEnded     EventType = "song_ended"

	// coordinator -> client
	EventTypeWelcome            EventType = "welcome"
	EventTypeTimeResponse       EventType = "time_response"
	EventTypeStartScheduled     EventType = "start_scheduled"
	EventTypeCountdownTick      EventType = "countdown_tick"
	EventTypePlayNow            EventType = "play_now"
	EventTypeMembershipSnapshot EventType = "membership_snapshot"
	EventTypeSongSelected       EventType = "song_selected"
	EventTypeRoundCancelled     EventType = "round_cancelled"
)

// New builds an event with a fresh ID and the payload marshalled into Data.
// A nil payload produces an event without data.
func New(eventType EventType, payload interface{}) (*Event, error) {
	event := &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
	if payload == nil {
		return event, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	event.Data = data
	return event, nil
}

// MustNew is New for payloads that are known to marshal
func MustNew(eventType EventType, payload interface{}) *Event {
	event, err := New(eventType, payload)
	if err != nil {
		panic(err)
	}
	return event
}

// Decode unmarshals the event data into dst
func (e *Event) Decode(dst interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", e.Type, err)
	}
	return nil
}

// Parse decodes a raw frame into an envelope
func Parse(raw []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("event envelope has no type")
	}
	return &event, nil
}

// ParsePayload parses event data into the appropriate payload struct
func ParsePayload(event *Event) (interface{}, error) {
	var payload interface{}
	switch event.Type {
	case EventTypeTimeRequest:
		payload = &TimeRequestPayload{}
	case EventTypeTimeResponse:
		payload = &TimeResponsePayload{}
	case EventTypeStartRequest:
		payload = &StartRequestPayload{}
	case EventTypePlaybackFired:
		payload = &PlaybackFiredPayload{}
	case EventTypeSelectSong:
		payload = &SelectSongPayload{}
	case EventTypeSongEnded:
		payload = &SongEndedPayload{}
	case EventTypeWelcome:
		payload = &WelcomePayload{}
	case EventTypeStartScheduled:
		payload = &StartScheduledPayload{}
	case EventTypeCountdownTick:
		payload = &CountdownTickPayload{}
	case EventTypePlayNow:
		payload = &PlayNowPayload{}
	case EventTypeMembershipSnapshot:
		payload = &MembershipSnapshotPayload{}
	case EventTypeSongSelected:
		payload = &SongSelectedPayload{}
	case EventTypeRoundCancelled:
		payload = &RoundCancelledPayload{}
	default:
		return nil, nil // Unknown event type
	}

	if err := event.Decode(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// ToMillis converts an instant to Unix milliseconds for the wire
func ToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromMillis converts Unix milliseconds from the wire to an instant
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
