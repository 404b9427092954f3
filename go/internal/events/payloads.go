package events

// Event payload types shared between the coordinator and listener packages.
// Instants are Unix milliseconds.

// TimeRequestPayload asks the coordinator for its authoritative time.
// ProbeID is echoed back so the asker can scope the answer to one calibration run.
type TimeRequestPayload struct {
	ProbeID string `json:"probe_id,omitempty"`
}

// TimeResponsePayload is the reply to a time request, sent to the requester only
type TimeResponsePayload struct {
	ProbeID         string `json:"probe_id,omitempty"`
	ServerInstantMs int64  `json:"server_instant_ms"`
	Origin          string `json:"origin"`
}

// StartRequestPayload asks the coordinator to schedule a coordinated start
type StartRequestPayload struct{}

// StartScheduledPayload carries the committed target instant of a round
type StartScheduledPayload struct {
	RoundID         string `json:"round_id"`
	TargetInstantMs int64  `json:"target_instant_ms"`
	SongRef         string `json:"song_ref,omitempty"`
	LeadTimeMs      int64  `json:"lead_time_ms"`
	Status          string `json:"status"`
}

// CountdownTickPayload contains periodic countdown updates
type CountdownTickPayload struct {
	RoundID     string `json:"round_id"`
	RemainingMs int64  `json:"remaining_ms"`
}

// PlayNowPayload is the terminal event of a countdown
type PlayNowPayload struct {
	RoundID         string `json:"round_id"`
	FireInstantMs   int64  `json:"fire_instant_ms"`
	TargetInstantMs int64  `json:"target_instant_ms"`
	SongRef         string `json:"song_ref,omitempty"`
}

// MembershipSnapshotPayload is the full participant list, sent on every join/leave
type MembershipSnapshotPayload struct {
	Participants []string `json:"participants"`
	Count        int      `json:"count"`
}

// PlaybackFiredPayload reports when a client actually started playback
type PlaybackFiredPayload struct {
	RoundID         string `json:"round_id"`
	LocalFireMs     int64  `json:"local_fire_ms"`
	ScheduledForMs  int64  `json:"scheduled_for_ms"`
	TargetInstantMs int64  `json:"target_instant_ms"`
	OffsetMs        int64  `json:"offset_ms"`
	Missed          bool   `json:"missed"`
}

// WelcomePayload tells a freshly connected client its participant id
type WelcomePayload struct {
	ParticipantID string `json:"participant_id"`
	JoinedAtMs    int64  `json:"joined_at_ms"`
}

// SelectSongPayload picks the song for the next rounds
type SelectSongPayload struct {
	Song string `json:"song"`
}

// SongSelectedPayload distributes the resolved song URL
type SongSelectedPayload struct {
	SongRef string `json:"song_ref"`
}

// SongEndedPayload tells the coordinator the song finished on a client
type SongEndedPayload struct {
	RoundID string `json:"round_id"`
}

// RoundCancelledPayload withdraws a scheduled round after a coordinator reset
type RoundCancelledPayload struct {
	RoundID string `json:"round_id"`
}
