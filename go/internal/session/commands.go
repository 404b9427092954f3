package session

import (
	"github.com/mcdev12/syncplay/go/internal/events"
	"github.com/mcdev12/syncplay/go/internal/membership"
	"github.com/mcdev12/syncplay/go/internal/timesource"
)

// command is anything the coordinator goroutine accepts on its inbox
type command interface{}

type joinCmd struct {
	participantID string
	reply         chan membership.Participant
}

type leaveCmd struct {
	participantID string
}

// startCmd carries a reading taken by the caller, so a slow time source
// never blocks the coordinator goroutine
type startCmd struct {
	requester string
	reading   timesource.Reading
	reply     chan Session
}

type selectSongCmd struct {
	song  string
	reply chan string
}

type songEndedCmd struct {
	roundID string
}

type resetCmd struct {
	reply chan Session
}

type playbackFiredCmd struct {
	participantID string
	report        events.PlaybackFiredPayload
}

type stateCmd struct {
	reply chan State
}

// countdownFinished is sent by the countdown loop once the target instant is reached
type countdownFinished struct {
	roundID string
	reading timesource.Reading
}
