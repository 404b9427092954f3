package listener

import (
	"errors"
	"time"

	"github.com/mcdev12/syncplay/go/internal/offset"
	"github.com/mcdev12/syncplay/go/internal/playback"
)

// ErrNotConnected is returned by sends while no connection is up
var ErrNotConnected = errors.New("not connected to coordinator")

// Status is the connection status signal
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusReconnecting Status = "reconnecting"
)

// Display renders what the listener learns from the coordinator
type Display interface {
	Status(status Status)
	Welcome(participantID string)
	Participants(ids []string)
	Song(songRef string)
	Calibrated(result offset.RunResult)
	Scheduled(target playback.Target, decision playback.Decision)
	Countdown(roundID string, remaining time.Duration)
	ClearCountdown()
}

// Config holds the listener's settings
type Config struct {
	ServerURL           string
	Estimator           offset.Config
	Scheduler           playback.Config
	RecalibrateInterval time.Duration
	ReconnectBaseDelay  time.Duration
	ReconnectMaxDelay   time.Duration
	WriteTimeout        time.Duration
	ReadTimeout         time.Duration
}

func DefaultConfig() Config {
	return Config{
		ServerURL:           "ws://localhost:5000/ws",
		Estimator:           offset.DefaultConfig(),
		Scheduler:           playback.DefaultConfig(),
		RecalibrateInterval: 30 * time.Second,
		ReconnectBaseDelay:  time.Second,
		ReconnectMaxDelay:   30 * time.Second,
		WriteTimeout:        10 * time.Second,
		ReadTimeout:         60 * time.Second,
	}
}

type nopDisplay struct{}

func (nopDisplay) Status(Status)                                {}
func (nopDisplay) Welcome(string)                               {}
func (nopDisplay) Participants([]string)                        {}
func (nopDisplay) Song(string)                                  {}
func (nopDisplay) Calibrated(offset.RunResult)                  {}
func (nopDisplay) Scheduled(playback.Target, playback.Decision) {}
func (nopDisplay) Countdown(string, time.Duration)              {}
func (nopDisplay) ClearCountdown()                              {}
