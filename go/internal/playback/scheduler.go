package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/syncplay/go/internal/offset"
	"github.com/rs/zerolog/log"
)

// ErrScheduleMiss flags a fire whose local instant had already passed
var ErrScheduleMiss = errors.New("playback target already passed")

// Player is the audio capability. PlayAt starts the song at a local instant,
// Cancel stops anything it has scheduled or started.
type Player interface {
	PlayAt(at time.Time, songRef string) error
	Cancel()
}

// Reporter sends fire reports back to the coordinator
type Reporter interface {
	ReportFired(report FireReport)
}

// Target is a coordinator-issued start instant, in coordinator time
type Target struct {
	RoundID string
	Instant time.Time
	SongRef string
}

func (t Target) key() string {
	return fmt.Sprintf("%s@%d", t.RoundID, t.Instant.UnixNano())
}

// FireReport describes one actual playback start
type FireReport struct {
	Target       Target
	ScheduledFor time.Time     // local instant playback was aimed at
	FiredAt      time.Time     // local instant the timer fired
	Offset       time.Duration // estimate used for the conversion
	Missed       bool
	Err          error
}

// Outcome of a Schedule call
type Outcome string

const (
	OutcomeScheduled Outcome = "scheduled"
	OutcomeFired     Outcome = "fired"
	OutcomeDuplicate Outcome = "duplicate"
)

// Decision is what Schedule did with a target
type Decision struct {
	Outcome Outcome
	FireAt  time.Time
	Delay   time.Duration
}

type Config struct {
	JitterMargin time.Duration
}

func DefaultConfig() Config {
	return Config{JitterMargin: 20 * time.Millisecond}
}

// fire is an immutable snapshot handed to the timer callback
type fire struct {
	target Target
	fireAt time.Time
	offset time.Duration
	missed bool
	timer  clockwork.Timer
}

const firedHistory = 32

// Scheduler turns start targets into one local playback per target instant.
// It holds a single pending timer; scheduling a new target replaces it.
type Scheduler struct {
	config   Config
	clock    clockwork.Clock
	player   Player
	reporter Reporter

	mu      sync.Mutex
	pending *fire
	fired   []string
}

// Option configures a Scheduler
type Option func(*Scheduler)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

func NewScheduler(config Config, player Player, reporter Reporter, opts ...Option) *Scheduler {
	if config.JitterMargin < 0 {
		config.JitterMargin = 0
	}
	s := &Scheduler{
		config:   config,
		clock:    clockwork.NewRealClock(),
		player:   player,
		reporter: reporter,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule arms playback for target using the given offset estimate. The
// estimate is copied; later recalibration does not move an armed timer.
func (s *Scheduler) Schedule(target Target, estimate offset.Estimate) Decision {
	key := target.key()
	fireAt := estimate.ToLocal(target.Instant)

	s.mu.Lock()
	if s.seen(key) {
		s.mu.Unlock()
		log.Debug().
			Str("round_id", target.RoundID).
			Msg("target already scheduled, ignoring rebroadcast")
		return Decision{Outcome: OutcomeDuplicate, FireAt: fireAt}
	}

	if s.pending != nil {
		s.pending.timer.Stop()
		log.Debug().
			Str("old_round_id", s.pending.target.RoundID).
			Str("round_id", target.RoundID).
			Msg("replacing pending playback timer")
		s.pending = nil
	}

	delay := fireAt.Sub(s.clock.Now())
	f := &fire{
		target: target,
		fireAt: fireAt,
		offset: estimate.Value,
		missed: delay < 0,
	}

	if delay > s.config.JitterMargin {
		f.timer = s.clock.AfterFunc(delay-s.config.JitterMargin, func() { s.fire(f) })
		s.pending = f
		s.mu.Unlock()

		log.Info().
			Str("round_id", target.RoundID).
			Time("fire_at", fireAt).
			Dur("delay", delay).
			Dur("offset", estimate.Value).
			Msg("playback scheduled")
		return Decision{Outcome: OutcomeScheduled, FireAt: fireAt, Delay: delay}
	}

	// Already at or past the target: play now rather than not at all
	s.markFired(key)
	s.mu.Unlock()

	s.start(f)
	return Decision{Outcome: OutcomeFired, FireAt: fireAt, Delay: delay}
}

// fire runs on the timer goroutine
func (s *Scheduler) fire(f *fire) {
	s.mu.Lock()
	if s.pending != f {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	s.markFired(f.target.key())
	s.mu.Unlock()

	s.start(f)
}

func (s *Scheduler) start(f *fire) {
	firedAt := s.clock.Now()
	err := s.player.PlayAt(f.fireAt, f.target.SongRef)

	report := FireReport{
		Target:       f.target,
		ScheduledFor: f.fireAt,
		FiredAt:      firedAt,
		Offset:       f.offset,
		Missed:       f.missed,
		Err:          err,
	}

	event := log.Info()
	if f.missed {
		event = log.Warn().AnErr("miss", ErrScheduleMiss)
	}
	if err != nil {
		event = log.Error().Err(err)
	}
	event.
		Str("round_id", f.target.RoundID).
		Time("scheduled_for", f.fireAt).
		Time("fired_at", firedAt).
		Msg("playback fired")

	if s.reporter != nil {
		s.reporter.ReportFired(report)
	}
}

// Cancel disarms the pending timer and stops the player
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	if s.pending != nil {
		s.pending.timer.Stop()
		s.pending = nil
	}
	s.mu.Unlock()
	s.player.Cancel()
}

// CancelRound cancels only if the pending target belongs to roundID
func (s *Scheduler) CancelRound(roundID string) bool {
	s.mu.Lock()
	if s.pending == nil || s.pending.target.RoundID != roundID {
		s.mu.Unlock()
		return false
	}
	s.pending.timer.Stop()
	s.pending = nil
	s.mu.Unlock()
	s.player.Cancel()
	return true
}

// Pending returns the armed target and its local fire instant
func (s *Scheduler) Pending() (Target, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return Target{}, time.Time{}, false
	}
	return s.pending.target, s.pending.fireAt, true
}

// seen reports whether key is pending or already fired. Caller holds mu.
func (s *Scheduler) seen(key string) bool {
	if s.pending != nil && s.pending.target.key() == key {
		return true
	}
	for _, k := range s.fired {
		if k == key {
			return true
		}
	}
	return false
}

// markFired records key, keeping a bounded history. Caller holds mu.
func (s *Scheduler) markFired(key string) {
	s.fired = append(s.fired, key)
	if len(s.fired) > firedHistory {
		s.fired = s.fired[len(s.fired)-firedHistory:]
	}
}
