package session

import (
	"context"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/syncplay/go/internal/events"
	"github.com/mcdev12/syncplay/go/internal/membership"
	"github.com/mcdev12/syncplay/go/internal/publish"
	"github.com/mcdev12/syncplay/go/internal/timesource"
	"github.com/rs/zerolog/log"
)

// Coordinator owns the playback session and the participant set. All mutations
// happen on the goroutine running Run; callers send commands to it.
type Coordinator struct {
	config      Config
	clock       clockwork.Clock
	timeSource  TimeSource
	broadcaster Broadcaster
	members     *membership.Registry
	sink        EventSink

	cmds chan command
	done chan struct{}

	// owned by the Run goroutine
	session         Session
	cancelCountdown context.CancelFunc
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithClock sets the clock driving the countdown ticker
func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// WithEventSink sets where round events are published
func WithEventSink(sink EventSink) Option {
	return func(c *Coordinator) {
		c.sink = sink
	}
}

func NewCoordinator(config Config, timeSource TimeSource, broadcaster Broadcaster, opts ...Option) *Coordinator {
	defaults := DefaultConfig()
	if config.LeadTime <= 0 {
		config.LeadTime = defaults.LeadTime
	}
	if config.TickInterval <= 0 {
		config.TickInterval = defaults.TickInterval
	}
	if config.ResetPolicy == "" {
		config.ResetPolicy = defaults.ResetPolicy
	}

	c := &Coordinator{
		config:      config,
		clock:       clockwork.NewRealClock(),
		timeSource:  timeSource,
		broadcaster: broadcaster,
		sink:        noopSink{},
		cmds:        make(chan command, 64),
		done:        make(chan struct{}),
		session:     Session{Status: StatusIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.members = membership.NewRegistry(broadcaster, c.clock)
	return c
}

// Run processes commands until the context is cancelled
func (c *Coordinator) Run(ctx context.Context) error {
	log.Info().
		Str("policy", string(c.config.ResetPolicy)).
		Dur("lead_time", c.config.LeadTime).
		Dur("tick_interval", c.config.TickInterval).
		Msg("session coordinator started")

	defer close(c.done)
	defer c.stopCountdown()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("session coordinator shutting down")
			return nil
		case cmd := <-c.cmds:
			c.handle(ctx, cmd)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, cmd command) {
	switch cmd := cmd.(type) {
	case joinCmd:
		cmd.reply <- c.handleJoin(cmd.participantID)
	case leaveCmd:
		c.members.Leave(cmd.participantID)
	case startCmd:
		cmd.reply <- c.handleStart(ctx, cmd.requester, cmd.reading)
	case selectSongCmd:
		cmd.reply <- c.handleSelectSong(cmd.song)
	case songEndedCmd:
		c.handleSongEnded(cmd.roundID)
	case resetCmd:
		cmd.reply <- c.handleReset()
	case playbackFiredCmd:
		c.handlePlaybackFired(cmd.participantID, cmd.report)
	case stateCmd:
		cmd.reply <- c.state()
	case countdownFinished:
		c.handleCountdownFinished(cmd)
	default:
		log.Warn().Interface("command", cmd).Msg("unknown session command")
	}
}

func (c *Coordinator) handleJoin(participantID string) membership.Participant {
	p := c.members.Join(participantID)

	// Late joiners get the round in progress instead of waiting for the next one
	if c.session.SongRef != "" {
		c.broadcaster.SendTo(participantID, events.MustNew(events.EventTypeSongSelected, events.SongSelectedPayload{
			SongRef: c.session.SongRef,
		}))
	}
	if c.session.Status != StatusIdle {
		c.sendScheduled(participantID)
	}
	return p
}

func (c *Coordinator) handleStart(ctx context.Context, requester string, reading timesource.Reading) Session {
	if c.session.Status != StatusIdle {
		log.Info().
			Str("requester", requester).
			Str("round_id", c.session.RoundID).
			Str("status", string(c.session.Status)).
			Msg("start request ignored, round already scheduled")
		if requester != "" {
			c.sendScheduled(requester)
		}
		return c.session
	}

	target := reading.Instant.Add(c.config.LeadTime)

	c.session = Session{
		Status:        StatusCountdown,
		RoundID:       uuid.NewString(),
		TargetInstant: target,
		SongRef:       c.session.SongRef,
		Origin:        reading.Origin,
		Degraded:      reading.Degraded,
	}

	payload := c.scheduledPayload()
	c.broadcaster.Broadcast(events.MustNew(events.EventTypeStartScheduled, payload))
	c.sink.Enqueue(publish.EventRoundScheduled, c.session.RoundID, payload)

	countdownCtx, cancel := context.WithCancel(ctx)
	c.cancelCountdown = cancel
	go c.runCountdown(countdownCtx, c.session.RoundID, target)

	log.Info().
		Str("requester", requester).
		Str("round_id", c.session.RoundID).
		Time("target_instant", target).
		Str("origin", reading.Origin).
		Bool("degraded", reading.Degraded).
		Msg("round scheduled")

	return c.session
}

func (c *Coordinator) handleCountdownFinished(msg countdownFinished) {
	if c.session.Status != StatusCountdown || msg.roundID != c.session.RoundID {
		log.Debug().
			Str("round_id", msg.roundID).
			Msg("ignoring countdown completion for stale round")
		return
	}
	c.stopCountdown()

	c.session.Status = StatusPlaying
	c.session.FireInstant = msg.reading.Instant

	roundID := c.session.RoundID
	c.broadcaster.Broadcast(events.MustNew(events.EventTypeCountdownTick, events.CountdownTickPayload{
		RoundID:     roundID,
		RemainingMs: 0,
	}))

	payload := events.PlayNowPayload{
		RoundID:         roundID,
		FireInstantMs:   events.ToMillis(msg.reading.Instant),
		TargetInstantMs: events.ToMillis(c.session.TargetInstant),
		SongRef:         c.session.SongRef,
	}
	c.broadcaster.Broadcast(events.MustNew(events.EventTypePlayNow, payload))
	c.sink.Enqueue(publish.EventPlayNow, roundID, payload)

	log.Info().
		Str("round_id", roundID).
		Time("fire_instant", msg.reading.Instant).
		Dur("late_by", msg.reading.Instant.Sub(c.session.TargetInstant)).
		Msg("play now")

	if c.config.ResetPolicy == ResetAuto {
		c.session.Status = StatusIdle
	}
}

func (c *Coordinator) handleSongEnded(roundID string) {
	if c.session.Status != StatusPlaying {
		return
	}
	if roundID != "" && roundID != c.session.RoundID {
		log.Debug().Str("round_id", roundID).Msg("song end for another round ignored")
		return
	}
	c.session.Status = StatusIdle
	log.Info().Str("round_id", c.session.RoundID).Msg("song ended, session idle")
}

func (c *Coordinator) handleReset() Session {
	if c.session.Status == StatusCountdown {
		c.stopCountdown()
		c.broadcaster.Broadcast(events.MustNew(events.EventTypeRoundCancelled, events.RoundCancelledPayload{
			RoundID: c.session.RoundID,
		}))
		log.Info().Str("round_id", c.session.RoundID).Msg("countdown cancelled")
	}
	c.session.Status = StatusIdle
	return c.session
}

func (c *Coordinator) handleSelectSong(song string) string {
	ref := strings.TrimSuffix(c.config.SongBaseURL, "/") + "/" + url.PathEscape(song)
	if c.config.SongBaseURL == "" {
		ref = url.PathEscape(song)
	}
	c.session.SongRef = ref

	c.broadcaster.Broadcast(events.MustNew(events.EventTypeSongSelected, events.SongSelectedPayload{
		SongRef: ref,
	}))
	log.Info().Str("song_ref", ref).Msg("song selected")
	return ref
}

func (c *Coordinator) handlePlaybackFired(participantID string, report events.PlaybackFiredPayload) {
	if report.RoundID == c.session.RoundID {
		c.session.Reports++
	}

	log.Info().
		Str("participant_id", participantID).
		Str("round_id", report.RoundID).
		Int64("local_fire_ms", report.LocalFireMs).
		Int64("scheduled_for_ms", report.ScheduledForMs).
		Int64("fire_error_ms", report.LocalFireMs-report.ScheduledForMs).
		Int64("offset_ms", report.OffsetMs).
		Bool("missed", report.Missed).
		Msg("playback fired")

	c.sink.Enqueue(publish.EventPlaybackFired, report.RoundID, struct {
		ParticipantID string `json:"participant_id"`
		events.PlaybackFiredPayload
	}{participantID, report})
}

func (c *Coordinator) sendScheduled(participantID string) {
	c.broadcaster.SendTo(participantID, events.MustNew(events.EventTypeStartScheduled, c.scheduledPayload()))
}

func (c *Coordinator) scheduledPayload() events.StartScheduledPayload {
	return events.StartScheduledPayload{
		RoundID:         c.session.RoundID,
		TargetInstantMs: events.ToMillis(c.session.TargetInstant),
		SongRef:         c.session.SongRef,
		LeadTimeMs:      c.config.LeadTime.Milliseconds(),
		Status:          string(c.session.Status),
	}
}

func (c *Coordinator) stopCountdown() {
	if c.cancelCountdown != nil {
		c.cancelCountdown()
		c.cancelCountdown = nil
	}
}

func (c *Coordinator) state() State {
	ids := c.members.Snapshot()
	return State{
		Session:      c.session,
		Policy:       c.config.ResetPolicy,
		Participants: ids,
		Count:        len(ids),
	}
}
