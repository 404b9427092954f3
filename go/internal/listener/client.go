package listener

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/syncplay/go/internal/events"
	"github.com/mcdev12/syncplay/go/internal/offset"
	"github.com/mcdev12/syncplay/go/internal/playback"
	"github.com/rs/zerolog/log"
)

// Client is a listening participant. It keeps a connection to the coordinator,
// calibrates its clock offset over it and fires playback at corrected instants.
type Client struct {
	config  Config
	clock   clockwork.Clock
	dialer  *websocket.Dialer
	display Display

	estimator *offset.Estimator
	scheduler *playback.Scheduler

	mu            sync.Mutex
	writeMu       sync.Mutex // serialises conn writes
	conn          *websocket.Conn
	status        Status
	participantID string
	songRef       string
}

// Option configures a Client
type Option func(*Client)

// WithClock sets the clock shared by calibration, scheduling and reconnects
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

func WithDisplay(display Display) Option {
	return func(c *Client) {
		c.display = display
	}
}

func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Client) {
		c.dialer = dialer
	}
}

func NewClient(config Config, player playback.Player, opts ...Option) *Client {
	defaults := DefaultConfig()
	if config.ReconnectBaseDelay <= 0 {
		config.ReconnectBaseDelay = defaults.ReconnectBaseDelay
	}
	if config.ReconnectMaxDelay < config.ReconnectBaseDelay {
		config.ReconnectMaxDelay = config.ReconnectBaseDelay
	}
	if config.RecalibrateInterval <= 0 {
		config.RecalibrateInterval = defaults.RecalibrateInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}

	c := &Client{
		config:  config,
		clock:   clockwork.NewRealClock(),
		dialer:  websocket.DefaultDialer,
		display: nopDisplay{},
		status:  StatusDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.estimator = offset.NewEstimator(config.Estimator, c, offset.WithClock(c.clock))
	c.scheduler = playback.NewScheduler(config.Scheduler, player, c, playback.WithClock(c.clock))
	return c
}

// Estimate returns the current offset estimate
func (c *Client) Estimate() offset.Estimate {
	return c.estimator.Estimate()
}

// Scheduler exposes the playback scheduler
func (c *Client) Scheduler() *playback.Scheduler {
	return c.scheduler
}

// Status returns the connection status
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ParticipantID returns the id assigned by the coordinator, empty before welcome
func (c *Client) ParticipantID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participantID
}

// SongRef returns the last song distributed by the coordinator
func (c *Client) SongRef() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.songRef
}

// Run connects and keeps reconnecting until ctx is done
func (c *Client) Run(ctx context.Context) error {
	go c.estimator.Run(ctx)

	delay := c.config.ReconnectBaseDelay
	for {
		if ctx.Err() != nil {
			c.setStatus(StatusDisconnected)
			return ctx.Err()
		}

		conn, _, err := c.dialer.DialContext(ctx, c.config.ServerURL, nil)
		if err != nil {
			c.setStatus(StatusReconnecting)
			log.Warn().
				Err(err).
				Str("url", c.config.ServerURL).
				Dur("retry_in", delay).
				Msg("failed to connect to coordinator")

			select {
			case <-ctx.Done():
				c.setStatus(StatusDisconnected)
				return ctx.Err()
			case <-c.clock.After(delay):
			}
			delay = min(delay*2, c.config.ReconnectMaxDelay)
			continue
		}

		delay = c.config.ReconnectBaseDelay
		err = c.serve(ctx, conn)
		if ctx.Err() != nil {
			c.setStatus(StatusDisconnected)
			return ctx.Err()
		}
		log.Warn().Err(err).Msg("connection to coordinator lost")
		c.setStatus(StatusReconnecting)
	}
}

// serve runs one connection until it drops
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setStatus(StatusConnected)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.calibrationLoop(connCtx)
	}()

	// Unblock the read loop on shutdown
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	err := c.readLoop(conn)

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	cancel()
	wg.Wait()

	// In-flight calibration and the countdown view belong to the lost
	// connection. An armed playback timer stays: the round is committed.
	c.estimator.Abandon()
	c.display.ClearCountdown()
	return err
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.config.WriteTimeout))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		event, err := events.Parse(data)
		if err != nil {
			log.Debug().Err(err).Msg("dropping malformed frame")
			continue
		}
		c.dispatch(event)
	}
}

// calibrationLoop calibrates once per connection and then periodically
func (c *Client) calibrationLoop(ctx context.Context) {
	ticker := c.clock.NewTicker(c.config.RecalibrateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case result := <-c.estimator.Calibrate():
			if result.Status != offset.RunAbandoned {
				c.display.Calibrated(result)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

func (c *Client) dispatch(event *events.Event) {
	switch event.Type {
	case events.EventTypeWelcome:
		var p events.WelcomePayload
		if !c.decode(event, &p) {
			return
		}
		c.mu.Lock()
		c.participantID = p.ParticipantID
		c.mu.Unlock()
		c.display.Welcome(p.ParticipantID)

	case events.EventTypeTimeResponse:
		var p events.TimeResponsePayload
		if !c.decode(event, &p) {
			return
		}
		c.estimator.Deliver(p.ProbeID, events.FromMillis(p.ServerInstantMs))

	case events.EventTypeStartScheduled:
		var p events.StartScheduledPayload
		if !c.decode(event, &p) {
			return
		}
		c.schedule(p.RoundID, p.TargetInstantMs, p.SongRef)

	case events.EventTypePlayNow:
		var p events.PlayNowPayload
		if !c.decode(event, &p) {
			return
		}
		// Keyed on the target so a round already armed is not played twice
		c.schedule(p.RoundID, p.TargetInstantMs, p.SongRef)
		c.display.ClearCountdown()

	case events.EventTypeCountdownTick:
		var p events.CountdownTickPayload
		if !c.decode(event, &p) {
			return
		}
		c.display.Countdown(p.RoundID, time.Duration(p.RemainingMs)*time.Millisecond)

	case events.EventTypeMembershipSnapshot:
		var p events.MembershipSnapshotPayload
		if !c.decode(event, &p) {
			return
		}
		c.display.Participants(p.Participants)

	case events.EventTypeSongSelected:
		var p events.SongSelectedPayload
		if !c.decode(event, &p) {
			return
		}
		c.mu.Lock()
		c.songRef = p.SongRef
		c.mu.Unlock()
		c.display.Song(p.SongRef)

	case events.EventTypeRoundCancelled:
		var p events.RoundCancelledPayload
		if !c.decode(event, &p) {
			return
		}
		if c.scheduler.CancelRound(p.RoundID) {
			log.Info().Str("round_id", p.RoundID).Msg("scheduled playback cancelled")
		}
		c.display.ClearCountdown()

	default:
		log.Debug().Str("type", string(event.Type)).Msg("ignoring event")
	}
}

func (c *Client) decode(event *events.Event, dst interface{}) bool {
	if err := event.Decode(dst); err != nil {
		log.Warn().Err(err).Msg("dropping undecodable event")
		return false
	}
	return true
}

func (c *Client) schedule(roundID string, targetMs int64, songRef string) {
	if songRef == "" {
		songRef = c.SongRef()
	}
	target := playback.Target{
		RoundID: roundID,
		Instant: events.FromMillis(targetMs),
		SongRef: songRef,
	}
	decision := c.scheduler.Schedule(target, c.estimator.Estimate())
	if decision.Outcome != playback.OutcomeDuplicate {
		c.display.Scheduled(target, decision)
	}
}

func (c *Client) setStatus(status Status) {
	c.mu.Lock()
	changed := c.status != status
	c.status = status
	c.mu.Unlock()
	if changed {
		c.display.Status(status)
	}
}

// send writes one event on the current connection
func (c *Client) send(eventType events.EventType, payload interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	event, err := events.New(eventType, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := conn.WriteJSON(event); err != nil {
		return fmt.Errorf("write %s: %w", eventType, err)
	}
	return nil
}

// SendProbe sends a time request for the estimator
func (c *Client) SendProbe(ctx context.Context, probe offset.Probe) error {
	return c.send(events.EventTypeTimeRequest, events.TimeRequestPayload{ProbeID: probe.ProbeID})
}

// ReportFired tells the coordinator when playback actually started
func (c *Client) ReportFired(report playback.FireReport) {
	payload := events.PlaybackFiredPayload{
		RoundID:         report.Target.RoundID,
		LocalFireMs:     events.ToMillis(report.FiredAt),
		ScheduledForMs:  events.ToMillis(report.ScheduledFor),
		TargetInstantMs: events.ToMillis(report.Target.Instant),
		OffsetMs:        report.Offset.Milliseconds(),
		Missed:          report.Missed,
	}
	if err := c.send(events.EventTypePlaybackFired, payload); err != nil {
		log.Warn().Err(err).Str("round_id", report.Target.RoundID).Msg("failed to report playback")
	}
}

// RequestStart asks the coordinator to schedule a round
func (c *Client) RequestStart() error {
	return c.send(events.EventTypeStartRequest, events.StartRequestPayload{})
}

// SelectSong asks the coordinator to distribute a song
func (c *Client) SelectSong(song string) error {
	return c.send(events.EventTypeSelectSong, events.SelectSongPayload{Song: song})
}

// SongEnded tells the coordinator the song finished locally
func (c *Client) SongEnded(roundID string) error {
	return c.send(events.EventTypeSongEnded, events.SongEndedPayload{RoundID: roundID})
}
