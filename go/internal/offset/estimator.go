package offset

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var (
	// ErrCalibrationTimeout marks a run that ended before every probe was answered
	ErrCalibrationTimeout = errors.New("calibration run timed out")
	// ErrAbandoned marks a run dropped on connectivity loss or shutdown
	ErrAbandoned = errors.New("calibration run abandoned")
)

// RunStatus is how a calibration run ended
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunTimedOut  RunStatus = "timed_out"
	RunAbandoned RunStatus = "abandoned"
)

// RunResult is delivered once per Calibrate call
type RunResult struct {
	RunID    string
	Status   RunStatus
	Samples  int
	Estimate Estimate // estimate after the run; unchanged when Samples is zero
	Err      error
}

// Probe is one time request sent on behalf of a run
type Probe struct {
	RunID   string
	ProbeID string
	Seq     int
	SentAt  time.Time
}

// Prober sends time requests to the coordinator
type Prober interface {
	SendProbe(ctx context.Context, probe Probe) error
}

// Config holds the calibration protocol settings
type Config struct {
	Probes        int
	ProbeInterval time.Duration
	RunTimeout    time.Duration
	Cooldown      time.Duration
}

func DefaultConfig() Config {
	return Config{
		Probes:        3,
		ProbeInterval: time.Second,
		RunTimeout:    10 * time.Second,
		Cooldown:      500 * time.Millisecond,
	}
}

// Status describes the estimator's run queue
type Status struct {
	Active  bool
	RunID   string
	Samples int
	Queued  int
}

// Estimator runs calibration runs one at a time and owns the offset estimate.
// All run state lives on the Run goroutine.
type Estimator struct {
	config Config
	clock  clockwork.Clock
	prober Prober

	inbox chan interface{}
	done  chan struct{}

	mu       sync.RWMutex
	estimate Estimate

	// owned by the Run goroutine
	active   *run
	queue    []chan RunResult
	cooldown clockwork.Timer
}

type run struct {
	id       string
	reply    chan RunResult
	seq      int
	pending  map[string]Probe
	samples  []Sample
	timeout  clockwork.Timer
	nextSend clockwork.Timer
}

type calibrateMsg struct {
	reply chan RunResult
}

type responseMsg struct {
	probeID       string
	serverInstant time.Time
	receivedAt    time.Time
}

type abandonMsg struct{}

type statusMsg struct {
	reply chan Status
}

// Option configures an Estimator
type Option func(*Estimator)

// WithClock sets the clock for probe timestamps and run timers
func WithClock(clock clockwork.Clock) Option {
	return func(e *Estimator) {
		e.clock = clock
	}
}

func NewEstimator(config Config, prober Prober, opts ...Option) *Estimator {
	defaults := DefaultConfig()
	if config.Probes < 1 {
		config.Probes = defaults.Probes
	}
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = defaults.ProbeInterval
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = defaults.RunTimeout
	}
	if config.Cooldown < 0 {
		config.Cooldown = 0
	}

	e := &Estimator{
		config: config,
		clock:  clockwork.NewRealClock(),
		prober: prober,
		inbox:  make(chan interface{}, 64),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Estimate returns the current offset estimate
func (e *Estimator) Estimate() Estimate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.estimate
}

// Calibrate queues a calibration run. The returned channel receives exactly one
// result. Calls while a run is active are queued in order.
func (e *Estimator) Calibrate() <-chan RunResult {
	reply := make(chan RunResult, 1)
	select {
	case <-e.done:
		reply <- RunResult{Status: RunAbandoned, Estimate: e.Estimate(), Err: ErrAbandoned}
		return reply
	default:
	}
	select {
	case e.inbox <- calibrateMsg{reply: reply}:
	case <-e.done:
		reply <- RunResult{Status: RunAbandoned, Estimate: e.Estimate(), Err: ErrAbandoned}
	}
	return reply
}

// Deliver hands a time response to the active run. Responses for probes the
// active run did not send are dropped.
func (e *Estimator) Deliver(probeID string, serverInstant time.Time) {
	msg := responseMsg{probeID: probeID, serverInstant: serverInstant, receivedAt: e.clock.Now()}
	select {
	case e.inbox <- msg:
	case <-e.done:
	}
}

// Abandon drops the active run and every queued run without touching the estimate
func (e *Estimator) Abandon() {
	select {
	case e.inbox <- abandonMsg{}:
	case <-e.done:
	}
}

// queueStatus reads the run queue through the inbox, after every message sent before it
func (e *Estimator) queueStatus(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	select {
	case e.inbox <- statusMsg{reply: reply}:
	case <-e.done:
		return Status{}, ErrAbandoned
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-e.done:
		return Status{}, ErrAbandoned
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Run is the estimator's event loop
func (e *Estimator) Run(ctx context.Context) {
	defer close(e.done)
	defer e.abandonAll()

	for {
		var nextSend, timeout, cooldown <-chan time.Time
		if e.active != nil {
			nextSend = timerChan(e.active.nextSend)
			timeout = timerChan(e.active.timeout)
		}
		cooldown = timerChan(e.cooldown)

		select {
		case <-ctx.Done():
			return

		case msg := <-e.inbox:
			switch msg := msg.(type) {
			case calibrateMsg:
				e.queue = append(e.queue, msg.reply)
				e.maybeStart(ctx)
			case responseMsg:
				e.handleResponse(msg)
			case abandonMsg:
				e.abandonAll()
			case statusMsg:
				msg.reply <- e.status()
			}

		case <-nextSend:
			e.active.nextSend = nil
			e.sendProbe(ctx)

		case <-timeout:
			e.active.timeout = nil
			e.finish(RunTimedOut)

		case <-cooldown:
			e.cooldown = nil
			e.maybeStart(ctx)
		}
	}
}

func timerChan(t clockwork.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}

func (e *Estimator) maybeStart(ctx context.Context) {
	if e.active != nil || e.cooldown != nil || len(e.queue) == 0 {
		return
	}

	reply := e.queue[0]
	e.queue = e.queue[1:]

	e.active = &run{
		id:      uuid.NewString(),
		reply:   reply,
		pending: make(map[string]Probe, e.config.Probes),
		timeout: e.clock.NewTimer(e.config.RunTimeout),
	}

	log.Debug().
		Str("run_id", e.active.id).
		Int("queued", len(e.queue)).
		Msg("calibration run started")

	e.sendProbe(ctx)
}

func (e *Estimator) sendProbe(ctx context.Context) {
	r := e.active
	r.seq++
	probe := Probe{
		RunID:   r.id,
		ProbeID: fmt.Sprintf("%s/%d", r.id, r.seq),
		Seq:     r.seq,
		SentAt:  e.clock.Now(),
	}
	r.pending[probe.ProbeID] = probe

	if err := e.prober.SendProbe(ctx, probe); err != nil {
		delete(r.pending, probe.ProbeID)
		log.Warn().
			Err(err).
			Str("run_id", r.id).
			Int("seq", probe.Seq).
			Msg("failed to send time probe")
	}

	if r.seq < e.config.Probes {
		r.nextSend = e.clock.NewTimer(e.config.ProbeInterval)
	}
}

func (e *Estimator) handleResponse(msg responseMsg) {
	if e.active == nil {
		log.Debug().Str("probe_id", msg.probeID).Msg("dropping time response, no active run")
		return
	}
	probe, ok := e.active.pending[msg.probeID]
	if !ok {
		log.Debug().
			Str("probe_id", msg.probeID).
			Str("run_id", e.active.id).
			Msg("dropping stale time response")
		return
	}
	delete(e.active.pending, msg.probeID)

	e.active.samples = append(e.active.samples, Sample{
		ServerInstant: msg.serverInstant,
		SentAt:        probe.SentAt,
		ReceivedAt:    msg.receivedAt,
	})

	if len(e.active.samples) >= e.config.Probes {
		e.finish(RunCompleted)
	}
}

// finish ends the active run. The estimate is replaced only when the run
// collected at least one sample.
func (e *Estimator) finish(status RunStatus) {
	r := e.active
	e.active = nil
	stopTimer(r.timeout)
	stopTimer(r.nextSend)

	estimate := e.Estimate()
	if len(r.samples) > 0 && status != RunAbandoned {
		estimate = Estimate{
			Value:      Mean(r.samples),
			Samples:    len(r.samples),
			RunID:      r.id,
			UpdatedAt:  e.clock.Now(),
			Calibrated: true,
		}
		e.mu.Lock()
		e.estimate = estimate
		e.mu.Unlock()
	}

	result := RunResult{
		RunID:    r.id,
		Status:   status,
		Samples:  len(r.samples),
		Estimate: estimate,
	}
	switch status {
	case RunTimedOut:
		result.Err = ErrCalibrationTimeout
	case RunAbandoned:
		result.Err = ErrAbandoned
	}

	log.Info().
		Str("run_id", r.id).
		Str("status", string(status)).
		Int("samples", len(r.samples)).
		Dur("offset", estimate.Value).
		Msg("calibration run finished")

	// The next queued run waits out the cool-down
	if len(e.queue) > 0 && status != RunAbandoned {
		e.cooldown = e.clock.NewTimer(e.config.Cooldown)
	}

	r.reply <- result
}

func (e *Estimator) abandonAll() {
	if e.active != nil {
		e.finish(RunAbandoned)
	}
	stopTimer(e.cooldown)
	e.cooldown = nil

	for _, reply := range e.queue {
		reply <- RunResult{Status: RunAbandoned, Estimate: e.Estimate(), Err: ErrAbandoned}
	}
	e.queue = nil
}

func (e *Estimator) status() Status {
	s := Status{Queued: len(e.queue)}
	if e.active != nil {
		s.Active = true
		s.RunID = e.active.id
		s.Samples = len(e.active.samples)
	}
	return s
}

func stopTimer(t clockwork.Timer) {
	if t != nil {
		t.Stop()
	}
}
