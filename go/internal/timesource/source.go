package timesource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var (
	// ErrTimeout is attached to a reference attempt that did not answer in time
	ErrTimeout = errors.New("time reference timed out")
	// ErrUnreachable is attached to a reference attempt that failed outright
	ErrUnreachable = errors.New("time reference unreachable")
	// ErrExhausted means every reference failed on every pass; Now falls back to the local clock
	ErrExhausted = errors.New("time references exhausted")
)

// LocalOrigin labels readings taken from the local process clock
const LocalOrigin = "local"

// Reference is an external authority for the current instant
type Reference interface {
	Name() string
	Query(ctx context.Context) (time.Time, error)
}

// Timed bounds every query to ref by timeout instead of Config.AttemptTimeout
func Timed(ref Reference, timeout time.Duration) Reference {
	if timeout <= 0 {
		return ref
	}
	return &timedReference{Reference: ref, timeout: timeout}
}

type timedReference struct {
	Reference
	timeout time.Duration
}

// Reading is one authoritative-time answer. It is never cached.
type Reading struct {
	Instant  time.Time
	Origin   string
	Degraded bool  // true when every reference failed and the local clock was used
	Attempts int   // reference queries made to produce this reading
	Err      error // why the reading is degraded, nil otherwise
}

// Config bounds how hard Now tries before falling back
type Config struct {
	AttemptTimeout time.Duration // per reference query, unless the reference is Timed
	MaxPasses      int           // full passes over the reference list
	BaseDelay      time.Duration // backoff before the second pass, doubled after each pass
}

// DefaultConfig returns the default retry policy
func DefaultConfig() Config {
	return Config{
		AttemptTimeout: time.Second,
		MaxPasses:      3,
		BaseDelay:      200 * time.Millisecond,
	}
}

// Source produces authoritative timestamps from a ranked list of references
type Source struct {
	references []Reference
	config     Config
	clock      clockwork.Clock
}

// Option configures a Source
type Option func(*Source)

// WithClock replaces the local clock used for fallback readings and backoff waits
func WithClock(clock clockwork.Clock) Option {
	return func(s *Source) {
		s.clock = clock
	}
}

// NewSource creates a time source that queries references in the given order
func NewSource(references []Reference, config Config, opts ...Option) *Source {
	if config.MaxPasses < 1 {
		config.MaxPasses = 1
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = DefaultConfig().AttemptTimeout
	}

	s := &Source{
		references: references,
		config:     config,
		clock:      clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// References returns the reference names in rank order
func (s *Source) References() []string {
	names := make([]string, 0, len(s.references))
	for _, ref := range s.references {
		names = append(names, ref.Name())
	}
	return names
}

// Now returns a fresh authoritative reading. It never fails: when every reference
// is exhausted the local clock is returned with Degraded set.
func (s *Source) Now(ctx context.Context) Reading {
	if len(s.references) == 0 {
		return s.local(0, nil)
	}

	var (
		reading  Reading
		attempts int
	)

	operation := func() error {
		r, err := s.pass(ctx, &attempts)
		if err != nil {
			return err
		}
		reading = r
		return nil
	}

	notify := func(err error, wait time.Duration) {
		log.Warn().
			Err(err).
			Int("attempts", attempts).
			Dur("backoff", wait).
			Msg("all time references failed, retrying pass")
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(s.config.MaxPasses-1)), ctx)
	if err := backoff.RetryNotifyWithTimer(operation, policy, notify, &clockTimer{clock: s.clock}); err != nil {
		return s.local(attempts, err)
	}

	reading.Attempts = attempts
	return reading
}

// pass tries every reference once, in rank order
func (s *Source) pass(ctx context.Context, attempts *int) (Reading, error) {
	var errs []error
	for _, ref := range s.references {
		*attempts++
		instant, err := s.query(ctx, ref)
		if err == nil {
			return Reading{Instant: instant, Origin: ref.Name()}, nil
		}

		log.Debug().
			Err(err).
			Str("reference", ref.Name()).
			Msg("time reference attempt failed")
		errs = append(errs, err)

		if ctx.Err() != nil {
			return Reading{}, backoff.Permanent(ctx.Err())
		}
	}
	return Reading{}, fmt.Errorf("%w: %w", ErrExhausted, errors.Join(errs...))
}

type queryResult struct {
	instant time.Time
	err     error
}

// query runs one attempt under its own timeout. The reference runs in its own
// goroutine so one that ignores its context cannot hold up the caller.
func (s *Source) query(ctx context.Context, ref Reference) (time.Time, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.attemptTimeout(ref))
	defer cancel()

	resultCh := make(chan queryResult, 1)
	go func() {
		instant, err := ref.Query(attemptCtx)
		resultCh <- queryResult{instant: instant, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return time.Time{}, classify(ref.Name(), res.err)
		}
		if res.instant.IsZero() {
			return time.Time{}, fmt.Errorf("%s: %w: zero instant", ref.Name(), ErrUnreachable)
		}
		return res.instant, nil
	case <-attemptCtx.Done():
		return time.Time{}, classify(ref.Name(), attemptCtx.Err())
	}
}

func (s *Source) attemptTimeout(ref Reference) time.Duration {
	if timed, ok := ref.(*timedReference); ok {
		return timed.timeout
	}
	return s.config.AttemptTimeout
}

func classify(name string, err error) error {
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnreachable) {
		return fmt.Errorf("%s: %w", name, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", name, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %v", name, ErrUnreachable, err)
}

func (s *Source) local(attempts int, cause error) Reading {
	reading := Reading{
		Instant:  s.clock.Now(),
		Origin:   LocalOrigin,
		Attempts: attempts,
	}
	if len(s.references) > 0 {
		reading.Degraded = true
		reading.Err = cause
		log.Warn().
			Err(cause).
			Int("attempts", attempts).
			Msg("time references exhausted, using local clock")
	}
	return reading
}

func (s *Source) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = s.config.BaseDelay << uint(s.config.MaxPasses)
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// clockTimer lets backoff wait on the source's clock
type clockTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	t.timer = t.clock.NewTimer(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.Chan()
}
