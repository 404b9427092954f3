package timesource

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
	BlockUntilContext(ctx context.Context, n int) error
}

// autoAdvance moves the fake clock forward whenever something waits on it,
// so backoff waits between passes complete without real sleeping.
func autoAdvance(t *testing.T, clock fakeClock, step time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if err := clock.BlockUntilContext(ctx, 1); err != nil {
				return
			}
			clock.Advance(step)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func failing(name string, calls *atomic.Int32) Reference {
	return NewFuncReference(name, func(ctx context.Context) (time.Time, error) {
		calls.Add(1)
		return time.Time{}, errors.New("connection refused")
	})
}

func fixed(name string, at time.Time, calls *atomic.Int32) Reference {
	return NewFuncReference(name, func(ctx context.Context) (time.Time, error) {
		calls.Add(1)
		return at, nil
	})
}

func testConfig() Config {
	return Config{
		AttemptTimeout: 50 * time.Millisecond,
		MaxPasses:      3,
		BaseDelay:      100 * time.Millisecond,
	}
}

func TestNowUsesReferencesInRankOrder(t *testing.T) {
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	var first, second, third atomic.Int32

	src := NewSource([]Reference{
		failing("first", &first),
		fixed("second", at, &second),
		fixed("third", at.Add(time.Hour), &third),
	}, testConfig())

	reading := src.Now(context.Background())

	assert.Equal(t, "second", reading.Origin)
	assert.True(t, at.Equal(reading.Instant))
	assert.False(t, reading.Degraded)
	assert.NoError(t, reading.Err)
	assert.Equal(t, 2, reading.Attempts)
	assert.Equal(t, int32(1), first.Load())
	assert.Equal(t, int32(1), second.Load())
	assert.Equal(t, int32(0), third.Load())
}

func TestNowQueriesOnEveryCall(t *testing.T) {
	var calls atomic.Int32
	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	ref := NewFuncReference("counter", func(ctx context.Context) (time.Time, error) {
		n := calls.Add(1)
		return base.Add(time.Duration(n) * time.Millisecond), nil
	})
	src := NewSource([]Reference{ref}, testConfig())

	r1 := src.Now(context.Background())
	r2 := src.Now(context.Background())

	assert.Equal(t, int32(2), calls.Load())
	assert.True(t, r2.Instant.After(r1.Instant))
}

func TestNowFallsBackToLocalClockWhenExhausted(t *testing.T) {
	clock := clockwork.NewFakeClock()
	autoAdvance(t, clock, time.Second)

	var a, b atomic.Int32
	src := NewSource([]Reference{failing("a", &a), failing("b", &b)}, testConfig(), WithClock(clock))

	reading := src.Now(context.Background())

	assert.True(t, reading.Degraded)
	assert.Equal(t, LocalOrigin, reading.Origin)
	assert.False(t, reading.Instant.IsZero())
	assert.Equal(t, 6, reading.Attempts)
	assert.Equal(t, int32(3), a.Load(), "each reference is tried once per pass")
	assert.Equal(t, int32(3), b.Load())
	assert.ErrorIs(t, reading.Err, ErrExhausted)
	assert.ErrorIs(t, reading.Err, ErrUnreachable)
}

func TestNowBacksOffDoublingBetweenPasses(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var calls atomic.Int32
	cfg := testConfig()
	cfg.BaseDelay = 200 * time.Millisecond
	src := NewSource([]Reference{failing("down", &calls)}, cfg, WithClock(clock))

	done := make(chan Reading, 1)
	go func() { done <- src.Now(context.Background()) }()

	// first pass, then waiting BaseDelay
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, int32(1), calls.Load())
	clock.Advance(199 * time.Millisecond)
	assert.Never(t, func() bool { return calls.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	// second pass, then waiting twice BaseDelay
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(399 * time.Millisecond)
	assert.Never(t, func() bool { return calls.Load() > 2 }, 50*time.Millisecond, 5*time.Millisecond)
	clock.Advance(time.Millisecond)

	select {
	case reading := <-done:
		assert.Equal(t, int32(3), calls.Load())
		assert.True(t, reading.Degraded)
		assert.Equal(t, LocalOrigin, reading.Origin)
	case <-ctx.Done():
		t.Fatal("Now did not return after the last pass")
	}
}

func TestNowRetriesUntilReferenceRecovers(t *testing.T) {
	clock := clockwork.NewFakeClock()
	autoAdvance(t, clock, time.Second)

	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	var calls atomic.Int32
	flaky := NewFuncReference("flaky", func(ctx context.Context) (time.Time, error) {
		if calls.Add(1) < 3 {
			return time.Time{}, errors.New("503")
		}
		return at, nil
	})

	reading := NewSource([]Reference{flaky}, testConfig(), WithClock(clock)).Now(context.Background())

	assert.False(t, reading.Degraded)
	assert.Equal(t, "flaky", reading.Origin)
	assert.True(t, at.Equal(reading.Instant))
	assert.Equal(t, 3, reading.Attempts)
}

func TestNowBoundsHangingReference(t *testing.T) {
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	hanging := NewFuncReference("hanging", func(ctx context.Context) (time.Time, error) {
		<-block // ignores its context on purpose
		return time.Time{}, nil
	})
	var calls atomic.Int32

	start := time.Now()
	reading := NewSource([]Reference{hanging, fixed("backup", at, &calls)}, testConfig()).Now(context.Background())

	assert.Equal(t, "backup", reading.Origin)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestTimedReferenceOverridesAttemptTimeout(t *testing.T) {
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	slow := NewFuncReference("slow", func(ctx context.Context) (time.Time, error) {
		select {
		case <-time.After(150 * time.Millisecond):
			return at, nil
		case <-ctx.Done():
			return time.Time{}, ctx.Err()
		}
	})
	cfg := testConfig()
	cfg.MaxPasses = 1

	reading := NewSource([]Reference{slow}, cfg).Now(context.Background())
	assert.True(t, reading.Degraded, "50ms source-wide timeout cuts the reference off")
	assert.ErrorIs(t, reading.Err, ErrTimeout)

	timed := Timed(slow, 2*time.Second)
	assert.Equal(t, "slow", timed.Name())
	reading = NewSource([]Reference{timed}, cfg).Now(context.Background())
	assert.False(t, reading.Degraded)
	assert.Equal(t, "slow", reading.Origin)
	assert.True(t, at.Equal(reading.Instant))

	assert.Same(t, slow, Timed(slow, 0))
}

func TestNowWithoutReferencesUsesLocalClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reading := NewSource(nil, testConfig(), WithClock(clock)).Now(context.Background())

	assert.Equal(t, LocalOrigin, reading.Origin)
	assert.False(t, reading.Degraded)
	assert.True(t, clock.Now().Equal(reading.Instant))
}

func TestNowWithCancelledContextFallsBackImmediately(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	ref := NewFuncReference("ctx-aware", func(ctx context.Context) (time.Time, error) {
		calls.Add(1)
		<-ctx.Done()
		return time.Time{}, ctx.Err()
	})

	reading := NewSource([]Reference{ref}, testConfig(), WithClock(clock)).Now(ctx)

	assert.True(t, reading.Degraded)
	assert.Equal(t, LocalOrigin, reading.Origin)
	assert.LessOrEqual(t, calls.Load(), int32(1))
}

func TestClassify(t *testing.T) {
	err := classify("ref", context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "ref")

	err = classify("ref", errors.New("dial tcp: refused"))
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestReferencesListedInRankOrder(t *testing.T) {
	var c atomic.Int32
	src := NewSource([]Reference{failing("x", &c), failing("y", &c)}, DefaultConfig())
	require.Equal(t, []string{"x", "y"}, src.References())
}
