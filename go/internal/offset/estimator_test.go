package offset

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

// scriptedProber answers probes as a coordinator whose clock is behind the
// local one by offset, with zero latency. Silent probers never answer.
type scriptedProber struct {
	mu        sync.Mutex
	estimator *Estimator
	offset    time.Duration
	silent    bool
	answerMax int // answer at most this many probes when > 0
	probes    []Probe
	failNext  bool
}

func (p *scriptedProber) SendProbe(ctx context.Context, probe Probe) error {
	p.mu.Lock()
	p.probes = append(p.probes, probe)
	if p.failNext {
		p.failNext = false
		p.mu.Unlock()
		return errors.New("socket closed")
	}
	answer := !p.silent && (p.answerMax == 0 || len(p.probes) <= p.answerMax)
	offset := p.offset
	p.mu.Unlock()

	if answer {
		p.estimator.Deliver(probe.ProbeID, probe.SentAt.Add(-offset))
	}
	return nil
}

func (p *scriptedProber) sent() []Probe {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Probe(nil), p.probes...)
}

func (p *scriptedProber) setSilent(silent bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.silent = silent
}

type harness struct {
	ctx       context.Context
	clock     *clockwork.FakeClock
	prober    *scriptedProber
	estimator *Estimator
}

func newHarness(t *testing.T, cfg Config, prober *scriptedProber) *harness {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	clock := clockwork.NewFakeClockAt(epoch)
	e := NewEstimator(cfg, prober, WithClock(clock))
	prober.estimator = e
	go e.Run(ctx)

	return &harness{ctx: ctx, clock: clock, prober: prober, estimator: e}
}

// step waits for n pending timers, lets the estimator drain its inbox and
// advances the clock
func (h *harness) step(t *testing.T, n int, d time.Duration) {
	t.Helper()
	require.NoError(t, h.clock.BlockUntilContext(h.ctx, n))
	_, err := h.estimator.queueStatus(h.ctx)
	require.NoError(t, err)
	h.clock.Advance(d)
}

func wait(t *testing.T, ch <-chan RunResult) RunResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("calibration run did not finish")
		return RunResult{}
	}
}

func TestSampleOffsetUsesMidpoint(t *testing.T) {
	s := Sample{
		SentAt:        epoch,
		ReceivedAt:    epoch.Add(100 * time.Millisecond),
		ServerInstant: epoch.Add(50 * time.Millisecond).Add(-200 * time.Millisecond),
	}
	assert.Equal(t, 100*time.Millisecond, s.RoundTrip())
	assert.Equal(t, 200*time.Millisecond, s.Offset())
}

func TestMeanIsExactWithoutJitter(t *testing.T) {
	for _, offset := range []time.Duration{0, 200 * time.Millisecond, -1350 * time.Millisecond, 7 * time.Hour} {
		var samples []Sample
		for i := 0; i < 5; i++ {
			sent := epoch.Add(time.Duration(i) * time.Second)
			rtt := time.Duration(40+i*10) * time.Millisecond
			samples = append(samples, Sample{
				SentAt:        sent,
				ReceivedAt:    sent.Add(rtt),
				ServerInstant: sent.Add(rtt / 2).Add(-offset),
			})
		}
		assert.Equal(t, offset, Mean(samples), "offset %s", offset)
	}
	assert.Equal(t, time.Duration(0), Mean(nil))
}

func TestCalibrateCompletesWithAllProbes(t *testing.T) {
	h := newHarness(t, DefaultConfig(), &scriptedProber{offset: 200 * time.Millisecond})

	result := h.estimator.Calibrate()
	h.step(t, 2, time.Second)
	h.step(t, 2, time.Second)

	r := wait(t, result)
	assert.Equal(t, RunCompleted, r.Status)
	assert.NoError(t, r.Err)
	assert.Equal(t, 3, r.Samples)
	assert.Equal(t, 200*time.Millisecond, r.Estimate.Value)
	assert.Equal(t, r.Estimate, h.estimator.Estimate())

	probes := h.prober.sent()
	require.Len(t, probes, 3)
	for i, p := range probes {
		assert.Equal(t, r.RunID, p.RunID)
		assert.Equal(t, i+1, p.Seq)
		assert.Equal(t, epoch.Add(time.Duration(i)*time.Second), p.SentAt)
	}
}

func TestTimeoutWithoutSamplesKeepsEstimate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Probes = 1
	h := newHarness(t, cfg, &scriptedProber{offset: -75 * time.Millisecond})

	first := wait(t, h.estimator.Calibrate())
	require.Equal(t, RunCompleted, first.Status)
	before := h.estimator.Estimate()
	assert.Equal(t, -75*time.Millisecond, before.Value)

	h.prober.setSilent(true)
	result := h.estimator.Calibrate()
	h.step(t, 1, cfg.RunTimeout)

	r := wait(t, result)
	assert.Equal(t, RunTimedOut, r.Status)
	assert.ErrorIs(t, r.Err, ErrCalibrationTimeout)
	assert.Equal(t, 0, r.Samples)
	assert.Equal(t, before, r.Estimate)
	assert.Equal(t, before, h.estimator.Estimate())
}

func TestTimeoutWithPartialSamplesUsesThem(t *testing.T) {
	h := newHarness(t, DefaultConfig(), &scriptedProber{offset: 40 * time.Millisecond, answerMax: 1})

	result := h.estimator.Calibrate()
	h.step(t, 2, 10*time.Second)

	r := wait(t, result)
	assert.Equal(t, RunTimedOut, r.Status)
	assert.Equal(t, 1, r.Samples)
	assert.Equal(t, 40*time.Millisecond, h.estimator.Estimate().Value)
}

func TestConcurrentCalibrationsAreQueued(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Probes = 2
	h := newHarness(t, cfg, &scriptedProber{offset: 10 * time.Millisecond})

	r1 := h.estimator.Calibrate()
	r2 := h.estimator.Calibrate()
	r3 := h.estimator.Calibrate()

	h.step(t, 2, cfg.ProbeInterval)
	first := wait(t, r1)
	assert.Equal(t, RunCompleted, first.Status)

	select {
	case <-r2:
		t.Fatal("second run finished before the cool-down")
	default:
	}
	status, err := h.estimator.queueStatus(h.ctx)
	require.NoError(t, err)
	assert.False(t, status.Active)
	assert.Equal(t, 2, status.Queued)

	h.step(t, 1, cfg.Cooldown)
	h.step(t, 2, cfg.ProbeInterval)
	second := wait(t, r2)

	h.step(t, 1, cfg.Cooldown)
	h.step(t, 2, cfg.ProbeInterval)
	third := wait(t, r3)

	// Probes of one run never interleave with another's
	var order []string
	for _, p := range h.prober.sent() {
		order = append(order, p.RunID)
	}
	assert.Equal(t, []string{first.RunID, first.RunID, second.RunID, second.RunID, third.RunID, third.RunID}, order)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.NotEqual(t, second.RunID, third.RunID)
}

func TestStaleResponseIsIgnored(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Probes = 1
	h := newHarness(t, cfg, &scriptedProber{silent: true})

	result := h.estimator.Calibrate()
	h.step(t, 1, cfg.RunTimeout)
	r := wait(t, result)
	require.Equal(t, RunTimedOut, r.Status)

	probes := h.prober.sent()
	require.Len(t, probes, 1)
	h.estimator.Deliver(probes[0].ProbeID, epoch.Add(-time.Hour))

	status, err := h.estimator.queueStatus(h.ctx)
	require.NoError(t, err)
	assert.False(t, status.Active)
	assert.False(t, h.estimator.Estimate().Calibrated)
	assert.Equal(t, time.Duration(0), h.estimator.Estimate().Value)
}

func TestResponseFromEarlierRunIsIgnored(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Probes = 1
	cfg.Cooldown = 0
	h := newHarness(t, cfg, &scriptedProber{silent: true})

	first := h.estimator.Calibrate()
	h.step(t, 1, cfg.RunTimeout)
	wait(t, first)
	stale := h.prober.sent()[0]

	second := h.estimator.Calibrate()
	require.Eventually(t, func() bool { return len(h.prober.sent()) == 2 }, time.Second, 5*time.Millisecond)

	h.estimator.Deliver(stale.ProbeID, epoch.Add(-time.Hour))
	status, err := h.estimator.queueStatus(h.ctx)
	require.NoError(t, err)
	assert.True(t, status.Active)
	assert.Equal(t, 0, status.Samples)

	current := h.prober.sent()[1]
	h.estimator.Deliver(current.ProbeID, current.SentAt.Add(-30*time.Millisecond))
	r := wait(t, second)
	assert.Equal(t, RunCompleted, r.Status)
	assert.Equal(t, 30*time.Millisecond, r.Estimate.Value)
}

func TestAbandonDropsActiveAndQueuedRuns(t *testing.T) {
	h := newHarness(t, DefaultConfig(), &scriptedProber{silent: true})

	r1 := h.estimator.Calibrate()
	r2 := h.estimator.Calibrate()
	h.estimator.Abandon()

	for _, ch := range []<-chan RunResult{r1, r2} {
		r := wait(t, ch)
		assert.Equal(t, RunAbandoned, r.Status)
		assert.ErrorIs(t, r.Err, ErrAbandoned)
	}
	assert.False(t, h.estimator.Estimate().Calibrated)

	status, err := h.estimator.queueStatus(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, Status{}, status)
}

func TestFailedProbeSendDoesNotCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Probes = 2
	h := newHarness(t, cfg, &scriptedProber{offset: 5 * time.Millisecond, failNext: true})

	result := h.estimator.Calibrate()
	h.step(t, 2, cfg.ProbeInterval)
	h.step(t, 1, cfg.RunTimeout)

	r := wait(t, result)
	assert.Equal(t, RunTimedOut, r.Status)
	assert.Equal(t, 1, r.Samples)
	assert.Equal(t, 5*time.Millisecond, r.Estimate.Value)
}

func TestEstimateToLocal(t *testing.T) {
	e := Estimate{Value: 200 * time.Millisecond}
	assert.Equal(t, epoch.Add(200*time.Millisecond), e.ToLocal(epoch))
}
