package listener

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mcdev12/syncplay/go/internal/offset"
	"github.com/mcdev12/syncplay/go/internal/playback"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	bold   = color.New(color.Bold)
)

const clockLayout = "15:04:05.000"

// Terminal prints session activity to a writer. It is both the Display and
// the Player of a headless listener: playback is a line on the terminal.
type Terminal struct {
	mu  sync.Mutex
	out io.Writer

	countdownShown bool
	playing        string
}

func NewTerminal(out io.Writer) *Terminal {
	return &Terminal{out: out}
}

func (t *Terminal) Status(status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endCountdownLine()
	switch status {
	case StatusConnected:
		green.Fprintf(t.out, "✓ connected\n")
	case StatusReconnecting:
		yellow.Fprintf(t.out, "⚠️  reconnecting...\n")
	default:
		red.Fprintf(t.out, "disconnected\n")
	}
}

func (t *Terminal) Welcome(participantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "joined as %s\n", bold.Sprint(participantID))
}

func (t *Terminal) Participants(ids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endCountdownLine()
	fmt.Fprintf(t.out, "%d listening: %s\n", len(ids), strings.Join(ids, ", "))
}

func (t *Terminal) Song(songRef string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endCountdownLine()
	cyan.Fprintf(t.out, "♪ %s\n", songRef)
}

func (t *Terminal) Calibrated(result offset.RunResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endCountdownLine()
	if result.Status == offset.RunTimedOut && result.Samples == 0 {
		yellow.Fprintf(t.out, "⚠️  calibration timed out, keeping offset %s\n", result.Estimate.Value)
		return
	}
	fmt.Fprintf(t.out, "clock offset %s (%d samples)\n", result.Estimate.Value, result.Samples)
}

func (t *Terminal) Scheduled(target playback.Target, decision playback.Decision) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endCountdownLine()
	fmt.Fprintf(t.out, "round %s starts at %s local\n",
		target.RoundID, decision.FireAt.Format(clockLayout))
}

func (t *Terminal) Countdown(roundID string, remaining time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if remaining < 0 {
		remaining = 0
	}
	fmt.Fprintf(t.out, "\r%s %5.1fs", bold.Sprint("starting in"), remaining.Seconds())
	t.countdownShown = true
}

func (t *Terminal) ClearCountdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endCountdownLine()
}

// endCountdownLine finishes an in-place countdown line. Caller holds mu.
func (t *Terminal) endCountdownLine() {
	if t.countdownShown {
		fmt.Fprint(t.out, "\n")
		t.countdownShown = false
	}
}

// PlayAt implements playback.Player
func (t *Terminal) PlayAt(at time.Time, songRef string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endCountdownLine()
	if songRef == "" {
		songRef = "(no song selected)"
	}
	t.playing = songRef
	green.Fprintf(t.out, "▶ playing %s at %s\n", songRef, at.Format(clockLayout))
	return nil
}

// Cancel implements playback.Player
func (t *Terminal) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endCountdownLine()
	if t.playing != "" {
		yellow.Fprintf(t.out, "■ stopped %s\n", t.playing)
		t.playing = ""
		return
	}
	yellow.Fprintf(t.out, "■ round cancelled\n")
}
