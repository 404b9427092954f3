package listener

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/mcdev12/syncplay/go/internal/offset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminal(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	term := NewTerminal(&out)

	term.Status(StatusConnected)
	term.Calibrated(offset.RunResult{Status: offset.RunCompleted, Samples: 3, Estimate: offset.Estimate{Value: 200 * time.Millisecond}})
	term.Countdown("r1", 1500*time.Millisecond)
	require.NoError(t, term.PlayAt(time.Date(2026, 1, 1, 12, 0, 3, 200e6, time.UTC), "song.mp3"))
	term.Cancel()

	text := out.String()
	assert.Contains(t, text, "connected")
	assert.Contains(t, text, "clock offset 200ms (3 samples)")
	assert.Contains(t, text, "starting in   1.5s\n")
	assert.Contains(t, text, "▶ playing song.mp3 at 12:00:03.200")
	assert.Contains(t, text, "■ stopped song.mp3")
}

func TestTerminalCancelWithoutPlayback(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	term := NewTerminal(&out)

	term.Cancel()
	assert.Contains(t, out.String(), "round cancelled")
}
