package session

import (
	"context"
	"strings"

	"github.com/mcdev12/syncplay/go/internal/events"
	"github.com/mcdev12/syncplay/go/internal/membership"
)

func (c *Coordinator) submit(ctx context.Context, cmd command) error {
	select {
	case c.cmds <- cmd:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, c *Coordinator, reply chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-c.done:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Join registers a participant. Late joiners receive the round in progress.
func (c *Coordinator) Join(ctx context.Context, participantID string) (membership.Participant, error) {
	reply := make(chan membership.Participant, 1)
	if err := c.submit(ctx, joinCmd{participantID: participantID, reply: reply}); err != nil {
		return membership.Participant{}, err
	}
	return await(ctx, c, reply)
}

// Leave removes a participant
func (c *Coordinator) Leave(ctx context.Context, participantID string) error {
	return c.submit(ctx, leaveCmd{participantID: participantID})
}

// RequestStart schedules a new round, or re-delivers the current one to the
// requester when a round is already in progress. requester may be empty.
func (c *Coordinator) RequestStart(ctx context.Context, requester string) (Session, error) {
	reading := c.timeSource.Now(ctx)
	reply := make(chan Session, 1)
	if err := c.submit(ctx, startCmd{requester: requester, reading: reading, reply: reply}); err != nil {
		return Session{}, err
	}
	return await(ctx, c, reply)
}

// SelectSong sets the song for the next rounds and returns its reference
func (c *Coordinator) SelectSong(ctx context.Context, song string) (string, error) {
	song = strings.TrimSpace(song)
	if song == "" {
		return "", ErrEmptySong
	}
	reply := make(chan string, 1)
	if err := c.submit(ctx, selectSongCmd{song: song, reply: reply}); err != nil {
		return "", err
	}
	return await(ctx, c, reply)
}

// SongEnded releases a held session. roundID may be empty.
func (c *Coordinator) SongEnded(ctx context.Context, roundID string) error {
	return c.submit(ctx, songEndedCmd{roundID: roundID})
}

// Reset cancels any countdown and returns the session to IDLE
func (c *Coordinator) Reset(ctx context.Context) (Session, error) {
	reply := make(chan Session, 1)
	if err := c.submit(ctx, resetCmd{reply: reply}); err != nil {
		return Session{}, err
	}
	return await(ctx, c, reply)
}

// ReportPlayback records a client's playback_fired report
func (c *Coordinator) ReportPlayback(ctx context.Context, participantID string, report events.PlaybackFiredPayload) error {
	return c.submit(ctx, playbackFiredCmd{participantID: participantID, report: report})
}

// State returns a copy of the session and participant list
func (c *Coordinator) State(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	if err := c.submit(ctx, stateCmd{reply: reply}); err != nil {
		return State{}, err
	}
	return await(ctx, c, reply)
}
