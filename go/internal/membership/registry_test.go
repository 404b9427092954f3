package membership

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/syncplay/go/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []*events.Event
}

func (b *recordingBroadcaster) Broadcast(event *events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBroadcaster) snapshots(t *testing.T) []events.MembershipSnapshotPayload {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []events.MembershipSnapshotPayload
	for _, e := range b.events {
		require.Equal(t, events.EventTypeMembershipSnapshot, e.Type)
		var p events.MembershipSnapshotPayload
		require.NoError(t, e.Decode(&p))
		out = append(out, p)
	}
	return out
}

func TestJoinAndLeaveBroadcastFullSnapshot(t *testing.T) {
	b := &recordingBroadcaster{}
	clock := clockwork.NewFakeClock()
	r := NewRegistry(b, clock)

	p := r.Join("bob")
	assert.Equal(t, "bob", p.ID)
	assert.True(t, clock.Now().Equal(p.JoinedAt))

	r.Join("alice")
	assert.True(t, r.Leave("bob"))

	snaps := b.snapshots(t)
	require.Len(t, snaps, 3)
	assert.Equal(t, []string{"bob"}, snaps[0].Participants)
	assert.Equal(t, []string{"alice", "bob"}, snaps[1].Participants)
	assert.Equal(t, []string{"alice"}, snaps[2].Participants)
	assert.Equal(t, 1, snaps[2].Count)
}

func TestLeaveUnknownParticipantIsSilent(t *testing.T) {
	b := &recordingBroadcaster{}
	r := NewRegistry(b, nil)

	assert.False(t, r.Leave("ghost"))
	assert.Empty(t, b.snapshots(t))
}

func TestRejoinKeepsOriginalJoinTime(t *testing.T) {
	b := &recordingBroadcaster{}
	clock := clockwork.NewFakeClock()
	r := NewRegistry(b, clock)

	first := r.Join("carol")
	clock.Advance(5 * time.Second)
	again := r.Join("carol")

	assert.Equal(t, first.JoinedAt, again.JoinedAt)
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, []string{"carol"}, r.Snapshot())
}
