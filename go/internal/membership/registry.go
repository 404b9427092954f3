package membership

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/syncplay/go/internal/events"
	"github.com/rs/zerolog/log"
)

// Participant is one connected client
type Participant struct {
	ID       string    `json:"id"`
	JoinedAt time.Time `json:"joined_at"`
}

// Broadcaster delivers an event to every connected client
type Broadcaster interface {
	Broadcast(event *events.Event)
}

// Registry tracks connected participants and announces every change with a full snapshot
type Registry struct {
	mu           sync.RWMutex
	participants map[string]Participant
	broadcaster  Broadcaster
	clock        clockwork.Clock
}

func NewRegistry(broadcaster Broadcaster, clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{
		participants: make(map[string]Participant),
		broadcaster:  broadcaster,
		clock:        clock,
	}
}

// Join adds a participant and broadcasts the new snapshot. Joining twice is a no-op
// apart from the rebroadcast.
func (r *Registry) Join(id string) Participant {
	r.mu.Lock()
	p, exists := r.participants[id]
	if !exists {
		p = Participant{ID: id, JoinedAt: r.clock.Now()}
		r.participants[id] = p
	}
	count := len(r.participants)
	r.mu.Unlock()

	log.Info().
		Str("participant_id", id).
		Int("participants", count).
		Msg("participant joined")

	r.BroadcastSnapshot()
	return p
}

// Leave removes a participant and broadcasts the new snapshot
func (r *Registry) Leave(id string) bool {
	r.mu.Lock()
	_, exists := r.participants[id]
	delete(r.participants, id)
	count := len(r.participants)
	r.mu.Unlock()

	if !exists {
		return false
	}

	log.Info().
		Str("participant_id", id).
		Int("participants", count).
		Msg("participant left")

	r.BroadcastSnapshot()
	return true
}

// Snapshot returns the participant ids. Sorted for stable output only.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.participants))
	for id := range r.participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of connected participants
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// BroadcastSnapshot sends the full participant list to everyone
func (r *Registry) BroadcastSnapshot() {
	ids := r.Snapshot()
	r.broadcaster.Broadcast(events.MustNew(events.EventTypeMembershipSnapshot, events.MembershipSnapshotPayload{
		Participants: ids,
		Count:        len(ids),
	}))
}
