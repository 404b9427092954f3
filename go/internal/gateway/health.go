package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/mcdev12/syncplay/go/internal/publish"
)

type HealthStatus struct {
	Healthy            bool           `json:"healthy"`
	Connections        int            `json:"connections"`
	SessionStatus      string         `json:"session_status,omitempty"`
	CoordinatorRunning bool           `json:"coordinator_running"`
	NATSConnected      *bool          `json:"nats_connected,omitempty"`
	Publish            *publish.Stats `json:"publish,omitempty"`
	References         []string       `json:"references"`
	Errors             []string       `json:"errors"`
}

// ConnectivityChecker reports whether an outbound dependency is reachable.
// Satisfied by *publish.JetStreamPublisher.
type ConnectivityChecker interface {
	Connected() bool
}

// StatsProvider is satisfied by *publish.CountingMetrics
type StatsProvider interface {
	Stats() publish.Stats
}

// ReferenceLister is satisfied by *timesource.Source
type ReferenceLister interface {
	References() []string
}

type HealthChecker struct {
	connections *ConnectionManager
	coordinator Coordinator
	nats        ConnectivityChecker
	stats       StatsProvider
	references  ReferenceLister
	timeout     time.Duration
}

func NewHealthChecker(connections *ConnectionManager, coordinator Coordinator) *HealthChecker {
	return &HealthChecker{
		connections: connections,
		coordinator: coordinator,
		timeout:     2 * time.Second,
	}
}

func (h *HealthChecker) WithNATS(nats ConnectivityChecker) *HealthChecker {
	h.nats = nats
	return h
}

func (h *HealthChecker) WithStats(stats StatsProvider) *HealthChecker {
	h.stats = stats
	return h
}

func (h *HealthChecker) WithReferences(references ReferenceLister) *HealthChecker {
	h.references = references
	return h
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy:     true,
		Connections: h.connections.Count(),
		References:  []string{},
		Errors:      []string{},
	}

	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	state, err := h.coordinator.State(checkCtx)
	if err != nil {
		status.Healthy = false
		status.Errors = append(status.Errors, "session coordinator not responding: "+err.Error())
	} else {
		status.CoordinatorRunning = true
		status.SessionStatus = string(state.Session.Status)
	}

	// NATS only degrades observability, never playback
	if h.nats != nil {
		connected := h.nats.Connected()
		status.NATSConnected = &connected
		if !connected {
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	if h.stats != nil {
		stats := h.stats.Stats()
		status.Publish = &stats
	}

	if h.references != nil {
		status.References = h.references.References()
	}

	return status
}

// ServeHTTP handles GET /health
func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}
