package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Service is the coordinator transport: WebSocket connections, the session
// HTTP endpoints and the health check
type Service struct {
	connectionManager *ConnectionManager
	stateHandler      *StateHandler
	health            *HealthChecker
}

// Config holds configuration for the gateway
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService wires the connection manager to the coordinator. The connection
// manager is created first because the coordinator broadcasts through it.
func NewService(connectionManager *ConnectionManager, coordinator Coordinator, timeSource TimeSource) *Service {
	connectionManager.SetHandler(NewSessionHandler(coordinator, timeSource))

	return &Service{
		connectionManager: connectionManager,
		stateHandler:      NewStateHandler(coordinator),
		health:            NewHealthChecker(connectionManager, coordinator),
	}
}

// Health returns the health checker for optional dependency wiring
func (s *Service) Health() *HealthChecker {
	return s.health
}

// Start runs the broadcast loop until the context is cancelled
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting gateway service")
	s.connectionManager.Start(ctx)
	log.Info().Msg("gateway service stopped")
	return nil
}

// HandleConnection handles GET /ws
func (s *Service) HandleConnection(w http.ResponseWriter, r *http.Request) {
	if _, err := s.connectionManager.UpgradeConnection(w, r); err != nil {
		// The upgrader has already written the HTTP error
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats handles GET /ws/stats
func (s *Service) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.connectionManager.GetConnectionStats())
}

// RegisterRoutes registers the gateway HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.HandleConnection)
	mux.HandleFunc("/ws/stats", s.HandleConnectionStats)
	s.stateHandler.RegisterStateRoutes(mux)
	mux.Handle("/health", s.health)
	log.Info().Msg("gateway routes registered")
}
