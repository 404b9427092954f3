package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcdev12/syncplay/go/internal/session"
	"github.com/rs/zerolog/log"
)

// StateHandler exposes the session over plain HTTP
type StateHandler struct {
	coordinator Coordinator
}

func NewStateHandler(coordinator Coordinator) *StateHandler {
	return &StateHandler{coordinator: coordinator}
}

// HandleGetState handles GET /api/session
func (h *StateHandler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state, err := h.coordinator.State(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to get session state")
		http.Error(w, "Failed to get session state", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// HandleStart handles POST /api/session/start
func (h *StateHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s, err := h.coordinator.RequestStart(r.Context(), "")
	if err != nil {
		log.Error().Err(err).Msg("failed to request start")
		http.Error(w, "Failed to request start", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, s)
}

// HandleReset handles POST /api/session/reset
func (h *StateHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s, err := h.coordinator.Reset(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to reset session")
		http.Error(w, "Failed to reset session", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type selectSongRequest struct {
	Song string `json:"song"`
}

// HandleSelectSong handles POST /api/session/song
func (h *StateHandler) HandleSelectSong(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req selectSongRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ref, err := h.coordinator.SelectSong(r.Context(), req.Song)
	if errors.Is(err, session.ErrEmptySong) {
		http.Error(w, "song is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to select song")
		http.Error(w, "Failed to select song", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"song_ref": ref})
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/session", h.HandleGetState)
	mux.HandleFunc("/api/session/start", h.HandleStart)
	mux.HandleFunc("/api/session/reset", h.HandleReset)
	mux.HandleFunc("/api/session/song", h.HandleSelectSong)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
