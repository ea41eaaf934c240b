package gateway

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for timer streams
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	sessions          SessionProvider
	auth              *Authenticator
}

func NewWebSocketHandler(cm *ConnectionManager, sessions SessionProvider, auth *Authenticator) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		sessions:          sessions,
		auth:              auth,
	}
}

// HandleTimerConnection attaches a tab to the caller's timer session
func (h *WebSocketHandler) HandleTimerConnection(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticate(w, r, h.auth, h.sessions)
	if !ok {
		return
	}

	sess, err := h.sessions.Get(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to open timer session")
		writeError(w, err)
		return
	}

	// the upgrader has already answered the request on failure
	if err := h.connectionManager.UpgradeConnection(w, r, sess); err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID.String()).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.connectionManager.GetConnectionStats())
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/timer", h.HandleTimerConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}
