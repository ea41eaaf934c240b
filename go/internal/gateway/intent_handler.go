package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/mcdev12/tempo/go/internal/timer"
	"github.com/mcdev12/tempo/go/internal/timer/session"
	"github.com/rs/zerolog/log"
)

var ErrUnknownIntent = errors.New("unknown intent")

// SessionProvider hands out the per-user timer sessions
type SessionProvider interface {
	Get(ctx context.Context, userID uuid.UUID) (*session.Session, error)
	Logout(ctx context.Context, userID uuid.UUID) error
}

// StopResponse is returned by the stop intent for the "save entry" flow
type StopResponse struct {
	ElapsedSeconds int64            `json:"elapsed_seconds"`
	Snapshot       session.Snapshot `json:"snapshot"`
}

type accumulatedRequest struct {
	Seconds *int64 `json:"seconds"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// IntentHandler serves the timer intents over HTTP
type IntentHandler struct {
	sessions SessionProvider
	auth     *Authenticator
}

func NewIntentHandler(sessions SessionProvider, auth *Authenticator) *IntentHandler {
	return &IntentHandler{sessions: sessions, auth: auth}
}

// RegisterRoutes registers the intent routes with an HTTP mux
func (h *IntentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/timer", h.withSession(h.handleGet))
	for _, intent := range []string{"start", "pause", "resume", "reset", "refresh"} {
		mux.HandleFunc("POST /api/timer/"+intent, h.withSession(h.handleIntent(intent)))
	}
	mux.HandleFunc("POST /api/timer/stop", h.withSession(h.handleStop))
	mux.HandleFunc("PUT /api/timer/accumulated", h.withSession(h.handleSetAccumulated))
	mux.HandleFunc("PUT /api/timer/details", h.withSession(h.handleSetDetails))
	mux.HandleFunc("POST /api/session/logout", h.withUser(h.handleLogout))
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID uuid.UUID)
type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session.Session)

// withUser authenticates the request. An expired token ends the user's
// session before the request is refused.
func (h *IntentHandler) withUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := authenticate(w, r, h.auth, h.sessions)
		if !ok {
			return
		}
		next(w, r, userID)
	}
}

func (h *IntentHandler) withSession(next sessionHandler) http.HandlerFunc {
	return h.withUser(func(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
		sess, err := h.sessions.Get(r.Context(), userID)
		if err != nil {
			log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to open timer session")
			writeError(w, err)
			return
		}
		next(w, r, sess)
	})
}

func (h *IntentHandler) handleGet(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (h *IntentHandler) handleIntent(intent string) sessionHandler {
	return func(w http.ResponseWriter, r *http.Request, sess *session.Session) {
		if err := applyIntent(r.Context(), sess, ClientMessage{Type: "intent", Intent: intent}); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess.Snapshot())
	}
}

func (h *IntentHandler) handleStop(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	res, snap, err := sess.Stop()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StopResponse{ElapsedSeconds: res.ElapsedSeconds, Snapshot: snap})
}

func (h *IntentHandler) handleSetAccumulated(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req accumulatedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Seconds == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "body must be {\"seconds\": <int>}"})
		return
	}
	snap, err := sess.SetAccumulated(*req.Seconds)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *IntentHandler) handleSetDetails(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var details timer.Details
	if err := json.NewDecoder(r.Body).Decode(&details); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid details body"})
		return
	}
	snap, err := sess.SetDetails(details)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *IntentHandler) handleLogout(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	if err := h.sessions.Logout(r.Context(), userID); err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to close timer session")
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// applyIntent dispatches a named intent to the session
func applyIntent(ctx context.Context, sess *session.Session, msg ClientMessage) error {
	var err error
	switch msg.Intent {
	case "start":
		_, err = sess.Start()
	case "pause":
		_, err = sess.Pause()
	case "resume":
		_, err = sess.Resume()
	case "stop":
		_, _, err = sess.Stop()
	case "reset":
		_, err = sess.Reset()
	case "refresh":
		_, err = sess.Refresh(ctx)
	case "set_accumulated":
		if msg.Seconds == nil {
			return fmt.Errorf("%w: set_accumulated needs seconds", ErrUnknownIntent)
		}
		_, err = sess.SetAccumulated(*msg.Seconds)
	case "set_details":
		if msg.Details == nil {
			return fmt.Errorf("%w: set_details needs details", ErrUnknownIntent)
		}
		_, err = sess.SetDetails(*msg.Details)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownIntent, msg.Intent)
	}
	return err
}

// authenticate writes a 401 and returns false when the request carries no
// usable token.
func authenticate(w http.ResponseWriter, r *http.Request, auth *Authenticator, sessions SessionProvider) (uuid.UUID, bool) {
	userID, err := auth.Authenticate(r)
	if errors.Is(err, ErrTokenExpired) {
		if lerr := sessions.Logout(r.Context(), userID); lerr != nil {
			log.Warn().Err(lerr).Str("user_id", userID.String()).Msg("failed to close session of expired token")
		}
		log.Info().Str("user_id", userID.String()).Msg("token expired, session closed")
	}
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return uuid.Nil, false
	}
	return userID, true
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrSessionClosed):
		status = http.StatusConflict
	case errors.Is(err, timer.ErrNegativeSeconds),
		errors.Is(err, timer.ErrInvalidRecord),
		errors.Is(err, ErrUnknownIntent):
		status = http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
