package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/tempo/go/internal/timer"
	"github.com/mcdev12/tempo/go/internal/timer/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialTimer(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/timer?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads events until match accepts one or the deadline passes
func readUntil(t *testing.T, conn *websocket.Conn, match func(TimerEvent) bool) TimerEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev TimerEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		if match(ev) {
			return ev
		}
	}
}

func snapshotWithStatus(status timer.Status) func(TimerEvent) bool {
	return func(ev TimerEvent) bool {
		if ev.Type != EventTypeTimerSnapshot {
			return false
		}
		var snap session.Snapshot
		if err := json.Unmarshal(ev.Data, &snap); err != nil {
			return false
		}
		return snap.Status == status
	}
}

func TestWebSocket_RejectsMissingToken(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/timer"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocket_InitialSnapshotAndIntentFanOut(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.mux)
	defer srv.Close()

	userID := uuid.New()
	token := h.token(t, userID)
	tabA := dialTimer(t, srv, token)
	tabB := dialTimer(t, srv, token)

	first := readUntil(t, tabA, snapshotWithStatus(timer.StatusStopped))
	assert.Equal(t, userID.String(), first.UserID)
	readUntil(t, tabB, snapshotWithStatus(timer.StatusStopped))

	// an intent from one tab reaches both
	require.NoError(t, tabA.WriteJSON(ClientMessage{Type: "intent", Intent: "start"}))
	readUntil(t, tabA, snapshotWithStatus(timer.StatusRunning))
	readUntil(t, tabB, snapshotWithStatus(timer.StatusRunning))

	// so does one made over HTTP
	decodeSnapshot(t, h.do(t, "POST", "/api/timer/pause", token, nil))
	readUntil(t, tabB, snapshotWithStatus(timer.StatusPaused))

	assert.Equal(t, 2, h.service.GetStats()["total_connections"])
}

func TestWebSocket_BadIntentAnswersOnlySender(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.mux)
	defer srv.Close()

	conn := dialTimer(t, srv, h.token(t, uuid.New()))
	readUntil(t, conn, snapshotWithStatus(timer.StatusStopped))

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "intent", Intent: "rewind"}))
	ev := readUntil(t, conn, func(ev TimerEvent) bool { return ev.Type == EventTypeIntentFailed })

	var payload IntentFailedPayload
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	assert.Equal(t, "rewind", payload.Intent)
	assert.Contains(t, payload.Error, "unknown intent")
}

func TestWebSocket_LogoutClosesTabs(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.mux)
	defer srv.Close()

	token := h.token(t, uuid.New())
	conn := dialTimer(t, srv, token)
	readUntil(t, conn, snapshotWithStatus(timer.StatusStopped))

	w := h.do(t, "POST", "/api/session/logout", token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	readUntil(t, conn, func(ev TimerEvent) bool { return ev.Type == EventTypeSessionClosed })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())

	require.Eventually(t, func() bool {
		return h.service.GetStats()["total_connections"] == 0
	}, time.Second, 5*time.Millisecond)
}
