package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/tempo/go/internal/timer/session"
	"github.com/rs/zerolog/log"
)

// ConnectionManager manages the websocket connections of every user. Each
// browser tab is one connection; all tabs of a user share one session
// feed.
type ConnectionManager struct {
	// Connection pools organized by user ID
	userConnections map[uuid.UUID]map[*Connection]bool
	feeds           map[uuid.UUID]*userFeed
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan BroadcastMessage
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID      string
	UserID  uuid.UUID
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager
	Session *session.Session

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is a message for every connection of one user
type BroadcastMessage struct {
	UserID uuid.UUID
	Event  *TimerEvent
	// Session limits delivery to connections attached to it, if set
	Session *session.Session
	// Close disconnects the receiving connections after delivery
	Close bool
}

// userFeed forwards one session's events to the user's connections
type userFeed struct {
	session *session.Session
	cancel  func()
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      64,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		userConnections: make(map[uuid.UUID]map[*Connection]bool),
		feeds:           make(map[uuid.UUID]*userFeed),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Start processes broadcast messages until ctx is done
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and attaches
// it to the user's session.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, sess *session.Session) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		UserID:      sess.UserID(),
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBuffer),
		Manager:     cm,
		Session:     sess,
		ConnectedAt: time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", connection.UserID.String()).
		Msg("WebSocket connection established")

	return nil
}

// registerConnection adds a connection, queues the current snapshot for it
// and makes sure the user's session feed is running.
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.userConnections[conn.UserID] == nil {
		cm.userConnections[conn.UserID] = make(map[*Connection]bool)
	}
	cm.userConnections[conn.UserID][conn] = true

	if ev, err := NewTimerEvent(conn.UserID, EventTypeTimerSnapshot, conn.Session.Snapshot(), time.Now()); err == nil {
		if data, err := json.Marshal(ev); err == nil {
			select {
			case conn.Send <- data:
			default:
			}
		}
	}

	feed, ok := cm.feeds[conn.UserID]
	if !ok || feed.session != conn.Session {
		if ok {
			feed.cancel()
		}
		events, cancel := conn.Session.Watch()
		cm.feeds[conn.UserID] = &userFeed{session: conn.Session, cancel: cancel}
		go cm.forward(conn.UserID, conn.Session, events)
	}

	log.Debug().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID.String()).
		Int("user_connections", len(cm.userConnections[conn.UserID])).
		Msg("connection registered")
}

// unregisterConnection removes a connection from the manager. The user's
// feed stops with their last connection.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.unregisterLocked(conn)
}

func (cm *ConnectionManager) unregisterLocked(conn *Connection) {
	connections, exists := cm.userConnections[conn.UserID]
	if !exists || !connections[conn] {
		return
	}
	delete(connections, conn)
	close(conn.Send)

	if len(connections) == 0 {
		delete(cm.userConnections, conn.UserID)
		if feed, ok := cm.feeds[conn.UserID]; ok {
			feed.cancel()
			delete(cm.feeds, conn.UserID)
		}
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID.String()).
		Msg("connection unregistered")
}

// forward relays session events until the watch channel closes
func (cm *ConnectionManager) forward(userID uuid.UUID, sess *session.Session, events <-chan session.Event) {
	for ev := range events {
		event, err := eventFromSession(userID, ev)
		if err != nil {
			log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to build timer event")
			continue
		}
		cm.BroadcastToUser(BroadcastMessage{
			UserID:  userID,
			Event:   event,
			Session: sess,
			Close:   ev.Kind == session.EventClosed,
		})
	}
}

// BroadcastToUser queues a message for every connection of a user
func (cm *ConnectionManager) BroadcastToUser(message BroadcastMessage) {
	select {
	case cm.broadcastCh <- message:
	default:
		log.Warn().Str("user_id", message.UserID.String()).Msg("broadcast channel full, dropping message")
	}
}

// handleBroadcast processes a broadcast message
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	var delivered int
	var drop []*Connection
	for conn := range cm.userConnections[message.UserID] {
		if message.Session != nil && conn.Session != message.Session {
			continue
		}
		select {
		case conn.Send <- eventData:
			delivered++
			if message.Close {
				drop = append(drop, conn)
			}
		default:
			log.Warn().
				Str("connection_id", conn.ID).
				Str("user_id", conn.UserID.String()).
				Msg("connection send buffer full, closing connection")
			drop = append(drop, conn)
		}
	}
	// writePump flushes what is queued before it sees the closed channel
	for _, conn := range drop {
		cm.unregisterLocked(conn)
	}
	if message.Close {
		if feed, ok := cm.feeds[message.UserID]; ok && feed.session == message.Session {
			feed.cancel()
			delete(cm.feeds, message.UserID)
		}
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("user_id", message.UserID.String()).
		Int("connections", delivered).
		Msg("event broadcasted")
}

// sendTo queues data for a single connection if it is still registered
func (cm *ConnectionManager) sendTo(conn *Connection, event *TimerEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event")
		return
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if !cm.userConnections[conn.UserID][conn] {
		return
	}
	select {
	case conn.Send <- data:
	default:
		log.Warn().Str("connection_id", conn.ID).Msg("connection send buffer full, dropping message")
	}
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, connections := range cm.userConnections {
		for conn := range connections {
			cm.unregisterLocked(conn)
		}
	}
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	total := 0
	for _, connections := range cm.userConnections {
		total += len(connections)
	}

	return map[string]interface{}{
		"total_connections": total,
		"active_users":      len(cm.userConnections),
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage applies intents sent by the tab. The resulting
// snapshot reaches every tab through the session feed.
func (c *Connection) handleClientMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Debug().Err(err).Str("connection_id", c.ID).Msg("ignoring malformed client message")
		return
	}
	if msg.Type != "intent" {
		log.Debug().Str("connection_id", c.ID).Str("type", msg.Type).Msg("ignoring client message")
		return
	}

	if err := applyIntent(context.Background(), c.Session, msg); err != nil {
		log.Warn().Err(err).Str("connection_id", c.ID).Str("intent", msg.Intent).Msg("intent failed")
		event, eerr := NewTimerEvent(c.UserID, EventTypeIntentFailed, IntentFailedPayload{Intent: msg.Intent, Error: err.Error()}, time.Now())
		if eerr == nil {
			c.Manager.sendTo(c, event)
		}
	}
}
