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
	"github.com/mcdev12/syncplay/go/internal/events"
	"github.com/rs/zerolog/log"
)

// MessageHandler reacts to connection lifecycle and client messages
type MessageHandler interface {
	Connected(ctx context.Context, conn *Connection)
	Disconnected(ctx context.Context, conn *Connection)
	HandleMessage(ctx context.Context, conn *Connection, event *events.Event)
}

// ConnectionManager manages the WebSocket connections of all participants
type ConnectionManager struct {
	connections map[string]*Connection
	mu          sync.RWMutex

	// Upgrader for WebSocket connections
	upgrader websocket.Upgrader

	// Connection configuration
	config ConnectionConfig

	// Event broadcasting
	broadcastCh chan BroadcastMessage

	handler MessageHandler
	baseCtx context.Context
}

// Connection is one participant's WebSocket
type Connection struct {
	ID      string // participant id
	Conn    *websocket.Conn
	Manager *ConnectionManager

	send   chan []byte
	sendMu sync.Mutex
	closed bool

	// Connection metadata
	ConnectedAt time.Time
	RemoteAddr  string
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage represents a message to broadcast to connections
type BroadcastMessage struct {
	Event         *events.Event
	ParticipantID string // Optional: if set, only send to this participant
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
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			// Any origin, as the browser clients are served from elsewhere
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = DefaultConnectionConfig().SendBufferSize
	}
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000), // Buffer for high throughput
		baseCtx:     context.Background(),
	}
}

// SetHandler installs the handler for client messages. Must be called before
// connections are accepted.
func (cm *ConnectionManager) SetHandler(handler MessageHandler) {
	cm.handler = handler
}

// Start begins processing broadcast messages
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	cm.mu.Lock()
	cm.baseCtx = ctx
	cm.mu.Unlock()

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

func (cm *ConnectionManager) rootContext() context.Context {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.baseCtx
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and assigns a participant id
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Manager:     cm,
		send:        make(chan []byte, cm.config.SendBufferSize),
		ConnectedAt: time.Now(),
		RemoteAddr:  r.RemoteAddr,
	}

	cm.registerConnection(connection)

	go connection.writePump()

	if cm.handler != nil {
		cm.handler.Connected(cm.rootContext(), connection)
	}

	go connection.readPump()

	log.Info().
		Str("participant_id", connection.ID).
		Str("remote_addr", connection.RemoteAddr).
		Msg("WebSocket connection established")

	return connection, nil
}

// registerConnection adds a connection to the manager
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.connections[conn.ID] = conn

	log.Debug().
		Str("participant_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

// unregisterConnection removes a connection and notifies the handler once
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	current, exists := cm.connections[conn.ID]
	if !exists || current != conn {
		cm.mu.Unlock()
		return
	}
	delete(cm.connections, conn.ID)
	ctx := cm.baseCtx
	cm.mu.Unlock()

	conn.closeSend()

	log.Info().
		Str("participant_id", conn.ID).
		Dur("connected_for", time.Since(conn.ConnectedAt)).
		Msg("connection unregistered")

	if cm.handler != nil {
		cm.handler.Disconnected(ctx, conn)
	}
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for _, conn := range cm.connections {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range conns {
		conn.Conn.Close()
	}
}

// Broadcast sends an event to every connected participant
func (cm *ConnectionManager) Broadcast(event *events.Event) {
	select {
	case cm.broadcastCh <- BroadcastMessage{Event: event}:
	default:
		log.Warn().Str("event_type", string(event.Type)).Msg("broadcast channel full, dropping message")
	}
}

// SendTo sends an event to a single participant
func (cm *ConnectionManager) SendTo(participantID string, event *events.Event) {
	select {
	case cm.broadcastCh <- BroadcastMessage{Event: event, ParticipantID: participantID}:
	default:
		log.Warn().
			Str("event_type", string(event.Type)).
			Str("participant_id", participantID).
			Msg("broadcast channel full, dropping participant message")
	}
}

// handleBroadcast processes a broadcast message
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	var targetConnections []*Connection
	if message.ParticipantID != "" {
		if conn, ok := cm.connections[message.ParticipantID]; ok {
			targetConnections = append(targetConnections, conn)
		}
	} else {
		targetConnections = make([]*Connection, 0, len(cm.connections))
		for _, conn := range cm.connections {
			targetConnections = append(targetConnections, conn)
		}
	}
	cm.mu.RUnlock()

	if len(targetConnections) == 0 {
		return
	}

	// Marshal the event once
	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targetConnections {
		conn.enqueue(eventData)
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Int("connections", len(targetConnections)).
		Msg("event broadcasted")
}

// Count returns the number of open connections
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return map[string]interface{}{
		"total_connections": len(cm.connections),
		"pending_broadcasts": len(cm.broadcastCh),
	}
}

// SendEvent writes an event to this connection only, bypassing the broadcast queue
func (c *Connection) SendEvent(event *events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.Type, err)
	}
	if !c.enqueue(data) {
		return fmt.Errorf("connection %s is closed", c.ID)
	}
	return nil
}

// enqueue queues a frame for the write pump. A full buffer means the client
// cannot keep up and the connection is dropped.
func (c *Connection) enqueue(data []byte) bool {
	c.sendMu.Lock()
	if c.closed {
		c.sendMu.Unlock()
		return false
	}
	select {
	case c.send <- data:
		c.sendMu.Unlock()
		return true
	default:
	}
	c.sendMu.Unlock()

	log.Warn().
		Str("participant_id", c.ID).
		Msg("connection send buffer full, closing connection")
	c.Manager.unregisterConnection(c)
	c.Conn.Close()
	return false
}

func (c *Connection) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
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
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("participant_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("participant_id", c.ID).
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("participant_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage parses a client frame and hands it to the handler. Bad
// frames are logged and dropped; they never close the connection.
func (c *Connection) handleClientMessage(message []byte) {
	event, err := events.Parse(message)
	if err != nil {
		log.Warn().
			Err(err).
			Str("participant_id", c.ID).
			Msg("dropping malformed client message")
		return
	}

	log.Debug().
		Str("participant_id", c.ID).
		Str("event_type", string(event.Type)).
		Msg("received client message")

	if c.Manager.handler != nil {
		c.Manager.handler.HandleMessage(c.Manager.rootContext(), c, event)
	}
}
