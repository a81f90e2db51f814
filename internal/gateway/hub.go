// Package gateway adapts the station engine to websocket clients. The Hub
// fans outbound notifications into per-connection send buffers and the
// Gateway pumps inbound frames into the station Router.
package gateway

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gamestation/internal/station"
)

// Frame types.
const (
	FrameInGame   = "ingame"
	FrameSnapshot = "snapshot"
)

// Frame is the JSON envelope exchanged with clients. Type is only set on
// outbound frames.
type Frame struct {
	Type      string            `json:"type,omitempty"`
	SessionID station.SessionID `json:"sessionId"`
	Topic     string            `json:"topic"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
}

// Metrics receives gateway measurements.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	FrameDropped()
	FrameUnroutable()
}

type nopMetrics struct{}

func (nopMetrics) ConnectionOpened() {}
func (nopMetrics) ConnectionClosed() {}
func (nopMetrics) FrameDropped()     {}
func (nopMetrics) FrameUnroutable()  {}

type client struct {
	id     uuid.UUID
	userID station.UserID
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func newClient(userID station.UserID, conn *websocket.Conn, buffer int) *client {
	return &client{
		id:     uuid.New(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

// enqueue never blocks. It reports false when the buffer is full or the
// client is closed.
func (c *client) enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// Hub tracks one connection per user and the session rooms each user has
// joined. It implements station.Notifier. All methods are safe for
// concurrent use.
type Hub struct {
	logger  *zap.Logger
	metrics Metrics

	mu      sync.RWMutex
	clients map[station.UserID]*client
	rooms   map[station.SessionID]map[station.UserID]struct{}
}

var _ station.Notifier = (*Hub)(nil)

// NewHub creates an empty Hub. A nil metrics disables measurement.
//
// Precondition: logger must be non-nil.
func NewHub(logger *zap.Logger, metrics Metrics) *Hub {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Hub{
		logger:  logger,
		metrics: metrics,
		clients: make(map[station.UserID]*client),
		rooms:   make(map[station.SessionID]map[station.UserID]struct{}),
	}
}

// register makes c the connection of its user, closing any previous one.
func (h *Hub) register(c *client) {
	h.mu.Lock()
	prev := h.clients[c.userID]
	h.clients[c.userID] = c
	h.mu.Unlock()
	if prev != nil {
		h.logger.Info("replacing connection",
			zap.Int64("user_id", int64(c.userID)),
			zap.String("previous", prev.id.String()),
			zap.String("conn_id", c.id.String()),
		)
		prev.close()
	}
}

// unregister removes c if it is still the user's connection. Room
// membership survives so a reconnect keeps receiving.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if h.clients[c.userID] == c {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()
	c.close()
}

// Join adds userID to the room of sessionID.
func (h *Hub) Join(sessionID station.SessionID, userID station.UserID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[station.UserID]struct{})
		h.rooms[sessionID] = room
	}
	room[userID] = struct{}{}
}

// CloseRoom forgets every member of sessionID's room.
func (h *Hub) CloseRoom(sessionID station.SessionID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, sessionID)
}

// Connected reports whether userID currently has a connection.
func (h *Hub) Connected(userID station.UserID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// Close closes every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[station.UserID]*client)
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) encode(kind string, sessionID station.SessionID, topic string, payload any) ([]byte, bool) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("encoding payload",
			zap.Int64("session_id", int64(sessionID)),
			zap.String("topic", topic),
			zap.Error(err),
		)
		return nil, false
	}
	b, err := json.Marshal(Frame{Type: kind, SessionID: sessionID, Topic: topic, Payload: raw})
	if err != nil {
		h.logger.Error("encoding frame", zap.String("topic", topic), zap.Error(err))
		return nil, false
	}
	return b, true
}

func (h *Hub) deliver(c *client, b []byte, topic string) {
	if !c.enqueue(b) {
		h.metrics.FrameDropped()
		h.logger.Debug("dropping frame",
			zap.Int64("user_id", int64(c.userID)),
			zap.String("conn_id", c.id.String()),
			zap.String("topic", topic),
		)
	}
}

func (h *Hub) fanout(exclude station.UserID, sessionID station.SessionID, topic string, payload any) {
	b, ok := h.encode(FrameInGame, sessionID, topic, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	targets := make([]*client, 0, len(h.rooms[sessionID]))
	for uid := range h.rooms[sessionID] {
		if uid == exclude {
			continue
		}
		if c, ok := h.clients[uid]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.deliver(c, b, topic)
	}
}

// Broadcast implements station.Notifier.
func (h *Hub) Broadcast(sessionID station.SessionID, topic string, payload any) {
	h.fanout(0, sessionID, topic, payload)
}

// Multicast implements station.Notifier.
func (h *Hub) Multicast(exclude station.UserID, sessionID station.SessionID, topic string, payload any) {
	h.fanout(exclude, sessionID, topic, payload)
}

// Unicast implements station.Notifier.
func (h *Hub) Unicast(userID station.UserID, sessionID station.SessionID, topic string, payload any) {
	h.send(FrameInGame, userID, sessionID, topic, payload)
}

func (h *Hub) send(kind string, userID station.UserID, sessionID station.SessionID, topic string, payload any) {
	h.mu.RLock()
	c, ok := h.clients[userID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if b, ok := h.encode(kind, sessionID, topic, payload); ok {
		h.deliver(c, b, topic)
	}
}
