package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gamestation/internal/config"
	"github.com/cory-johannsen/gamestation/internal/station"
)

// MaxFrameBytes bounds the size of an inbound frame.
const MaxFrameBytes = 64 << 10

// Gateway upgrades HTTP requests to websocket connections and feeds their
// frames to the router.
type Gateway struct {
	cfg      config.GatewayConfig
	hub      *Hub
	router   *station.Router
	sessions station.SessionDirectory
	auth     Authenticator
	metrics  Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// New creates a Gateway. A nil metrics disables measurement.
//
// Precondition: hub, router, sessions, auth and logger must be non-nil;
// cfg.SendBuffer must be positive.
func New(cfg config.GatewayConfig, hub *Hub, router *station.Router, sessions station.SessionDirectory, auth Authenticator, metrics Metrics, logger *zap.Logger) *Gateway {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Gateway{
		cfg:      cfg,
		hub:      hub,
		router:   router,
		sessions: sessions,
		auth:     auth,
		metrics:  metrics,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin checks belong to the upstream proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP authenticates the request, upgrades it and serves the
// connection until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := g.auth.Authenticate(r)
	if err != nil {
		g.logger.Debug("rejecting connection", zap.String("remote", r.RemoteAddr), zap.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("upgrading connection", zap.Int64("user_id", int64(userID)), zap.Error(err))
		return
	}
	conn.SetReadLimit(MaxFrameBytes)

	c := newClient(userID, conn, g.cfg.SendBuffer)
	ctx := r.Context()
	g.joinActive(ctx, userID)
	g.metrics.ConnectionOpened()
	g.logger.Info("client connected",
		zap.Int64("user_id", int64(userID)),
		zap.String("conn_id", c.id.String()),
		zap.String("remote", r.RemoteAddr),
	)
	g.hub.register(c)

	go g.writePump(c)
	g.readPump(ctx, c)

	g.hub.unregister(c)
	g.logger.Info("client disconnected",
		zap.Int64("user_id", int64(userID)),
		zap.String("conn_id", c.id.String()),
	)
	g.metrics.ConnectionClosed()
}

func (g *Gateway) joinActive(ctx context.Context, userID station.UserID) {
	active, err := g.sessions.GetActiveSessions(ctx, userID)
	if err != nil {
		g.logger.Error("loading active sessions", zap.Int64("user_id", int64(userID)), zap.Error(err))
		return
	}
	for _, info := range active {
		g.hub.Join(info.ID, userID)
	}
}

func (g *Gateway) writePump(c *client) {
	for {
		select {
		case <-c.done:
			return
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				g.logger.Debug("writing frame",
					zap.String("conn_id", c.id.String()),
					zap.Error(err),
				)
				c.close()
				return
			}
		}
	}
}

func (g *Gateway) readPump(ctx context.Context, c *client) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("reading frame", zap.String("conn_id", c.id.String()), zap.Error(err))
			}
			return
		}
		if kind != websocket.TextMessage {
			g.unroutable(c, "binary frame")
			continue
		}
		g.handleFrame(ctx, c, data)
	}
}

func (g *Gateway) unroutable(c *client, reason string, fields ...zap.Field) {
	g.metrics.FrameUnroutable()
	g.logger.Debug("dropping inbound frame", append(fields,
		zap.Int64("user_id", int64(c.userID)),
		zap.String("reason", reason),
	)...)
}

// handleFrame resolves the frame's session and either answers a snapshot
// request or dispatches the message to the session's station.
func (g *Gateway) handleFrame(ctx context.Context, c *client, data []byte) {
	var in Frame
	if err := json.Unmarshal(data, &in); err != nil {
		g.unroutable(c, "malformed frame", zap.Error(err))
		return
	}
	if in.Topic == "" {
		g.unroutable(c, "missing topic", zap.Int64("session_id", int64(in.SessionID)))
		return
	}

	info, err := g.sessions.GetSession(ctx, in.SessionID)
	if err != nil {
		fields := []zap.Field{zap.Int64("session_id", int64(in.SessionID)), zap.String("topic", in.Topic)}
		if errors.Is(err, station.ErrSessionNotFound) {
			g.unroutable(c, "unknown session", fields...)
			return
		}
		g.metrics.FrameUnroutable()
		g.logger.Error("resolving session", append(fields, zap.Error(err))...)
		return
	}
	if !slices.Contains(info.Participants, c.userID) {
		g.unroutable(c, "not a participant", zap.Int64("session_id", int64(info.ID)))
		return
	}
	g.hub.Join(info.ID, c.userID)

	if in.Topic == station.TopicSnapshot {
		g.snapshot(c, info)
		return
	}

	msg := station.Message{
		SessionID: info.ID,
		SenderID:  c.userID,
		IsCreator: c.userID == info.CreatorID,
		Topic:     in.Topic,
		Payload:   in.Payload,
	}
	if err := g.router.Dispatch(ctx, info.GameType, msg); err != nil {
		g.unroutable(c, "no station", zap.String("game", string(info.GameType)))
	}
}

func (g *Gateway) snapshot(c *client, info *station.SessionInfo) {
	st, err := g.router.Station(info.GameType)
	if err != nil {
		g.unroutable(c, "no station", zap.String("game", string(info.GameType)))
		return
	}
	snap, ok := st.Snapshot(info.ID, c.userID)
	if !ok {
		// The session has not been initialised yet.
		g.unroutable(c, "no live session", zap.Int64("session_id", int64(info.ID)))
		return
	}
	g.hub.send(FrameSnapshot, c.userID, info.ID, station.TopicSnapshot, snap)
}
