// ABOUTME: WebSocket transport for the chat event stream
// ABOUTME: Sends events as JSON frames and heartbeats as ping control frames

package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/giftbox-chat/internal/auth"
	"github.com/2389/giftbox-chat/internal/registry"
)

const (
	wsWriteWait   = 10 * time.Second
	wsMaxReadSize = 4096
)

// wsFrame is the JSON envelope of every event written to a WebSocket.
type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// wsChannel is a registry.Channel backed by a WebSocket connection.
type wsChannel struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func newWSChannel(conn *websocket.Conn) *wsChannel {
	return &wsChannel{conn: conn}
}

// Write sends one event frame, or a ping for heartbeats.
func (c *wsChannel) Write(event string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errChannelClosed
	}

	deadline := time.Now().Add(wsWriteWait)
	if event == registry.HeartbeatEvent {
		return c.conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline)
	}

	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteJSON(wsFrame{Event: event, Data: data})
}

// Close sends a close frame and closes the connection. The read loop in
// handleWebSocket then returns.
func (c *wsChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

// handleWebSocket upgrades the request and streams events until the client
// disconnects. Inbound frames other than pongs are discarded.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "user_id", authCtx.UserID, "error", err)
		return
	}

	ch := newWSChannel(conn)
	defer func() { _ = ch.Close() }()

	conn.SetReadLimit(wsMaxReadSize)
	if pongWait := g.pongWait(); pongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	unregister, err := g.service.OpenStream(r.Context(), authCtx.UserID, ch)
	if err != nil {
		g.logger.Debug("failed to open stream", "user_id", authCtx.UserID, "error", err)
		return
	}
	defer unregister()

	g.logger.Info("event stream opened",
		"user_id", authCtx.UserID,
		"transport", "websocket",
		"connections", g.registry.Count(authCtx.UserID))

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	g.logger.Info("event stream closed", "user_id", authCtx.UserID, "transport", "websocket")
}

// pongWait is how long a WebSocket may stay silent before it is dropped.
// Clients answer each heartbeat ping, so two missed pings end the stream.
func (g *Gateway) pongWait() time.Duration {
	hb := g.config.Chat.HeartbeatInterval
	if hb <= 0 {
		return 0
	}
	return 2*hb + wsWriteWait
}
