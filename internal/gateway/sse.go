// ABOUTME: Server-Sent Events transport for the chat event stream
// ABOUTME: Renders registry events as SSE frames and heartbeats as comment lines

package gateway

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/2389/giftbox-chat/internal/auth"
	"github.com/2389/giftbox-chat/internal/registry"
)

// errChannelClosed is returned by writes on a closed stream.
var errChannelClosed = errors.New("channel closed")

// sseChannel is a registry.Channel backed by an HTTP response stream.
// Writes are serialized; after Close every write fails without touching
// the ResponseWriter.
type sseChannel struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	closed  bool
	done    chan struct{}
}

func newSSEChannel(w io.Writer, flusher http.Flusher) *sseChannel {
	return &sseChannel{w: w, flusher: flusher, done: make(chan struct{})}
}

// Write sends one event. Heartbeats are written as an SSE comment.
func (c *sseChannel) Write(event string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errChannelClosed
	}

	var err error
	if event == registry.HeartbeatEvent {
		_, err = io.WriteString(c.w, ":ok\n\n")
	} else {
		_, err = io.WriteString(c.w, formatSSEEvent(event, string(data)))
	}
	if err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

// writeRetry sends the reconnection delay hint.
func (c *sseChannel) writeRetry(d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := fmt.Fprintf(c.w, "retry: %d\n\n", d.Milliseconds()); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

// Close marks the channel closed and wakes the owning handler.
func (c *sseChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

// Done is closed once Close has been called.
func (c *sseChannel) Done() <-chan struct{} {
	return c.done
}

// formatSSEEvent formats an SSE event as a string with the standard format:
// event: <eventType>\ndata: <data>\n\n
func formatSSEEvent(eventType, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)
}

// handleEvents holds an SSE stream open for the authenticated user until the
// client disconnects or the gateway shuts down.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ch := newSSEChannel(w, flusher)
	defer func() { _ = ch.Close() }()

	if err := ch.writeRetry(g.config.Chat.SSERetry); err != nil {
		return
	}

	unregister, err := g.service.OpenStream(r.Context(), authCtx.UserID, ch)
	if err != nil {
		g.logger.Debug("failed to open stream", "user_id", authCtx.UserID, "error", err)
		return
	}
	defer unregister()

	g.logger.Info("event stream opened",
		"user_id", authCtx.UserID,
		"transport", "sse",
		"connections", g.registry.Count(authCtx.UserID))

	select {
	case <-r.Context().Done():
	case <-ch.Done():
	}

	g.logger.Info("event stream closed", "user_id", authCtx.UserID, "transport", "sse")
}
