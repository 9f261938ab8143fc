// ABOUTME: Per-user registry of live event channels with heartbeat keepalive
// ABOUTME: Fans events out to every open channel a user holds, isolating failures per channel

package registry

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultHeartbeatInterval keeps idle streams open through proxies.
const DefaultHeartbeatInterval = 25 * time.Second

// HeartbeatEvent is written on every heartbeat tick. Transports render it
// as their native keepalive rather than a data event.
const HeartbeatEvent = "heartbeat"

// Channel is one live, ordered, server-to-client event stream.
// Write may be called from the heartbeat goroutine and from request
// goroutines concurrently; implementations serialize their own writes.
type Channel interface {
	Write(event string, data []byte) error
	Close() error
}

type entry struct {
	id     string
	ch     Channel
	stop   chan struct{}
	once   sync.Once
	userID string
}

// Registry maps user IDs to their open channels.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[string]*entry // userID -> connID -> entry
	closed   bool

	heartbeat time.Duration
	logger    *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithHeartbeat overrides the heartbeat interval. Zero or negative disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(r *Registry) { r.heartbeat = d }
}

// New creates an empty registry. Pass nil logger for default.
func New(logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		channels:  make(map[string]map[string]*entry),
		heartbeat: DefaultHeartbeatInterval,
		logger:    logger.With("component", "registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds ch to userID's channel set and starts its heartbeat.
// The returned function removes the channel and stops the heartbeat; it is
// safe to call more than once. After Close, ch is closed immediately and
// never added.
func (r *Registry) Register(userID string, ch Channel) (unregister func()) {
	e := &entry{
		id:     uuid.New().String(),
		ch:     ch,
		stop:   make(chan struct{}),
		userID: userID,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Debug("registry closed, rejecting channel", "user_id", userID)
		if err := ch.Close(); err != nil {
			r.logger.Debug("error closing channel", "user_id", userID, "error", err)
		}
		return func() {}
	}
	if _, ok := r.channels[userID]; !ok {
		r.channels[userID] = make(map[string]*entry)
	}
	r.channels[userID][e.id] = e
	r.mu.Unlock()

	r.logger.Debug("channel registered", "user_id", userID, "conn_id", e.id)

	if r.heartbeat > 0 {
		go r.runHeartbeat(e)
	}

	return func() { r.remove(e) }
}

func (r *Registry) runHeartbeat(e *entry) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if err := e.ch.Write(HeartbeatEvent, nil); err != nil {
				r.logger.Debug("heartbeat failed, dropping channel",
					"user_id", e.userID,
					"conn_id", e.id,
					"error", err)
				r.remove(e)
				return
			}
		}
	}
}

// remove deletes the entry exactly once and stops its heartbeat.
func (r *Registry) remove(e *entry) {
	e.once.Do(func() {
		close(e.stop)

		r.mu.Lock()
		if set, ok := r.channels[e.userID]; ok {
			delete(set, e.id)
			if len(set) == 0 {
				delete(r.channels, e.userID)
			}
		}
		r.mu.Unlock()

		r.logger.Debug("channel unregistered", "user_id", e.userID, "conn_id", e.id)
	})
}

// Send marshals payload once and writes it to every channel userID holds.
// A user with no channels is a no-op. Write failures are logged, never returned.
func (r *Registry) Send(userID, event string, payload any) {
	if !r.Connected(userID) {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("failed to marshal event payload",
			"user_id", userID,
			"event", event,
			"error", err)
		return
	}
	r.SendRaw(userID, event, data)
}

// SendRaw writes pre-encoded data to every channel userID holds.
func (r *Registry) SendRaw(userID, event string, data []byte) {
	r.mu.RLock()
	set := r.channels[userID]
	targets := make([]*entry, 0, len(set))
	for _, e := range set {
		targets = append(targets, e)
	}
	r.mu.RUnlock()

	// Writes happen outside the lock so a slow channel cannot stall registration
	for _, e := range targets {
		if err := e.ch.Write(event, data); err != nil {
			r.logger.Warn("failed to deliver event",
				"user_id", userID,
				"conn_id", e.id,
				"event", event,
				"error", err)
		}
	}
}

// Connected reports whether userID has at least one open channel on this node.
func (r *Registry) Connected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[userID]) > 0
}

// Count returns the number of open channels for userID.
func (r *Registry) Count(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[userID])
}

// Total returns the number of open channels across all users.
func (r *Registry) Total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, set := range r.channels {
		n += len(set)
	}
	return n
}

// Users returns the IDs of users with at least one open channel, sorted.
func (r *Registry) Users() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close unregisters and closes every channel, and makes later Register
// calls close their channel instead. Used at process shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	var all []*entry
	for _, set := range r.channels {
		for _, e := range set {
			all = append(all, e)
		}
	}
	r.mu.Unlock()

	for _, e := range all {
		r.remove(e)
		if err := e.ch.Close(); err != nil {
			r.logger.Debug("error closing channel", "conn_id", e.id, "error", err)
		}
	}

	r.logger.Debug("registry closed", "channels", len(all))
}
