// ABOUTME: Cross-node event relay so users connected to other gateway nodes receive events
// ABOUTME: Fanout delivers locally, queues envelopes for the relay, and forwards remote envelopes in

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultChannel is the pub/sub channel or subject used when none is configured.
const DefaultChannel = "giftbox.chat.events"

const (
	publishTimeout = 2 * time.Second
	// publishQueueSize bounds envelopes waiting for the relay. Envelopes
	// beyond it are dropped.
	publishQueueSize = 1024
)

// Envelope is one event addressed to one user, as carried between nodes.
type Envelope struct {
	Node   string          `json:"node"`
	UserID string          `json:"user_id"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// Relay moves envelopes between gateway nodes.
type Relay interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe calls handle for every envelope received until ctx is done.
	Subscribe(ctx context.Context, handle func(Envelope)) error
	Ping(ctx context.Context) error
	Close() error
}

// Local delivers pre-encoded events to channels held by this node.
type Local interface {
	SendRaw(userID, event string, data []byte)
}

// Fanout delivers events to this node's channels and, when a relay is
// configured, to every other node. Publishing happens on a background
// goroutine so a slow relay never delays the caller.
type Fanout struct {
	local  Local
	relay  Relay
	node   string
	logger *slog.Logger

	mu        sync.RWMutex
	closed    bool
	queue     chan Envelope
	publisher sync.WaitGroup
	// publishCtx bounds in-flight publishes; canceled when Close gives up flushing.
	publishCtx  context.Context
	stopPublish context.CancelFunc
}

// NewFanout creates a Fanout. A nil relay delivers locally only.
func NewFanout(local Local, r Relay, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	node := NewNodeID()
	f := &Fanout{
		local:  local,
		relay:  r,
		node:   node,
		logger: logger.With("component", "relay", "node", node),
	}

	if r != nil {
		f.queue = make(chan Envelope, publishQueueSize)
		f.publishCtx, f.stopPublish = context.WithCancel(context.Background())
		f.publisher.Add(1)
		go f.publishLoop()
	}
	return f
}

// NewNodeID returns a unique, time-sortable identifier for this process.
func NewNodeID() string {
	return ulid.Make().String()
}

// Node returns this node's identifier.
func (f *Fanout) Node() string {
	return f.node
}

// Send marshals payload once, delivers it to userID's local channels and
// queues it for the other nodes.
func (f *Fanout) Send(userID, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		f.logger.Error("failed to marshal event payload",
			"user_id", userID,
			"event", event,
			"error", err)
		return
	}

	f.local.SendRaw(userID, event, data)

	if f.relay == nil {
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}

	select {
	case f.queue <- Envelope{Node: f.node, UserID: userID, Event: event, Data: data}:
	default:
		f.logger.Warn("relay queue full, dropping event",
			"user_id", userID,
			"event", event)
	}
}

func (f *Fanout) publishLoop() {
	defer f.publisher.Done()

	for env := range f.queue {
		if f.publishCtx.Err() != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(f.publishCtx, publishTimeout)
		err := f.relay.Publish(ctx, env)
		cancel()
		if err != nil {
			f.logger.Warn("failed to relay event",
				"user_id", env.UserID,
				"event", env.Event,
				"error", err)
		}
	}
}

// Run forwards envelopes published by other nodes to local channels until
// ctx is done. Returns immediately when no relay is configured.
func (f *Fanout) Run(ctx context.Context) error {
	if f.relay == nil {
		return nil
	}

	f.logger.Info("relay subscriber started")
	err := f.relay.Subscribe(ctx, func(env Envelope) {
		if env.Node == f.node || env.UserID == "" {
			return
		}
		f.local.SendRaw(env.UserID, env.Event, env.Data)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("relay subscription: %w", err)
	}
	return nil
}

// Ping checks the relay connection. Always nil without a relay.
func (f *Fanout) Ping(ctx context.Context) error {
	if f.relay == nil {
		return nil
	}
	return f.relay.Ping(ctx)
}

// Close flushes queued envelopes for up to publishTimeout, abandons the
// rest, and releases the underlying relay connection. Later Sends deliver
// locally only.
func (f *Fanout) Close() error {
	if f.relay == nil {
		return nil
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()

	flushed := make(chan struct{})
	go func() {
		f.publisher.Wait()
		close(flushed)
	}()

	select {
	case <-flushed:
	case <-time.After(publishTimeout):
		f.logger.Warn("relay flush timed out, dropping queued events", "queued", len(f.queue))
		f.stopPublish()
		<-flushed
	}
	f.stopPublish()

	return f.relay.Close()
}

func decodeEnvelope(logger *slog.Logger, payload []byte) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		logger.Warn("dropping malformed relay envelope", "error", err)
		return Envelope{}, false
	}
	return env, true
}
