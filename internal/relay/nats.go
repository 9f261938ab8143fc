// ABOUTME: NATS core implementation of Relay
// ABOUTME: At-most-once subject fan-out with automatic reconnects

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSRelay carries envelopes over a NATS subject.
type NATSRelay struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSRelay connects to the NATS servers at url (comma-separated for a cluster).
func NewNATSRelay(url, subject, name string, logger *slog.Logger) (*NATSRelay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if url == "" {
		return nil, errors.New("nats url missing")
	}
	if subject == "" {
		subject = DefaultChannel
	}
	logger = logger.With("component", "relay.nats")

	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500 * time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	return &NATSRelay{nc: nc, subject: subject, logger: logger}, nil
}

// Publish sends env to every subscribed node.
func (r *NATSRelay) Publish(_ context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}
	return r.nc.Publish(r.subject, payload)
}

// Subscribe receives envelopes until ctx is done.
func (r *NATSRelay) Subscribe(ctx context.Context, handle func(Envelope)) error {
	sub, err := r.nc.Subscribe(r.subject, func(m *nats.Msg) {
		if env, ok := decodeEnvelope(r.logger, m.Data); ok {
			handle(env)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", r.subject, err)
	}

	<-ctx.Done()
	_ = sub.Unsubscribe()
	return ctx.Err()
}

// Ping round-trips to the server.
func (r *NATSRelay) Ping(ctx context.Context) error {
	return r.nc.FlushWithContext(ctx)
}

// Close drains pending messages and closes the connection.
func (r *NATSRelay) Close() error {
	return r.nc.Drain()
}
