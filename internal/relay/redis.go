// ABOUTME: Redis pub/sub implementation of Relay
// ABOUTME: Publishes envelopes as JSON on one channel shared by every node

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisRelay carries envelopes over a Redis pub/sub channel.
type RedisRelay struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisRelay connects to Redis at redisURL and verifies the connection.
func NewRedisRelay(ctx context.Context, redisURL, channel string, logger *slog.Logger) (*RedisRelay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if channel == "" {
		channel = DefaultChannel
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisRelay{
		client:  client,
		channel: channel,
		logger:  logger.With("component", "relay.redis"),
	}, nil
}

// Publish sends env to every subscribed node.
func (r *RedisRelay) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

// Subscribe receives envelopes until ctx is done.
func (r *RedisRelay) Subscribe(ctx context.Context, handle func(Envelope)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before reading messages
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if env, ok := decodeEnvelope(r.logger, []byte(msg.Payload)); ok {
				handle(env)
			}
		}
	}
}

// Ping checks the Redis connection.
func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *RedisRelay) Close() error {
	return r.client.Close()
}
