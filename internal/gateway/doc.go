// Package gateway orchestrates the giftbox-chat server components.
//
// # Overview
//
// The gateway owns the message store, the connection registry, the
// cross-node relay fan-out and the messaging service, and exposes them over
// HTTP. An optional gRPC server carries the standard health service for
// load balancers.
//
// # HTTP API
//
// Every /api/chat route requires a JWT (Authorization: Bearer, or ?token=
// for EventSource clients):
//
//   - GET /api/chat/events - Event stream (SSE)
//   - GET /api/chat/ws - Event stream (WebSocket JSON frames)
//   - GET /api/chat/conversations - Conversation summaries and unread total
//   - GET /api/chat/messages?partner_id= - Full thread with one partner
//   - POST /api/chat/messages - Send a message (Idempotency-Key optional)
//   - POST /api/chat/mark-read - Mark a partner's messages read
//   - GET /api/chat/unread-count - Total unread
//   - POST /api/chat/typing - Typing indicator
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (store ping)
//
// Errors are returned as {"error": "..."}.
//
// # Event Streams
//
// SSE streams begin with a retry hint and a connected event:
//
//	retry: 10000
//
//	event: connected
//	data: {}
//
//	event: new_message
//	data: {"conversation_key": "...", "message": {...}, ...}
//
// Heartbeats are SSE comments (":ok"). WebSocket streams carry the same
// events as {"event": "...", "data": {...}} text frames and use ping frames
// for heartbeats.
//
// # Lifecycle
//
//	gw, err := gateway.New(ctx, cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled, then shuts down
package gateway
