// ABOUTME: Live event names and payloads pushed to users' open channels
// ABOUTME: Shared by the SSE and WebSocket transports

package messaging

import (
	"github.com/2389/giftbox-chat/internal/directory"
	"github.com/2389/giftbox-chat/internal/store"
)

// Event names
const (
	EventConnected          = "connected"
	EventNewMessage         = "new_message"
	EventConversationUpdate = "conversation_update"
	EventTyping             = "typing"
)

// MessageEvent is the payload of new_message and conversation_update.
// Counts are from the recipient's point of view.
type MessageEvent struct {
	ConversationKey string             `json:"conversation_key"`
	Message         *store.Message     `json:"message"`
	Partner         *directory.User    `json:"partner"`
	Listing         *directory.Listing `json:"listing,omitempty"`
	UnreadCount     int64              `json:"unread_count"`
	TotalUnread     int64              `json:"total_unread"`
}

// TypingEvent is the payload of typing.
type TypingEvent struct {
	ConversationKey string `json:"conversation_key"`
	FromUserID      string `json:"from"`
	IsTyping        bool   `json:"is_typing"`
}
