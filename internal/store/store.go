// ABOUTME: MessageStore interface and data types for chat persistence
// ABOUTME: Defines Message and ConversationGroup plus the operations every backend implements

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/2389/giftbox-chat/internal/convkey"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidMessage is returned when a message fails validation before persistence
var ErrInvalidMessage = errors.New("invalid message")

// Message is a single persisted chat message. Only ReadStatus ever changes after creation.
type Message struct {
	ID              string    `json:"id"`
	SenderID        string    `json:"sender_id"`
	ReceiverID      string    `json:"receiver_id"`
	ListingID       *string   `json:"listing_id,omitempty"` // nil when the message is not about a listing
	Content         string    `json:"content"`
	Timestamp       time.Time `json:"timestamp"`
	ReadStatus      bool      `json:"read_status"`
	ConversationKey string    `json:"conversation_key"`
}

// ConversationGroup is one conversation as seen by a single participant:
// its most recent message and how many messages addressed to that participant are unread.
type ConversationGroup struct {
	ConversationKey string
	LastMessage     *Message
	UnreadCount     int64
}

// MessageStore persists messages and answers the queries the messaging core needs
type MessageStore interface {
	// CreateMessage validates, derives the conversation key, and persists a new unread message.
	CreateMessage(ctx context.Context, senderID, receiverID, content string, listingID *string) (*Message, error)

	// ThreadMessages returns every message of a conversation, oldest first.
	ThreadMessages(ctx context.Context, conversationKey string) ([]*Message, error)

	// AggregateConversations groups the user's messages by conversation, newest activity first.
	AggregateConversations(ctx context.Context, userID string) ([]*ConversationGroup, error)

	// MarkRead flips unread messages addressed to receiverID in the conversation and returns how many changed.
	MarkRead(ctx context.Context, conversationKey, receiverID string) (int64, error)

	// CountUnread counts unread messages addressed to userID across all conversations.
	CountUnread(ctx context.Context, userID string) (int64, error)

	// CountUnreadInConversation counts unread messages addressed to receiverID in one conversation.
	CountUnreadInConversation(ctx context.Context, conversationKey, receiverID string) (int64, error)

	// LatestListingID returns the listing referenced by the newest listing-bearing
	// message of the conversation, or "" if none references a listing.
	LatestListingID(ctx context.Context, conversationKey string) (string, error)

	// Ping checks the backend is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}

// newMessage validates the inputs shared by every backend and returns an
// unsaved message with content trimmed and the conversation key derived.
// ID and Timestamp are left for the backend to assign.
func newMessage(senderID, receiverID, content string, listingID *string) (*Message, error) {
	if senderID == "" {
		return nil, fmt.Errorf("%w: sender is required", ErrInvalidMessage)
	}
	if receiverID == "" {
		return nil, fmt.Errorf("%w: receiver is required", ErrInvalidMessage)
	}
	if senderID == receiverID {
		return nil, fmt.Errorf("%w: sender and receiver must differ", ErrInvalidMessage)
	}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidMessage)
	}

	key, ok := convkey.Build(senderID, receiverID)
	if !ok {
		return nil, fmt.Errorf("%w: cannot derive conversation key", ErrInvalidMessage)
	}

	var listing *string
	if listingID != nil && *listingID != "" {
		id := *listingID
		listing = &id
	}

	return &Message{
		SenderID:        senderID,
		ReceiverID:      receiverID,
		ListingID:       listing,
		Content:         trimmed,
		ReadStatus:      false,
		ConversationKey: key,
	}, nil
}
