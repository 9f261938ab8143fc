// ABOUTME: SQLite message log operations for the chat core
// ABOUTME: Create, thread fetch, per-user conversation aggregation, read receipts, unread counts

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const messageColumns = `message_id, sender_id, receiver_id, listing_id, content, timestamp, read_status, conversation_key`

func newUUID() string {
	return uuid.New().String()
}

// CreateMessage validates and persists a new unread message.
// Returns an error wrapping ErrInvalidMessage for blank content or missing/identical participants.
func (s *SQLiteStore) CreateMessage(ctx context.Context, senderID, receiverID, content string, listingID *string) (*Message, error) {
	msg, err := newMessage(senderID, receiverID, content, listingID)
	if err != nil {
		return nil, err
	}
	msg.ID = s.newID()
	msg.Timestamp = s.now().UTC()

	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		msg.ID,
		msg.SenderID,
		msg.ReceiverID,
		msg.ListingID,
		msg.Content,
		formatTimestamp(msg.Timestamp),
		0,
		msg.ConversationKey,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("created message",
		"message_id", msg.ID,
		"conversation_key", msg.ConversationKey,
	)
	return msg, nil
}

// ThreadMessages returns all messages of a conversation ordered oldest first.
// Messages with identical timestamps keep insertion order.
func (s *SQLiteStore) ThreadMessages(ctx context.Context, conversationKey string) ([]*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_key = ?
		ORDER BY timestamp ASC, seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationKey)
	if err != nil {
		return nil, fmt.Errorf("querying thread: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating thread: %w", err)
	}

	return messages, nil
}

// AggregateConversations groups every message the user sent or received by
// conversation key. Each group carries its newest message and the number of
// unread messages addressed to the user. Groups are ordered newest activity first.
func (s *SQLiteStore) AggregateConversations(ctx context.Context, userID string) ([]*ConversationGroup, error) {
	query := `
		WITH mine AS (
			SELECT ` + messageColumns + `, seq,
				ROW_NUMBER() OVER (
					PARTITION BY conversation_key
					ORDER BY timestamp DESC, seq DESC
				) AS rn,
				SUM(CASE WHEN receiver_id = ? AND read_status = 0 THEN 1 ELSE 0 END) OVER (
					PARTITION BY conversation_key
				) AS unread
			FROM messages
			WHERE sender_id = ? OR receiver_id = ?
		)
		SELECT ` + messageColumns + `, unread
		FROM mine
		WHERE rn = 1
		ORDER BY timestamp DESC, seq DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("aggregating conversations: %w", err)
	}
	defer rows.Close()

	var groups []*ConversationGroup
	for rows.Next() {
		var unread int64
		msg, err := scanMessage(rows, &unread)
		if err != nil {
			return nil, err
		}
		groups = append(groups, &ConversationGroup{
			ConversationKey: msg.ConversationKey,
			LastMessage:     msg,
			UnreadCount:     unread,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}

	return groups, nil
}

// MarkRead marks every unread message addressed to receiverID in the conversation as read.
// Returns the number of messages changed; a repeated call returns 0.
func (s *SQLiteStore) MarkRead(ctx context.Context, conversationKey, receiverID string) (int64, error) {
	query := `
		UPDATE messages
		SET read_status = 1
		WHERE conversation_key = ? AND receiver_id = ? AND read_status = 0
	`

	result, err := s.db.ExecContext(ctx, query, conversationKey, receiverID)
	if err != nil {
		return 0, fmt.Errorf("marking messages read: %w", err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}

	s.logger.Debug("marked messages read",
		"conversation_key", conversationKey,
		"receiver_id", receiverID,
		"updated", updated,
	)
	return updated, nil
}

// CountUnread counts unread messages addressed to userID across all conversations
func (s *SQLiteStore) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE receiver_id = ? AND read_status = 0`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread: %w", err)
	}
	return count, nil
}

// CountUnreadInConversation counts unread messages addressed to receiverID in one conversation
func (s *SQLiteStore) CountUnreadInConversation(ctx context.Context, conversationKey, receiverID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_key = ? AND receiver_id = ? AND read_status = 0`,
		conversationKey, receiverID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting conversation unread: %w", err)
	}
	return count, nil
}

// LatestListingID returns the listing of the newest listing-bearing message, or "".
func (s *SQLiteStore) LatestListingID(ctx context.Context, conversationKey string) (string, error) {
	query := `
		SELECT listing_id
		FROM messages
		WHERE conversation_key = ? AND listing_id IS NOT NULL AND listing_id <> ''
		ORDER BY timestamp DESC, seq DESC
		LIMIT 1
	`

	var listingID string
	err := s.db.QueryRowContext(ctx, query, conversationKey).Scan(&listingID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying latest listing: %w", err)
	}
	return listingID, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// scanMessage reads messageColumns, followed by any extra destinations.
func scanMessage(row rowScanner, extra ...any) (*Message, error) {
	var msg Message
	var listingID sql.NullString
	var timestampStr string
	var readStatus int

	dest := []any{
		&msg.ID,
		&msg.SenderID,
		&msg.ReceiverID,
		&listingID,
		&msg.Content,
		&timestampStr,
		&readStatus,
		&msg.ConversationKey,
	}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	if listingID.Valid && listingID.String != "" {
		id := listingID.String
		msg.ListingID = &id
	}
	msg.ReadStatus = readStatus != 0

	ts, err := parseTimestamp(timestampStr)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	msg.Timestamp = ts

	return &msg, nil
}
