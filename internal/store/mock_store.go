// ABOUTME: Mock MessageStore implementation for testing
// ABOUTME: Allows tests to run without SQLite or MongoDB

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory MessageStore implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	messages []*mockEntry
	nextSeq  int64

	// Now stamps new messages. Defaults to time.Now.
	Now func() time.Time

	// FailWith, when set, is returned by every operation.
	FailWith error
}

type mockEntry struct {
	seq int64
	msg Message
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{Now: time.Now}
}

func (m *MockStore) failure() error {
	if m.FailWith != nil {
		return fmt.Errorf("mock store: %w", m.FailWith)
	}
	return nil
}

// CreateMessage stores a new unread message.
func (m *MockStore) CreateMessage(ctx context.Context, senderID, receiverID, content string, listingID *string) (*Message, error) {
	msg, err := newMessage(senderID, receiverID, content, listingID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure(); err != nil {
		return nil, err
	}

	m.nextSeq++
	msg.ID = fmt.Sprintf("msg-%06d", m.nextSeq)
	msg.Timestamp = m.Now().UTC()
	m.messages = append(m.messages, &mockEntry{seq: m.nextSeq, msg: *msg})

	return copyMessage(msg), nil
}

// ThreadMessages returns copies of a conversation's messages, oldest first.
func (m *MockStore) ThreadMessages(ctx context.Context, conversationKey string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure(); err != nil {
		return nil, err
	}

	var entries []*mockEntry
	for _, e := range m.messages {
		if e.msg.ConversationKey == conversationKey {
			entries = append(entries, e)
		}
	}
	sortEntries(entries, false)

	result := make([]*Message, 0, len(entries))
	for _, e := range entries {
		result = append(result, copyMessage(&e.msg))
	}
	return result, nil
}

// AggregateConversations groups the user's messages per conversation.
func (m *MockStore) AggregateConversations(ctx context.Context, userID string) ([]*ConversationGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure(); err != nil {
		return nil, err
	}

	latest := make(map[string]*mockEntry)
	unread := make(map[string]int64)
	for _, e := range m.messages {
		if e.msg.SenderID != userID && e.msg.ReceiverID != userID {
			continue
		}
		key := e.msg.ConversationKey
		if cur, ok := latest[key]; !ok || newer(e, cur) {
			latest[key] = e
		}
		if e.msg.ReceiverID == userID && !e.msg.ReadStatus {
			unread[key]++
		}
	}

	entries := make([]*mockEntry, 0, len(latest))
	for _, e := range latest {
		entries = append(entries, e)
	}
	sortEntries(entries, true)

	groups := make([]*ConversationGroup, 0, len(entries))
	for _, e := range entries {
		groups = append(groups, &ConversationGroup{
			ConversationKey: e.msg.ConversationKey,
			LastMessage:     copyMessage(&e.msg),
			UnreadCount:     unread[e.msg.ConversationKey],
		})
	}
	return groups, nil
}

// MarkRead flips unread messages addressed to receiverID in the conversation.
func (m *MockStore) MarkRead(ctx context.Context, conversationKey, receiverID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure(); err != nil {
		return 0, err
	}

	var updated int64
	for _, e := range m.messages {
		if e.msg.ConversationKey == conversationKey && e.msg.ReceiverID == receiverID && !e.msg.ReadStatus {
			e.msg.ReadStatus = true
			updated++
		}
	}
	return updated, nil
}

// CountUnread counts unread messages addressed to userID.
func (m *MockStore) CountUnread(ctx context.Context, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure(); err != nil {
		return 0, err
	}

	var count int64
	for _, e := range m.messages {
		if e.msg.ReceiverID == userID && !e.msg.ReadStatus {
			count++
		}
	}
	return count, nil
}

// CountUnreadInConversation counts unread messages addressed to receiverID in one conversation.
func (m *MockStore) CountUnreadInConversation(ctx context.Context, conversationKey, receiverID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure(); err != nil {
		return 0, err
	}

	var count int64
	for _, e := range m.messages {
		if e.msg.ConversationKey == conversationKey && e.msg.ReceiverID == receiverID && !e.msg.ReadStatus {
			count++
		}
	}
	return count, nil
}

// LatestListingID returns the listing of the newest listing-bearing message, or "".
func (m *MockStore) LatestListingID(ctx context.Context, conversationKey string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure(); err != nil {
		return "", err
	}

	var best *mockEntry
	for _, e := range m.messages {
		if e.msg.ConversationKey != conversationKey || e.msg.ListingID == nil {
			continue
		}
		if best == nil || newer(e, best) {
			best = e
		}
	}
	if best == nil {
		return "", nil
	}
	return *best.msg.ListingID, nil
}

// Ping reports FailWith if set.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failure()
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// Messages returns copies of every stored message in insertion order.
func (m *MockStore) Messages() []*Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Message, 0, len(m.messages))
	for _, e := range m.messages {
		out = append(out, copyMessage(&e.msg))
	}
	return out
}

func newer(a, b *mockEntry) bool {
	if !a.msg.Timestamp.Equal(b.msg.Timestamp) {
		return a.msg.Timestamp.After(b.msg.Timestamp)
	}
	return a.seq > b.seq
}

func sortEntries(entries []*mockEntry, newestFirst bool) {
	sort.SliceStable(entries, func(i, j int) bool {
		if newestFirst {
			return newer(entries[i], entries[j])
		}
		return newer(entries[j], entries[i])
	})
}

func copyMessage(msg *Message) *Message {
	out := *msg
	if msg.ListingID != nil {
		id := *msg.ListingID
		out.ListingID = &id
	}
	return &out
}

// Ensure MockStore implements MessageStore
var _ MessageStore = (*MockStore)(nil)

// ErrUnavailable is a convenience failure for MockStore.FailWith.
var ErrUnavailable = errors.New("store unavailable")
