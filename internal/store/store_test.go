// ABOUTME: Behavioural tests shared by every MessageStore backend
// ABOUTME: Runs the same scenarios against SQLiteStore and MockStore

package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for deterministic timestamps
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type storeFactory func(t *testing.T, clock *fakeClock) MessageStore

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"sqlite": func(t *testing.T, clock *fakeClock) MessageStore {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"), WithClock(clock.Now))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"mock": func(t *testing.T, clock *fakeClock) MessageStore {
			s := NewMockStore()
			s.Now = clock.Now
			return s
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s MessageStore, clock *fakeClock)) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			fn(t, factory(t, clock), clock)
		})
	}
}

func strPtr(s string) *string { return &s }

func TestCreateMessage_DerivesKeyAndDefaults(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s MessageStore, clock *fakeClock) {
		ctx := context.Background()

		ab, err := s.CreateMessage(ctx, "alice", "bob", "  hello  ", nil)
		require.NoError(t, err)
		ba, err := s.CreateMessage(ctx, "bob", "alice", "hi back", strPtr(""))
		require.NoError(t, err)

		assert.Equal(t, "alice:bob", ab.ConversationKey)
		assert.Equal(t, ab.ConversationKey, ba.ConversationKey)
		assert.Equal(t, "hello", ab.Content)
		assert.False(t, ab.ReadStatus)
		assert.Nil(t, ba.ListingID, "empty listing normalizes to nil")
		assert.NotEmpty(t, ab.ID)
		assert.NotEqual(t, ab.ID, ba.ID)
		assert.True(t, ab.Timestamp.Equal(clock.Now()))
	})
}

func TestCreateMessage_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		sender   string
		receiver string
		content  string
	}{
		{"blank content", "alice", "bob", "   \n\t"},
		{"empty content", "alice", "bob", ""},
		{"missing sender", "", "bob", "hi"},
		{"missing receiver", "alice", "", "hi"},
		{"self message", "alice", "alice", "hi"},
	}

	forEachBackend(t, func(t *testing.T, s MessageStore, _ *fakeClock) {
		ctx := context.Background()
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := s.CreateMessage(ctx, tt.sender, tt.receiver, tt.content, nil)
				assert.ErrorIs(t, err, ErrInvalidMessage)
			})
		}

		count, err := s.CountUnread(ctx, "bob")
		require.NoError(t, err)
		assert.Zero(t, count, "rejected messages must not be persisted")
	})
}

func TestThreadMessages_OrderedOldestFirst(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s MessageStore, clock *fakeClock) {
		ctx := context.Background()

		first, err := s.CreateMessage(ctx, "alice", "bob", "one", nil)
		require.NoError(t, err)
		// Same timestamp as the first: insertion order breaks the tie
		second, err := s.CreateMessage(ctx, "bob", "alice", "two", nil)
		require.NoError(t, err)
		clock.Advance(time.Second)
		third, err := s.CreateMessage(ctx, "alice", "bob", "three", nil)
		require.NoError(t, err)

		// Unrelated conversation
		_, err = s.CreateMessage(ctx, "alice", "carol", "elsewhere", nil)
		require.NoError(t, err)

		thread, err := s.ThreadMessages(ctx, "alice:bob")
		require.NoError(t, err)
		require.Len(t, thread, 3)
		assert.Equal(t, first.ID, thread[0].ID)
		assert.Equal(t, second.ID, thread[1].ID)
		assert.Equal(t, third.ID, thread[2].ID)

		empty, err := s.ThreadMessages(ctx, "alice:nobody")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestAggregateConversations(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s MessageStore, clock *fakeClock) {
		ctx := context.Background()

		_, err := s.CreateMessage(ctx, "bob", "alice", "b1", nil)
		require.NoError(t, err)
		clock.Advance(time.Second)
		_, err = s.CreateMessage(ctx, "carol", "alice", "c1", nil)
		require.NoError(t, err)
		clock.Advance(time.Second)
		lastBob, err := s.CreateMessage(ctx, "bob", "alice", "b2", nil)
		require.NoError(t, err)
		clock.Advance(time.Second)
		_, err = s.CreateMessage(ctx, "alice", "dave", "d1", nil)
		require.NoError(t, err)

		groups, err := s.AggregateConversations(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, groups, 3)

		assert.Equal(t, "alice:dave", groups[0].ConversationKey)
		assert.Zero(t, groups[0].UnreadCount, "alice sent the only message")

		assert.Equal(t, "alice:bob", groups[1].ConversationKey)
		assert.Equal(t, lastBob.ID, groups[1].LastMessage.ID)
		assert.Equal(t, int64(2), groups[1].UnreadCount)

		assert.Equal(t, "alice:carol", groups[2].ConversationKey)
		assert.Equal(t, int64(1), groups[2].UnreadCount)

		// Unread total equals the sum of per-conversation unread counts
		total, err := s.CountUnread(ctx, "alice")
		require.NoError(t, err)
		var sum int64
		for _, g := range groups {
			sum += g.UnreadCount
		}
		assert.Equal(t, total, sum)

		none, err := s.AggregateConversations(ctx, "zed")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestMarkRead_OnlyReceiverSideAndIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s MessageStore, _ *fakeClock) {
		ctx := context.Background()

		for _, c := range []string{"m1", "m2", "m3"} {
			_, err := s.CreateMessage(ctx, "alice", "bob", c, nil)
			require.NoError(t, err)
		}
		_, err := s.CreateMessage(ctx, "bob", "alice", "reply", nil)
		require.NoError(t, err)

		updated, err := s.MarkRead(ctx, "alice:bob", "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(3), updated)

		again, err := s.MarkRead(ctx, "alice:bob", "bob")
		require.NoError(t, err)
		assert.Zero(t, again)

		bobUnread, err := s.CountUnreadInConversation(ctx, "alice:bob", "bob")
		require.NoError(t, err)
		assert.Zero(t, bobUnread)

		// Messages bob sent are untouched
		aliceUnread, err := s.CountUnreadInConversation(ctx, "alice:bob", "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(1), aliceUnread)

		thread, err := s.ThreadMessages(ctx, "alice:bob")
		require.NoError(t, err)
		for _, m := range thread {
			if m.ReceiverID == "bob" {
				assert.True(t, m.ReadStatus)
			} else {
				assert.False(t, m.ReadStatus)
			}
		}
	})
}

func TestMarkRead_EmptyConversation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s MessageStore, _ *fakeClock) {
		updated, err := s.MarkRead(context.Background(), "nobody:somebody", "somebody")
		require.NoError(t, err)
		assert.Zero(t, updated)
	})
}

func TestLatestListingID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s MessageStore, clock *fakeClock) {
		ctx := context.Background()

		id, err := s.LatestListingID(ctx, "alice:bob")
		require.NoError(t, err)
		assert.Empty(t, id)

		_, err = s.CreateMessage(ctx, "alice", "bob", "about the sofa", strPtr("listing-sofa"))
		require.NoError(t, err)
		clock.Advance(time.Second)
		_, err = s.CreateMessage(ctx, "bob", "alice", "and the lamp?", strPtr("listing-lamp"))
		require.NoError(t, err)
		clock.Advance(time.Second)
		// A newer message without a listing does not clear the summary
		_, err = s.CreateMessage(ctx, "alice", "bob", "sure", nil)
		require.NoError(t, err)

		id, err = s.LatestListingID(ctx, "alice:bob")
		require.NoError(t, err)
		assert.Equal(t, "listing-lamp", id)
	})
}

func TestSendThenMarkRead_Scenario(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s MessageStore, _ *fakeClock) {
		ctx := context.Background()

		msg, err := s.CreateMessage(ctx, "alice", "bob", "hello", nil)
		require.NoError(t, err)

		unread, err := s.CountUnread(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(1), unread)

		groups, err := s.AggregateConversations(ctx, "bob")
		require.NoError(t, err)
		require.Len(t, groups, 1)
		assert.Equal(t, msg.ID, groups[0].LastMessage.ID)
		assert.Equal(t, int64(1), groups[0].UnreadCount)

		_, err = s.MarkRead(ctx, msg.ConversationKey, "bob")
		require.NoError(t, err)

		unread, err = s.CountUnread(ctx, "bob")
		require.NoError(t, err)
		assert.Zero(t, unread)
	})
}
