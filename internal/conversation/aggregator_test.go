// ABOUTME: Tests for the conversation aggregator
// ABOUTME: Covers ordering, partner resolution, listing resolution and unread totals

package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/giftbox-chat/internal/directory"
	"github.com/2389/giftbox-chat/internal/store"
)

type fixture struct {
	store *store.MockStore
	dir   *directory.Memory
	agg   *Aggregator
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: store.NewMockStore(),
		dir:   directory.NewMemory(),
		now:   time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.store.Now = func() time.Time { return f.now }
	for _, u := range []directory.User{
		{ID: "alice", Name: "Alice", Email: "alice@example.com"},
		{ID: "bob", Name: "Bob", Email: "bob@example.com"},
		{ID: "carol", Name: "Carol", Email: "carol@example.com"},
	} {
		f.dir.PutUser(u)
	}
	f.dir.PutListing(directory.Listing{ID: "sofa", Title: "Blue sofa", ImageURL: "/img/sofa.jpg", Slug: "blue-sofa-1"})
	f.agg = NewAggregator(f.store, f.dir, f.dir, nil)
	return f
}

func (f *fixture) send(t *testing.T, from, to, content string, listing string) *store.Message {
	t.Helper()
	var listingID *string
	if listing != "" {
		listingID = &listing
	}
	msg, err := f.store.CreateMessage(context.Background(), from, to, content, listingID)
	require.NoError(t, err)
	f.now = f.now.Add(time.Minute)
	return msg
}

func TestAggregator_EmptyInbox(t *testing.T) {
	f := newFixture(t)

	inbox, err := f.agg.List(t.Context(), "alice")
	require.NoError(t, err)
	assert.Empty(t, inbox.Conversations)
	assert.NotNil(t, inbox.Conversations)
	assert.Zero(t, inbox.UnreadCount)
}

func TestAggregator_SummariesNewestFirst(t *testing.T) {
	f := newFixture(t)

	f.send(t, "bob", "alice", "is the sofa free?", "sofa")
	f.send(t, "carol", "alice", "hi!", "")
	last := f.send(t, "bob", "alice", "I can pick it up today", "")

	inbox, err := f.agg.List(t.Context(), "alice")
	require.NoError(t, err)
	require.Len(t, inbox.Conversations, 2)

	bob := inbox.Conversations[0]
	assert.Equal(t, "alice:bob", bob.ConversationKey)
	assert.Equal(t, "Bob", bob.Partner.Name)
	assert.Equal(t, last.ID, bob.LastMessage.ID)
	assert.Equal(t, int64(2), bob.UnreadCount)
	assert.True(t, bob.LastActivity.Equal(last.Timestamp))
	require.NotNil(t, bob.Listing, "listing comes from the newest listing-bearing message")
	assert.Equal(t, "Blue sofa", bob.Listing.Title)

	carol := inbox.Conversations[1]
	assert.Equal(t, "Carol", carol.Partner.Name)
	assert.Nil(t, carol.Listing)

	assert.Equal(t, int64(3), inbox.UnreadCount)
}

func TestAggregator_SenderSideHasNoUnread(t *testing.T) {
	f := newFixture(t)

	f.send(t, "alice", "bob", "hello", "")

	inbox, err := f.agg.List(t.Context(), "alice")
	require.NoError(t, err)
	require.Len(t, inbox.Conversations, 1)
	assert.Equal(t, "Bob", inbox.Conversations[0].Partner.Name)
	assert.Zero(t, inbox.Conversations[0].UnreadCount)
	assert.Zero(t, inbox.UnreadCount)
}

func TestAggregator_DropsMissingPartner(t *testing.T) {
	f := newFixture(t)

	f.send(t, "bob", "alice", "hello", "")
	f.send(t, "carol", "alice", "hello", "")
	f.dir.DeleteUser("carol")

	inbox, err := f.agg.List(t.Context(), "alice")
	require.NoError(t, err)
	require.Len(t, inbox.Conversations, 1)
	assert.Equal(t, "alice:bob", inbox.Conversations[0].ConversationKey)
	assert.Equal(t, int64(1), inbox.UnreadCount)
}

func TestAggregator_MissingListingLeavesSummaryWithoutListing(t *testing.T) {
	f := newFixture(t)

	f.send(t, "bob", "alice", "about the lamp", "lamp-gone")

	inbox, err := f.agg.List(t.Context(), "alice")
	require.NoError(t, err)
	require.Len(t, inbox.Conversations, 1)
	assert.Nil(t, inbox.Conversations[0].Listing)
}

func TestAggregator_MarkReadClearsUnread(t *testing.T) {
	f := newFixture(t)

	msg := f.send(t, "bob", "alice", "hello", "")
	_, err := f.store.MarkRead(t.Context(), msg.ConversationKey, "alice")
	require.NoError(t, err)

	inbox, err := f.agg.List(t.Context(), "alice")
	require.NoError(t, err)
	require.Len(t, inbox.Conversations, 1)
	assert.Zero(t, inbox.Conversations[0].UnreadCount)
	assert.Zero(t, inbox.UnreadCount)
}

func TestAggregator_StoreFailure(t *testing.T) {
	f := newFixture(t)
	f.store.FailWith = store.ErrUnavailable

	_, err := f.agg.List(t.Context(), "alice")
	assert.True(t, errors.Is(err, store.ErrUnavailable))
}

func TestPartnerOf(t *testing.T) {
	msg := &store.Message{SenderID: "alice", ReceiverID: "bob"}
	assert.Equal(t, "bob", PartnerOf(msg, "alice"))
	assert.Equal(t, "alice", PartnerOf(msg, "bob"))
}
