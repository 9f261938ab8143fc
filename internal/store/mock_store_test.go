// ABOUTME: Unit tests for MockStore behaviour specific to the in-memory implementation
// ABOUTME: Focuses on copy semantics and injected failures

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_ReturnsCopies(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	msg, err := store.CreateMessage(ctx, "alice", "bob", "hi", strPtr("listing-1"))
	require.NoError(t, err)

	msg.Content = "tampered"
	*msg.ListingID = "tampered"

	thread, err := store.ThreadMessages(ctx, msg.ConversationKey)
	require.NoError(t, err)
	require.Len(t, thread, 1)
	assert.Equal(t, "hi", thread[0].Content)
	assert.Equal(t, "listing-1", *thread[0].ListingID)
}

func TestMockStore_FailWith(t *testing.T) {
	store := NewMockStore()
	store.FailWith = ErrUnavailable
	ctx := context.Background()

	_, err := store.CreateMessage(ctx, "alice", "bob", "hi", nil)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = store.CountUnread(ctx, "bob")
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.ErrorIs(t, store.Ping(ctx), ErrUnavailable)

	store.FailWith = nil
	assert.NoError(t, store.Ping(ctx))
	assert.Empty(t, store.Messages())
}

func TestMockStore_ValidationBeforeFailure(t *testing.T) {
	store := NewMockStore()
	store.FailWith = ErrUnavailable

	_, err := store.CreateMessage(context.Background(), "alice", "bob", " ", nil)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}
