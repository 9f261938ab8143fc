// ABOUTME: Tests for the MongoStore document mapping and query filters
// ABOUTME: Runs without a server by round-tripping documents through BSON

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	hexAlice = "64b7f0c2a1b2c3d4e5f60001"
	hexBob   = "64b7f0c2a1b2c3d4e5f60002"
	hexLamp  = "64b7f0c2a1b2c3d4e5f60003"
)

func mustOID(t *testing.T, hex string) primitive.ObjectID {
	t.Helper()
	oid, err := primitive.ObjectIDFromHex(hex)
	require.NoError(t, err)
	return oid
}

func TestMongoMessage_DecodesObjectIDReferences(t *testing.T) {
	oid := primitive.NewObjectID()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	raw, err := bson.Marshal(bson.M{
		"_id":              oid,
		"sender_id":        mustOID(t, hexAlice),
		"receiver_id":      mustOID(t, hexBob),
		"listing_id":       mustOID(t, hexLamp),
		"content":          "still available?",
		"timestamp":        ts,
		"read_status":      false,
		"conversation_key": hexAlice + ":" + hexBob,
	})
	require.NoError(t, err)

	var doc mongoMessage
	require.NoError(t, bson.Unmarshal(raw, &doc))
	msg := doc.toMessage()

	// Documents without message_id fall back to _id
	assert.Equal(t, oid.Hex(), msg.ID)
	assert.Equal(t, hexAlice, msg.SenderID)
	assert.Equal(t, hexBob, msg.ReceiverID)
	require.NotNil(t, msg.ListingID)
	assert.Equal(t, hexLamp, *msg.ListingID)
	assert.True(t, ts.Equal(msg.Timestamp))
}

func TestMongoMessage_DecodesStringReferences(t *testing.T) {
	raw, err := bson.Marshal(bson.M{
		"_id":              primitive.NewObjectID(),
		"message_id":       "m1",
		"sender_id":        "alice",
		"receiver_id":      "bob",
		"listing_id":       nil,
		"content":          "hi",
		"timestamp":        time.Now(),
		"conversation_key": "alice:bob",
	})
	require.NoError(t, err)

	var doc mongoMessage
	require.NoError(t, bson.Unmarshal(raw, &doc))
	msg := doc.toMessage()

	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "alice", msg.SenderID)
	assert.Equal(t, "bob", msg.ReceiverID)
	assert.Nil(t, msg.ListingID)
}

func TestStoredID(t *testing.T) {
	assert.Equal(t, mustOID(t, hexAlice), storedID(hexAlice))
	assert.Equal(t, "alice", storedID("alice"))
}

func TestIDValues(t *testing.T) {
	assert.Equal(t, bson.A{hexBob, mustOID(t, hexBob)}, idValues(hexBob))
	assert.Equal(t, bson.A{"bob"}, idValues("bob"))
}

func TestParticipantFilter_MatchesBothForms(t *testing.T) {
	values := bson.A{hexAlice, mustOID(t, hexAlice)}
	want := bson.M{"$or": bson.A{
		bson.M{"sender_id": bson.M{"$in": values}},
		bson.M{"receiver_id": bson.M{"$in": values}},
	}}
	assert.Equal(t, want, participantFilter(hexAlice))
}

func TestUnreadFilter(t *testing.T) {
	inConversation := unreadFilter("a:b", hexBob)
	assert.Equal(t, bson.M{
		"receiver_id":      bson.M{"$in": bson.A{hexBob, mustOID(t, hexBob)}},
		"read_status":      false,
		"conversation_key": "a:b",
	}, inConversation)

	everywhere := unreadFilter("", "bob")
	assert.Equal(t, bson.M{
		"receiver_id": bson.M{"$in": bson.A{"bob"}},
		"read_status": false,
	}, everywhere)
}

func TestIDFilter(t *testing.T) {
	got := idFilter([]string{"alice", hexBob})
	assert.Equal(t, bson.M{"_id": bson.M{"$in": bson.A{"alice", hexBob, mustOID(t, hexBob)}}}, got)
}
