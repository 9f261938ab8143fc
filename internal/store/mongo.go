// ABOUTME: MongoDB implementation of MessageStore plus user/listing lookups
// ABOUTME: Shares the marketplace's chats, users and items collections, whose ids may be ObjectIDs or strings

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/2389/giftbox-chat/internal/directory"
)

const (
	chatsCollection = "chats"
	usersCollection = "users"
	itemsCollection = "items"
)

// mongoMessage is the document layout of the chats collection. Participant
// and listing references are ObjectIDs for hex ids and strings otherwise.
type mongoMessage struct {
	ObjectID        primitive.ObjectID `bson:"_id"`
	MessageID       string             `bson:"message_id"`
	SenderID        any                `bson:"sender_id"`
	ReceiverID      any                `bson:"receiver_id"`
	ListingID       any                `bson:"listing_id"`
	Content         string             `bson:"content"`
	Timestamp       time.Time          `bson:"timestamp"`
	ReadStatus      bool               `bson:"read_status"`
	ConversationKey string             `bson:"conversation_key"`
}

func (m *mongoMessage) toMessage() *Message {
	id := m.MessageID
	if id == "" {
		id = m.ObjectID.Hex()
	}

	var listingID *string
	if m.ListingID != nil {
		if l := idString(m.ListingID); l != "" {
			listingID = &l
		}
	}

	return &Message{
		ID:              id,
		SenderID:        idString(m.SenderID),
		ReceiverID:      idString(m.ReceiverID),
		ListingID:       listingID,
		Content:         m.Content,
		Timestamp:       m.Timestamp.UTC(),
		ReadStatus:      m.ReadStatus,
		ConversationKey: m.ConversationKey,
	}
}

type mongoUser struct {
	ID    any    `bson:"_id"`
	Name  string `bson:"name"`
	Email string `bson:"email"`
}

type mongoItem struct {
	ID       any    `bson:"_id"`
	Title    string `bson:"title"`
	ImageURL string `bson:"imageUrl"`
	Images   []struct {
		URL       string `bson:"url"`
		IsPrimary bool   `bson:"isPrimary"`
	} `bson:"images"`
	Slug string `bson:"slug"`
}

func (it *mongoItem) toListing() *directory.Listing {
	image := it.ImageURL
	for _, img := range it.Images {
		if img.IsPrimary && img.URL != "" {
			image = img.URL
			break
		}
	}
	return &directory.Listing{
		ID:       idString(it.ID),
		Title:    it.Title,
		ImageURL: image,
		Slug:     it.Slug,
	}
}

// MongoStore implements MessageStore, directory.Users and directory.Listings on MongoDB
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
	now    func() time.Time
}

// NewMongoStore connects to MongoDB, verifies the connection and ensures chat indexes exist.
func NewMongoStore(ctx context.Context, uri, database string, logger *slog.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	s := &MongoStore{
		client: client,
		db:     client.Database(database),
		logger: logger.With("component", "store"),
		now:    time.Now,
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	s.logger.Info("MongoDB store initialized", "database", database)
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(chatsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "message_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "conversation_key", Value: 1}, {Key: "timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "receiver_id", Value: 1}, {Key: "read_status", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
	})
	return err
}

func (s *MongoStore) chats() *mongo.Collection {
	return s.db.Collection(chatsCollection)
}

// CreateMessage validates and inserts a new unread message
func (s *MongoStore) CreateMessage(ctx context.Context, senderID, receiverID, content string, listingID *string) (*Message, error) {
	msg, err := newMessage(senderID, receiverID, content, listingID)
	if err != nil {
		return nil, err
	}

	oid := primitive.NewObjectID()
	msg.ID = oid.Hex()
	// BSON dates carry millisecond precision
	msg.Timestamp = s.now().UTC().Truncate(time.Millisecond)

	var listingRef any
	if msg.ListingID != nil {
		listingRef = storedID(*msg.ListingID)
	}

	doc := mongoMessage{
		ObjectID:        oid,
		MessageID:       msg.ID,
		SenderID:        storedID(msg.SenderID),
		ReceiverID:      storedID(msg.ReceiverID),
		ListingID:       listingRef,
		Content:         msg.Content,
		Timestamp:       msg.Timestamp,
		ReadStatus:      false,
		ConversationKey: msg.ConversationKey,
	}

	if _, err := s.chats().InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
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

// ThreadMessages returns a conversation oldest first, ties broken by insertion order
func (s *MongoStore) ThreadMessages(ctx context.Context, conversationKey string) ([]*Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.chats().Find(ctx, bson.M{"conversation_key": conversationKey}, opts)
	if err != nil {
		return nil, fmt.Errorf("querying thread: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoMessage
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding thread: %w", err)
	}

	messages := make([]*Message, 0, len(docs))
	for i := range docs {
		messages = append(messages, docs[i].toMessage())
	}
	return messages, nil
}

// AggregateConversations groups the user's messages per conversation, newest activity first
func (s *MongoStore) AggregateConversations(ctx context.Context, userID string) ([]*ConversationGroup, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: participantFilter(userID)}},
		{{Key: "$sort", Value: bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}}},
		{{Key: "$group", Value: bson.M{
			"_id":  "$conversation_key",
			"last": bson.M{"$first": "$$ROOT"},
			"unread": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$and": bson.A{
					bson.M{"$in": bson.A{"$receiver_id", idValues(userID)}},
					bson.M{"$eq": bson.A{"$read_status", false}},
				}},
				1,
				0,
			}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "last.timestamp", Value: -1}, {Key: "last._id", Value: -1}}}},
	}

	cursor, err := s.chats().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregating conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Key    string       `bson:"_id"`
		Last   mongoMessage `bson:"last"`
		Unread int64        `bson:"unread"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decoding conversations: %w", err)
	}

	groups := make([]*ConversationGroup, 0, len(rows))
	for i := range rows {
		groups = append(groups, &ConversationGroup{
			ConversationKey: rows[i].Key,
			LastMessage:     rows[i].Last.toMessage(),
			UnreadCount:     rows[i].Unread,
		})
	}
	return groups, nil
}

// MarkRead flips unread messages addressed to receiverID and returns how many changed
func (s *MongoStore) MarkRead(ctx context.Context, conversationKey, receiverID string) (int64, error) {
	result, err := s.chats().UpdateMany(ctx, unreadFilter(conversationKey, receiverID), bson.M{"$set": bson.M{"read_status": true}})
	if err != nil {
		return 0, fmt.Errorf("marking messages read: %w", err)
	}
	return result.ModifiedCount, nil
}

// CountUnread counts unread messages addressed to userID
func (s *MongoStore) CountUnread(ctx context.Context, userID string) (int64, error) {
	count, err := s.chats().CountDocuments(ctx, unreadFilter("", userID))
	if err != nil {
		return 0, fmt.Errorf("counting unread: %w", err)
	}
	return count, nil
}

// CountUnreadInConversation counts unread messages addressed to receiverID in one conversation
func (s *MongoStore) CountUnreadInConversation(ctx context.Context, conversationKey, receiverID string) (int64, error) {
	count, err := s.chats().CountDocuments(ctx, unreadFilter(conversationKey, receiverID))
	if err != nil {
		return 0, fmt.Errorf("counting conversation unread: %w", err)
	}
	return count, nil
}

// LatestListingID returns the listing of the newest listing-bearing message, or "".
func (s *MongoStore) LatestListingID(ctx context.Context, conversationKey string) (string, error) {
	filter := bson.M{
		"conversation_key": conversationKey,
		"listing_id":       bson.M{"$nin": bson.A{nil, ""}},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}})

	var doc mongoMessage
	err := s.chats().FindOne(ctx, filter, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying latest listing: %w", err)
	}
	if doc.ListingID == nil {
		return "", nil
	}
	return idString(doc.ListingID), nil
}

// GetUser looks up a user by ID. Returns directory.ErrNotFound if absent.
func (s *MongoStore) GetUser(ctx context.Context, id string) (*directory.User, error) {
	users, err := s.GetUsers(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	u, ok := users[id]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return u, nil
}

// GetUsers looks up every existing user among ids with a single query
func (s *MongoStore) GetUsers(ctx context.Context, ids []string) (map[string]*directory.User, error) {
	ids = directory.Unique(ids)
	out := make(map[string]*directory.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	opts := options.Find().SetProjection(bson.M{"name": 1, "email": 1})
	cursor, err := s.db.Collection(usersCollection).Find(ctx, idFilter(ids), opts)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoUser
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding users: %w", err)
	}
	for _, d := range docs {
		id := idString(d.ID)
		out[id] = &directory.User{ID: id, Name: d.Name, Email: d.Email}
	}
	return out, nil
}

// GetListing looks up a listing by ID. Returns directory.ErrNotFound if absent.
func (s *MongoStore) GetListing(ctx context.Context, id string) (*directory.Listing, error) {
	listings, err := s.GetListings(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	l, ok := listings[id]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return l, nil
}

// GetListings looks up every existing listing among ids with a single query
func (s *MongoStore) GetListings(ctx context.Context, ids []string) (map[string]*directory.Listing, error) {
	ids = directory.Unique(ids)
	out := make(map[string]*directory.Listing, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	opts := options.Find().SetProjection(bson.M{"title": 1, "imageUrl": 1, "images": 1, "slug": 1})
	cursor, err := s.db.Collection(itemsCollection).Find(ctx, idFilter(ids), opts)
	if err != nil {
		return nil, fmt.Errorf("querying listings: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoItem
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding listings: %w", err)
	}
	for i := range docs {
		l := docs[i].toListing()
		out[l.ID] = l
	}
	return out, nil
}

// Ping checks the primary is reachable
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client
func (s *MongoStore) Close() error {
	s.logger.Info("closing MongoDB store")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// storedID is the form an id is written in: an ObjectID when id is 24 hex
// characters, the plain string otherwise.
func storedID(id string) any {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

// idValues lists every stored form id may take.
func idValues(id string) bson.A {
	values := bson.A{id}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		values = append(values, oid)
	}
	return values
}

// idFilter matches documents whose _id is any of ids, stored either as an
// ObjectID or as a plain string.
func idFilter(ids []string) bson.M {
	values := make(bson.A, 0, len(ids)*2)
	for _, id := range ids {
		values = append(values, idValues(id)...)
	}
	return bson.M{"_id": bson.M{"$in": values}}
}

// participantFilter matches chats sent or received by userID.
func participantFilter(userID string) bson.M {
	values := idValues(userID)
	return bson.M{"$or": bson.A{
		bson.M{"sender_id": bson.M{"$in": values}},
		bson.M{"receiver_id": bson.M{"$in": values}},
	}}
}

// unreadFilter matches unread chats addressed to receiverID, limited to one
// conversation when conversationKey is set.
func unreadFilter(conversationKey, receiverID string) bson.M {
	filter := bson.M{
		"receiver_id": bson.M{"$in": idValues(receiverID)},
		"read_status": false,
	}
	if conversationKey != "" {
		filter["conversation_key"] = conversationKey
	}
	return filter
}

func idString(v any) string {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}
