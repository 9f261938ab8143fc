// Package store provides persistent storage for chat messages.
//
// # Architecture
//
// MessageStore is the single interface the messaging core depends on. It
// covers message creation, thread retrieval, per-user conversation
// aggregation, read receipts and unread counting.
//
// Three implementations exist:
//
//   - SQLiteStore: embedded database (modernc.org/sqlite), also mirrors the
//     marketplace user and listing directories locally
//   - MongoStore: reads and writes the marketplace's own chats, users and
//     items collections
//   - MockStore: in-memory, for unit tests
//
// SQLiteStore and MongoStore also satisfy directory.Users and
// directory.Listings, so one backend can serve both roles.
//
// # Data Model
//
//   - Message: immutable apart from ReadStatus. ConversationKey is derived
//     from the two participants and is identical for both directions.
//   - ConversationGroup: one conversation as seen by one participant, with
//     its newest message and the participant's unread count.
//
// # Ordering
//
// Threads are returned oldest first. Messages sharing a timestamp keep
// insertion order (an autoincrement sequence in SQLite, the ObjectID in
// MongoDB). Conversation groups are returned newest activity first.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as fixed-width UTC text so they sort lexically.
//
// # Error Handling
//
//   - ErrInvalidMessage: blank content, missing or identical participants
//   - ErrNotFound: requested entity does not exist
//   - directory.ErrNotFound: user or listing lookups that miss
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(":memory:") or a
// t.TempDir() path for integration tests.
package store
