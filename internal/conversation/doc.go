// Package conversation derives per-user conversation lists from the message log.
//
// # Overview
//
// A conversation is never stored. It is the set of messages sharing a
// conversation key, summarized for one participant as:
//
//   - Partner: the other participant, resolved through directory.Users
//   - LastMessage: the newest message in either direction
//   - UnreadCount: messages addressed to the viewer and not yet read
//   - Listing: the listing referenced by the newest listing-bearing message
//   - LastActivity: the timestamp of LastMessage
//
// # Aggregator
//
//	agg := conversation.NewAggregator(store, users, listings, logger)
//	inbox, err := agg.List(ctx, userID)
//
// Partners and listings are resolved with one batch lookup each. A
// conversation whose partner cannot be found is dropped from the result; a
// listing that cannot be found leaves Listing nil.
//
// Inbox.UnreadCount is the sum of the listed conversations' unread counts.
package conversation
