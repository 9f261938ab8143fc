// ABOUTME: Builds a user's conversation list from the message log on every read
// ABOUTME: Resolves partners and listing summaries in batches and totals unread counts

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/giftbox-chat/internal/directory"
	"github.com/2389/giftbox-chat/internal/store"
)

// AggregateStore defines what the aggregator needs from storage
type AggregateStore interface {
	AggregateConversations(ctx context.Context, userID string) ([]*store.ConversationGroup, error)
	LatestListingID(ctx context.Context, conversationKey string) (string, error)
}

// Summary is one row of a user's conversation list.
type Summary struct {
	ConversationKey string             `json:"conversation_key"`
	Partner         *directory.User    `json:"partner"`
	LastMessage     *store.Message     `json:"last_message"`
	UnreadCount     int64              `json:"unread_count"`
	Listing         *directory.Listing `json:"listing,omitempty"`
	LastActivity    time.Time          `json:"last_activity"`
}

// Inbox is a user's full conversation list plus the grand total of unread messages.
type Inbox struct {
	Conversations []Summary `json:"conversations"`
	UnreadCount   int64     `json:"unread_count"`
}

// Aggregator computes conversation summaries. Nothing is cached; every call reads the log.
type Aggregator struct {
	store    AggregateStore
	users    directory.Users
	listings directory.Listings
	logger   *slog.Logger
}

// NewAggregator creates an Aggregator. Pass nil logger for default.
func NewAggregator(s AggregateStore, users directory.Users, listings directory.Listings, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		store:    s,
		users:    users,
		listings: listings,
		logger:   logger.With("component", "conversation"),
	}
}

// List returns userID's conversations, newest activity first.
// Conversations whose partner no longer exists are omitted, and their unread
// messages do not count toward the total.
func (a *Aggregator) List(ctx context.Context, userID string) (*Inbox, error) {
	groups, err := a.store.AggregateConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("aggregating conversations: %w", err)
	}

	inbox := &Inbox{Conversations: make([]Summary, 0, len(groups))}
	if len(groups) == 0 {
		return inbox, nil
	}

	partnerIDs := make([]string, 0, len(groups))
	listingIDs := make(map[string]string, len(groups)) // conversation key -> listing ID
	for _, g := range groups {
		partnerIDs = append(partnerIDs, PartnerOf(g.LastMessage, userID))

		listingID := ""
		if g.LastMessage.ListingID != nil {
			listingID = *g.LastMessage.ListingID
		} else {
			listingID, err = a.store.LatestListingID(ctx, g.ConversationKey)
			if err != nil {
				return nil, fmt.Errorf("resolving listing for %s: %w", g.ConversationKey, err)
			}
		}
		if listingID != "" {
			listingIDs[g.ConversationKey] = listingID
		}
	}

	partners, err := a.users.GetUsers(ctx, partnerIDs)
	if err != nil {
		return nil, fmt.Errorf("resolving partners: %w", err)
	}

	ids := make([]string, 0, len(listingIDs))
	for _, id := range listingIDs {
		ids = append(ids, id)
	}
	listings, err := a.listings.GetListings(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolving listings: %w", err)
	}

	for _, g := range groups {
		partnerID := PartnerOf(g.LastMessage, userID)
		partner, ok := partners[partnerID]
		if !ok {
			a.logger.Debug("skipping conversation with unknown partner",
				"conversation_key", g.ConversationKey,
				"partner_id", partnerID)
			continue
		}

		summary := Summary{
			ConversationKey: g.ConversationKey,
			Partner:         partner,
			LastMessage:     g.LastMessage,
			UnreadCount:     g.UnreadCount,
			LastActivity:    g.LastMessage.Timestamp,
		}
		if id, ok := listingIDs[g.ConversationKey]; ok {
			summary.Listing = listings[id]
		}

		inbox.Conversations = append(inbox.Conversations, summary)
		inbox.UnreadCount += g.UnreadCount
	}

	return inbox, nil
}

// PartnerOf returns the participant of msg that is not userID.
func PartnerOf(msg *store.Message, userID string) string {
	if msg.SenderID == userID {
		return msg.ReceiverID
	}
	return msg.SenderID
}
