// ABOUTME: MessagingService ties the message log, directories and live channels together
// ABOUTME: Every write is persisted first; live events are best-effort notifications afterwards

package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/2389/giftbox-chat/internal/conversation"
	"github.com/2389/giftbox-chat/internal/convkey"
	"github.com/2389/giftbox-chat/internal/dedupe"
	"github.com/2389/giftbox-chat/internal/directory"
	"github.com/2389/giftbox-chat/internal/ratelimit"
	"github.com/2389/giftbox-chat/internal/registry"
	"github.com/2389/giftbox-chat/internal/store"
)

// DefaultMaxContentLength bounds message content, in characters.
const DefaultMaxContentLength = 4000

// Registrar attaches live channels to users
type Registrar interface {
	Register(userID string, ch registry.Channel) (unregister func())
}

// Notifier delivers an event to every live channel of a user
type Notifier interface {
	Send(userID, event string, payload any)
}

// Options holds the service's collaborators. Store, Users, Listings,
// Registry and Notifier are required; the rest are optional.
type Options struct {
	Store    store.MessageStore
	Users    directory.Users
	Listings directory.Listings
	Registry Registrar
	Notifier Notifier

	// Validator checks user and listing ID format. Defaults to opaque IDs.
	Validator *convkey.Validator
	// Idempotency enables Idempotency-Key handling on SendMessage.
	Idempotency *dedupe.Cache
	// SendLimiter and TypingLimiter bound per-user request rates.
	SendLimiter   *ratelimit.Limiter
	TypingLimiter *ratelimit.Limiter

	MaxContentLength int
}

// Service implements the chat operations exposed to transports.
type Service struct {
	store       store.MessageStore
	users       directory.Users
	listings    directory.Listings
	registry    Registrar
	notifier    Notifier
	aggregator  *conversation.Aggregator
	validator   *convkey.Validator
	idempotency *dedupe.Cache
	sendLimit   *ratelimit.Limiter
	typingLimit *ratelimit.Limiter
	maxContent  int
	logger      *slog.Logger
}

// New creates a Service. Pass nil logger for default.
func New(opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	validator := opts.Validator
	if validator == nil {
		validator, _ = convkey.NewValidator(convkey.IDFormatOpaque)
	}
	maxContent := opts.MaxContentLength
	if maxContent <= 0 {
		maxContent = DefaultMaxContentLength
	}

	return &Service{
		store:       opts.Store,
		users:       opts.Users,
		listings:    opts.Listings,
		registry:    opts.Registry,
		notifier:    opts.Notifier,
		aggregator:  conversation.NewAggregator(opts.Store, opts.Users, opts.Listings, logger),
		validator:   validator,
		idempotency: opts.Idempotency,
		sendLimit:   opts.SendLimiter,
		typingLimit: opts.TypingLimiter,
		maxContent:  maxContent,
		logger:      logger.With("component", "messaging"),
	}
}

// OpenStream writes the connected event to ch and then registers it for
// userID, so connected is always the first event on ch. The caller must
// invoke the returned function when the transport closes.
func (s *Service) OpenStream(ctx context.Context, userID string, ch registry.Channel) (func(), error) {
	if userID == "" {
		return nil, invalid("user_id", "required")
	}

	if err := ch.Write(EventConnected, []byte(`{}`)); err != nil {
		return nil, fmt.Errorf("writing connected event: %w", err)
	}

	unregister := s.registry.Register(userID, ch)

	s.logger.Debug("stream opened", "user_id", userID)
	return unregister, nil
}

// ListConversations returns the user's conversation summaries and total unread count.
func (s *Service) ListConversations(ctx context.Context, userID string) (*conversation.Inbox, error) {
	return s.aggregator.List(ctx, userID)
}

// Thread is a full conversation between the caller and one partner.
type Thread struct {
	ConversationKey string             `json:"conversation_key"`
	Messages        []*store.Message   `json:"messages"`
	Listing         *directory.Listing `json:"listing,omitempty"`
}

// FetchThread returns every message between userID and partnerID, oldest first.
// Fetching does not mark anything read.
func (s *Service) FetchThread(ctx context.Context, userID, partnerID string) (*Thread, error) {
	key, err := s.conversationWith(userID, partnerID, "partner_id")
	if err != nil {
		return nil, err
	}

	messages, err := s.store.ThreadMessages(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetching thread: %w", err)
	}
	if messages == nil {
		messages = []*store.Message{}
	}

	listing, err := s.conversationListing(ctx, key, nil)
	if err != nil {
		return nil, err
	}

	return &Thread{ConversationKey: key, Messages: messages, Listing: listing}, nil
}

// SendRequest carries one outgoing message.
type SendRequest struct {
	SenderID   string
	ReceiverID string
	Content    string
	ListingID  string
	// IdempotencyKey, when set, makes retries of the same request return DuplicateError.
	IdempotencyKey string
}

// SendMessage validates and persists a message, then notifies both parties.
// Nothing is emitted unless the message was persisted.
func (s *Service) SendMessage(ctx context.Context, req SendRequest) (*store.Message, error) {
	if err := s.validateSend(&req); err != nil {
		return nil, err
	}

	if s.sendLimit != nil && !s.sendLimit.Allow(req.SenderID) {
		return nil, ErrRateLimited
	}

	var idemKey string
	if s.idempotency != nil && req.IdempotencyKey != "" {
		idemKey = dedupe.Key(req.SenderID, req.IdempotencyKey)
		switch messageID, state := s.idempotency.Reserve(idemKey); state {
		case dedupe.Done, dedupe.InFlight:
			return nil, &DuplicateError{MessageID: messageID}
		}
	}

	msg, err := s.persist(ctx, req)
	if err != nil {
		if idemKey != "" {
			s.idempotency.Forget(idemKey)
		}
		return nil, err
	}
	if idemKey != "" {
		s.idempotency.Complete(idemKey, msg.ID)
	}

	s.logger.Info("message sent",
		"message_id", msg.ID,
		"conversation_key", msg.ConversationKey,
		"sender_id", msg.SenderID,
		"receiver_id", msg.ReceiverID)

	s.notifyMessage(ctx, msg)
	return msg, nil
}

func (s *Service) validateSend(req *SendRequest) error {
	if req.SenderID == "" {
		return invalid("sender_id", "required")
	}
	if req.ReceiverID == "" {
		return invalid("receiver_id", "required")
	}
	if !s.validator.Valid(req.ReceiverID) {
		return invalid("receiver_id", "malformed")
	}
	if req.ReceiverID == req.SenderID {
		return invalid("receiver_id", "cannot message yourself")
	}

	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		return invalid("content", "required")
	}
	if utf8.RuneCountInString(req.Content) > s.maxContent {
		return invalid("content", fmt.Sprintf("longer than %d characters", s.maxContent))
	}

	req.ListingID = strings.TrimSpace(req.ListingID)
	if req.ListingID != "" && !s.validator.Valid(req.ListingID) {
		return invalid("listing_id", "malformed")
	}
	return nil
}

// persist checks the receiver and listing exist, then writes the message.
func (s *Service) persist(ctx context.Context, req SendRequest) (*store.Message, error) {
	if _, err := s.users.GetUser(ctx, req.ReceiverID); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, &NotFoundError{Kind: "user", ID: req.ReceiverID}
		}
		return nil, fmt.Errorf("looking up receiver: %w", err)
	}

	var listingID *string
	if req.ListingID != "" {
		if _, err := s.listings.GetListing(ctx, req.ListingID); err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				return nil, &NotFoundError{Kind: "listing", ID: req.ListingID}
			}
			return nil, fmt.Errorf("looking up listing: %w", err)
		}
		listingID = &req.ListingID
	}

	msg, err := s.store.CreateMessage(ctx, req.SenderID, req.ReceiverID, req.Content, listingID)
	if err != nil {
		if errors.Is(err, store.ErrInvalidMessage) {
			return nil, invalid("message", err.Error())
		}
		return nil, fmt.Errorf("saving message: %w", err)
	}
	return msg, nil
}

// notifyMessage pushes new_message to the receiver and conversation_update
// to both parties. Failures are logged; the message is already persisted.
func (s *Service) notifyMessage(ctx context.Context, msg *store.Message) {
	people, err := s.users.GetUsers(ctx, []string{msg.SenderID, msg.ReceiverID})
	if err != nil {
		s.logger.Warn("skipping live events: partner lookup failed",
			"message_id", msg.ID,
			"error", err)
		return
	}

	listing, err := s.conversationListing(ctx, msg.ConversationKey, msg.ListingID)
	if err != nil {
		s.logger.Warn("sending live events without listing",
			"message_id", msg.ID,
			"error", err)
	}

	receiverEvent, err := s.messageEvent(ctx, msg, msg.ReceiverID, partnerSummary(people, msg.SenderID), listing)
	if err != nil {
		s.logger.Warn("skipping receiver events", "message_id", msg.ID, "error", err)
	} else {
		s.notifier.Send(msg.ReceiverID, EventNewMessage, receiverEvent)
		s.notifier.Send(msg.ReceiverID, EventConversationUpdate, receiverEvent)
	}

	senderEvent, err := s.messageEvent(ctx, msg, msg.SenderID, partnerSummary(people, msg.ReceiverID), listing)
	if err != nil {
		s.logger.Warn("skipping sender event", "message_id", msg.ID, "error", err)
		return
	}
	s.notifier.Send(msg.SenderID, EventConversationUpdate, senderEvent)
}

func (s *Service) messageEvent(ctx context.Context, msg *store.Message, recipientID string, partner *directory.User, listing *directory.Listing) (*MessageEvent, error) {
	unread, err := s.store.CountUnreadInConversation(ctx, msg.ConversationKey, recipientID)
	if err != nil {
		return nil, fmt.Errorf("counting conversation unread: %w", err)
	}
	total, err := s.store.CountUnread(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("counting total unread: %w", err)
	}
	return &MessageEvent{
		ConversationKey: msg.ConversationKey,
		Message:         msg,
		Partner:         partner,
		Listing:         listing,
		UnreadCount:     unread,
		TotalUnread:     total,
	}, nil
}

// partnerSummary falls back to a bare ID when the directory has no entry.
func partnerSummary(people map[string]*directory.User, id string) *directory.User {
	if u, ok := people[id]; ok {
		return u
	}
	return &directory.User{ID: id}
}

// conversationListing resolves listingID, or the conversation's newest
// listing-bearing message when listingID is nil. A listing missing from
// the directory yields nil.
func (s *Service) conversationListing(ctx context.Context, key string, listingID *string) (*directory.Listing, error) {
	id := ""
	if listingID != nil {
		id = *listingID
	} else {
		var err error
		if id, err = s.store.LatestListingID(ctx, key); err != nil {
			return nil, fmt.Errorf("resolving conversation listing: %w", err)
		}
	}
	if id == "" {
		return nil, nil
	}

	listing, err := s.listings.GetListing(ctx, id)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up listing: %w", err)
	}
	return listing, nil
}

// MarkRead marks every message partnerID sent to userID as read and returns
// how many changed. No live event is emitted.
func (s *Service) MarkRead(ctx context.Context, userID, partnerID string) (int64, error) {
	key, err := s.conversationWith(userID, partnerID, "partner_id")
	if err != nil {
		return 0, err
	}

	updated, err := s.store.MarkRead(ctx, key, userID)
	if err != nil {
		return 0, fmt.Errorf("marking read: %w", err)
	}
	return updated, nil
}

// UnreadCount returns the number of unread messages addressed to userID.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	count, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("counting unread: %w", err)
	}
	return count, nil
}

// SendTyping relays a typing indicator to toUserID. Nothing is persisted.
func (s *Service) SendTyping(ctx context.Context, fromUserID, toUserID string, isTyping bool) error {
	key, err := s.conversationWith(fromUserID, toUserID, "partner_id")
	if err != nil {
		return err
	}

	if s.typingLimit != nil && !s.typingLimit.Allow(fromUserID) {
		return ErrRateLimited
	}

	s.notifier.Send(toUserID, EventTyping, TypingEvent{
		ConversationKey: key,
		FromUserID:      fromUserID,
		IsTyping:        isTyping,
	})
	return nil
}

// conversationWith validates partnerID and derives the conversation key.
func (s *Service) conversationWith(userID, partnerID, field string) (string, error) {
	if userID == "" {
		return "", invalid("user_id", "required")
	}
	if partnerID == "" {
		return "", invalid(field, "required")
	}
	if !s.validator.Valid(partnerID) {
		return "", invalid(field, "malformed")
	}
	if partnerID == userID {
		return "", invalid(field, "cannot be yourself")
	}
	key, _ := convkey.Build(userID, partnerID)
	return key, nil
}
