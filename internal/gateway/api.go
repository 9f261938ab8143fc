// ABOUTME: JSON HTTP handlers for the chat API
// ABOUTME: Decodes requests, calls the messaging service and maps its errors to status codes

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/2389/giftbox-chat/internal/auth"
	"github.com/2389/giftbox-chat/internal/messaging"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 64 << 10

// SendMessageRequest is the body of POST /api/chat/messages.
// The camelCase fields are accepted for clients of the marketplace API.
type SendMessageRequest struct {
	ReceiverID      string `json:"receiver_id"`
	ReceiverIDCamel string `json:"receiverId"`
	Content         string `json:"content"`
	ListingID       string `json:"listing_id"`
	ListingIDCamel  string `json:"listingId"`
}

// PartnerRequest is the body of POST /api/chat/mark-read and POST /api/chat/typing.
type PartnerRequest struct {
	PartnerID      string `json:"partner_id"`
	PartnerIDCamel string `json:"partnerId"`
	IsTyping       *bool  `json:"is_typing"`
	IsTypingCamel  *bool  `json:"isTyping"`
}

func (p *PartnerRequest) partner() string {
	return firstNonEmpty(p.PartnerID, p.PartnerIDCamel)
}

// typing defaults to true when the flag is omitted.
func (p *PartnerRequest) typing() bool {
	switch {
	case p.IsTyping != nil:
		return *p.IsTyping
	case p.IsTypingCamel != nil:
		return *p.IsTypingCamel
	default:
		return true
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// handleConversations returns the caller's conversation summaries.
func (g *Gateway) handleConversations(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	inbox, err := g.service.ListConversations(r.Context(), authCtx.UserID)
	if err != nil {
		g.writeServiceError(w, "list conversations", err)
		return
	}
	g.writeJSON(w, http.StatusOK, inbox)
}

// handleThread returns every message between the caller and partner_id.
func (g *Gateway) handleThread(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	query := r.URL.Query()
	partnerID := firstNonEmpty(query.Get("partner_id"), query.Get("partnerId"))

	thread, err := g.service.FetchThread(r.Context(), authCtx.UserID, partnerID)
	if err != nil {
		g.writeServiceError(w, "fetch thread", err)
		return
	}
	g.writeJSON(w, http.StatusOK, thread)
}

// handleSendMessage persists a message from the caller and notifies both parties.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := g.service.SendMessage(r.Context(), messaging.SendRequest{
		SenderID:       authCtx.UserID,
		ReceiverID:     firstNonEmpty(req.ReceiverID, req.ReceiverIDCamel),
		Content:        req.Content,
		ListingID:      firstNonEmpty(req.ListingID, req.ListingIDCamel),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		g.writeServiceError(w, "send message", err)
		return
	}
	g.writeJSON(w, http.StatusCreated, map[string]any{"message": msg})
}

// handleMarkRead marks the partner's messages to the caller as read.
func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req PartnerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := g.service.MarkRead(r.Context(), authCtx.UserID, req.partner())
	if err != nil {
		g.writeServiceError(w, "mark read", err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

// handleUnreadCount returns the caller's total unread count.
func (g *Gateway) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	count, err := g.service.UnreadCount(r.Context(), authCtx.UserID)
	if err != nil {
		g.writeServiceError(w, "unread count", err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]int64{"unread_count": count})
}

// handleTyping relays a typing indicator to the partner.
func (g *Gateway) handleTyping(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req PartnerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := g.service.SendTyping(r.Context(), authCtx.UserID, req.partner(), req.typing()); err != nil {
		g.writeServiceError(w, "typing", err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// writeServiceError maps messaging errors to HTTP status codes. Unexpected
// errors are logged and reported as 500 without detail.
func (g *Gateway) writeServiceError(w http.ResponseWriter, op string, err error) {
	var validation *messaging.ValidationError
	var notFound *messaging.NotFoundError
	var duplicate *messaging.DuplicateError

	switch {
	case errors.As(err, &validation):
		g.sendJSONError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &notFound):
		g.sendJSONError(w, http.StatusNotFound, notFound.Error())
	case errors.Is(err, messaging.ErrRateLimited):
		g.sendJSONError(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &duplicate):
		g.writeJSON(w, http.StatusConflict, map[string]string{
			"error":      duplicate.Error(),
			"message_id": duplicate.MessageID,
		})
	default:
		g.logger.Error("request failed", "op", op, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}
