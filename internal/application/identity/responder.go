// Package identity answers identity lookups from sibling services and owns
// push-token registration.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hotelna-core/internal/domain"
)

type UserReader interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
}

type TokenStore interface {
	Upsert(ctx context.Context, t *domain.PushToken) error
	ListActiveByUser(ctx context.Context, userID string) ([]domain.PushToken, error)
}

// LookupHandler serves identity-lookup requests arriving over the broker.
// Every request gets a reply; failures are encoded as an error record.
type LookupHandler struct {
	users  UserReader
	tokens TokenStore
}

func NewLookupHandler(users UserReader, tokens TokenStore) *LookupHandler {
	return &LookupHandler{users: users, tokens: tokens}
}

func (h *LookupHandler) HandleRequest(ctx context.Context, body []byte) []byte {
	rec := h.lookup(ctx, body)
	out, err := json.Marshal(rec)
	if err != nil {
		slog.Error("encode identity reply", "err", err)
		out, _ = json.Marshal(errorRecord(domain.RPCCodeInternal, "internal error"))
	}
	return out
}

func (h *LookupHandler) lookup(ctx context.Context, body []byte) *domain.SubjectRecord {
	var req domain.IdentityLookupRequest
	if err := json.Unmarshal(body, &req); err != nil || req.UserID == "" {
		return errorRecord(domain.RPCCodeBadRequest, "userId is required")
	}
	u, err := h.users.Get(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return errorRecord(domain.RPCCodeNotFound, "user not found")
		}
		slog.Error("identity lookup failed", "user_id", req.UserID, "err", err)
		return errorRecord(domain.RPCCodeInternal, "internal error")
	}

	rec := &domain.SubjectRecord{
		UserID:   u.UserID,
		Name:     u.Name,
		Email:    u.Email,
		Phone:    u.Phone,
		Type:     u.Type,
		Verified: u.Verified,
	}
	tokens, err := h.tokens.ListActiveByUser(ctx, u.UserID)
	if err != nil {
		// The record is still useful for email delivery.
		slog.Warn("push token lookup failed", "user_id", u.UserID, "err", err)
		return rec
	}
	for _, t := range tokens {
		rec.PushTokens = append(rec.PushTokens, t.Token)
	}
	return rec
}

func errorRecord(code, msg string) *domain.SubjectRecord {
	return &domain.SubjectRecord{Error: &domain.RPCError{Code: code, Message: msg}}
}
