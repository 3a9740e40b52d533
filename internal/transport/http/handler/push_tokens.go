package handler

import (
	"context"
	"net/http"

	"github.com/hotelna-core/internal/application/identity"
	"github.com/hotelna-core/internal/domain"
	"github.com/hotelna-core/internal/transport/http/middleware"
)

// TokenRegistrar stores device push tokens.
type TokenRegistrar interface {
	Register(ctx context.Context, userID string, req identity.RegisterTokenRequest) (*domain.PushToken, error)
}

// PushTokenHandler registers the caller's device for push notifications.
type PushTokenHandler struct {
	svc TokenRegistrar
}

func NewPushTokenHandler(svc TokenRegistrar) *PushTokenHandler { return &PushTokenHandler{svc: svc} }

func (h *PushTokenHandler) Register(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req identity.RegisterTokenRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.svc.Register(r.Context(), claims.UserID, req)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}
