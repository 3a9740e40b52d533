package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hotelna-core/internal/application/auth"
	"github.com/hotelna-core/internal/transport/http/middleware"
)

// PhoneHandler handles phone number confirmation for the signed-in user.
type PhoneHandler struct {
	svc auth.Service
}

func NewPhoneHandler(svc auth.Service) *PhoneHandler {
	return &PhoneHandler{svc: svc}
}

func (h *PhoneHandler) Action(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	switch chi.URLParam(r, "action") {
	case "request":
		var req auth.PhoneRequest
		if !decode(w, r, &req) {
			return
		}
		if err := h.svc.RequestPhoneVerification(r.Context(), claims.UserID, req); err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "confirmation SMS sent"})
	case "verify":
		var req auth.PhoneVerifyRequest
		if !decode(w, r, &req) {
			return
		}
		if err := h.svc.VerifyPhone(r.Context(), claims.UserID, req); err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "phone confirmed"})
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}
