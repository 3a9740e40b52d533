package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hotelna-core/internal/application/auth"
)

// PasswordHandler handles the password reset flow.
type PasswordHandler struct {
	svc auth.Service
}

func NewPasswordHandler(svc auth.Service) *PasswordHandler {
	return &PasswordHandler{svc: svc}
}

func (h *PasswordHandler) Action(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "action") {
	case "forgot":
		var req auth.ForgotPasswordRequest
		if !decode(w, r, &req) {
			return
		}
		if err := h.svc.ForgotPassword(r.Context(), req); err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "if the account exists, a code was sent"})
	case "validate":
		var req auth.VerifyCodeRequest
		if !decode(w, r, &req) {
			return
		}
		if err := h.svc.ValidateResetCode(r.Context(), req); err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "code is valid"})
	case "reset":
		var req auth.ResetPasswordRequest
		if !decode(w, r, &req) {
			return
		}
		if err := h.svc.ResetPassword(r.Context(), req); err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "password updated"})
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}
