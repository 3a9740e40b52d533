package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hotelna-core/internal/domain"
)

// httpError maps domain sentinels to status codes. Unknown errors are logged
// and hidden behind a 500.
func httpError(w http.ResponseWriter, err error) {
	var tooSoon *domain.TooSoonError
	switch {
	case errors.As(err, &tooSoon):
		secs := tooSoon.Seconds()
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, MessageEnvelope{Error: tooSoon.Error(), RetryAfter: secs})
	case errors.Is(err, domain.ErrCodeNotFound), errors.Is(err, domain.ErrCodeInvalid):
		writeError(w, http.StatusBadRequest, "invalid or expired code")
	case errors.Is(err, domain.ErrTimeout):
		writeError(w, http.StatusServiceUnavailable, "service unavailable, try again")
	case errors.Is(err, domain.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
