package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")

	// ErrTimeout is returned when a correlated request gets no reply in time.
	ErrTimeout = errors.New("request timed out")
	// ErrTooSoon is returned when a verification code is reissued inside the cool-down.
	ErrTooSoon = errors.New("too soon")
	// ErrCodeNotFound means there is no active (unexpired, unconsumed) code.
	ErrCodeNotFound = errors.New("verification code not found")
	// ErrCodeInvalid means the candidate did not match the active code.
	ErrCodeInvalid = errors.New("verification code invalid")
	// ErrPartialUpload means at least one onboarding asset failed to store.
	ErrPartialUpload = errors.New("asset upload failed")
	// ErrProvider wraps failures reported by an external delivery provider.
	ErrProvider = errors.New("provider error")
)

// TooSoonError carries the time left before a new code may be issued.
type TooSoonError struct {
	Remaining time.Duration
}

func (e *TooSoonError) Error() string {
	return fmt.Sprintf("please wait %d seconds before requesting a new code", e.Seconds())
}

// Seconds rounds the remaining cool-down up to whole seconds.
func (e *TooSoonError) Seconds() int {
	s := int(e.Remaining / time.Second)
	if e.Remaining%time.Second > 0 {
		s++
	}
	return s
}

func (e *TooSoonError) Unwrap() error { return ErrTooSoon }
