// Package verification issues and checks one-time codes scoped to a subject
// and a purpose.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hotelna-core/internal/config"
	"github.com/hotelna-core/internal/domain"
	"github.com/hotelna-core/internal/pkg/token"
	"golang.org/x/crypto/bcrypt"
)

const codeDigits = 6

// CodeStore persists at most one code per (subject, purpose).
type CodeStore interface {
	Get(ctx context.Context, subject string, purpose domain.Purpose) (*domain.VerificationCode, error)
	Replace(ctx context.Context, next, prev *domain.VerificationCode) error
	Consume(ctx context.Context, v *domain.VerificationCode) error
	Delete(ctx context.Context, subject string, purpose domain.Purpose) error
}

type Policy struct {
	Cooldown time.Duration
	Expiry   map[domain.Purpose]time.Duration
}

func PolicyFromConfig(c config.OTPPolicy) Policy {
	return Policy{
		Cooldown: c.ResendCooldown,
		Expiry: map[domain.Purpose]time.Duration{
			domain.PurposeAccountCreation: c.AccountCreationExpiry,
			domain.PurposePasswordReset:   c.PasswordResetExpiry,
			domain.PurposePhoneVerify:     c.PhoneVerifyExpiry,
		},
	}
}

type Store struct {
	codes    CodeStore
	policy   Policy
	now      func() time.Time
	generate func() (string, error)
	hashCost int
}

func NewStore(codes CodeStore, policy Policy) *Store {
	return &Store{
		codes:    codes,
		policy:   policy,
		now:      time.Now,
		generate: func() (string, error) { return token.NumericCode(codeDigits) },
		hashCost: bcrypt.DefaultCost,
	}
}

// Issue creates a fresh code for (subject, purpose) and returns the plaintext
// for out-of-band delivery. Any previous code for the pair stops being valid.
// Reissuing inside the cool-down fails with *domain.TooSoonError.
func (s *Store) Issue(ctx context.Context, subject string, purpose domain.Purpose) (string, error) {
	if subject == "" || !purpose.Valid() {
		return "", fmt.Errorf("invalid verification scope %q/%q: %w", subject, purpose, domain.ErrBadRequest)
	}
	now := s.now()

	prev, err := s.codes.Get(ctx, subject, purpose)
	switch {
	case errors.Is(err, domain.ErrCodeNotFound):
		prev = nil
	case err != nil:
		return "", fmt.Errorf("load verification: %w", err)
	}
	if prev != nil {
		if elapsed := now.Sub(prev.IssuedAt); elapsed < s.policy.Cooldown {
			return "", &domain.TooSoonError{Remaining: s.policy.Cooldown - elapsed}
		}
	}

	code, err := s.generate()
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.hashCost)
	if err != nil {
		return "", fmt.Errorf("hash code: %w", err)
	}
	next := &domain.VerificationCode{
		Subject:   subject,
		Purpose:   purpose,
		CodeHash:  string(hash),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.expiry(purpose)).Unix(),
	}
	if err := s.codes.Replace(ctx, next, prev); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Another issue for the same pair won the race just now.
			return "", &domain.TooSoonError{Remaining: s.policy.Cooldown}
		}
		return "", fmt.Errorf("store verification: %w", err)
	}
	return code, nil
}

// Verify checks candidate against the active code and consumes it on a match.
// Missing and expired codes return domain.ErrCodeNotFound, a mismatch returns
// domain.ErrCodeInvalid and leaves the code active.
func (s *Store) Verify(ctx context.Context, subject string, purpose domain.Purpose, candidate string) error {
	v, err := s.codes.Get(ctx, subject, purpose)
	if err != nil {
		return err
	}
	if v.Expired(s.now()) {
		if err := s.codes.Delete(ctx, subject, purpose); err != nil {
			slog.Warn("failed to delete expired verification", "subject", subject, "purpose", purpose, "err", err)
		}
		return fmt.Errorf("verification expired: %w", domain.ErrCodeNotFound)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(v.CodeHash), []byte(candidate)); err != nil {
		return fmt.Errorf("verification mismatch: %w", domain.ErrCodeInvalid)
	}
	return s.codes.Consume(ctx, v)
}

// Check reports whether candidate matches the active code without consuming
// it. Used by flows that confirm a code before collecting further input.
func (s *Store) Check(ctx context.Context, subject string, purpose domain.Purpose, candidate string) error {
	v, err := s.codes.Get(ctx, subject, purpose)
	if err != nil {
		return err
	}
	if v.Expired(s.now()) {
		return fmt.Errorf("verification expired: %w", domain.ErrCodeNotFound)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(v.CodeHash), []byte(candidate)); err != nil {
		return fmt.Errorf("verification mismatch: %w", domain.ErrCodeInvalid)
	}
	return nil
}

// Revoke removes the code for (subject, purpose), ending its cool-down.
func (s *Store) Revoke(ctx context.Context, subject string, purpose domain.Purpose) error {
	if err := s.codes.Delete(ctx, subject, purpose); err != nil && !errors.Is(err, domain.ErrCodeNotFound) {
		return fmt.Errorf("revoke verification: %w", err)
	}
	return nil
}

func (s *Store) expiry(p domain.Purpose) time.Duration {
	if d, ok := s.policy.Expiry[p]; ok && d > 0 {
		return d
	}
	return 10 * time.Minute
}
