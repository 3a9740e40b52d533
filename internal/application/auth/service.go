package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hotelna-core/internal/domain"
	"github.com/hotelna-core/internal/infrastructure/broker"
	"github.com/hotelna-core/internal/pkg/id"
	"golang.org/x/crypto/bcrypt"
)

type VerifyCodeRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"otp" validate:"required,numeric,len=6"`
}

type ResendCodeRequest struct {
	Email string         `json:"email" validate:"required,email"`
	Type  domain.Purpose `json:"type" validate:"required"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Code        string `json:"otp" validate:"required,numeric,len=6"`
	NewPassword string `json:"newPassword" validate:"required,min=8,max=72"`
}

type PhoneRequest struct {
	Phone string `json:"phone" validate:"required,e164"`
}

type PhoneVerifyRequest struct {
	Code string `json:"otp" validate:"required,numeric,len=6"`
}

type UserStore interface {
	Create(ctx context.Context, u *domain.User) error
	Get(ctx context.Context, userID string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Update(ctx context.Context, userID string, updates map[string]interface{}) error
	MarkVerified(ctx context.Context, userID string) error
	MarkPhoneConfirmed(ctx context.Context, userID string) error
	SetPasswordHash(ctx context.Context, userID, hash string) error
}

// Codes is the verification code store.
type Codes interface {
	Issue(ctx context.Context, subject string, purpose domain.Purpose) (string, error)
	Verify(ctx context.Context, subject string, purpose domain.Purpose, candidate string) error
	Check(ctx context.Context, subject string, purpose domain.Purpose, candidate string) error
	Revoke(ctx context.Context, subject string, purpose domain.Purpose) error
}

type TokenSigner interface {
	Sign(userID, role string) (string, error)
}

type ServiceDeps struct {
	UserRepo    UserStore
	Codes       Codes
	Publisher   broker.Publisher
	JWTProvider TokenSigner
	EmailQueue  string
	SMSQueue    string
}

type Service interface {
	Register(ctx context.Context, req domain.RegisterRequest) (*domain.User, error)
	Login(ctx context.Context, req domain.LoginRequest) (string, *domain.User, error)
	VerifyAccount(ctx context.Context, req VerifyCodeRequest) error
	ResendCode(ctx context.Context, req ResendCodeRequest) error
	ForgotPassword(ctx context.Context, req ForgotPasswordRequest) error
	ValidateResetCode(ctx context.Context, req VerifyCodeRequest) error
	ResetPassword(ctx context.Context, req ResetPasswordRequest) error
	RequestPhoneVerification(ctx context.Context, userID string, req PhoneRequest) error
	VerifyPhone(ctx context.Context, userID string, req PhoneVerifyRequest) error
}

type service struct {
	deps ServiceDeps
}

func NewService(deps ServiceDeps) Service {
	return &service{deps: deps}
}

func (s *service) Register(ctx context.Context, req domain.RegisterRequest) (*domain.User, error) {
	email := normalizeEmail(req.Email)
	_, err := s.deps.UserRepo.GetByEmail(ctx, email)
	if err == nil {
		return nil, fmt.Errorf("email already registered: %w", domain.ErrConflict)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	u := &domain.User{
		UserID:       id.New(),
		Name:         req.Name,
		Email:        email,
		Phone:        req.Phone,
		PasswordHash: string(hash),
		Type:         domain.RoleClient,
		Source:       "app",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.deps.UserRepo.Create(ctx, u); err != nil {
		return nil, err
	}

	// The account exists either way; a failed send can be retried via resend.
	if err := s.sendCode(ctx, u, domain.PurposeAccountCreation); err != nil {
		slog.Warn("failed to send activation code", "user_id", u.UserID, "err", err)
	}
	return u, nil
}

func (s *service) Login(ctx context.Context, req domain.LoginRequest) (string, *domain.User, error) {
	u, err := s.deps.UserRepo.GetByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", nil, fmt.Errorf("incorrect email or password: %w", domain.ErrUnauthorized)
		}
		return "", nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		return "", nil, fmt.Errorf("incorrect email or password: %w", domain.ErrUnauthorized)
	}
	if !u.Verified {
		return "", nil, fmt.Errorf("account is not verified: %w", domain.ErrForbidden)
	}
	bearer, err := s.deps.JWTProvider.Sign(u.UserID, u.Type)
	if err != nil {
		return "", nil, err
	}
	return bearer, u, nil
}

func (s *service) VerifyAccount(ctx context.Context, req VerifyCodeRequest) error {
	u, err := s.userForCode(ctx, req.Email)
	if err != nil {
		return err
	}
	if err := s.deps.Codes.Verify(ctx, u.UserID, domain.PurposeAccountCreation, req.Code); err != nil {
		return err
	}
	return s.deps.UserRepo.MarkVerified(ctx, u.UserID)
}

func (s *service) ResendCode(ctx context.Context, req ResendCodeRequest) error {
	if req.Type != domain.PurposeAccountCreation && req.Type != domain.PurposePasswordReset {
		return fmt.Errorf("invalid OTP type: %w", domain.ErrBadRequest)
	}
	u, err := s.deps.UserRepo.GetByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.Debug("resend requested for unknown email")
			return nil
		}
		return err
	}
	if req.Type == domain.PurposeAccountCreation && u.Verified {
		slog.Debug("activation resend requested for verified account")
		return nil
	}
	return s.sendCode(ctx, u, req.Type)
}

// ForgotPassword emails a reset code. Unknown addresses succeed silently so
// the endpoint cannot be used to probe for accounts.
func (s *service) ForgotPassword(ctx context.Context, req ForgotPasswordRequest) error {
	u, err := s.deps.UserRepo.GetByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.Debug("password reset requested for unknown email")
			return nil
		}
		return err
	}
	return s.sendCode(ctx, u, domain.PurposePasswordReset)
}

func (s *service) ValidateResetCode(ctx context.Context, req VerifyCodeRequest) error {
	u, err := s.userForCode(ctx, req.Email)
	if err != nil {
		return err
	}
	return s.deps.Codes.Check(ctx, u.UserID, domain.PurposePasswordReset, req.Code)
}

func (s *service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	u, err := s.userForCode(ctx, req.Email)
	if err != nil {
		return err
	}
	if err := s.deps.Codes.Verify(ctx, u.UserID, domain.PurposePasswordReset, req.Code); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.deps.UserRepo.SetPasswordHash(ctx, u.UserID, string(hash))
}

// RequestPhoneVerification texts a code to the new number and stores it
// unconfirmed. The stored number is left alone while the cool-down holds.
func (s *service) RequestPhoneVerification(ctx context.Context, userID string, req PhoneRequest) error {
	u, err := s.deps.UserRepo.Get(ctx, userID)
	if err != nil {
		return err
	}
	code, err := s.deps.Codes.Issue(ctx, userID, domain.PurposePhoneVerify)
	if err != nil {
		return err
	}
	if u.Phone == nil || *u.Phone != req.Phone || u.PhoneConfirmed {
		if err := s.deps.UserRepo.Update(ctx, userID, map[string]interface{}{
			"phone":           req.Phone,
			"phone_confirmed": false,
		}); err != nil {
			s.revoke(ctx, userID, domain.PurposePhoneVerify)
			return err
		}
	}
	if err := broker.PublishJSON(ctx, s.deps.Publisher, s.deps.SMSQueue, domain.SMSMessage{To: req.Phone, Code: code}); err != nil {
		s.revoke(ctx, userID, domain.PurposePhoneVerify)
		return err
	}
	return nil
}

func (s *service) VerifyPhone(ctx context.Context, userID string, req PhoneVerifyRequest) error {
	if err := s.deps.Codes.Verify(ctx, userID, domain.PurposePhoneVerify, req.Code); err != nil {
		return err
	}
	return s.deps.UserRepo.MarkPhoneConfirmed(ctx, userID)
}

// userForCode resolves the account behind a code submission. An unknown
// email is reported the same way as a wrong code.
func (s *service) userForCode(ctx context.Context, email string) (*domain.User, error) {
	u, err := s.deps.UserRepo.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("no account for code: %w", domain.ErrCodeNotFound)
	}
	return u, err
}

func (s *service) sendCode(ctx context.Context, u *domain.User, purpose domain.Purpose) error {
	code, err := s.deps.Codes.Issue(ctx, u.UserID, purpose)
	if err != nil {
		return err
	}
	subject, body := codeEmail(purpose, code)
	if err := broker.PublishJSON(ctx, s.deps.Publisher, s.deps.EmailQueue, domain.EmailMessage{
		To:      u.Email,
		Subject: subject,
		Body:    body,
	}); err != nil {
		s.revoke(ctx, u.UserID, purpose)
		return err
	}
	return nil
}

// revoke drops a code that never reached the user so the cool-down does not
// block the next request.
func (s *service) revoke(ctx context.Context, subject string, purpose domain.Purpose) {
	if err := s.deps.Codes.Revoke(context.WithoutCancel(ctx), subject, purpose); err != nil {
		slog.Warn("failed to revoke undelivered code", "subject", subject, "purpose", purpose, "err", err)
	}
}

func codeEmail(purpose domain.Purpose, code string) (subject, body string) {
	switch purpose {
	case domain.PurposePasswordReset:
		return "Reset Password OTP", "Your OTP for resetting your password is: " + code
	default:
		return "OTP for Account Registration", "Your OTP for registration is: " + code
	}
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}
