package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/hotelna-core/internal/domain"
	"github.com/hotelna-core/internal/infrastructure/expo"
)

type RegisterTokenRequest struct {
	Token      string `json:"token" validate:"required"`
	DeviceID   string `json:"deviceId"`
	DeviceType string `json:"deviceType" validate:"omitempty,oneof=Ios Android"`
}

// TokenService registers device push tokens for the authenticated user.
type TokenService struct {
	tokens TokenStore
}

func NewTokenService(tokens TokenStore) *TokenService {
	return &TokenService{tokens: tokens}
}

// Register stores the token as active, taking it over from any previous owner.
func (s *TokenService) Register(ctx context.Context, userID string, req RegisterTokenRequest) (*domain.PushToken, error) {
	if !expo.ValidToken(req.Token) {
		return nil, fmt.Errorf("malformed push token: %w", domain.ErrBadRequest)
	}
	now := time.Now().UTC()
	t := &domain.PushToken{
		Token:      req.Token,
		UserID:     userID,
		DeviceID:   req.DeviceID,
		DeviceType: req.DeviceType,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.tokens.Upsert(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}
