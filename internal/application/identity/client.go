package identity

import (
	"context"
	"fmt"

	"github.com/hotelna-core/internal/domain"
)

// Caller is the request/response bridge.
type Caller interface {
	Call(ctx context.Context, req, resp any) error
}

// Client looks up identity records owned by the identity service.
type Client struct {
	rpc Caller
}

func NewClient(rpc Caller) *Client {
	return &Client{rpc: rpc}
}

// Lookup returns the subject record for userID. A missing user yields
// domain.ErrNotFound and an unanswered request domain.ErrTimeout.
func (c *Client) Lookup(ctx context.Context, userID string) (*domain.SubjectRecord, error) {
	var rec domain.SubjectRecord
	if err := c.rpc.Call(ctx, domain.IdentityLookupRequest{UserID: userID}, &rec); err != nil {
		return nil, fmt.Errorf("identity lookup %s: %w", userID, err)
	}
	if err := rec.Err(); err != nil {
		return nil, fmt.Errorf("identity lookup %s: %w", userID, err)
	}
	return &rec, nil
}
