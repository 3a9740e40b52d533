// Package chat hands a message to its receiver's live connection, or asks the
// notification router to reach them some other way.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hotelna-core/internal/domain"
	"github.com/hotelna-core/internal/infrastructure/broker"
)

// Message is a chat message between two users.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	ReceiverID string    `json:"receiverId" validate:"required"`
	Text       string    `json:"text" validate:"required,max=4000"`
	SentAt     time.Time `json:"sentAt"`
}

// Route reports how a message left the relay.
type Route string

const (
	RouteRealtime Route = "realtime"
	RouteNotify   Route = "notify"
)

// Presence answers whether a user holds a live connection.
type Presence interface {
	Lookup(userID string) (string, bool)
}

// RealtimeSender writes a message to one live connection.
type RealtimeSender interface {
	SendTo(ctx context.Context, handle string, msg Message) error
}

type RelayDeps struct {
	Presence  Presence
	Realtime  RealtimeSender
	Publisher broker.Publisher
	// NotifyQueue is the cross-service notification intent queue.
	NotifyQueue string
}

type Relay struct {
	deps RelayDeps
	now  func() time.Time
}

func NewRelay(deps RelayDeps) *Relay {
	return &Relay{deps: deps, now: time.Now}
}

// Deliver sends msg to the receiver's live connection when there is one.
// Otherwise, or when the connection went away mid-send, it publishes a
// message-received intent.
func (r *Relay) Deliver(ctx context.Context, msg Message) (Route, error) {
	if msg.ReceiverID == "" || strings.TrimSpace(msg.Text) == "" {
		return "", fmt.Errorf("message needs a receiver and text: %w", domain.ErrBadRequest)
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = r.now().UTC()
	}

	if handle, ok := r.deps.Presence.Lookup(msg.ReceiverID); ok {
		err := r.deps.Realtime.SendTo(ctx, handle, msg)
		if err == nil {
			return RouteRealtime, nil
		}
		slog.Warn("realtime send failed, falling back to notification", "receiver_id", msg.ReceiverID, "err", err)
	}

	intent := domain.NotificationIntent{
		Type:            domain.IntentMessageReceived,
		RecipientID:     msg.ReceiverID,
		Message:         msg.Text,
		FromDisplayName: msg.SenderName,
	}
	if err := broker.PublishJSON(ctx, r.deps.Publisher, r.deps.NotifyQueue, intent); err != nil {
		return "", fmt.Errorf("publish message-received intent: %w", err)
	}
	return RouteNotify, nil
}
