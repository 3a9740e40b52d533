package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hotelna-core/internal/application/chat"
	"github.com/hotelna-core/internal/pkg/id"
	"github.com/hotelna-core/internal/transport/http/middleware"
)

const streamKeepAlive = 25 * time.Second

// Deliverer routes a chat message to its receiver.
type Deliverer interface {
	Deliver(ctx context.Context, msg chat.Message) (chat.Route, error)
}

// Attacher opens a live connection for a user.
type Attacher interface {
	Attach(userID string) (handle string, recv <-chan chat.Message, detach func())
	Done() <-chan struct{}
}

// MessageHandler relays chat messages and streams them to online users.
type MessageHandler struct {
	relay Deliverer
	hub   Attacher
}

func NewMessageHandler(relay Deliverer, hub Attacher) *MessageHandler {
	return &MessageHandler{relay: relay, hub: hub}
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var msg chat.Message
	if !decode(w, r, &msg) {
		return
	}
	msg.ID = id.New()
	msg.SenderID = claims.UserID
	msg.SentAt = time.Now().UTC()

	route, err := h.relay.Deliver(r.Context(), msg)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"id": msg.ID, "route": route})
}

// Stream holds a server-sent events connection open and writes every message
// addressed to the caller while it stays open.
func (h *MessageHandler) Stream(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	rc := http.NewResponseController(w)
	// The server's write timeout would otherwise end the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	_, recv, detach := h.hub.Attach(claims.UserID)
	defer detach()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	ping := time.NewTicker(streamKeepAlive)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.hub.Done():
			return
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case msg := <-recv:
			body, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", body); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
