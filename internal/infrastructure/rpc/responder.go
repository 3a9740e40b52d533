package rpc

import (
	"context"
	"log/slog"

	"github.com/hotelna-core/internal/infrastructure/broker"
)

// Handler computes the reply for one request body. It must always return a
// payload; domain failures are encoded as an error-shaped reply so the caller
// does not wait out its timeout.
type Handler interface {
	HandleRequest(ctx context.Context, body []byte) []byte
}

type HandlerFunc func(ctx context.Context, body []byte) []byte

func (f HandlerFunc) HandleRequest(ctx context.Context, body []byte) []byte { return f(ctx, body) }

// Responder answers requests from one queue.
type Responder struct {
	pub           broker.Publisher
	cons          broker.Consumer
	requestQueue  string
	responseQueue string // used when a request carries no reply-to
	concurrency   int
	handler       Handler
}

func NewResponder(pub broker.Publisher, cons broker.Consumer, requestQueue, responseQueue string, concurrency int, h Handler) *Responder {
	return &Responder{
		pub:           pub,
		cons:          cons,
		requestQueue:  requestQueue,
		responseQueue: responseQueue,
		concurrency:   concurrency,
		handler:       h,
	}
}

// Serve blocks until ctx is done and in-flight requests have been answered.
func (s *Responder) Serve(ctx context.Context) error {
	return broker.Serve(ctx, s.cons, s.requestQueue, s.concurrency, s.handle)
}

// handle publishes the reply before acking the request, so a crash in
// between redelivers the request instead of losing it.
func (s *Responder) handle(ctx context.Context, d broker.Delivery) {
	out := s.handler.HandleRequest(ctx, d.Body)
	replyTo := d.ReplyTo
	if replyTo == "" {
		replyTo = s.responseQueue
	}
	err := s.pub.Publish(ctx, replyTo, broker.Message{Body: out, CorrelationID: d.CorrelationID})
	if err != nil {
		slog.Error("publish reply", "queue", replyTo, "correlation_id", d.CorrelationID, "err", err)
		_ = d.Nack(true)
		return
	}
	if err := d.Ack(); err != nil {
		slog.Warn("ack request", "correlation_id", d.CorrelationID, "err", err)
	}
}
