// Package rpc layers request/response semantics over two one-way queues.
// A Requester pairs replies to calls by correlation id; a Responder answers
// every request it consumes, including failed ones.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hotelna-core/internal/domain"
	"github.com/hotelna-core/internal/infrastructure/broker"
)

type pendingRequest struct {
	createdAt time.Time
	reply     chan []byte // buffered 1; closed when abandoned
}

// Requester sends requests and waits for correlated replies. The pending
// table is owned here and shared only with Listen.
type Requester struct {
	pub           broker.Publisher
	requestQueue  string
	responseQueue string
	timeout       time.Duration
	newID         func() string

	mu      sync.Mutex
	pending map[string]*pendingRequest
	closed  bool
}

func NewRequester(pub broker.Publisher, requestQueue, responseQueue string, timeout time.Duration) *Requester {
	return &Requester{
		pub:           pub,
		requestQueue:  requestQueue,
		responseQueue: responseQueue,
		timeout:       timeout,
		newID:         uuid.NewString,
		pending:       make(map[string]*pendingRequest),
	}
}

// Listen consumes the response queue and resolves waiters until ctx is done.
// Replies with no waiter (late, duplicate or foreign) are acked and dropped.
func (r *Requester) Listen(ctx context.Context, c broker.Consumer) error {
	deliveries, err := c.Consume(ctx, r.responseQueue)
	if err != nil {
		return err
	}
	for d := range deliveries {
		if !r.resolve(d.CorrelationID, d.Body) {
			slog.Debug("discarding unmatched reply", "correlation_id", d.CorrelationID)
		}
		if err := d.Ack(); err != nil {
			slog.Warn("ack reply", "correlation_id", d.CorrelationID, "err", err)
		}
	}
	return nil
}

// Send publishes payload and blocks until its reply arrives, the configured
// timeout elapses (domain.ErrTimeout) or ctx is done.
func (r *Requester) Send(ctx context.Context, payload []byte) ([]byte, error) {
	id := r.newID()
	p := &pendingRequest{createdAt: time.Now(), reply: make(chan []byte, 1)}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("requester closed: %w", domain.ErrTimeout)
	}
	r.pending[id] = p
	r.mu.Unlock()

	err := r.pub.Publish(ctx, r.requestQueue, broker.Message{
		Body:          payload,
		CorrelationID: id,
		ReplyTo:       r.responseQueue,
	})
	if err != nil {
		r.remove(id)
		return nil, err
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case body, ok := <-p.reply:
		return reply(body, ok)
	case <-timer.C:
		if !r.remove(id) {
			// Resolved concurrently with the timer; the reply is already buffered.
			body, ok := <-p.reply
			return reply(body, ok)
		}
		return nil, fmt.Errorf("no reply on %s after %s: %w", r.responseQueue, r.timeout, domain.ErrTimeout)
	case <-ctx.Done():
		if !r.remove(id) {
			body, ok := <-p.reply
			return reply(body, ok)
		}
		return nil, ctx.Err()
	}
}

func reply(body []byte, ok bool) ([]byte, error) {
	if !ok {
		return nil, fmt.Errorf("request abandoned: %w", domain.ErrTimeout)
	}
	return body, nil
}

// Call is Send with JSON encoding of req and decoding into resp.
func (r *Requester) Call(ctx context.Context, req, resp any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	body, err := r.Send(ctx, payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, resp); err != nil {
		return fmt.Errorf("unmarshal reply: %w", err)
	}
	return nil
}

// resolve hands body to the waiter for id. Only the first caller for an id
// wins; the waiter is removed before the send so later replies find nothing.
func (r *Requester) resolve(id string, body []byte) bool {
	r.mu.Lock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	p.reply <- body
	return true
}

func (r *Requester) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[id]; !ok {
		return false
	}
	delete(r.pending, id)
	return true
}

// Pending reports the number of requests awaiting a reply.
func (r *Requester) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Close abandons every outstanding request; their callers get domain.ErrTimeout.
// Sends after Close fail immediately.
func (r *Requester) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for id, p := range r.pending {
		delete(r.pending, id)
		close(p.reply)
		slog.Debug("abandoned pending request", "correlation_id", id, "age", time.Since(p.createdAt))
	}
}
