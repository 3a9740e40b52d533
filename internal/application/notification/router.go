// Package notification decides how to reach a recipient and drives the push,
// email and SMS adapters.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/hotelna-core/internal/domain"
	"github.com/hotelna-core/internal/infrastructure/expo"
)

type Mailer interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, to, message string) error
}

type PushProvider interface {
	Send(ctx context.Context, msgs []expo.Message) ([]expo.Ticket, error)
	Receipts(ctx context.Context, ids []string) (map[string]expo.Receipt, error)
}

// TokenRegistry is the durable record of which push tokens are retired.
type TokenRegistry interface {
	Inactive(ctx context.Context, tokens []string) (map[string]bool, error)
	// Deactivate retires token and reports whether it was active before.
	Deactivate(ctx context.Context, token string) (bool, error)
}

// Directory resolves a recipient's contact endpoints.
type Directory interface {
	Lookup(ctx context.Context, userID string) (*domain.SubjectRecord, error)
}

type RouterDeps struct {
	Mailer    Mailer
	SMS       SMSSender
	Push      PushProvider
	Tokens    TokenRegistry
	Directory Directory
	Metrics   *Metrics
	// Attempts is the number of tries per adapter call.
	Attempts int
	// Backoff is the wait before the second try; it doubles after each failure.
	Backoff time.Duration
	// ReceiptDelay defers receipt checks until the provider has produced them.
	// Zero checks right after sending.
	ReceiptDelay time.Duration
}

type Router struct {
	deps RouterDeps

	mu      sync.Mutex
	pending []receiptBatch
}

// receiptBatch maps ticket ids to the token each ticket was issued for.
type receiptBatch struct {
	due     time.Time
	tickets map[string]string
}

func NewRouter(deps RouterDeps) *Router {
	if deps.Attempts < 1 {
		deps.Attempts = 1
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	return &Router{deps: deps}
}

// HandleIntent routes a cross-service notify intent to exactly one channel.
func (r *Router) HandleIntent(ctx context.Context, in domain.NotificationIntent) error {
	switch in.Type {
	case domain.IntentMessageReceived:
		return r.messageReceived(ctx, in)
	case domain.IntentGenericPush:
		tokens, _, err := r.contact(ctx, in, true)
		if err != nil {
			return err
		}
		if len(tokens) == 0 {
			slog.Warn("no reachable push token", "recipient_id", in.RecipientID)
			r.deps.Metrics.Dispatched.WithLabelValues(ChannelNone, OutcomeFailed).Inc()
			return nil
		}
		return r.push(ctx, tokens, in.FromDisplayName, in.Message, nil)
	default:
		slog.Warn("unknown notification type", "type", in.Type, "recipient_id", in.RecipientID)
		return nil
	}
}

func (r *Router) messageReceived(ctx context.Context, in domain.NotificationIntent) error {
	tokens, email, err := r.contact(ctx, in, false)
	if err != nil {
		return err
	}
	switch {
	case len(tokens) > 0:
		return r.push(ctx, tokens, "A new message from "+in.FromDisplayName, in.Message, map[string]any{
			"type":     domain.IntentMessageReceived,
			"fromName": in.FromDisplayName,
			"message":  in.Message,
		})
	case email != "":
		return r.SendEmail(ctx, domain.EmailMessage{
			To:      email,
			Subject: "New Message from " + in.FromDisplayName,
			Body:    in.Message,
		})
	default:
		slog.Warn("recipient has no delivery channel", "recipient_id", in.RecipientID)
		r.deps.Metrics.Dispatched.WithLabelValues(ChannelNone, OutcomeFailed).Inc()
		return nil
	}
}

// contact returns the recipient's reachable push tokens and email. Embedded
// endpoints are used when present; otherwise the directory is asked. An
// embedded token that turns out unusable counts as absent.
// lookupForPush forces a directory lookup when no usable token is embedded.
func (r *Router) contact(ctx context.Context, in domain.NotificationIntent, lookupForPush bool) ([]string, string, error) {
	var tokens []string
	if in.RecipientToken != "" && in.RecipientToken != domain.TokenNotAvailable {
		tokens = r.reachable(ctx, []string{in.RecipientToken})
	}
	email := in.RecipientEmail

	needLookup := len(tokens) == 0 && (email == "" || lookupForPush)
	if needLookup && in.RecipientID != "" && r.deps.Directory != nil {
		rec, err := r.deps.Directory.Lookup(ctx, in.RecipientID)
		if err != nil {
			return nil, "", fmt.Errorf("resolve recipient: %w", err)
		}
		tokens = r.reachable(ctx, rec.PushTokens)
		if email == "" {
			email = rec.Email
		}
	}
	return tokens, email, nil
}

// reachable drops malformed tokens and tokens already retired.
func (r *Router) reachable(ctx context.Context, tokens []string) []string {
	valid := make([]string, 0, len(tokens))
	seen := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		if seen[t] {
			continue
		}
		seen[t] = true
		if t == domain.TokenNotAvailable {
			continue
		}
		if !expo.ValidToken(t) {
			slog.Warn("dropping malformed push token", "token", t)
			continue
		}
		valid = append(valid, t)
	}
	if len(valid) == 0 || r.deps.Tokens == nil {
		return valid
	}
	inactive, err := r.deps.Tokens.Inactive(ctx, valid)
	if err != nil {
		slog.Warn("push token status unavailable", "err", err)
		return valid
	}
	out := valid[:0]
	for _, t := range valid {
		if !inactive[t] {
			out = append(out, t)
		}
	}
	return out
}

func (r *Router) SendEmail(ctx context.Context, m domain.EmailMessage) error {
	if m.To == "" {
		return fmt.Errorf("email without recipient: %w", domain.ErrBadRequest)
	}
	err := r.retry(ctx, func() error { return r.deps.Mailer.SendEmail(ctx, m.To, m.Subject, m.Body) })
	r.record(ChannelEmail, err)
	return err
}

func (r *Router) SendSMS(ctx context.Context, m domain.SMSMessage) error {
	if m.To == "" {
		return fmt.Errorf("sms without recipient: %w", domain.ErrBadRequest)
	}
	text := m.Message
	if text == "" && m.Code != "" {
		text = "Your verification code is: " + m.Code
	}
	if text == "" {
		return fmt.Errorf("sms without body: %w", domain.ErrBadRequest)
	}
	err := r.retry(ctx, func() error { return r.deps.SMS.SendSMS(ctx, m.To, text) })
	r.record(ChannelSMS, err)
	return err
}

// SendPush delivers an already addressed push message.
func (r *Router) SendPush(ctx context.Context, m domain.PushMessage) error {
	tokens := r.reachable(ctx, m.To)
	if len(tokens) == 0 {
		slog.Warn("no valid push tokens in message", "given", len(m.To))
		return nil
	}
	return r.push(ctx, tokens, m.Title, m.Body, m.Data)
}

func (r *Router) push(ctx context.Context, tokens []string, title, body string, data map[string]any) error {
	msgs := make([]expo.Message, len(tokens))
	for i, t := range tokens {
		msgs[i] = expo.Message{To: t, Title: title, Body: body, Sound: "default", Data: data}
	}
	var tickets []expo.Ticket
	err := r.retry(ctx, func() error {
		var err error
		tickets, err = r.deps.Push.Send(ctx, msgs)
		return err
	})
	r.record(ChannelPush, err)
	if err != nil {
		return err
	}
	r.handleTickets(ctx, tokens, tickets)
	return nil
}

// handleTickets retires tokens the provider reports as unregistered, either
// directly on the ticket or on the receipt fetched for it later.
func (r *Router) handleTickets(ctx context.Context, tokens []string, tickets []expo.Ticket) {
	byReceipt := make(map[string]string)
	for i, t := range tickets {
		if i >= len(tokens) {
			break
		}
		if t.Status == "error" {
			slog.Warn("push ticket error", "token", tokens[i], "error", t.Err(), "message", t.Message)
			if t.Err() == expo.ErrDeviceNotRegistered {
				r.deactivate(ctx, tokens[i])
			}
			continue
		}
		if t.ID != "" {
			byReceipt[t.ID] = tokens[i]
		}
	}
	if len(byReceipt) == 0 {
		return
	}
	if r.deps.ReceiptDelay <= 0 {
		r.checkReceipts(ctx, byReceipt)
		return
	}
	r.mu.Lock()
	r.pending = append(r.pending, receiptBatch{due: time.Now().Add(r.deps.ReceiptDelay), tickets: byReceipt})
	r.mu.Unlock()
}

// CheckReceipts polls every interval for ticket batches whose receipt delay
// has passed and checks them. Batches still pending when ctx ends are dropped.
func (r *Router) CheckReceipts(ctx context.Context, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			if n := len(r.pending); n > 0 {
				slog.Info("dropping pending receipt checks", "batches", n)
			}
			r.mu.Unlock()
			return
		case now := <-tick.C:
			r.checkDue(ctx, now)
		}
	}
}

func (r *Router) checkDue(ctx context.Context, now time.Time) {
	due := make(map[string]string)
	r.mu.Lock()
	keep := r.pending[:0]
	for _, b := range r.pending {
		if now.Before(b.due) {
			keep = append(keep, b)
			continue
		}
		maps.Copy(due, b.tickets)
	}
	r.pending = keep
	r.mu.Unlock()
	if len(due) > 0 {
		r.checkReceipts(ctx, due)
	}
}

func (r *Router) checkReceipts(ctx context.Context, byReceipt map[string]string) {
	ids := make([]string, 0, len(byReceipt))
	for id := range byReceipt {
		ids = append(ids, id)
	}
	receipts, err := r.deps.Push.Receipts(ctx, ids)
	if err != nil {
		slog.Warn("fetch push receipts", "err", err)
		return
	}
	for id, rc := range receipts {
		if rc.Status != "error" {
			continue
		}
		slog.Warn("push receipt error", "token", byReceipt[id], "error", rc.Err(), "message", rc.Message)
		if rc.Err() == expo.ErrDeviceNotRegistered {
			r.deactivate(ctx, byReceipt[id])
		}
	}
}

func (r *Router) deactivate(ctx context.Context, token string) {
	if r.deps.Tokens == nil || token == "" {
		return
	}
	changed, err := r.deps.Tokens.Deactivate(ctx, token)
	if err != nil {
		slog.Error("deactivate push token", "token", token, "err", err)
		return
	}
	if !changed {
		return
	}
	r.deps.Metrics.Deactivated.Inc()
	slog.Info("push token deactivated", "token", token)
}

// retry runs fn up to Attempts times with doubling backoff.
func (r *Router) retry(ctx context.Context, fn func() error) error {
	wait := r.deps.Backoff
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= r.deps.Attempts {
			return fmt.Errorf("after %d attempts: %w", attempt, err)
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return err
		}
		wait *= 2
	}
}

func (r *Router) record(channel string, err error) {
	outcome := OutcomeSent
	if err != nil {
		outcome = OutcomeFailed
	}
	r.deps.Metrics.Dispatched.WithLabelValues(channel, outcome).Inc()
}
