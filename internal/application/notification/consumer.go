package notification

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hotelna-core/internal/infrastructure/broker"
	"golang.org/x/sync/errgroup"
)

// Queues names the queues the router consumes.
type Queues struct {
	Notifications string
	Email         string
	SMS           string
	Push          string
}

// Serve consumes every queue until ctx is done, with at most concurrency
// handlers in flight per queue. It returns after all handlers have finished.
func (r *Router) Serve(ctx context.Context, c broker.Consumer, q Queues, concurrency int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return broker.Serve(ctx, c, q.Notifications, concurrency, handle(r, q.Notifications, r.HandleIntent))
	})
	g.Go(func() error {
		return broker.Serve(ctx, c, q.Email, concurrency, handle(r, q.Email, r.SendEmail))
	})
	g.Go(func() error {
		return broker.Serve(ctx, c, q.SMS, concurrency, handle(r, q.SMS, r.SendSMS))
	})
	g.Go(func() error {
		return broker.Serve(ctx, c, q.Push, concurrency, handle(r, q.Push, r.SendPush))
	})
	return g.Wait()
}

// handle decodes a T from each delivery and passes it to fn. Every delivery
// is acked: malformed bodies would fail again on redelivery, and adapter
// failures have already been retried.
func handle[T any](r *Router, queue string, fn func(context.Context, T) error) broker.HandlerFunc {
	return func(ctx context.Context, d broker.Delivery) {
		defer func() {
			if err := d.Ack(); err != nil {
				slog.Warn("ack notification", "queue", queue, "err", err)
			}
		}()
		var msg T
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			slog.Warn("dropping malformed message", "queue", queue, "err", err)
			r.deps.Metrics.Dropped.WithLabelValues(queue, "malformed").Inc()
			return
		}
		if err := fn(ctx, msg); err != nil {
			slog.Error("notification not delivered", "queue", queue, "err", err)
			r.deps.Metrics.Dropped.WithLabelValues(queue, "delivery_failed").Inc()
		}
	}
}
