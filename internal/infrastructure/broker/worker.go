package broker

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// HandlerFunc processes one delivery and is responsible for acking it.
type HandlerFunc func(ctx context.Context, d Delivery)

// Serve consumes queue and runs fn for each delivery in its own goroutine,
// with at most limit handlers in flight. It returns once the delivery stream
// ends (ctx done) and every in-flight handler has returned. Handlers receive a
// context that is not cancelled on shutdown so they can finish their unit.
func Serve(ctx context.Context, c Consumer, queue string, limit int, fn HandlerFunc) error {
	if limit < 1 {
		limit = 1
	}
	deliveries, err := c.Consume(ctx, queue)
	if err != nil {
		return err
	}
	sem := semaphore.NewWeighted(int64(limit))
	handlerCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for d := range deliveries {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Shutting down with the pool full: hand the message back.
			_ = d.Nack(true)
			continue
		}
		wg.Add(1)
		go func(d Delivery) {
			defer wg.Done()
			defer sem.Release(1)
			fn(handlerCtx, d)
		}(d)
	}
	wg.Wait()
	slog.Info("consumer drained", "queue", queue)
	return nil
}
