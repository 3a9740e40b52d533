package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrClosed = errors.New("broker: transport closed")

// Transport is an AMQP 0-9-1 connection with a single channel. Channel
// operations are serialized by mu; amqp091 channels are not safe for
// concurrent publishing.
type Transport struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	mu     sync.Mutex
	closed bool
	lost   chan error
}

// Dial connects to url and opens the process channel. prefetch bounds
// unacknowledged deliveries per consumer; zero leaves the broker default.
func Dial(url string, prefetch int) (*Transport, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set qos: %w", err)
		}
	}
	t := &Transport{conn: conn, ch: ch, lost: make(chan error, 1)}
	go t.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))
	return t, nil
}

func (t *Transport) watch(notify <-chan *amqp.Error) {
	amqpErr, ok := <-notify
	if !ok || amqpErr == nil {
		return // graceful close
	}
	slog.Error("broker connection lost", "code", amqpErr.Code, "reason", amqpErr.Reason)
	t.lost <- amqpErr
}

// Lost fires when the connection drops without Close being called.
func (t *Transport) Lost() <-chan error { return t.lost }

// DeclareQueues asserts durable queues. Declaring an existing queue with the
// same arguments is a no-op on the broker.
func (t *Transport) DeclareQueues(names ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	for _, name := range names {
		if _, err := t.ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", name, err)
		}
	}
	return nil
}

func (t *Transport) Publish(ctx context.Context, queue string, msg Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	err := t.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: msg.CorrelationID,
		ReplyTo:       msg.ReplyTo,
		Body:          msg.Body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

// Consume starts a manual-ack consumer on queue. The returned channel closes
// when ctx is done or the broker channel closes.
func (t *Transport) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	tag := queue + "-" + uuid.NewString()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	in, err := t.ch.Consume(queue, tag, false, false, false, false, nil)
	t.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				t.cancel(tag)
				return
			case d, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- wrap(queue, d):
				case <-ctx.Done():
					_ = d.Nack(false, true)
					t.cancel(tag)
					return
				}
			}
		}
	}()
	return out, nil
}

func (t *Transport) cancel(tag string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if err := t.ch.Cancel(tag, false); err != nil {
		slog.Warn("cancel consumer", "tag", tag, "err", err)
	}
}

func wrap(queue string, d amqp.Delivery) Delivery {
	return Delivery{
		Message: Message{
			Body:          d.Body,
			CorrelationID: d.CorrelationId,
			ReplyTo:       d.ReplyTo,
		},
		Queue: queue,
		ack:   func() error { return d.Ack(false) },
		nack:  func(requeue bool) error { return d.Nack(false, requeue) },
	}
}

// Close closes the channel, then the connection. Safe to call more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	chErr := t.ch.Close()
	connErr := t.conn.Close()
	return errors.Join(chErr, connErr)
}
