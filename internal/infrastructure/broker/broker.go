// Package broker owns the process's message-broker connection and exposes
// queue publish/consume primitives to the RPC bridge and notification workers.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
)

// Message is an outbound or inbound queue message.
type Message struct {
	Body          []byte
	CorrelationID string
	ReplyTo       string
}

// Delivery is a consumed message that must be acknowledged exactly once.
type Delivery struct {
	Message
	Queue string
	ack   func() error
	nack  func(requeue bool) error
}

// Ack confirms the message was handled.
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Nack rejects the message; requeue asks the broker to redeliver it.
func (d Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(requeue)
}

// Publisher sends messages to named queues.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg Message) error
}

// Consumer streams deliveries from a named queue until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, queue string) (<-chan Delivery, error)
}

// PublishJSON marshals v and publishes it to queue.
func PublishJSON(ctx context.Context, p Publisher, queue string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", queue, err)
	}
	return p.Publish(ctx, queue, Message{Body: body})
}
