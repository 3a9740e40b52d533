package broker

import (
	"context"
	"sync"
)

// Memory is an in-process transport with the same delivery semantics as
// Transport: manual ack, nack-with-requeue redelivers. Used by tests and
// single-binary local runs.
type Memory struct {
	mu     sync.Mutex
	queues map[string]chan Delivery
	acked  map[string]int
	nacked map[string]int
}

func NewMemory() *Memory {
	return &Memory{
		queues: make(map[string]chan Delivery),
		acked:  make(map[string]int),
		nacked: make(map[string]int),
	}
}

func (m *Memory) queue(name string) chan Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[name]
	if !ok {
		q = make(chan Delivery, 1024)
		m.queues[name] = q
	}
	return q
}

func (m *Memory) delivery(queue string, msg Message) Delivery {
	var once sync.Once
	return Delivery{
		Message: msg,
		Queue:   queue,
		ack: func() error {
			once.Do(func() {
				m.mu.Lock()
				m.acked[queue]++
				m.mu.Unlock()
			})
			return nil
		},
		nack: func(requeue bool) error {
			once.Do(func() {
				m.mu.Lock()
				m.nacked[queue]++
				m.mu.Unlock()
				if requeue {
					m.queue(queue) <- m.delivery(queue, msg)
				}
			})
			return nil
		},
	}
}

func (m *Memory) Publish(ctx context.Context, queue string, msg Message) error {
	select {
	case m.queue(queue) <- m.delivery(queue, msg):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	q := m.queue(queue)
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d := <-q:
				select {
				case out <- d:
				case <-ctx.Done():
					q <- d
					return
				}
			}
		}
	}()
	return out, nil
}

// Len reports messages waiting in queue.
func (m *Memory) Len(queue string) int { return len(m.queue(queue)) }

// Acked reports how many deliveries from queue were acknowledged.
func (m *Memory) Acked(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acked[queue]
}

// Nacked reports how many deliveries from queue were rejected.
func (m *Memory) Nacked(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nacked[queue]
}
