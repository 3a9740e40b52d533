package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/hotelna-core/internal/pkg/id"
)

// ErrGone is returned when a handle no longer has a reader.
var ErrGone = errors.New("connection gone")

// Hub owns the outbound queue of every live connection in this process and
// keeps the presence registry in step with them.
type Hub struct {
	mu       sync.Mutex
	conns    map[string]chan Message
	presence Registry
	buffer   int
	done     chan struct{}
	stop     sync.Once
}

// Registry is the subset of the presence registry the hub maintains.
type Registry interface {
	Connect(userID, handle string)
	Disconnect(handle string)
}

func NewHub(presence Registry, buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{conns: make(map[string]chan Message), presence: presence, buffer: buffer, done: make(chan struct{})}
}

// Attach opens a connection for userID. The caller reads from the returned
// channel until it calls detach.
func (h *Hub) Attach(userID string) (handle string, recv <-chan Message, detach func()) {
	handle = id.New()
	ch := make(chan Message, h.buffer)

	h.mu.Lock()
	h.conns[handle] = ch
	h.mu.Unlock()
	h.presence.Connect(userID, handle)

	var once sync.Once
	return handle, ch, func() {
		once.Do(func() {
			h.presence.Disconnect(handle)
			h.mu.Lock()
			delete(h.conns, handle)
			h.mu.Unlock()
		})
	}
}

// SendTo queues msg on handle. A full queue counts as a dead reader.
func (h *Hub) SendTo(ctx context.Context, handle string, msg Message) error {
	h.mu.Lock()
	ch, ok := h.conns[handle]
	h.mu.Unlock()
	if !ok {
		return ErrGone
	}
	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrGone
	}
}

// Done is closed when the hub shuts down; readers should detach and return.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Close tells every reader to go away.
func (h *Hub) Close() { h.stop.Do(func() { close(h.done) }) }
