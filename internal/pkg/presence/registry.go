// Package presence tracks which users currently hold a realtime connection.
package presence

import "sync"

// Registry maps a user to the handle of their live connection. A user has at
// most one handle; a newer connection replaces the older one.
type Registry struct {
	mu       sync.RWMutex
	byUser   map[string]string
	byHandle map[string]string
}

func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string]string), byHandle: make(map[string]string)}
}

// Connect records handle as userID's live connection.
func (r *Registry) Connect(userID, handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byUser[userID]; ok {
		delete(r.byHandle, old)
	}
	r.byUser[userID] = handle
	r.byHandle[handle] = userID
}

// Disconnect removes handle. A stale handle that was already replaced does
// not remove the user's newer connection.
func (r *Registry) Disconnect(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userID, ok := r.byHandle[handle]
	if !ok {
		return
	}
	delete(r.byHandle, handle)
	if r.byUser[userID] == handle {
		delete(r.byUser, userID)
	}
}

// Lookup returns userID's live handle, if any.
func (r *Registry) Lookup(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byUser[userID]
	return h, ok
}

// Len returns the number of users online.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
