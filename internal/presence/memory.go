package presence

import (
	"context"
	"strings"
	"sync"
)

// MemoryRegistry keeps presence in process memory. It never returns an error.
type MemoryRegistry struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewMemoryRegistry returns an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[string]string)}
}

func (r *MemoryRegistry) Register(_ context.Context, userID, connectionID string) error {
	userID = strings.TrimSpace(userID)
	connectionID = strings.TrimSpace(connectionID)
	if userID == "" || connectionID == "" {
		return nil
	}
	r.mu.Lock()
	r.entries[userID] = connectionID
	r.mu.Unlock()
	return nil
}

func (r *MemoryRegistry) Lookup(_ context.Context, userID string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	connectionID, ok := r.entries[strings.TrimSpace(userID)]
	return connectionID, ok, nil
}

// Touch is a no-op; memory entries never expire.
func (r *MemoryRegistry) Touch(context.Context, string) error { return nil }

// Unregister scans every entry for connectionID. Disconnect only reveals the
// connection, so this is linear in the number of registered users.
func (r *MemoryRegistry) Unregister(_ context.Context, connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for userID, current := range r.entries {
		if current == connectionID {
			delete(r.entries, userID)
			break
		}
	}
	return nil
}

// Len reports the number of registered users.
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

var _ Registry = (*MemoryRegistry)(nil)
