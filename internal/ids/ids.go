// Package ids issues identifiers for persisted records and live connections.
package ids

import (
	"sync"

	"github.com/google/uuid"
)

// Provider issues unique string identifiers.
type Provider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs a Provider that issues UUIDv7 identifiers.
func NewUUIDProvider() Provider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// Sequence hands out a fixed list of identifiers. Tests use it to make ids predictable.
type Sequence struct {
	IDs   []string
	mu    sync.Mutex
	index int
}

func (s *Sequence) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index >= len(s.IDs) {
		return "", errExhausted
	}
	id := s.IDs[s.index]
	s.index++
	return id, nil
}
