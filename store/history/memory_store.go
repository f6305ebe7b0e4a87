package history

import (
	"context"
	"sync"
)

// MemoryStore implements Store entirely in memory. It backs ephemeral
// sessions (no sqlite path configured) and tests.
type MemoryStore struct {
	mu   sync.Mutex
	logs map[string][]Message
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string][]Message)}
}

func logKey(owner string, key Key) string {
	return owner + "\x00" + key.String()
}

func (s *MemoryStore) Append(_ context.Context, owner string, key Key, msg Message) error {
	if key.IsZero() {
		return ErrEmptyKey
	}
	s.mu.Lock()
	s.logs[logKey(owner, key)] = append(s.logs[logKey(owner, key)], msg)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(_ context.Context, owner string, key Key) ([]Message, error) {
	if key.IsZero() {
		return nil, ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.logs[logKey(owner, key)]
	out := make([]Message, len(log))
	copy(out, log)
	return out, nil
}

func (s *MemoryStore) Clear(_ context.Context, owner string, key Key) error {
	if key.IsZero() {
		return ErrEmptyKey
	}
	s.mu.Lock()
	delete(s.logs, logKey(owner, key))
	s.mu.Unlock()
	return nil
}
