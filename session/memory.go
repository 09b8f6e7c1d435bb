package session

import (
	"context"
	"sync"

	"portfolio-agent/models"
)

// MemoryBackend keeps transcripts in process memory
type MemoryBackend struct {
	mu       sync.RWMutex
	sessions map[string][]models.Message
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sessions: make(map[string][]models.Message)}
}

func (b *MemoryBackend) Load(_ context.Context, id string) ([]models.Message, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	history, ok := b.sessions[id]
	if !ok {
		return nil, false, nil
	}
	return clone(history), true, nil
}

func (b *MemoryBackend) Save(_ context.Context, id string, history []models.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sessions[id] = clone(history)
	return nil
}

// Len returns the number of sessions held
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}

func clone(history []models.Message) []models.Message {
	out := make([]models.Message, len(history))
	copy(out, history)
	return out
}
