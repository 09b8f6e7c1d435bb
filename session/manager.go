package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"portfolio-agent/models"
)

// Session states
const (
	StateFresh  = "fresh"
	StateActive = "active"
)

// Backend stores transcripts by session id.
// Load reports ok=false for a session it has never seen.
type Backend interface {
	Load(ctx context.Context, id string) (history []models.Message, ok bool, err error)
	Save(ctx context.Context, id string, history []models.Message) error
}

// Manager owns every conversation transcript of the process. Each transcript
// starts with the system message, which is restored verbatim on reset.
type Manager struct {
	backend Backend
	system  models.Message

	mu    sync.Mutex
	locks map[string]*keyLock

	// OnCreate is called when a session is first seeded
	OnCreate func(id string)
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a manager seeding sessions with systemPrompt
func NewManager(backend Backend, systemPrompt string) *Manager {
	return &Manager{
		backend: backend,
		system:  models.Message{Role: models.RoleSystem, Content: systemPrompt},
		locks:   make(map[string]*keyLock),
	}
}

// NewID issues a session identifier for a client's first contact
func NewID() string {
	return uuid.New().String()
}

// SystemMessage returns the message every transcript starts with
func (m *Manager) SystemMessage() models.Message {
	return m.system
}

// Lock serializes turns on one session. Other sessions are not blocked.
func (m *Manager) Lock(id string) (unlock func()) {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &keyLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}

// History returns a copy of the transcript, seeding it when new
func (m *Manager) History(ctx context.Context, id string) ([]models.Message, error) {
	history, ok, err := m.backend.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if !ok || len(history) == 0 {
		history = m.fresh()
		if err := m.backend.Save(ctx, id, history); err != nil {
			return nil, fmt.Errorf("failed to seed session %s: %w", id, err)
		}
		if m.OnCreate != nil {
			m.OnCreate(id)
		}
	}
	return history, nil
}

// Append adds msg to the end of the transcript and returns the new snapshot
func (m *Manager) Append(ctx context.Context, id string, msg models.Message) ([]models.Message, error) {
	history, err := m.History(ctx, id)
	if err != nil {
		return nil, err
	}
	history = append(history, msg)
	if err := m.backend.Save(ctx, id, history); err != nil {
		return nil, fmt.Errorf("failed to save session %s: %w", id, err)
	}
	return history, nil
}

// Truncate keeps the first n messages. The system message always survives.
func (m *Manager) Truncate(ctx context.Context, id string, n int) error {
	history, err := m.History(ctx, id)
	if err != nil {
		return err
	}
	if n < 1 {
		n = 1
	}
	if n >= len(history) {
		return nil
	}
	if err := m.backend.Save(ctx, id, history[:n]); err != nil {
		return fmt.Errorf("failed to truncate session %s: %w", id, err)
	}
	return nil
}

// Peek returns a copy of the transcript without seeding it. An unknown
// session reads as the single system message and is not stored.
func (m *Manager) Peek(ctx context.Context, id string) ([]models.Message, error) {
	history, ok, err := m.backend.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if !ok || len(history) == 0 {
		return m.fresh(), nil
	}
	return history, nil
}

// Reset puts the transcript back to the single system message. A session
// that was never seeded is left alone, it already reads as fresh.
func (m *Manager) Reset(ctx context.Context, id string) error {
	_, ok, err := m.backend.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to reset session %s: %w", id, err)
	}
	if !ok {
		return nil
	}
	if err := m.backend.Save(ctx, id, m.fresh()); err != nil {
		return fmt.Errorf("failed to reset session %s: %w", id, err)
	}
	return nil
}

// State reports whether the session holds any exchange yet. It does not
// create the session.
func (m *Manager) State(ctx context.Context, id string) (string, error) {
	history, err := m.Peek(ctx, id)
	if err != nil {
		return "", err
	}
	return StateOf(history), nil
}

// StateOf classifies a transcript snapshot
func StateOf(history []models.Message) string {
	if len(history) > 1 {
		return StateActive
	}
	return StateFresh
}

func (m *Manager) fresh() []models.Message {
	return []models.Message{m.system}
}
