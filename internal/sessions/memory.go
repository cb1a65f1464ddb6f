package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vellum-dev/vellum/pkg/models"
)

// MemoryStore is an in-memory Store for tests and ephemeral runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*models.Session)}
}

func (m *MemoryStore) Create(_ context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := session.Clone()
	if clone.Metadata.ID == "" {
		clone.Metadata.ID = uuid.NewString()
	}
	if clone.Metadata.CreatedAt.IsZero() {
		clone.Metadata.CreatedAt = time.Now()
	}
	// Reflect generated fields back to the caller.
	session.Metadata = clone.Metadata
	m.sessions[clone.Metadata.ID] = clone
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return session.Clone(), nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]models.SessionMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.SessionMetadata, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Metadata)
	}
	return out, nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, sessionID string, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	clone := msg.Clone()
	if clone.ID == "" {
		clone.ID = uuid.NewString()
		msg.ID = clone.ID
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	session.Messages = append(session.Messages, clone)
	session.Version++
	return nil
}

func (m *MemoryStore) Messages(_ context.Context, sessionID string) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]*models.Message, len(session.Messages))
	for i, msg := range session.Messages {
		out[i] = msg.Clone()
	}
	return out, nil
}

func (m *MemoryStore) ReplaceMessages(_ context.Context, sessionID string, messages []*models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	replaced := make([]*models.Message, len(messages))
	for i, msg := range messages {
		replaced[i] = msg.Clone()
	}
	session.Messages = replaced
	session.Version++
	return nil
}

func (m *MemoryStore) CreateCheckpoint(_ context.Context, sessionID, description string) (*models.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := models.Checkpoint{
		ID:           uuid.NewString(),
		Description:  description,
		MessageIndex: len(session.Messages),
		Timestamp:    time.Now(),
	}
	session.Checkpoints = append(session.Checkpoints, cp)
	session.Version++
	return &cp, nil
}

func (m *MemoryStore) Rollback(_ context.Context, sessionID, checkpointID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}

	var target *models.Checkpoint
	for i := range session.Checkpoints {
		if session.Checkpoints[i].ID == checkpointID {
			target = &session.Checkpoints[i]
			break
		}
	}
	if target == nil {
		return ErrCheckpointNotFound
	}

	idx := target.MessageIndex
	if idx > len(session.Messages) {
		idx = len(session.Messages)
	}
	session.Messages = session.Messages[:idx]

	kept := session.Checkpoints[:0]
	for _, cp := range session.Checkpoints {
		if cp.MessageIndex <= idx {
			kept = append(kept, cp)
		}
	}
	session.Checkpoints = kept
	session.Version++
	return nil
}
