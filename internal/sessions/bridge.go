package sessions

import (
	"context"
	"errors"
	"sync"

	"github.com/vellum-dev/vellum/pkg/models"
)

// ErrDisposed is returned by bridge operations after Dispose.
var ErrDisposed = errors.New("persistence bridge disposed")

// Bridge tracks how much of a session's message log a consumer has seen,
// so reopening the UI does not re-emit every message. It holds a
// (sessionID, lastSyncedIndex) pair, never a pointer into the list.
type Bridge struct {
	store     Store
	sessionID string

	mu         sync.Mutex
	lastSynced int
	disposed   bool
}

// NewBridge attaches a bridge to a session.
func NewBridge(store Store, sessionID string) *Bridge {
	return &Bridge{store: store, sessionID: sessionID}
}

// Sync returns the messages appended since the last call and advances the
// sync index. A message list shorter than the sync index means the session
// was rolled back; the bridge resets and re-emits from the start.
func (b *Bridge) Sync(ctx context.Context) ([]*models.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return nil, ErrDisposed
	}

	messages, err := b.store.Messages(ctx, b.sessionID)
	if err != nil {
		return nil, err
	}
	if len(messages) < b.lastSynced {
		b.lastSynced = 0
	}

	fresh := messages[b.lastSynced:]
	b.lastSynced = len(messages)
	return fresh, nil
}

// Reset rewinds the sync index so the next Sync re-emits everything.
// Rollback handlers call this.
func (b *Bridge) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastSynced = 0
}

// LastSyncedIndex reports the current sync position.
func (b *Bridge) LastSyncedIndex() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSynced
}

// Dispose detaches the bridge and resets its sync state. Further calls to
// Sync fail with ErrDisposed. Dispose is idempotent.
func (b *Bridge) Dispose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disposed = true
	b.lastSynced = 0
}
