// Package sessions persists conversation sessions: an append-only message
// log per session, checkpoint markers for rollback, and an incremental
// sync bridge for UI reattachment. Two implementations are provided, an
// in-memory store and a SQLite-backed store.
package sessions

import (
	"context"
	"errors"

	"github.com/vellum-dev/vellum/pkg/models"
)

var (
	// ErrNotFound is returned when a session id is unknown.
	ErrNotFound = errors.New("session not found")

	// ErrCheckpointNotFound is returned when a checkpoint id is unknown.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)

// Store is the session persistence interface. Message appends are totally
// ordered within a session; every mutation bumps the session version.
type Store interface {
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]models.SessionMetadata, error)

	// AppendMessage adds a message to the end of the session's log.
	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error

	// Messages returns the full ordered message list.
	Messages(ctx context.Context, sessionID string) ([]*models.Message, error)

	// ReplaceMessages atomically swaps the session's message list. Context
	// compaction uses this so readers never observe a partial summary.
	ReplaceMessages(ctx context.Context, sessionID string, messages []*models.Message) error

	// CreateCheckpoint records a rollback point at the current message count.
	CreateCheckpoint(ctx context.Context, sessionID, description string) (*models.Checkpoint, error)

	// Rollback truncates the message list to the checkpoint's index and
	// drops checkpoints past it.
	Rollback(ctx context.Context, sessionID, checkpointID string) error
}
