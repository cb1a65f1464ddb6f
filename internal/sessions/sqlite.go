package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/vellum-dev/vellum/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	provider   TEXT NOT NULL,
	model      TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	version    INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS messages (
	session_id TEXT NOT NULL,
	idx        INTEGER NOT NULL,
	doc        TEXT NOT NULL,
	PRIMARY KEY (session_id, idx)
);
CREATE TABLE IF NOT EXISTS checkpoints (
	id            TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL,
	description   TEXT NOT NULL,
	message_index INTEGER NOT NULL,
	created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id);
`

// SQLiteStore is a durable Store backed by a single SQLite database file.
// Messages are stored as JSON documents so older readers ignore fields
// they do not know.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and
// applies the schema. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply session schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, session *models.Session) error {
	if session.Metadata.ID == "" {
		session.Metadata.ID = uuid.NewString()
	}
	if session.Metadata.CreatedAt.IsZero() {
		session.Metadata.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, provider, model, created_at, version) VALUES (?, ?, ?, ?, ?)`,
		session.Metadata.ID, session.Metadata.Provider, session.Metadata.Model,
		session.Metadata.CreatedAt, session.Version)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	for i, msg := range session.Messages {
		if err := insertMessage(ctx, tx, session.Metadata.ID, i, msg); err != nil {
			return err
		}
	}
	for _, cp := range session.Checkpoints {
		if err := insertCheckpoint(ctx, tx, session.Metadata.ID, cp); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Session, error) {
	session := &models.Session{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, provider, model, created_at, version FROM sessions WHERE id = ?`, id).
		Scan(&session.Metadata.ID, &session.Metadata.Provider, &session.Metadata.Model,
			&session.Metadata.CreatedAt, &session.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	messages, err := s.Messages(ctx, id)
	if err != nil {
		return nil, err
	}
	session.Messages = messages

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, description, message_index, created_at FROM checkpoints
		 WHERE session_id = ? ORDER BY message_index, created_at`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var cp models.Checkpoint
		if err := rows.Scan(&cp.ID, &cp.Description, &cp.MessageIndex, &cp.Timestamp); err != nil {
			return nil, err
		}
		session.Checkpoints = append(session.Checkpoints, cp)
	}
	return session, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE session_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) List(ctx context.Context) ([]models.SessionMetadata, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, provider, model, created_at FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SessionMetadata
	for rows.Next() {
		var md models.SessionMetadata
		if err := rows.Scan(&md.ID, &md.Provider, &md.Model, &md.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, md)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := requireSession(ctx, tx, sessionID); err != nil {
		return err
	}

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(idx) + 1, 0) FROM messages WHERE session_id = ?`, sessionID).
		Scan(&next); err != nil {
		return err
	}
	if err := insertMessage(ctx, tx, sessionID, next, msg); err != nil {
		return err
	}
	if err := bumpVersion(ctx, tx, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Messages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM messages WHERE session_id = ? ORDER BY idx`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]*models.Message, 0, 16)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		msg := &models.Message{}
		if err := json.Unmarshal(doc, msg); err != nil {
			return nil, fmt.Errorf("decode message document: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) ReplaceMessages(ctx context.Context, sessionID string, messages []*models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := requireSession(ctx, tx, sessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	for i, msg := range messages {
		if err := insertMessage(ctx, tx, sessionID, i, msg); err != nil {
			return err
		}
	}
	if err := bumpVersion(ctx, tx, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) CreateCheckpoint(ctx context.Context, sessionID, description string) (*models.Checkpoint, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := requireSession(ctx, tx, sessionID); err != nil {
		return nil, err
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&count); err != nil {
		return nil, err
	}

	cp := models.Checkpoint{
		ID:           uuid.NewString(),
		Description:  description,
		MessageIndex: count,
		Timestamp:    time.Now(),
	}
	if err := insertCheckpoint(ctx, tx, sessionID, cp); err != nil {
		return nil, err
	}
	if err := bumpVersion(ctx, tx, sessionID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *SQLiteStore) Rollback(ctx context.Context, sessionID, checkpointID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var idx int
	err = tx.QueryRowContext(ctx,
		`SELECT message_index FROM checkpoints WHERE id = ? AND session_id = ?`,
		checkpointID, sessionID).Scan(&idx)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrCheckpointNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id = ? AND idx >= ?`, sessionID, idx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE session_id = ? AND message_index > ?`, sessionID, idx); err != nil {
		return err
	}
	if err := bumpVersion(ctx, tx, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

func requireSession(ctx context.Context, tx *sql.Tx, sessionID string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func insertMessage(ctx context.Context, tx *sql.Tx, sessionID string, idx int, msg *models.Message) error {
	doc, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message document: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, idx, doc) VALUES (?, ?, ?)`,
		sessionID, idx, string(doc))
	return err
}

func insertCheckpoint(ctx context.Context, tx *sql.Tx, sessionID string, cp models.Checkpoint) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints (id, session_id, description, message_index, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		cp.ID, sessionID, cp.Description, cp.MessageIndex, cp.Timestamp)
	return err
}

func bumpVersion(ctx context.Context, tx *sql.Tx, sessionID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE sessions SET version = version + 1 WHERE id = ?`, sessionID)
	return err
}
