package models

import "time"

// SessionMetadata identifies a session and the provider/model it ran against.
type SessionMetadata struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// Checkpoint marks a rollback point in a session's message list.
// Checkpoints reference messages by index, never by pointer.
type Checkpoint struct {
	ID           string    `json:"id"`
	Description  string    `json:"description"`
	MessageIndex int       `json:"message_index"`
	Timestamp    time.Time `json:"timestamp"`
}

// Session owns an ordered message list, its checkpoints, and a version
// counter bumped on every mutation. This is also the persisted document
// shape; older readers ignore unknown fields.
type Session struct {
	Metadata    SessionMetadata `json:"metadata"`
	Messages    []*Message      `json:"messages"`
	Checkpoints []Checkpoint    `json:"checkpoints,omitempty"`
	Version     int64           `json:"version"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	clone := &Session{
		Metadata: s.Metadata,
		Version:  s.Version,
	}
	if len(s.Messages) > 0 {
		clone.Messages = make([]*Message, len(s.Messages))
		for i, m := range s.Messages {
			clone.Messages[i] = m.Clone()
		}
	}
	if len(s.Checkpoints) > 0 {
		clone.Checkpoints = append([]Checkpoint(nil), s.Checkpoints...)
	}
	return clone
}
