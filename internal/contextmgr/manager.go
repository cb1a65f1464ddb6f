package contextmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/vellum-dev/vellum/pkg/models"
)

// ErrOverflow is returned when compaction cannot bring usage below the
// warning threshold because only one message remains.
var ErrOverflow = errors.New("context overflow: a single message exceeds the usable window")

// Level classifies context usage.
type Level string

const (
	LevelHealthy  Level = "healthy"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
	LevelOverflow Level = "overflow"
)

// State is the derived context state for a message list against a model's
// window.
type State struct {
	EstimatedTokens int
	Ratio           float64
	Level           Level
	Thresholds      Thresholds
}

// Summarizer produces a compact summary of a span of messages. The agent
// loop supplies one backed by a dedicated provider request.
type Summarizer interface {
	Summarize(ctx context.Context, messages []*models.Message) (string, error)
}

// defaultKeepRecent is how many trailing messages compaction tries to
// leave uncompressed.
const defaultKeepRecent = 10

// Manager tracks context usage and performs compaction. It never mutates
// the caller's message list; Compact returns a fresh list the session
// writer swaps in atomically.
type Manager struct {
	table      *ThresholdTable
	keepRecent int
	logger     *slog.Logger
}

// NewManager creates a manager with the built-in pattern table.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		table:      NewThresholdTable(),
		keepRecent: defaultKeepRecent,
		logger:     logger,
	}
}

// AddPattern registers a runtime threshold pattern, taking precedence over
// built-ins.
func (m *Manager) AddPattern(pattern string, thresholds Thresholds) error {
	return m.table.Add(pattern, thresholds)
}

// Evaluate derives the context state for the effective history of messages
// against a model's context window.
func (m *Manager) Evaluate(messages []*models.Message, modelID string, contextWindow int) State {
	thresholds := m.table.Resolve(modelID)
	if contextWindow <= 0 {
		return State{Level: LevelHealthy, Thresholds: thresholds}
	}

	tokens := EstimateHistoryTokens(EffectiveHistory(messages, true))
	ratio := float64(tokens) / float64(contextWindow)

	level := LevelHealthy
	switch {
	case ratio >= thresholds.Overflow:
		level = LevelOverflow
	case ratio >= thresholds.Critical:
		level = LevelCritical
	case ratio >= thresholds.Warning:
		level = LevelWarning
	}

	return State{
		EstimatedTokens: tokens,
		Ratio:           ratio,
		Level:           level,
		Thresholds:      thresholds,
	}
}

// NeedsCompaction reports whether the usage ratio has crossed the warning
// threshold.
func (m *Manager) NeedsCompaction(messages []*models.Message, modelID string, contextWindow int) bool {
	return m.Evaluate(messages, modelID, contextWindow).Level != LevelHealthy
}

// Compact absorbs the oldest effective messages into a fresh summary and
// returns the new message list. Absorbed originals are kept, marked with
// condenseParent pointing at the summary's condenseId; the summary is
// inserted at the position of the oldest absorbed message.
//
// The input list is not modified. If even the smallest possible tail stays
// above the warning threshold, ErrOverflow is returned.
func (m *Manager) Compact(ctx context.Context, messages []*models.Message, modelID string, contextWindow int, summarizer Summarizer) ([]*models.Message, error) {
	if summarizer == nil {
		return nil, errors.New("no summarizer configured")
	}
	thresholds := m.table.Resolve(modelID)

	effective := EffectiveHistory(messages, true)
	if len(effective) < 2 {
		return nil, ErrOverflow
	}

	absorb, err := m.selectPrefix(effective, thresholds, contextWindow)
	if err != nil {
		return nil, err
	}

	summaryText, err := summarizer.Summarize(ctx, absorb)
	if err != nil {
		return nil, fmt.Errorf("compaction summary request failed: %w", err)
	}

	condenseID := uuid.NewString()
	summary := &models.Message{
		ID:         uuid.NewString(),
		Role:       models.RoleAssistant,
		Content:    summaryText,
		CondenseID: condenseID,
		CreatedAt:  time.Now(),
	}

	absorbed := make(map[string]bool, len(absorb))
	for _, msg := range absorb {
		absorbed[msg.ID] = true
	}

	out := make([]*models.Message, 0, len(messages)+1)
	inserted := false
	for _, msg := range messages {
		if absorbed[msg.ID] {
			if !inserted {
				out = append(out, summary)
				inserted = true
			}
			clone := msg.Clone()
			clone.CondenseParent = condenseID
			out = append(out, clone)
			continue
		}
		out = append(out, msg)
	}

	m.logger.Info("context compacted",
		"model", modelID,
		"condense_id", condenseID,
		"absorbed", len(absorb),
		"remaining", len(effective)-len(absorb))

	return out, nil
}

// selectPrefix picks the oldest run of messages whose absorption drops the
// remaining estimate below the warning threshold. It prefers keeping the
// last keepRecent messages and shrinks the tail when that is not enough.
func (m *Manager) selectPrefix(effective []*models.Message, thresholds Thresholds, contextWindow int) ([]*models.Message, error) {
	budget := int(thresholds.Warning * float64(contextWindow))

	for keep := m.keepRecent; keep >= 1; keep-- {
		if keep >= len(effective) {
			continue
		}
		tail := effective[len(effective)-keep:]
		if EstimateHistoryTokens(tail) < budget {
			return effective[:len(effective)-keep], nil
		}
	}
	return nil, ErrOverflow
}
