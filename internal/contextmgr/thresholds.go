// Package contextmgr keeps a session's message list within the model's
// context window. It estimates token usage, classifies it against
// per-model thresholds, and compacts older turns into summary messages
// when the usage ratio climbs too high.
package contextmgr

import (
	"fmt"
	"path"
	"sync"
)

// Thresholds are the usage ratios at which the context state degrades.
type Thresholds struct {
	Warning  float64 `yaml:"warning" json:"warning"`
	Critical float64 `yaml:"critical" json:"critical"`
	Overflow float64 `yaml:"overflow" json:"overflow"`
}

// Validate enforces 0 < warning < critical < overflow < 1.
func (t Thresholds) Validate() error {
	if t.Warning <= 0 || t.Overflow >= 1 {
		return fmt.Errorf("thresholds must lie in (0,1), got %.2f/%.2f/%.2f", t.Warning, t.Critical, t.Overflow)
	}
	if t.Warning >= t.Critical || t.Critical >= t.Overflow {
		return fmt.Errorf("thresholds must be strictly ordered, got %.2f/%.2f/%.2f", t.Warning, t.Critical, t.Overflow)
	}
	return nil
}

// The three built-in profiles. Balanced is the default when no model
// pattern matches.
var (
	Conservative = Thresholds{Warning: 0.70, Critical: 0.80, Overflow: 0.90}
	Balanced     = Thresholds{Warning: 0.75, Critical: 0.85, Overflow: 0.95}
	Aggressive   = Thresholds{Warning: 0.85, Critical: 0.92, Overflow: 0.97}
)

type thresholdPattern struct {
	pattern    string
	thresholds Thresholds
}

// builtinPatterns map model id globs to profiles. Runtime additions take
// precedence, newest first.
var builtinPatterns = []thresholdPattern{
	{"claude*", Balanced},
	{"deepseek*", Conservative},
	{"gemini*", Balanced},
	{"gpt*", Balanced},
}

// ThresholdTable resolves model ids to threshold profiles through a glob
// pattern table.
type ThresholdTable struct {
	mu      sync.RWMutex
	runtime []thresholdPattern
}

// NewThresholdTable returns a table holding only the built-in patterns.
func NewThresholdTable() *ThresholdTable {
	return &ThresholdTable{}
}

// Add registers a runtime pattern. It takes precedence over built-ins and
// over any earlier runtime pattern.
func (t *ThresholdTable) Add(pattern string, thresholds Thresholds) error {
	if err := thresholds.Validate(); err != nil {
		return err
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("invalid threshold pattern %q: %w", pattern, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runtime = append([]thresholdPattern{{pattern, thresholds}}, t.runtime...)
	return nil
}

// Resolve returns the thresholds for a model id, falling back to the
// balanced profile when nothing matches.
func (t *ThresholdTable) Resolve(modelID string) Thresholds {
	t.mu.RLock()
	runtime := t.runtime
	t.mu.RUnlock()

	for _, p := range runtime {
		if ok, _ := path.Match(p.pattern, modelID); ok {
			return p.thresholds
		}
	}
	for _, p := range builtinPatterns {
		if ok, _ := path.Match(p.pattern, modelID); ok {
			return p.thresholds
		}
	}
	return Balanced
}
