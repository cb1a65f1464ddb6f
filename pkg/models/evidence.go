package models

// SignalType classifies a retrieval signal extracted from a conversation
// or an error report.
type SignalType string

const (
	SignalErrorToken SignalType = "error_token"
	SignalSymbol     SignalType = "symbol"
	SignalPath       SignalType = "path"
	SignalStackFrame SignalType = "stack_frame"
)

// Signal is a weighted hint used to score evidence for prompt injection.
type Signal struct {
	Type       SignalType `json:"type"`
	Value      string     `json:"value"`
	Source     string     `json:"source,omitempty"`
	Confidence float64    `json:"confidence"`
}

// Range addresses a span of lines within a file.
type Range struct {
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
}

// Evidence is a candidate piece of code context. BaseScore comes from the
// retrieval provider; FinalScore is computed against matched signals when
// the evidence pack is assembled.
type Evidence struct {
	ID             string            `json:"id"`
	Provider       string            `json:"provider"`
	Path           string            `json:"path"`
	Range          Range             `json:"range"`
	Content        string            `json:"content"`
	Tokens         int               `json:"tokens"`
	BaseScore      float64           `json:"base_score"`
	FinalScore     float64           `json:"final_score,omitempty"`
	MatchedSignals []string          `json:"matched_signals,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}
