package models

// StreamEventType tags the variant of a normalized stream event.
type StreamEventType string

const (
	// StreamText carries a fragment of assistant text.
	StreamText StreamEventType = "text"

	// StreamReasoning carries a fragment of reasoning ("thinking") text.
	StreamReasoning StreamEventType = "reasoning"

	// StreamToolCallStart opens a tool call; carries id and name.
	StreamToolCallStart StreamEventType = "tool_call_start"

	// StreamToolCallDelta carries a JSON argument fragment for an open call.
	StreamToolCallDelta StreamEventType = "tool_call_delta"

	// StreamToolCallEnd closes a tool call.
	StreamToolCallEnd StreamEventType = "tool_call_end"

	// StreamUsage carries token accounting; at most once, before end.
	StreamUsage StreamEventType = "usage"

	// StreamEnd terminates the stream; carries the stop reason.
	StreamEnd StreamEventType = "end"

	// StreamWarning carries a non-fatal normalization notice, such as
	// malformed tool-argument JSON coerced to an empty object.
	StreamWarning StreamEventType = "warning"
)

// StreamEvent is the single event vocabulary all provider adapters
// normalize into. For a given tool-call index, start precedes any delta,
// which precedes end; usage and end arrive last, at most once each.
type StreamEvent struct {
	Type StreamEventType `json:"type"`

	// Content holds text, reasoning, or warning payloads.
	Content string `json:"content,omitempty"`

	// Index orders parallel content blocks within a response.
	Index int `json:"index,omitempty"`

	// ToolCallID and ToolName identify the call for tool_call_* events.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`

	// ArgumentsFragment is a partial JSON payload for tool_call_delta.
	ArgumentsFragment string `json:"arguments_fragment,omitempty"`

	// Usage is set on usage events.
	Usage *Usage `json:"usage,omitempty"`

	// StopReason is set on end events.
	StopReason StopReason `json:"stop_reason,omitempty"`
}

// Usage is flattened token accounting; provider-specific fields are dropped.
type Usage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`
}

// StopReason is the provider's declared cause for ending a response.
type StopReason string

const (
	StopEndTurn       StopReason = "end_turn"
	StopMaxTokens     StopReason = "max_tokens"
	StopStopSequence  StopReason = "stop_sequence"
	StopToolUse       StopReason = "tool_use"
	StopContentFilter StopReason = "content_filter"
	StopCanceled      StopReason = "canceled"
)

// NormalizeStopReason maps a provider-native stop reason onto the common
// vocabulary. Unknown values map to end_turn.
func NormalizeStopReason(native string) StopReason {
	switch native {
	case "end_turn", "stop", "end", "completed":
		return StopEndTurn
	case "max_tokens", "length", "model_length":
		return StopMaxTokens
	case "stop_sequence":
		return StopStopSequence
	case "tool_use", "tool_calls", "function_call":
		return StopToolUse
	case "content_filter", "content_filtered", "safety":
		return StopContentFilter
	default:
		return StopEndTurn
	}
}
