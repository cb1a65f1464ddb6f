// Package models defines the core data types shared across the Vellum
// runtime: messages, tool calls, sessions, stream events, and evidence.
package models

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is a single turn in a conversation.
//
// The two compression pointers tie messages into the condense forest:
// a summary message carries CondenseID; every message absorbed into that
// summary carries CondenseParent equal to it. A summary may itself be
// absorbed by a later summary, forming a chain from newest to oldest.
type Message struct {
	// ID is a stable identifier, unique within a session.
	ID string `json:"id"`

	// Role indicates who authored the message.
	Role Role `json:"role"`

	// Content is the textual body (may be empty for tool-only messages).
	Content string `json:"content,omitempty"`

	// Thinking holds reasoning content streamed by models that support it.
	Thinking string `json:"thinking,omitempty"`

	// ToolCalls contains tool execution requests emitted by the assistant.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolResults contains results for a tool-role message.
	ToolResults []ToolResult `json:"tool_results,omitempty"`

	// CondenseID is set on summary messages and uniquely identifies a
	// compression event.
	CondenseID string `json:"condense_id,omitempty"`

	// CondenseParent is set on messages absorbed into a summary; it equals
	// the summary's CondenseID.
	CondenseParent string `json:"condense_parent,omitempty"`

	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`
}

// IsSummary reports whether the message is a compression summary.
func (m *Message) IsSummary() bool {
	return m.CondenseID != ""
}

// IsAbsorbed reports whether the message has been absorbed into a summary.
func (m *Message) IsAbsorbed() bool {
	return m.CondenseParent != ""
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	clone := *m
	if len(m.ToolCalls) > 0 {
		clone.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			clone.ToolCalls[i] = tc.Clone()
		}
	}
	if len(m.ToolResults) > 0 {
		clone.ToolResults = append([]ToolResult(nil), m.ToolResults...)
	}
	return &clone
}

// ToolCall is a tool execution request emitted by the model.
type ToolCall struct {
	// ID is unique per call within a response.
	ID string `json:"id"`

	// Name is the tool to invoke.
	Name string `json:"name"`

	// Arguments is the structured argument payload. Providers accumulate
	// streamed JSON fragments into this; malformed JSON normalizes to "{}".
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Clone returns a deep copy of the tool call.
func (tc ToolCall) Clone() ToolCall {
	clone := tc
	if len(tc.Arguments) > 0 {
		clone.Arguments = append(json.RawMessage(nil), tc.Arguments...)
	}
	return clone
}

// ToolResult is the outcome of a tool execution, fed back to the model.
type ToolResult struct {
	// ToolCallID correlates the result with its originating call.
	ToolCallID string `json:"tool_call_id"`

	// Content is the tool's output, or the error message when IsError is set.
	Content string `json:"content"`

	// IsError indicates the result represents a failure.
	IsError bool `json:"is_error,omitempty"`
}
