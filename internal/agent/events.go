package agent

import (
	"encoding/json"

	"github.com/vellum-dev/vellum/internal/permissions"
	"github.com/vellum-dev/vellum/pkg/models"
)

// EventType tags a lifecycle event.
type EventType string

const (
	// EventText carries a fragment of streamed assistant text.
	EventText EventType = "text"

	// EventReasoning carries a fragment of streamed reasoning.
	EventReasoning EventType = "reasoning"

	// EventToolStart announces a tool execution beginning.
	EventToolStart EventType = "toolStart"

	// EventToolEnd carries the result of a finished tool execution.
	EventToolEnd EventType = "toolEnd"

	// EventPermissionRequired announces an outstanding approval prompt.
	EventPermissionRequired EventType = "permissionRequired"

	// EventPermissionGranted reports an approved call.
	EventPermissionGranted EventType = "permissionGranted"

	// EventPermissionDenied reports a rejected call.
	EventPermissionDenied EventType = "permissionDenied"

	// EventWarning carries a non-fatal notice, such as malformed tool
	// arguments coerced to an empty object.
	EventWarning EventType = "warning"

	// EventComplete terminates the run; carries the completion reason and,
	// on failures, the error.
	EventComplete EventType = "complete"
)

// CompleteReason explains why a run ended.
type CompleteReason string

const (
	CompleteEndTurn      CompleteReason = "end_turn"
	CompleteCanceled     CompleteReason = "canceled"
	CompleteMaxTurns     CompleteReason = "max_turns"
	CompleteMaxToolCalls CompleteReason = "max_tool_calls"
	CompleteError        CompleteReason = "error"
)

// Event is the single lifecycle vocabulary the UI layer consumes. For any
// CallID, permission events precede toolStart, which precedes toolEnd.
type Event struct {
	Type EventType

	// Content holds text, reasoning, or warning payloads.
	Content string

	// CallID and ToolName identify the call for tool and permission events.
	CallID   string
	ToolName string

	// Input is the call's argument payload on toolStart.
	Input json.RawMessage

	// Result is set on toolEnd.
	Result *models.ToolResult

	// Risk is set on permission events.
	Risk permissions.RiskLevel

	// Reason is set on complete events.
	Reason CompleteReason

	// Err is set on complete events with reason error.
	Err error

	// Usage is the final token accounting, set on complete when known.
	Usage *models.Usage
}
