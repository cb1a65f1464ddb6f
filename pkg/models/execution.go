package models

import (
	"fmt"
	"time"
)

// ExecutionState is the lifecycle state of a tool execution.
type ExecutionState string

const (
	ExecutionPending  ExecutionState = "pending"
	ExecutionApproved ExecutionState = "approved"
	ExecutionRejected ExecutionState = "rejected"
	ExecutionRunning  ExecutionState = "running"
	ExecutionComplete ExecutionState = "complete"
	ExecutionError    ExecutionState = "error"
)

// Terminal reports whether the state admits no further transitions.
func (s ExecutionState) Terminal() bool {
	switch s {
	case ExecutionRejected, ExecutionComplete, ExecutionError:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a transition from s to next is legal.
// Transitions are monotonic: pending -> approved|rejected,
// approved -> running, running -> complete|error.
func (s ExecutionState) CanTransition(next ExecutionState) bool {
	switch s {
	case ExecutionPending:
		return next == ExecutionApproved || next == ExecutionRejected
	case ExecutionApproved:
		return next == ExecutionRunning
	case ExecutionRunning:
		return next == ExecutionComplete || next == ExecutionError
	default:
		return false
	}
}

// ToolExecution is the runtime shadow of a ToolCall: the call plus its
// lifecycle state, result, and timing.
type ToolExecution struct {
	Call       ToolCall       `json:"call"`
	State      ExecutionState `json:"state"`
	Result     *ToolResult    `json:"result,omitempty"`
	Err        string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at,omitempty"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
}

// NewToolExecution creates an execution in the pending state.
func NewToolExecution(call ToolCall) *ToolExecution {
	return &ToolExecution{Call: call, State: ExecutionPending}
}

// Transition moves the execution to the next state, enforcing the
// monotonic state machine. Illegal transitions return an error and leave
// the execution unchanged.
func (e *ToolExecution) Transition(next ExecutionState) error {
	if !e.State.CanTransition(next) {
		return fmt.Errorf("illegal tool execution transition %s -> %s for call %s", e.State, next, e.Call.ID)
	}
	e.State = next
	switch next {
	case ExecutionRunning:
		e.StartedAt = time.Now()
	case ExecutionComplete, ExecutionError, ExecutionRejected:
		e.FinishedAt = time.Now()
	}
	return nil
}
