package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrNoProvider is returned when the loop has no provider configured.
	ErrNoProvider = errors.New("no provider configured")

	// ErrMaxTurns is the cause when the turn limit is hit.
	ErrMaxTurns = errors.New("maximum turns reached")

	// ErrMaxToolCalls is the cause when the total tool call budget is hit.
	ErrMaxToolCalls = errors.New("maximum tool calls reached")
)

// Phase names the loop stage an error occurred in.
type Phase string

const (
	PhaseInit         Phase = "init"
	PhaseStream       Phase = "stream"
	PhaseExecuteTools Phase = "execute_tools"
	PhaseContinue     Phase = "continue"
)

// LoopError wraps a failure with the phase and turn it happened in.
type LoopError struct {
	Phase Phase
	Turn  int
	Cause error
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("agent loop failed in %s phase (turn %d): %v", e.Phase, e.Turn, e.Cause)
}

func (e *LoopError) Unwrap() error {
	return e.Cause
}
