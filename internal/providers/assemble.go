package providers

import "github.com/vellum-dev/vellum/pkg/models"

// Assembler incrementally rebuilds tool calls from stream events. Callers
// that consume a Stream event by event (rather than through Collect) feed
// each event in and read the completed calls afterward.
type Assembler struct {
	acc      *toolCallAccumulator
	calls    []models.ToolCall
	warnings []string
}

// NewAssembler returns an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{acc: newToolCallAccumulator()}
}

// Feed processes one stream event. Non-tool-call events are ignored.
func (a *Assembler) Feed(ev models.StreamEvent) {
	switch ev.Type {
	case models.StreamToolCallStart:
		a.acc.Start(ev.Index, ev.ToolCallID, ev.ToolName)
	case models.StreamToolCallDelta:
		a.acc.Delta(ev.Index, ev.ArgumentsFragment)
	case models.StreamToolCallEnd:
		if call, warn, ok := a.acc.End(ev.Index); ok {
			a.calls = append(a.calls, call)
			if warn != "" {
				a.warnings = append(a.warnings, warn)
			}
		}
	}
}

// Calls returns the completed tool calls in emission order.
func (a *Assembler) Calls() []models.ToolCall {
	return a.calls
}

// Warnings returns normalization warnings collected so far.
func (a *Assembler) Warnings() []string {
	return a.warnings
}
