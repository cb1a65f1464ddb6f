package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/vellum-dev/vellum/pkg/models"
)

// Stream is a pull-based iterator over normalized stream events. The
// producing goroutine pushes events through an internal channel; the
// consumer drives it with Next/Event and must call Close when done.
//
//	st, err := provider.Stream(ctx, req)
//	if err != nil { ... }
//	defer st.Close()
//	for st.Next() {
//	    ev := st.Event()
//	    ...
//	}
//	if err := st.Err(); err != nil { ... }
type Stream struct {
	events chan models.StreamEvent
	cur    models.StreamEvent

	cancel context.CancelFunc

	mu     sync.Mutex
	err    error
	closed bool
}

// newStream creates a stream and a producer bound to it. The producer's
// send functions return false once the stream is closed, signaling the
// producing goroutine to stop.
func newStream(cancel context.CancelFunc) (*Stream, *streamProducer) {
	s := &Stream{
		events: make(chan models.StreamEvent, 16),
		cancel: cancel,
	}
	return s, &streamProducer{s: s}
}

// Next advances to the next event. It returns false when the stream is
// exhausted or failed; check Err afterwards.
func (s *Stream) Next() bool {
	ev, ok := <-s.events
	if !ok {
		return false
	}
	s.cur = ev
	return true
}

// Event returns the event Next advanced to.
func (s *Stream) Event() models.StreamEvent {
	return s.cur
}

// Err returns the terminal error, if any, once Next has returned false.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the stream. It cancels the underlying request and drains
// remaining events so the producer goroutine can exit. Close is idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	go func() {
		for range s.events {
		}
	}()
	return nil
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// streamProducer is the adapter-side handle for feeding a Stream.
type streamProducer struct {
	s *Stream
}

// send delivers one event; it returns false if the consumer closed the
// stream, in which case the producer should stop reading the provider.
func (p *streamProducer) send(ctx context.Context, ev models.StreamEvent) bool {
	if p.s.isClosed() {
		return false
	}
	select {
	case p.s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// fail records the terminal error and closes the event channel.
func (p *streamProducer) fail(err error) {
	p.s.mu.Lock()
	if p.s.err == nil {
		p.s.err = err
	}
	p.s.mu.Unlock()
	close(p.s.events)
}

// finish closes the event channel after a successful run.
func (p *streamProducer) finish() {
	close(p.s.events)
}

// toolCallAccumulator rebuilds tool calls from start/delta/end events.
// Arguments arrive as JSON fragments keyed by block index; End validates
// the assembled document and coerces malformed payloads to an empty
// object, reporting a warning instead of failing the turn.
type toolCallAccumulator struct {
	order []int
	calls map[int]*pendingCall
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
	done bool
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*pendingCall)}
}

// Start opens a call at the given block index.
func (a *toolCallAccumulator) Start(index int, id, name string) {
	if _, ok := a.calls[index]; ok {
		return
	}
	a.order = append(a.order, index)
	a.calls[index] = &pendingCall{id: id, name: name}
}

// Delta appends an argument fragment to the call at index. Fragments for
// unopened indexes are dropped.
func (a *toolCallAccumulator) Delta(index int, fragment string) {
	c, ok := a.calls[index]
	if !ok || c.done {
		return
	}
	c.args.WriteString(fragment)
}

// End closes the call at index and returns the assembled ToolCall. The
// warning is non-empty when the argument payload was not valid JSON and
// was replaced with an empty object.
func (a *toolCallAccumulator) End(index int) (models.ToolCall, string, bool) {
	c, ok := a.calls[index]
	if !ok || c.done {
		return models.ToolCall{}, "", false
	}
	c.done = true

	raw := strings.TrimSpace(c.args.String())
	if raw == "" {
		raw = "{}"
	}
	var warning string
	if !json.Valid([]byte(raw)) {
		warning = fmt.Sprintf("tool call %s (%s): malformed argument JSON replaced with empty object", c.id, c.name)
		raw = "{}"
	}
	return models.ToolCall{
		ID:        c.id,
		Name:      c.name,
		Arguments: json.RawMessage(raw),
	}, warning, true
}

// Open returns the indexes of calls started but not yet ended, in start
// order. Adapters flush these at message end for providers that never emit
// explicit stop markers.
func (a *toolCallAccumulator) Open() []int {
	var open []int
	for _, i := range a.order {
		if c := a.calls[i]; c != nil && !c.done {
			open = append(open, i)
		}
	}
	return open
}

// NewScriptedStream returns a stream that replays the given events and
// then terminates with err (nil for a clean end). Fake providers in tests
// and embedding hosts use it to script responses.
func NewScriptedStream(err error, events ...models.StreamEvent) *Stream {
	st, producer := newStream(nil)
	go func() {
		for _, ev := range events {
			if !producer.send(context.Background(), ev) {
				return
			}
		}
		if err != nil {
			producer.fail(err)
			return
		}
		producer.finish()
	}()
	return st
}

// Collect drains a stream into an aggregated Result. It owns the stream
// and closes it before returning.
func Collect(st *Stream) (*Result, error) {
	defer st.Close()

	res := &Result{StopReason: models.StopEndTurn}
	acc := newToolCallAccumulator()
	var text, thinking strings.Builder

	for st.Next() {
		ev := st.Event()
		switch ev.Type {
		case models.StreamText:
			text.WriteString(ev.Content)
		case models.StreamReasoning:
			thinking.WriteString(ev.Content)
		case models.StreamToolCallStart:
			acc.Start(ev.Index, ev.ToolCallID, ev.ToolName)
		case models.StreamToolCallDelta:
			acc.Delta(ev.Index, ev.ArgumentsFragment)
		case models.StreamToolCallEnd:
			if call, warn, ok := acc.End(ev.Index); ok {
				res.ToolCalls = append(res.ToolCalls, call)
				if warn != "" {
					res.Warnings = append(res.Warnings, warn)
				}
			}
		case models.StreamUsage:
			if ev.Usage != nil {
				res.Usage = *ev.Usage
			}
		case models.StreamWarning:
			res.Warnings = append(res.Warnings, ev.Content)
		case models.StreamEnd:
			res.StopReason = ev.StopReason
		}
	}
	if err := st.Err(); err != nil {
		return nil, err
	}

	res.Text = text.String()
	res.Thinking = thinking.String()
	return res, nil
}
