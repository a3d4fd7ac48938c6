// Package events carries structured lifecycle events from the LLM call path to
// logging and metrics collaborators. Producers only emit; nothing here reacts.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event names emitted by the retry wrapper.
const (
	LLMAttempt     = "llm.attempt"
	LLMSuccess     = "llm.success"
	LLMRateLimited = "llm.rate_limited"
	LLMFailed      = "llm.failed"
)

// Payload keys shared by producers and sinks.
const (
	KeyAttempt     = "attempt"
	KeyMaxAttempts = "max_attempts"
	KeyElapsedMS   = "elapsed_ms"
	KeyTotalMS     = "total_ms"
	KeyWaitMS      = "wait_ms"
	KeyError       = "error"
	KeyErrorType   = "error_type"
)

// Event is one JSON-serializable observability record.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Name      string         `json:"event"`
	TraceID   string         `json:"trace_id,omitempty"`
	Node      string         `json:"node,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Sink consumes events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f.
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

type multiSink []Sink

func (m multiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// Multi fans an event out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

// NewTraceID returns a fresh id correlating the events of one pipeline run.
func NewTraceID() string {
	return uuid.NewString()
}

type traceKey struct{}

type trace struct {
	id   string
	node string
}

// WithTrace attaches a trace id and node name to ctx.
func WithTrace(ctx context.Context, traceID, node string) context.Context {
	return context.WithValue(ctx, traceKey{}, trace{id: traceID, node: node})
}

// TraceFrom returns the trace id and node attached by WithTrace.
func TraceFrom(ctx context.Context) (traceID, node string) {
	if t, ok := ctx.Value(traceKey{}).(trace); ok {
		return t.id, t.node
	}
	return "", ""
}

// Recorder keeps every event in memory. Useful in tests and for inspecting a run.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events in emission order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events with the given name were recorded.
func (r *Recorder) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Name == name {
			n++
		}
	}
	return n
}

// Reset discards recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
