// Package events is the structured event stream the orchestration engine
// emits, one event per step. Presentation layers consume the stream; the
// orchestration logic never reads it back.
package events

import (
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	migration "github.com/scriptautomation123/oracle-table-migration"
)

// Outcome classifies how a step ended.
type Outcome string

const (
	// OutcomeSucceeded indicates the step completed.
	OutcomeSucceeded Outcome = "succeeded"

	// OutcomeFailed indicates the step erred or a gate blocked it.
	OutcomeFailed Outcome = "failed"

	// OutcomeWarned indicates the step completed with a condition the
	// operator should look at.
	OutcomeWarned Outcome = "warned"
)

// Event records one orchestration step.
type Event struct {
	// RunID identifies the migration run, empty for archive cycles.
	RunID string

	// Identity is the qualified logical name the step acted on.
	Identity string

	// Phase is the run phase at the time of the step.
	Phase migration.Phase

	// Step names the step, e.g. "backfill" or "rename_shadow".
	Step string

	// Outcome is how the step ended.
	Outcome Outcome

	// Detail is a human-readable description.
	Detail string

	// GateResults holds any gate outcomes the step produced.
	GateResults []migration.GateResult

	// At is when the event was emitted.
	At time.Time
}

// Sink consumes step events. Implementations must be safe for concurrent
// use.
type Sink interface {
	Emit(e Event)
}

// LogSink renders events as structured log lines.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink creates a sink writing JSON events to w.
func NewLogSink(w io.Writer) *LogSink {
	return &LogSink{log: zerolog.New(w).With().Timestamp().Logger()}
}

// Emit writes the event as one structured line.
func (s *LogSink) Emit(e Event) {
	ev := s.log.Info()
	if e.Outcome == OutcomeFailed {
		ev = s.log.Error()
	}
	if e.RunID != "" {
		ev = ev.Str("run_id", e.RunID)
	}
	ev = ev.
		Str("identity", e.Identity).
		Str("phase", string(e.Phase)).
		Str("step", e.Step).
		Str("outcome", string(e.Outcome))
	if len(e.GateResults) > 0 {
		arr := zerolog.Arr()
		for _, r := range e.GateResults {
			arr = arr.Str(r.Gate + "=" + string(r.Verdict))
		}
		ev = ev.Array("gates", arr)
	}
	ev.Msg(e.Detail)
}

// Memory is a sink that retains events in order, for tests.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends the event.
func (m *Memory) Emit(e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

// Events returns a copy of everything emitted so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Discard is a sink that drops every event.
type Discard struct{}

// Emit drops the event.
func (Discard) Emit(Event) {}

// Now stamps the event time if unset and returns the event. Helper for
// emitters.
func Now(e Event) Event {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return e
}
