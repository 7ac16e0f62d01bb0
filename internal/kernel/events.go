package kernel

import (
	"time"

	"github.com/agentkernel/kernel/internal/artifact"
	"github.com/agentkernel/kernel/internal/executor"
)

// EventRecord is one entry in the kernel's structured event stream
// (spec §6): every observable thing the world does — a write, a read, a
// denied invoke, a mint auction resolving — becomes one of these, with a
// monotonic EventNumber assigned before it is appended (spec §4.7,
// "assigned before persistence").
type EventRecord struct {
	EventType   string
	EventNumber uint64
	Timestamp   time.Time
	Fields      map[string]any
}

// storeEventSink adapts World to artifact.EventSink. A distinct type is
// needed per source package because Go has no method overloading: World
// can't define two Emit methods differing only by parameter type.
type storeEventSink struct{ w *World }

func (s storeEventSink) Emit(e artifact.Event) {
	fields := map[string]any{"artifact_id": e.Artifact}
	for k, v := range e.Fields {
		fields[k] = v
	}
	s.w.logEventAt(e.Type, e.Timestamp, fields)
}

// execEventSink adapts World to executor.EventSink.
type execEventSink struct{ w *World }

func (s execEventSink) Emit(e executor.Event) {
	s.w.logEventAt(e.Type, e.Timestamp, e.Fields)
}

// logEvent appends a new EventRecord stamped with the current time.
func (w *World) logEvent(eventType string, fields map[string]any) EventRecord {
	return w.logEventAt(eventType, time.Now().UTC(), fields)
}

func (w *World) logEventAt(eventType string, ts time.Time, fields map[string]any) EventRecord {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.eventCounter++
	rec := EventRecord{EventType: eventType, EventNumber: w.eventCounter, Timestamp: ts, Fields: fields}

	w.events = append(w.events, rec)
	if len(w.events) > w.maxEvents {
		w.events = w.events[len(w.events)-w.maxEvents:]
	}
	w.observeEvent(eventType)
	return rec
}

// RecentEvents returns up to n of the most recently logged events,
// newest last.
func (w *World) RecentEvents(n int) []EventRecord {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n <= 0 || n > len(w.events) {
		n = len(w.events)
	}
	out := make([]EventRecord, n)
	copy(out, w.events[len(w.events)-n:])
	return out
}

// EventCount returns the total number of events ever logged, including
// those since trimmed from the in-memory ring buffer.
func (w *World) EventCount() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.eventCounter
}
