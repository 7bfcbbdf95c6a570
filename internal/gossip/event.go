package gossip

import (
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// EventKind classifies an inbound delivery.
type EventKind string

const (
	Initiate  EventKind = "initiate"
	Duplicate EventKind = "duplicate"
	Received  EventKind = "received"
)

// First reports whether the kind marks the first arrival of a message at a
// node.
func (k EventKind) First() bool {
	return k == Initiate || k == Received
}

// Event is the record of one inbound delivery at one node.
type Event struct {
	Message    string    `json:"message"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	ReceivedAt time.Time `json:"received_at"`
	// PropagationTimeMs is set for received events only.
	PropagationTimeMs *float64  `json:"propagation_time_ms"`
	LatencyMs         float64   `json:"latency_ms"`
	Kind              EventKind `json:"event"`
	Detail            string    `json:"detail"`
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (e Event) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("message", e.Message)
	enc.AddString("sender_id", e.SenderID)
	enc.AddString("receiver_id", e.ReceiverID)
	enc.AddTime("received_at", e.ReceivedAt)
	if e.PropagationTimeMs != nil {
		enc.AddFloat64("propagation_time_ms", *e.PropagationTimeMs)
	} else if err := enc.AddReflected("propagation_time_ms", nil); err != nil {
		return err
	}
	enc.AddFloat64("latency_ms", e.LatencyMs)
	enc.AddString("event", string(e.Kind))
	enc.AddString("detail", e.Detail)
	return nil
}

// Sink receives events. Record must be safe for concurrent use and should
// not block for long: it runs on the delivery path.
type Sink interface {
	Record(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Record(e Event) { f(e) }

// MultiSink fans every event out to all of its sinks in order.
type MultiSink []Sink

func (m MultiSink) Record(e Event) {
	for _, s := range m {
		if s != nil {
			s.Record(e)
		}
	}
}

type discard struct{}

func (discard) Record(Event) {}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Record(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events in arrival order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Filter returns the recorded events matching the predicate.
func (r *Recorder) Filter(keep func(Event) bool) []Event {
	var out []Event
	for _, e := range r.Events() {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
