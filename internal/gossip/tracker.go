package gossip

import (
	"context"
	"sync"
)

// Tracker counts first arrivals and duplicates per message and lets callers
// block until a message has reached a number of nodes.
type Tracker struct {
	mu         sync.Mutex
	arrivals   map[string]int
	duplicates map[string]int
	changed    chan struct{}
}

func NewTracker() *Tracker {
	return &Tracker{
		arrivals:   make(map[string]int),
		duplicates: make(map[string]int),
		changed:    make(chan struct{}),
	}
}

// Record implements Sink.
func (t *Tracker) Record(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e.Kind.First() {
		t.arrivals[e.Message]++
	} else {
		t.duplicates[e.Message]++
	}
	close(t.changed)
	t.changed = make(chan struct{})
}

// Arrivals returns the number of nodes that have recorded message as
// initiated or received.
func (t *Tracker) Arrivals(message string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.arrivals[message]
}

// Duplicates returns the number of duplicate deliveries of message.
func (t *Tracker) Duplicates(message string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duplicates[message]
}

// Wait blocks until message has n first arrivals or ctx is done.
func (t *Tracker) Wait(ctx context.Context, message string, n int) error {
	for {
		t.mu.Lock()
		if t.arrivals[message] >= n {
			t.mu.Unlock()
			return nil
		}
		ch := t.changed
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}
