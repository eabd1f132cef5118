// Package audittest provides an in-memory audit.Recorder for tests.
package audittest

import (
	"context"
	"sync"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/audit"
)

// Recorder keeps every recorded event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []audit.Event
}

var _ audit.Recorder = (*Recorder)(nil)

// Record appends e.
func (r *Recorder) Record(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of all recorded events in order.
func (r *Recorder) Events() []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events with the given type.
func (r *Recorder) OfType(t audit.EventType) []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many events of type t were recorded.
func (r *Recorder) Count(t audit.EventType) int {
	return len(r.OfType(t))
}
