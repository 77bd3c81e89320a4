// Package status tracks storage backend reachability and probes it on a
// schedule.
package status

import (
	"sort"
	"sync"
	"time"
)

// Status is the reachability of a backend.
type Status string

const (
	Unknown     Status = "unknown"
	Available   Status = "available"
	Unavailable Status = "unavailable"
)

// State is the latest known reachability of one backend.
type State struct {
	Backend   string    `json:"backend"`
	Status    Status    `json:"status"`
	Since     time.Time `json:"since"`
	LastError string    `json:"lastError,omitempty"`
}

// Listener is called on every status transition.
type Listener func(State)

// Tracker records reachability reports. It satisfies query.Reporter.
type Tracker struct {
	mu        sync.Mutex
	states    map[string]State
	listeners []Listener
	now       func() time.Time
}

// NewTracker creates a Tracker notifying listeners on transitions.
func NewTracker(listeners ...Listener) *Tracker {
	return &Tracker{
		states:    make(map[string]State),
		listeners: listeners,
		now:       time.Now,
	}
}

// Subscribe adds a transition listener.
func (t *Tracker) Subscribe(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// Report records one observation. Listeners run only when the status changes.
func (t *Tracker) Report(backend string, reachable bool, err error) {
	next := Unavailable
	if reachable {
		next = Available
	}

	t.mu.Lock()
	prev, seen := t.states[backend]
	st := prev
	st.Backend = backend
	if err != nil {
		st.LastError = err.Error()
	} else if reachable {
		st.LastError = ""
	}
	changed := !seen || prev.Status != next
	if changed {
		st.Status = next
		st.Since = t.now()
	}
	t.states[backend] = st
	listeners := append([]Listener(nil), t.listeners...)
	t.mu.Unlock()

	if changed {
		for _, l := range listeners {
			l(st)
		}
	}
}

// State returns the state of backend, or Unknown when never reported.
func (t *Tracker) State(backend string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.states[backend]; ok {
		return st
	}
	return State{Backend: backend, Status: Unknown}
}

// Snapshot returns every known state ordered by backend name.
func (t *Tracker) Snapshot() []State {
	t.mu.Lock()
	out := make([]State, 0, len(t.states))
	for _, st := range t.states {
		out = append(out, st)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Backend < out[j].Backend })
	return out
}
