// Package reload tracks whether accepted configuration changes are waiting
// for a restart of the running services.
package reload

import "sync"

// Tracker holds the last known reload-required state of the server. Each
// operation works on its own Flag and publishes it when it completes.
type Tracker struct {
	mu        sync.RWMutex
	required  bool
	listeners []func(bool)
}

// NewTracker creates a tracker in the not-required state.
func NewTracker() *Tracker {
	return &Tracker{}
}

// IsReloadRequired returns the last published state.
func (t *Tracker) IsReloadRequired() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.required
}

// OnChange registers a callback invoked with every published state.
func (t *Tracker) OnChange(fn func(bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Begin returns a flag for one operation, seeded with the current state.
func (t *Tracker) Begin() *Flag {
	initial := t.IsReloadRequired()
	return &Flag{tracker: t, initial: initial, current: initial}
}

// Clear resets the state after the services were restarted.
func (t *Tracker) Clear() {
	t.set(false)
}

func (t *Tracker) set(v bool) {
	t.mu.Lock()
	t.required = v
	listeners := append([]func(bool){}, t.listeners...)
	t.mu.Unlock()
	for _, fn := range listeners {
		fn(v)
	}
}

// Flag is the reload-required state as seen by one operation.
type Flag struct {
	tracker *Tracker
	initial bool
	current bool
	cleared bool
}

// RequireReload marks the server as needing a restart.
func (f *Flag) RequireReload() {
	f.current = true
}

// RevertReload restores the state the operation started with.
func (f *Flag) RevertReload() {
	f.current = f.initial
	f.cleared = false
}

// ClearReload marks a completed restart within this operation.
func (f *Flag) ClearReload() {
	f.current = false
	f.cleared = true
}

// IsReloadRequired returns the operation's view of the flag.
func (f *Flag) IsReloadRequired() bool {
	return f.current
}

// Changed reports whether the operation moved the flag.
func (f *Flag) Changed() bool {
	return f.current != f.initial
}

// Publish makes the operation's view the tracker's last known state. A flag
// that was not changed leaves concurrent publications alone.
func (f *Flag) Publish() {
	if f.cleared || f.Changed() {
		f.tracker.set(f.current)
	}
}
