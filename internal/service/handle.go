// Package service tracks the live runtime services that back resources.
//
// A Container is the service scheduler: it starts and stops services on its
// own goroutines. The Coordinator sits in front of it, derives nothing itself
// but remembers which resource owns which service and turns the container's
// asynchronous transitions into synchronous install and remove calls.
package service

import (
	"context"
	"sync"

	"github.com/looplab/fsm"
)

// State is the lifecycle state of a service handle.
type State string

const (
	StateDown     State = "down"
	StateStarting State = "starting"
	StateUp       State = "up"
	StateStopping State = "stopping"
	StateFailed   State = "failed"
)

const (
	eventStart   = "start"
	eventStarted = "started"
	eventFail    = "fail"
	eventStop    = "stop"
	eventStopped = "stopped"
)

// Service is a live runtime object managed by a container.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// HealthChecker is implemented by services that can report degraded
// operation while up.
type HealthChecker interface {
	Healthy() bool
}

// Factory creates the service instance for a handle.
type Factory func(ctx context.Context) (Service, error)

// Handle is a named service registered with a container.
type Handle struct {
	name    string
	deps    []string
	machine *fsm.FSM

	mu       sync.Mutex
	state    State
	changed  chan struct{}
	svc      Service
	err      error
	removing bool
}

func newHandle(name string, deps []string) *Handle {
	h := &Handle{
		name:    name,
		deps:    append([]string(nil), deps...),
		state:   StateDown,
		changed: make(chan struct{}),
	}
	h.machine = fsm.NewFSM(
		string(StateDown),
		fsm.Events{
			{Name: eventStart, Src: []string{string(StateDown)}, Dst: string(StateStarting)},
			{Name: eventStarted, Src: []string{string(StateStarting)}, Dst: string(StateUp)},
			{Name: eventFail, Src: []string{string(StateStarting), string(StateUp), string(StateStopping)}, Dst: string(StateFailed)},
			{Name: eventStop, Src: []string{string(StateUp), string(StateFailed)}, Dst: string(StateStopping)},
			{Name: eventStopped, Src: []string{string(StateStopping)}, Dst: string(StateDown)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				h.mu.Lock()
				h.state = State(e.Dst)
				close(h.changed)
				h.changed = make(chan struct{})
				h.mu.Unlock()
			},
		},
	)
	return h
}

// Name returns the service name.
func (h *Handle) Name() string { return h.name }

// Dependencies returns the names of the services this one requires.
func (h *Handle) Dependencies() []string { return append([]string(nil), h.deps...) }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Service returns the live instance, or nil before it started.
func (h *Handle) Service() Service {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.svc
}

// Err returns the start or stop failure of a failed handle.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Healthy reports whether the service is up and, when it can tell, working.
func (h *Handle) Healthy() bool {
	h.mu.Lock()
	state, svc := h.state, h.svc
	h.mu.Unlock()
	if state != StateUp {
		return false
	}
	if hc, ok := svc.(HealthChecker); ok {
		return hc.Healthy()
	}
	return true
}

// fail records err and moves the handle to failed. A pending removal is
// abandoned so waiters see the handle settle.
func (h *Handle) fail(ctx context.Context, err error) {
	h.mu.Lock()
	h.err = err
	h.removing = false
	h.mu.Unlock()
	_ = h.machine.Event(ctx, eventFail)
}

func (h *Handle) setService(svc Service) {
	h.mu.Lock()
	h.svc = svc
	h.mu.Unlock()
}

// watch returns the current state, whether it is about to change on its own,
// and a channel closed on the next change.
func (h *Handle) watch() (State, bool, <-chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	settling := h.state == StateStarting || h.state == StateStopping ||
		(h.removing && h.state != StateDown)
	return h.state, settling, h.changed
}

// markRemoving flags the handle as on its way down.
func (h *Handle) markRemoving() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	already := h.removing
	h.removing = true
	return already
}
