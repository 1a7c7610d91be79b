package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vk/brokerconf/internal/ctxlog"
)

// Container schedules services. Install and Remove return once the
// transition has been requested; AwaitState observes its completion.
type Container interface {
	Install(ctx context.Context, name string, factory Factory, deps []string) (*Handle, error)
	Remove(ctx context.Context, name string) error
	AwaitState(ctx context.Context, h *Handle, want State) bool
	Lookup(name string) (*Handle, bool)
	AwaitStability(ctx context.Context) error
}

// MemoryContainer runs services on goroutines inside the process.
type MemoryContainer struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

var _ Container = (*MemoryContainer)(nil)

// NewMemoryContainer creates an empty container.
func NewMemoryContainer() *MemoryContainer {
	return &MemoryContainer{handles: make(map[string]*Handle)}
}

// Install registers a handle and starts it asynchronously. Every dependency
// must already be up.
func (c *MemoryContainer) Install(ctx context.Context, name string, factory Factory, deps []string) (*Handle, error) {
	c.mu.Lock()
	if _, exists := c.handles[name]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("service %q is already installed", name)
	}
	for _, dep := range deps {
		d, ok := c.handles[dep]
		if !ok || d.State() != StateUp {
			c.mu.Unlock()
			return nil, fmt.Errorf("service %q requires %q, which is not up", name, dep)
		}
	}
	h := newHandle(name, deps)
	c.handles[name] = h
	c.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	if err := h.machine.Event(bg, eventStart); err != nil {
		return nil, err
	}
	go func() {
		logger := ctxlog.FromContext(bg)
		svc, err := factory(bg)
		if err == nil {
			h.setService(svc)
			err = svc.Start(bg)
		}
		if err != nil {
			logger.Warn("Service failed to start.", "service", name, "error", err)
			h.fail(bg, err)
			return
		}
		_ = h.machine.Event(bg, eventStarted)
		logger.Debug("Service is up.", "service", name)
	}()
	return h, nil
}

// Remove stops a service asynchronously. Removing an unknown service is a
// no-op. A service still required by another installed service cannot be
// removed. A service whose Stop fails stays registered in the failed state.
func (c *MemoryContainer) Remove(ctx context.Context, name string) error {
	c.mu.Lock()
	h, ok := c.handles[name]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	var dependents []string
	for other, oh := range c.handles {
		if other == name {
			continue
		}
		for _, dep := range oh.deps {
			if dep == name {
				dependents = append(dependents, other)
			}
		}
	}
	c.mu.Unlock()
	if len(dependents) > 0 {
		sort.Strings(dependents)
		return fmt.Errorf("service %q is still required by %v", name, dependents)
	}

	if h.markRemoving() {
		return nil
	}
	bg := context.WithoutCancel(ctx)
	go func() {
		logger := ctxlog.FromContext(bg)
		for {
			state, _, changed := h.watch()
			if state != StateStarting {
				break
			}
			<-changed
		}
		if err := h.machine.Event(bg, eventStop); err != nil {
			logger.Debug("Stop transition rejected.", "service", name, "error", err)
			return
		}
		if svc := h.Service(); svc != nil {
			if err := svc.Stop(bg); err != nil {
				logger.Warn("Service failed to stop.", "service", name, "error", err)
				h.fail(bg, err)
				return
			}
		}
		c.mu.Lock()
		if c.handles[name] == h {
			delete(c.handles, name)
		}
		c.mu.Unlock()
		_ = h.machine.Event(bg, eventStopped)
		logger.Debug("Service is down.", "service", name)
	}()
	return nil
}

// AwaitState blocks until the handle reaches want. It returns false when the
// handle settles in a different state or ctx ends first.
func (c *MemoryContainer) AwaitState(ctx context.Context, h *Handle, want State) bool {
	for {
		state, settling, changed := h.watch()
		if state == want {
			return true
		}
		if !settling {
			return false
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return false
		}
	}
}

// Lookup returns an installed handle.
func (c *MemoryContainer) Lookup(name string) (*Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[name]
	return h, ok
}

// AwaitStability blocks until no handle is starting or stopping.
func (c *MemoryContainer) AwaitStability(ctx context.Context) error {
	for {
		c.mu.Lock()
		var pending *Handle
		for _, h := range c.handles {
			if _, settling, _ := h.watch(); settling {
				pending = h
				break
			}
		}
		c.mu.Unlock()
		if pending == nil {
			return nil
		}
		_, settling, changed := pending.watch()
		if !settling {
			continue
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
