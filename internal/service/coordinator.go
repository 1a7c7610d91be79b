package service

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/vk/brokerconf/internal/address"
	"github.com/vk/brokerconf/internal/ctxlog"
	"github.com/vk/brokerconf/internal/failure"
)

// Descriptor is everything needed to (re)install a service: the same
// descriptor is used for the original install and for reinstalling after a
// rolled back removal.
type Descriptor struct {
	Name    string
	Owner   address.Address
	Factory Factory
	Deps    []string
}

// Coordinator makes container transitions synchronous and tracks which
// resource owns which service.
type Coordinator struct {
	container Container

	mu    sync.Mutex
	owned map[string]Descriptor
}

// NewCoordinator wraps a container.
func NewCoordinator(container Container) *Coordinator {
	return &Coordinator{container: container, owned: make(map[string]Descriptor)}
}

// Install installs a service and blocks until it is up. A failed start is
// cleaned up before the error is returned.
func (c *Coordinator) Install(ctx context.Context, d Descriptor) (*Handle, error) {
	logger := ctxlog.FromContext(ctx)

	if _, exists := c.container.Lookup(d.Name); exists {
		return nil, failure.New(failure.DuplicateService, "service %q is already installed", d.Name)
	}

	logger.Debug("▶️ Installing service.", "service", d.Name, "owner", d.Owner.String())
	h, err := c.container.Install(ctx, d.Name, d.Factory, d.Deps)
	if err != nil {
		return nil, failure.Wrap(failure.ServiceApplyFailed, err, "installing service %q", d.Name)
	}
	if !c.container.AwaitState(ctx, h, StateUp) {
		cause := h.Err()
		if cause == nil {
			cause = errors.New("service did not reach the up state")
		}
		if rmErr := c.container.Remove(ctx, d.Name); rmErr == nil {
			c.container.AwaitState(ctx, h, StateDown)
		}
		return nil, failure.Wrap(failure.ServiceApplyFailed, cause, "starting service %q", d.Name)
	}

	c.mu.Lock()
	c.owned[d.Name] = d
	c.mu.Unlock()
	logger.Info("✅ Service installed.", "service", d.Name)
	return h, nil
}

// Remove stops a service and blocks until it is down. Removing an absent
// service is a no-op.
func (c *Coordinator) Remove(ctx context.Context, name string) error {
	h, ok := c.container.Lookup(name)
	if !ok {
		c.forget(name)
		return nil
	}
	if err := c.container.Remove(ctx, name); err != nil {
		return failure.Wrap(failure.ServiceApplyFailed, err, "removing service %q", name)
	}
	if !c.container.AwaitState(ctx, h, StateDown) {
		if cause := h.Err(); cause != nil && h.State() == StateFailed {
			return failure.Wrap(failure.ServiceApplyFailed, cause, "stopping service %q", name)
		}
		return failure.New(failure.ServiceApplyFailed, "service %q did not stop", name)
	}
	c.forget(name)
	ctxlog.FromContext(ctx).Info("🔥 Service removed.", "service", name)
	return nil
}

func (c *Coordinator) forget(name string) {
	c.mu.Lock()
	delete(c.owned, name)
	c.mu.Unlock()
}

// Lookup returns a live handle.
func (c *Coordinator) Lookup(name string) (*Handle, bool) {
	return c.container.Lookup(name)
}

// Descriptor returns the descriptor a service was installed from.
func (c *Coordinator) Descriptor(name string) (Descriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.owned[name]
	return d, ok
}

// OwnedBy returns the descriptors of every service owned by the subtree at
// addr, in an order safe for removal: dependents before their dependencies,
// deeper owners before shallower ones.
func (c *Coordinator) OwnedBy(addr address.Address) []Descriptor {
	c.mu.Lock()
	var set []Descriptor
	for _, d := range c.owned {
		if d.Owner.HasPrefix(addr) {
			set = append(set, d)
		}
	}
	c.mu.Unlock()
	return removalOrder(set)
}

// RemoveOwned removes every service owned by the subtree at addr and returns
// the removed descriptors in removal order. On error the services removed so
// far are returned along with it.
func (c *Coordinator) RemoveOwned(ctx context.Context, addr address.Address) ([]Descriptor, error) {
	var removed []Descriptor
	for _, d := range c.OwnedBy(addr) {
		if err := c.Remove(ctx, d.Name); err != nil {
			return removed, err
		}
		removed = append(removed, d)
	}
	return removed, nil
}

// Reinstall installs descriptors previously returned by RemoveOwned, in
// reverse removal order.
func (c *Coordinator) Reinstall(ctx context.Context, removed []Descriptor) error {
	for i := len(removed) - 1; i >= 0; i-- {
		if _, err := c.Install(ctx, removed[i]); err != nil {
			return err
		}
	}
	return nil
}

// AwaitSettled blocks until the container has no pending transitions.
func (c *Coordinator) AwaitSettled(ctx context.Context) error {
	return c.container.AwaitStability(ctx)
}

// Count returns the number of services installed through the coordinator.
func (c *Coordinator) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.owned)
}

// Names returns the installed service names, sorted.
func (c *Coordinator) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.owned))
	for n := range c.owned {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// removalOrder sorts descriptors so that no service is removed while another
// one in the set still depends on it.
func removalOrder(set []Descriptor) []Descriptor {
	sort.Slice(set, func(i, j int) bool {
		if di, dj := set[i].Owner.Len(), set[j].Owner.Len(); di != dj {
			return di > dj
		}
		return set[i].Name > set[j].Name
	})

	remaining := make(map[string]Descriptor, len(set))
	for _, d := range set {
		remaining[d.Name] = d
	}
	out := make([]Descriptor, 0, len(set))
	for len(out) < len(set) {
		progressed := false
		for _, d := range set {
			if _, pending := remaining[d.Name]; !pending || requiredBy(d.Name, remaining) {
				continue
			}
			out = append(out, d)
			delete(remaining, d.Name)
			progressed = true
		}
		if !progressed {
			// A dependency cycle; fall back to depth order for the rest.
			for _, d := range set {
				if _, pending := remaining[d.Name]; pending {
					out = append(out, d)
				}
			}
			break
		}
	}
	return out
}

func requiredBy(name string, remaining map[string]Descriptor) bool {
	for other, d := range remaining {
		if other == name {
			continue
		}
		for _, dep := range d.Deps {
			if dep == name {
				return true
			}
		}
	}
	return false
}
