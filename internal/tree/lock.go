package tree

import (
	"context"

	"github.com/vk/brokerconf/internal/address"
	"github.com/vk/brokerconf/internal/failure"
)

// Reserve claims the overlay's touched addresses until it commits or is
// discarded, and fails with ConcurrentModification when a commit since the
// overlay began already changed any of them. Operations call it before
// their first runtime effect, so runtime changes to a resource never
// interleave with those of another operation. Reserving an overlay with no
// touched address is a no-op.
func (o *Overlay) Reserve(ctx context.Context) error {
	if o.closed {
		return ErrOverlayClosed
	}
	if o.reserved {
		return nil
	}
	touched := o.Touched()
	if len(touched) == 0 {
		return nil
	}
	if err := o.tree.acquire(ctx, o, touched); err != nil {
		return err
	}
	o.reserved = true

	o.tree.mu.RLock()
	err := o.tree.checkConflicts(o, touched)
	o.tree.mu.RUnlock()
	if err != nil {
		o.release()
		return err
	}
	return nil
}

// Reserved reports whether the overlay holds a reservation.
func (o *Overlay) Reserved() bool { return o.reserved }

func (o *Overlay) release() {
	if o.reserved {
		o.tree.release(o)
		o.reserved = false
	}
}

// acquire blocks until no other overlay holds an address overlapping addrs,
// then records them as held by o.
func (t *Tree) acquire(ctx context.Context, o *Overlay, addrs []address.Address) error {
	for {
		t.lockMu.Lock()
		if !t.heldByOthers(o, addrs) {
			t.held[o] = addrs
			t.lockMu.Unlock()
			return nil
		}
		wake := t.wake
		t.lockMu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return failure.Wrap(failure.ConcurrentModification, ctx.Err(), "waiting for a concurrent operation on %s", addrs[0])
		}
	}
}

func (t *Tree) heldByOthers(o *Overlay, addrs []address.Address) bool {
	for holder, theirs := range t.held {
		if holder == o {
			continue
		}
		for _, a := range theirs {
			for _, b := range addrs {
				if a.Overlaps(b) {
					return true
				}
			}
		}
	}
	return false
}

func (t *Tree) release(o *Overlay) {
	t.lockMu.Lock()
	defer t.lockMu.Unlock()
	if _, ok := t.held[o]; !ok {
		return
	}
	delete(t.held, o)
	close(t.wake)
	t.wake = make(chan struct{})
}
