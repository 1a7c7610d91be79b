package tree

import (
	"context"
	"errors"
	"sort"

	"github.com/vk/brokerconf/internal/address"
	"github.com/vk/brokerconf/internal/failure"
)

// ErrOverlayClosed is returned when an overlay is used after Commit or Discard.
var ErrOverlayClosed = errors.New("overlay is already committed or discarded")

// Overlay is the private copy-on-write view of one operation.
type Overlay struct {
	tree        *Tree
	base        *Resource
	root        *Resource
	baseVersion uint64
	owned       map[*Resource]struct{}
	touched     []address.Address
	reserved    bool
	closed      bool
}

// Root returns the overlay's current root. It must not be modified.
func (o *Overlay) Root() *Resource {
	return o.root
}

// Dirty reports whether the overlay holds any change or write intent.
func (o *Overlay) Dirty() bool {
	return len(o.touched) > 0
}

// Touched returns the addresses written or read for update, sorted parents
// first and deduplicated.
func (o *Overlay) Touched() []address.Address {
	out := append([]address.Address(nil), o.touched...)
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	dedup := out[:0]
	for i, a := range out {
		if i > 0 && a.Equal(dedup[len(dedup)-1]) {
			continue
		}
		dedup = append(dedup, a)
	}
	return dedup
}

func (o *Overlay) touch(addr address.Address) {
	o.touched = append(o.touched, addr)
}

// Read returns a read-only view of the resource at addr.
func (o *Overlay) Read(addr address.Address) (*Resource, error) {
	r, ok := o.root.navigate(addr)
	if !ok {
		return nil, failure.New(failure.NoSuchResource, "resource %s does not exist", addr)
	}
	return r, nil
}

// Navigate is Read without the error wrapping, for existence checks.
func (o *Overlay) Navigate(addr address.Address) (*Resource, bool) {
	return o.root.navigate(addr)
}

// ReadForUpdate returns a private, writable copy of the resource at addr.
// The copy becomes visible to other operations only when the overlay
// commits.
func (o *Overlay) ReadForUpdate(addr address.Address) (*Resource, error) {
	if o.closed {
		return nil, ErrOverlayClosed
	}
	if _, ok := o.root.navigate(addr); !ok {
		return nil, failure.New(failure.NoSuchResource, "resource %s does not exist", addr)
	}
	node, _ := o.mutable(addr)
	o.touch(addr)
	return node, nil
}

// Create adds an empty resource at addr with the given attributes.
func (o *Overlay) Create(addr address.Address, r *Resource) (*Resource, error) {
	if o.closed {
		return nil, ErrOverlayClosed
	}
	if addr.IsRoot() {
		return nil, failure.New(failure.DuplicateResource, "the root resource always exists")
	}
	if _, ok := o.root.navigate(addr.Parent()); !ok {
		return nil, failure.New(failure.NoSuchParent, "cannot create %s: parent %s does not exist", addr, addr.Parent())
	}
	if _, ok := o.root.navigate(addr); ok {
		return nil, failure.New(failure.DuplicateResource, "resource %s already exists", addr)
	}
	if r == nil {
		r = NewResource(nil)
	}
	parent, _ := o.mutable(addr.Parent())
	seg, _ := addr.Last()
	parent.putChild(seg.Key, seg.Value, r)
	o.owned[r] = struct{}{}
	o.touch(addr)
	return r, nil
}

// Remove detaches the subtree at addr and returns it for compensation.
func (o *Overlay) Remove(addr address.Address) (*Resource, error) {
	if o.closed {
		return nil, ErrOverlayClosed
	}
	if addr.IsRoot() {
		return nil, failure.New(failure.OperationRejected, "the root resource cannot be removed")
	}
	removed, ok := o.root.navigate(addr)
	if !ok {
		return nil, failure.New(failure.NoSuchResource, "resource %s does not exist", addr)
	}
	parent, _ := o.mutable(addr.Parent())
	seg, _ := addr.Last()
	parent.deleteChild(seg.Key, seg.Value)
	o.touch(addr)
	return removed, nil
}

// Restore puts a previously removed subtree back at addr, replacing any
// resource created there since.
func (o *Overlay) Restore(addr address.Address, subtree *Resource) error {
	if o.closed {
		return ErrOverlayClosed
	}
	if addr.IsRoot() {
		o.root = subtree
		o.touch(addr)
		return nil
	}
	parent, ok := o.mutable(addr.Parent())
	if !ok {
		return failure.New(failure.NoSuchParent, "cannot restore %s: parent %s does not exist", addr, addr.Parent())
	}
	seg, _ := addr.Last()
	parent.putChild(seg.Key, seg.Value, subtree)
	o.touch(addr)
	return nil
}

// Reset drops every change and write intent, returning the overlay to the
// state it began with.
func (o *Overlay) Reset() {
	o.root = o.base
	o.owned = make(map[*Resource]struct{})
	o.touched = nil
}

// Commit merges the overlay into the shared tree. persist may be nil.
// An overlay without a reservation waits for overlapping reservations to
// be released first. A failed commit keeps the reservation so the caller
// can undo its runtime effects before Discard.
func (o *Overlay) Commit(persist PersistFunc) error {
	if o.closed {
		return ErrOverlayClosed
	}
	if !o.reserved {
		if touched := o.Touched(); len(touched) > 0 {
			if err := o.tree.acquire(context.Background(), o, touched); err != nil {
				return err
			}
			defer o.tree.release(o)
		}
	}
	if err := o.tree.commit(o, persist); err != nil {
		return err
	}
	o.release()
	o.closed = true
	return nil
}

// Discard abandons the overlay and releases its reservation.
func (o *Overlay) Discard() {
	o.release()
	o.closed = true
}

// mutable path-copies the nodes from the root to addr.
func (o *Overlay) mutable(addr address.Address) (*Resource, bool) {
	if _, mine := o.owned[o.root]; !mine {
		o.root = o.root.shallowCopy()
		o.owned[o.root] = struct{}{}
	}
	return mutablePath(o.root, addr, o.owned)
}
