package tree

import (
	"sync"

	"github.com/vk/brokerconf/internal/address"
	"github.com/vk/brokerconf/internal/failure"
)

const defaultCommitLogSize = 1024

type commitRecord struct {
	version uint64
	touched []address.Address
}

// Tree is the shared, committed resource tree.
type Tree struct {
	mu      sync.RWMutex
	root    *Resource
	version uint64
	log     []commitRecord
	maxLog  int

	// lockMu guards held and wake, the address reservations of overlays
	// with runtime effects in flight.
	lockMu sync.Mutex
	held   map[*Overlay][]address.Address
	wake   chan struct{}
}

// New creates a tree with an empty root resource.
func New() *Tree {
	return &Tree{
		root:   NewResource(nil),
		maxLog: defaultCommitLogSize,
		held:   make(map[*Overlay][]address.Address),
		wake:   make(chan struct{}),
	}
}

// Root returns the committed root. It must not be modified.
func (t *Tree) Root() *Resource {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// Version is incremented by every commit that changes the tree.
func (t *Tree) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// Read navigates the committed tree.
func (t *Tree) Read(addr address.Address) (*Resource, error) {
	r, ok := t.Root().navigate(addr)
	if !ok {
		return nil, failure.New(failure.NoSuchResource, "resource %s does not exist", addr)
	}
	return r, nil
}

// Begin starts an overlay on the current committed state.
func (t *Tree) Begin() *Overlay {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return &Overlay{
		tree:        t,
		base:        t.root,
		root:        t.root,
		baseVersion: t.version,
		owned:       make(map[*Resource]struct{}),
	}
}

// PersistFunc is called under the commit lock with the root that is about
// to become current. An error vetoes the commit.
type PersistFunc func(root *Resource) error

func (t *Tree) commit(o *Overlay, persist PersistFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	touched := o.Touched()
	if len(touched) == 0 {
		return nil
	}
	if err := t.checkConflicts(o, touched); err != nil {
		return err
	}

	root := o.root
	if o.baseVersion != t.version {
		rebased, err := graft(t.root, o.root, touched)
		if err != nil {
			return err
		}
		root = rebased
	}

	if persist != nil {
		if err := persist(root); err != nil {
			return failure.Wrap(failure.PersistenceFailed, err, "persisting configuration")
		}
	}

	t.root = root
	t.version++
	t.log = append(t.log, commitRecord{version: t.version, touched: touched})
	if len(t.log) > t.maxLog {
		t.log = append([]commitRecord(nil), t.log[len(t.log)-t.maxLog:]...)
	}
	return nil
}

func (t *Tree) checkConflicts(o *Overlay, touched []address.Address) error {
	if o.baseVersion == t.version {
		return nil
	}
	if len(t.log) == 0 || t.log[0].version > o.baseVersion+1 {
		return failure.New(failure.ConcurrentModification, "the model changed too much since the operation started; retry")
	}
	for _, rec := range t.log {
		if rec.version <= o.baseVersion {
			continue
		}
		for _, theirs := range rec.touched {
			for _, ours := range touched {
				if ours.Overlaps(theirs) {
					return failure.New(failure.ConcurrentModification,
						"resource %s was modified concurrently (conflicts with %s); retry", ours, theirs)
				}
			}
		}
	}
	return nil
}

// graft copies the touched subtrees of src onto a path-copied dst root. The
// touched addresses must be sorted parents first.
func graft(dst, src *Resource, touched []address.Address) (*Resource, error) {
	root := dst.shallowCopy()
	owned := map[*Resource]struct{}{root: {}}

	for _, addr := range touched {
		node, present := src.navigate(addr)
		if addr.IsRoot() {
			if present {
				root.attrs = node.Attributes()
			}
			continue
		}

		parent, ok := mutablePath(root, addr.Parent(), owned)
		if !ok {
			if !present {
				continue
			}
			return nil, failure.New(failure.ConcurrentModification, "parent of %s disappeared during commit; retry", addr)
		}
		seg, _ := addr.Last()
		if present {
			parent.putChild(seg.Key, seg.Value, node)
		} else {
			parent.deleteChild(seg.Key, seg.Value)
		}
	}
	return root, nil
}

// mutablePath path-copies every node from root to addr that is not yet in
// owned and returns the node at addr.
func mutablePath(root *Resource, addr address.Address, owned map[*Resource]struct{}) (*Resource, bool) {
	node := root
	for _, seg := range addr.Segments() {
		child, ok := node.Child(seg.Key, seg.Value)
		if !ok {
			return nil, false
		}
		if _, mine := owned[child]; !mine {
			child = child.shallowCopy()
			owned[child] = struct{}{}
			node.putChild(seg.Key, seg.Value, child)
		}
		node = child
	}
	return node, true
}
