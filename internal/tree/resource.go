// Package tree is the addressable store of configuration resources.
//
// The shared Tree only ever holds immutable nodes. Each operation works on an
// Overlay that copies the path to a node the first time it is written, so
// readers of the shared tree never observe a partially applied operation.
// Commit is the single serialization point: an overlay whose touched
// addresses overlap an address committed since it began is rejected with
// ConcurrentModification, otherwise its touched subtrees are grafted onto the
// current root.
package tree

import (
	"sort"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/brokerconf/internal/address"
	"github.com/vk/brokerconf/internal/value"
)

// Resource is one node of the tree: an attribute map plus named children
// grouped by child type. Nodes reachable from a Tree are read-only; only
// nodes returned by Overlay.ReadForUpdate or Overlay.Create may be modified.
type Resource struct {
	attrs    map[string]cty.Value
	children map[string]map[string]*Resource
}

// NewResource creates a detached resource holding a copy of attrs.
func NewResource(attrs map[string]cty.Value) *Resource {
	r := &Resource{
		attrs:    make(map[string]cty.Value, len(attrs)),
		children: make(map[string]map[string]*Resource),
	}
	for k, v := range attrs {
		r.attrs[k] = v
	}
	return r
}

// Attribute returns a single attribute value.
func (r *Resource) Attribute(name string) (cty.Value, bool) {
	v, ok := r.attrs[name]
	return v, ok
}

// Attributes returns a copy of the attribute map.
func (r *Resource) Attributes() map[string]cty.Value {
	out := make(map[string]cty.Value, len(r.attrs))
	for k, v := range r.attrs {
		out[k] = v
	}
	return out
}

// AttributeNames returns the attribute names, sorted.
func (r *Resource) AttributeNames() []string {
	out := make([]string, 0, len(r.attrs))
	for k := range r.attrs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Set writes an attribute.
func (r *Resource) Set(name string, v cty.Value) {
	r.attrs[name] = v
}

// Unset removes an attribute.
func (r *Resource) Unset(name string) {
	delete(r.attrs, name)
}

// ChildTypes returns the child types that have at least one child, sorted.
func (r *Resource) ChildTypes() []string {
	out := make([]string, 0, len(r.children))
	for t, named := range r.children {
		if len(named) > 0 {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// ChildNames returns the names of the children of one type, sorted.
func (r *Resource) ChildNames(childType string) []string {
	named := r.children[childType]
	out := make([]string, 0, len(named))
	for n := range named {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Child returns a direct child.
func (r *Resource) Child(childType, name string) (*Resource, bool) {
	c, ok := r.children[childType][name]
	return c, ok
}

// HasChildren reports whether the resource has any child.
func (r *Resource) HasChildren() bool {
	for _, named := range r.children {
		if len(named) > 0 {
			return true
		}
	}
	return false
}

func (r *Resource) putChild(childType, name string, c *Resource) {
	named, ok := r.children[childType]
	if !ok {
		named = make(map[string]*Resource)
		r.children[childType] = named
	}
	named[name] = c
}

func (r *Resource) deleteChild(childType, name string) {
	named := r.children[childType]
	delete(named, name)
	if len(named) == 0 {
		delete(r.children, childType)
	}
}

// shallowCopy copies the attribute map and the child index but shares the
// child nodes themselves.
func (r *Resource) shallowCopy() *Resource {
	c := NewResource(r.attrs)
	for t, named := range r.children {
		m := make(map[string]*Resource, len(named))
		for n, child := range named {
			m[n] = child
		}
		c.children[t] = m
	}
	return c
}

// Clone returns a deep copy of the subtree. cty values are immutable and are
// shared.
func (r *Resource) Clone() *Resource {
	c := NewResource(r.attrs)
	for t, named := range r.children {
		for n, child := range named {
			c.putChild(t, n, child.Clone())
		}
	}
	return c
}

// Equal reports whether two subtrees hold the same attributes and children.
func (r *Resource) Equal(other *Resource) bool {
	if r == nil || other == nil {
		return r == other
	}
	if len(r.attrs) != len(other.attrs) {
		return false
	}
	for k, v := range r.attrs {
		ov, ok := other.attrs[k]
		if !ok || !value.Equal(v, ov) {
			return false
		}
	}
	types, otherTypes := r.ChildTypes(), other.ChildTypes()
	if len(types) != len(otherTypes) {
		return false
	}
	for i, t := range types {
		if otherTypes[i] != t || len(r.children[t]) != len(other.children[t]) {
			return false
		}
		for n, child := range r.children[t] {
			oc, ok := other.children[t][n]
			if !ok || !child.Equal(oc) {
				return false
			}
		}
	}
	return true
}

// Walk visits the subtree depth-first, parents before children, children in
// sorted type then name order. Returning false from fn skips the node's
// children.
func (r *Resource) Walk(at address.Address, fn func(address.Address, *Resource) bool) {
	if !fn(at, r) {
		return
	}
	for _, t := range r.ChildTypes() {
		for _, n := range r.ChildNames(t) {
			r.children[t][n].Walk(at.Append(t, n), fn)
		}
	}
}

// navigate follows addr from r.
func (r *Resource) navigate(addr address.Address) (*Resource, bool) {
	node := r
	for _, seg := range addr.Segments() {
		child, ok := node.Child(seg.Key, seg.Value)
		if !ok {
			return nil, false
		}
		node = child
	}
	return node, true
}
