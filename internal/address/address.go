package address

import (
	"strings"
)

// String serializes the Address into its canonical path representation.
func (a Address) String() string {
	if len(a.segments) == 0 {
		return "/"
	}

	var sb strings.Builder
	for _, segment := range a.segments {
		sb.WriteByte('/')
		sb.WriteString(segment.Key)
		sb.WriteByte('=')
		sb.WriteString(segment.Value)
	}
	return sb.String()
}

// Len returns the number of segments.
func (a Address) Len() int {
	return len(a.segments)
}

// IsRoot reports whether this is the subsystem root address.
func (a Address) IsRoot() bool {
	return len(a.segments) == 0
}

// Segment returns the i-th segment.
func (a Address) Segment(i int) Segment {
	return a.segments[i]
}

// Segments returns a copy of the path.
func (a Address) Segments() []Segment {
	out := make([]Segment, len(a.segments))
	copy(out, a.segments)
	return out
}

// Last returns the final segment. The root address has none.
func (a Address) Last() (Segment, bool) {
	if len(a.segments) == 0 {
		return Segment{}, false
	}
	return a.segments[len(a.segments)-1], true
}

// Type returns the resource type of the addressed resource, or "" for the root.
func (a Address) Type() string {
	last, ok := a.Last()
	if !ok {
		return ""
	}
	return last.Key
}

// Name returns the name of the addressed resource, or "" for the root.
func (a Address) Name() string {
	last, ok := a.Last()
	if !ok {
		return ""
	}
	return last.Value
}

// Parent returns the address one level up. The parent of the root is the root.
func (a Address) Parent() Address {
	if len(a.segments) <= 1 {
		return Root()
	}
	return New(a.segments[:len(a.segments)-1]...)
}

// Append returns a new address with one more segment.
func (a Address) Append(key, value string) Address {
	segs := make([]Segment, len(a.segments), len(a.segments)+1)
	copy(segs, a.segments)
	return Address{segments: append(segs, NewSegment(key, value))}
}

// Equal reports whether both addresses have the same path.
func (a Address) Equal(other Address) bool {
	if len(a.segments) != len(other.segments) {
		return false
	}
	for i := range a.segments {
		if a.segments[i] != other.segments[i] {
			return false
		}
	}
	return true
}

// Compare gives the total order over addresses: segment by segment (key, then
// value), with a prefix ordered before any of its extensions.
func (a Address) Compare(other Address) int {
	n := min(len(a.segments), len(other.segments))
	for i := 0; i < n; i++ {
		if c := strings.Compare(a.segments[i].Key, other.segments[i].Key); c != 0 {
			return c
		}
		if c := strings.Compare(a.segments[i].Value, other.segments[i].Value); c != 0 {
			return c
		}
	}
	switch {
	case len(a.segments) < len(other.segments):
		return -1
	case len(a.segments) > len(other.segments):
		return 1
	default:
		return 0
	}
}

// HasPrefix reports whether prefix is an ancestor of, or equal to, a.
func (a Address) HasPrefix(prefix Address) bool {
	if len(prefix.segments) > len(a.segments) {
		return false
	}
	for i := range prefix.segments {
		if a.segments[i] != prefix.segments[i] {
			return false
		}
	}
	return true
}

// Overlaps reports whether one address is a prefix of the other, i.e. whether
// a change at one of them can affect the other.
func (a Address) Overlaps(other Address) bool {
	return a.HasPrefix(other) || other.HasPrefix(a)
}

// Value returns the name bound to the given resource type along the path.
func (a Address) Value(key string) (string, bool) {
	for _, s := range a.segments {
		if s.Key == key {
			return s.Value, true
		}
	}
	return "", false
}

// ServiceName derives the deterministic name of a service owned by the
// resource at a. The first segment contributes its value, every further
// segment `key/value`; optional suffixes name secondary services.
//
//	/server=default/queue=orders -> default/queue/orders
func ServiceName(a Address, suffix ...string) string {
	if len(a.segments) == 0 {
		return strings.Join(suffix, "/")
	}
	parts := make([]string, 0, 2*len(a.segments)+len(suffix))
	parts = append(parts, a.segments[0].Value)
	for _, s := range a.segments[1:] {
		parts = append(parts, s.Key, s.Value)
	}
	parts = append(parts, suffix...)
	return strings.Join(parts, "/")
}
