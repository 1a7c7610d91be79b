package address

// Segment is a single `type=value` element of an address path.
type Segment struct {
	Key   string
	Value string
}

// NewSegment creates a segment for the given resource type and name.
func NewSegment(key, value string) Segment {
	return Segment{Key: key, Value: value}
}

// String renders the segment as `key=value`.
func (s Segment) String() string {
	return s.Key + "=" + s.Value
}

// Address is the structured representation of a resource location. The zero
// value is the root address.
type Address struct {
	segments []Segment
}

// Root returns the empty address of the subsystem root.
func Root() Address {
	return Address{}
}

// New builds an address from the given segments. The slice is copied.
func New(segments ...Segment) Address {
	if len(segments) == 0 {
		return Address{}
	}
	out := make([]Segment, len(segments))
	copy(out, segments)
	return Address{segments: out}
}

// Of builds an address from alternating key/value strings. It panics on an
// odd number of arguments and is intended for literals in code and tests.
func Of(pairs ...string) Address {
	if len(pairs)%2 != 0 {
		panic("address.Of: odd number of key/value arguments")
	}
	segs := make([]Segment, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		segs = append(segs, NewSegment(pairs[i], pairs[i+1]))
	}
	return Address{segments: segs}
}
