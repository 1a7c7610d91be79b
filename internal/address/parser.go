package address

import (
	"fmt"
	"regexp"
	"strings"
)

// keyRegex restricts resource type names to the vocabulary used in the model.
var keyRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// isValidValue checks for names that would make the address ambiguous.
func isValidValue(value string) bool {
	if value == "" || value == "." || value == ".." {
		return false
	}
	return !strings.ContainsAny(value, "/=")
}

// Parse creates a new Address by parsing its canonical string representation.
// Both "" and "/" denote the root address.
func Parse(raw string) (Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "/" {
		return Root(), nil
	}
	if !strings.HasPrefix(trimmed, "/") {
		return Address{}, fmt.Errorf("address %q must start with '/'", raw)
	}

	var segs []Segment
	for _, part := range strings.Split(trimmed[1:], "/") {
		if part == "" {
			return Address{}, fmt.Errorf("address %q contains an empty segment", raw)
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return Address{}, fmt.Errorf("invalid address segment %q: expected type=value", part)
		}
		if !keyRegex.MatchString(key) {
			return Address{}, fmt.Errorf("invalid resource type %q in address %q", key, raw)
		}
		if !isValidValue(value) {
			return Address{}, fmt.Errorf("invalid resource name %q in address %q", value, raw)
		}
		segs = append(segs, NewSegment(key, value))
	}
	return Address{segments: segs}, nil
}

// MustParse is like Parse but panics on error. Intended for constants and tests.
func MustParse(raw string) Address {
	addr, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return addr
}
