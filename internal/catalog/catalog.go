package catalog

import (
	"fmt"
	"sort"
	"sync"
)

// Catalog maps resource types to their attribute descriptors. Each model
// controller owns its own catalog.
type Catalog struct {
	mu    sync.RWMutex
	types map[string][]AttributeDescriptor
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{types: make(map[string][]AttributeDescriptor)}
}

// Register declares a resource type and its attributes. The root resource
// type is the empty string.
func (c *Catalog) Register(resourceType string, attrs ...AttributeDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.types[resourceType]; exists {
		return fmt.Errorf("resource type %q is already registered", resourceType)
	}
	seen := make(map[string]struct{}, len(attrs))
	for _, a := range attrs {
		if _, dup := seen[a.Name]; dup {
			return fmt.Errorf("resource type %q declares attribute %q twice", resourceType, a.Name)
		}
		seen[a.Name] = struct{}{}
	}
	for _, a := range attrs {
		for _, alt := range append(append([]string{}, a.Alternatives...), a.Requires...) {
			if _, ok := seen[alt]; !ok {
				return fmt.Errorf("attribute %q of %q refers to undeclared attribute %q", a.Name, resourceType, alt)
			}
		}
	}

	c.types[resourceType] = append([]AttributeDescriptor(nil), attrs...)
	return nil
}

// MustRegister is Register that panics on error, for static catalogs.
func (c *Catalog) MustRegister(resourceType string, attrs ...AttributeDescriptor) {
	if err := c.Register(resourceType, attrs...); err != nil {
		panic(err)
	}
}

// Describe returns the descriptors of a resource type in declaration order.
func (c *Catalog) Describe(resourceType string) ([]AttributeDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	attrs, ok := c.types[resourceType]
	if !ok {
		return nil, false
	}
	return append([]AttributeDescriptor(nil), attrs...), true
}

// Lookup returns a single descriptor.
func (c *Catalog) Lookup(resourceType, name string) (AttributeDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, a := range c.types[resourceType] {
		if a.Name == name {
			return a, true
		}
	}
	return AttributeDescriptor{}, false
}

// Types lists the registered resource types, sorted.
func (c *Catalog) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.types))
	for t := range c.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
