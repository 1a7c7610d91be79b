package handlers

import (
	"context"
	"slices"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/brokerconf/internal/address"
	"github.com/vk/brokerconf/internal/catalog"
	"github.com/vk/brokerconf/internal/failure"
	"github.com/vk/brokerconf/internal/pipeline"
	"github.com/vk/brokerconf/internal/service"
	"github.com/vk/brokerconf/internal/tree"
)

// Hooks connect a resource type to its runtime services. Every hook is
// optional; a resource without Services is model-only.
type Hooks struct {
	// Services derives the services backing the resource from its resolved
	// attributes.
	Services func(ctx context.Context, oc *pipeline.Context, addr address.Address, model map[string]cty.Value) ([]service.Descriptor, error)
	// RuntimeReady reports whether services at or under addr are live right
	// now. Add asks about the parent: when false it leaves service creation
	// to the owning server's bulk startup. Writes ask about the resource
	// itself: when false they are model-only.
	RuntimeReady func(oc *pipeline.Context, addr address.Address) bool
	// Apply pushes a resolved attribute value to the resource's live service.
	Apply func(ctx context.Context, h *service.Handle, name string, v cty.Value) error
	// ReadRuntime reads a runtime attribute from the live service.
	ReadRuntime func(ctx context.Context, h *service.Handle, name string) (cty.Value, error)
}

// Definition binds a resource type to its catalog entry and hooks.
type Definition struct {
	Type string
	// Parents lists the resource types this one may be created under. The
	// root is the empty string.
	Parents  []string
	Catalog  *catalog.Catalog
	Resolver catalog.Resolver
	Hooks    Hooks
}

func (d *Definition) attributes() []catalog.AttributeDescriptor {
	attrs, _ := d.Catalog.Describe(d.Type)
	return attrs
}

func (d *Definition) runtimeReady(oc *pipeline.Context, addr address.Address) bool {
	if oc.IsBooting() {
		return false
	}
	if d.Hooks.RuntimeReady == nil {
		return true
	}
	return d.Hooks.RuntimeReady(oc, addr)
}

func (d *Definition) checkParent(addr address.Address) error {
	if slices.Contains(d.Parents, addr.Parent().Type()) {
		return nil
	}
	return failure.New(failure.ValidationFailed, "a %s cannot be created under %s", d.Type, addr.Parent())
}

// resolveModel resolves every expression of a stored attribute map.
func (d *Definition) resolveModel(model map[string]cty.Value) (map[string]cty.Value, error) {
	out := make(map[string]cty.Value, len(model))
	for _, attr := range d.attributes() {
		v, ok := model[attr.Name]
		if !ok {
			continue
		}
		resolved, err := catalog.ResolveValue(attr, v, d.Resolver)
		if err != nil {
			return nil, err
		}
		out[attr.Name] = resolved
	}
	return out, nil
}

// primaryService returns the live service of the resource itself.
func primaryService(oc *pipeline.Context, addr address.Address) (*service.Handle, bool) {
	return oc.LookupService(address.ServiceName(addr))
}

// Descriptors returns the services backing the resource r stored at addr,
// with every expression resolved. A model-only resource has none.
func (d *Definition) Descriptors(ctx context.Context, oc *pipeline.Context, addr address.Address, r *tree.Resource) ([]service.Descriptor, error) {
	if d.Hooks.Services == nil {
		return nil, nil
	}
	resolved, err := d.resolveModel(r.Attributes())
	if err != nil {
		return nil, err
	}
	return d.Hooks.Services(ctx, oc, addr, resolved)
}
