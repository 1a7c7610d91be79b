package handlers

import (
	"context"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/brokerconf/internal/address"
	"github.com/vk/brokerconf/internal/catalog"
	"github.com/vk/brokerconf/internal/failure"
	"github.com/vk/brokerconf/internal/operation"
	"github.com/vk/brokerconf/internal/pipeline"
	"github.com/vk/brokerconf/internal/tree"
)

// ReadResource describes a resource. Runtime attributes are read from the
// live service in the RUNTIME stage when include-runtime is set.
func (d *Definition) ReadResource(op *operation.Operation) pipeline.Step {
	addr := op.Address()
	recursive := op.BoolParam(operation.ParamRecursive, false)
	includeRuntime := op.BoolParam(operation.ParamIncludeRuntime, false)
	includeDefaults := op.BoolParam(operation.ParamIncludeDefault, true)

	return pipeline.Step{
		Name: "read-resource " + addr.String(),
		Execute: func(ctx context.Context, oc *pipeline.Context) error {
			r, err := oc.Read(addr)
			if err != nil {
				return err
			}
			attrs := d.describeAttributes(r, includeDefaults)
			oc.SetResult(objectWithChildren(attrs, r, recursive))
			if !includeRuntime || d.Hooks.ReadRuntime == nil {
				return nil
			}
			return oc.AddStep(pipeline.StageRuntime, pipeline.Step{
				Name: "read-resource runtime " + addr.String(),
				Execute: func(ctx context.Context, oc *pipeline.Context) error {
					runtime, err := d.readRuntime(ctx, oc, addr)
					if err != nil {
						return err
					}
					for k, v := range runtime {
						attrs[k] = v
					}
					oc.SetResult(objectWithChildren(attrs, r, recursive))
					return nil
				},
			})
		},
	}
}

// ReadAttribute returns one attribute, falling back to its default.
// resolve=true evaluates expressions against the current environment.
func (d *Definition) ReadAttribute(op *operation.Operation) pipeline.Step {
	addr := op.Address()
	name := op.StringParam(operation.ParamName)
	resolve := op.BoolParam(operation.ParamResolve, false)

	return pipeline.Step{
		Name: "read-attribute " + name + " " + addr.String(),
		Execute: func(ctx context.Context, oc *pipeline.Context) error {
			desc, ok := d.Catalog.Lookup(d.Type, name)
			if !ok {
				return failure.New(failure.UnknownAttribute, "resource type %q has no attribute %q", d.Type, name)
			}
			r, err := oc.Read(addr)
			if err != nil {
				return err
			}
			if desc.Mutability == catalog.StorageRuntime {
				return oc.AddStep(pipeline.StageRuntime, pipeline.Step{
					Name: "read-attribute runtime " + name,
					Execute: func(ctx context.Context, oc *pipeline.Context) error {
						oc.SetResult(cty.NullVal(desc.Type()))
						h, ok := primaryService(oc, addr)
						if !ok || d.Hooks.ReadRuntime == nil {
							return nil
						}
						v, err := d.Hooks.ReadRuntime(ctx, h, name)
						if err != nil {
							return failure.Wrap(failure.ServiceApplyFailed, err, "reading %s of %s", name, addr)
						}
						oc.SetResult(v)
						return nil
					},
				})
			}

			v, _ := r.Attribute(name)
			if resolve {
				resolved, err := catalog.ResolveValue(desc, v, d.Resolver)
				if err != nil {
					return err
				}
				oc.SetResult(resolved)
				return nil
			}
			if v.Type() == cty.NilType {
				if desc.HasDefault() {
					v = *desc.Default
				} else {
					v = cty.NullVal(desc.Type())
				}
			}
			oc.SetResult(v)
			return nil
		},
	}
}

// ReadChildrenNames lists the names of the children of one type.
func (d *Definition) ReadChildrenNames(op *operation.Operation) pipeline.Step {
	addr := op.Address()
	childType := op.StringParam(operation.ParamChildType)

	return pipeline.Step{
		Name: "read-children-names " + addr.String(),
		Execute: func(ctx context.Context, oc *pipeline.Context) error {
			if childType == "" {
				return failure.New(failure.ValidationFailed, "parameter %q is required", operation.ParamChildType)
			}
			r, err := oc.Read(addr)
			if err != nil {
				return err
			}
			names := r.ChildNames(childType)
			if len(names) == 0 {
				oc.SetResult(cty.ListValEmpty(cty.String))
				return nil
			}
			vals := make([]cty.Value, len(names))
			for i, n := range names {
				vals[i] = cty.StringVal(n)
			}
			oc.SetResult(cty.ListVal(vals))
			return nil
		},
	}
}

// describeAttributes returns the stored attributes, plus defaults for absent
// ones when asked.
func (d *Definition) describeAttributes(r *tree.Resource, includeDefaults bool) map[string]cty.Value {
	out := r.Attributes()
	for _, a := range d.attributes() {
		if _, ok := out[a.Name]; ok || !a.Persistent() {
			continue
		}
		if includeDefaults && a.HasDefault() {
			out[a.Name] = *a.Default
		} else {
			out[a.Name] = cty.NullVal(a.Type())
		}
	}
	return out
}

func (d *Definition) readRuntime(ctx context.Context, oc *pipeline.Context, addr address.Address) (map[string]cty.Value, error) {
	out := make(map[string]cty.Value)
	h, live := primaryService(oc, addr)
	for _, a := range d.attributes() {
		if a.Persistent() {
			continue
		}
		out[a.Name] = cty.NullVal(a.Type())
		if !live {
			continue
		}
		v, err := d.Hooks.ReadRuntime(ctx, h, a.Name)
		if err != nil {
			return nil, failure.Wrap(failure.ServiceApplyFailed, err, "reading %s of %s", a.Name, addr)
		}
		out[a.Name] = v
	}
	return out, nil
}

// objectWithChildren renders a resource as an object: its attributes plus,
// per child type, an object keyed by child name. Non-recursive reads list
// the children with null bodies; recursive reads describe children with
// their stored attributes.
func objectWithChildren(attrs map[string]cty.Value, r *tree.Resource, recursive bool) cty.Value {
	out := make(map[string]cty.Value, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	for _, ct := range r.ChildTypes() {
		children := make(map[string]cty.Value)
		for _, cn := range r.ChildNames(ct) {
			if !recursive {
				children[cn] = cty.NullVal(cty.DynamicPseudoType)
				continue
			}
			child, _ := r.Child(ct, cn)
			children[cn] = objectWithChildren(child.Attributes(), child, true)
		}
		out[ct] = cty.ObjectVal(children)
	}
	if len(out) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(out)
}
