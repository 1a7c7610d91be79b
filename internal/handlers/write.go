package handlers

import (
	"context"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/brokerconf/internal/catalog"
	"github.com/vk/brokerconf/internal/ctxlog"
	"github.com/vk/brokerconf/internal/failure"
	"github.com/vk/brokerconf/internal/operation"
	"github.com/vk/brokerconf/internal/pipeline"
	"github.com/vk/brokerconf/internal/value"
)

// WriteAttribute changes one attribute. Attributes that need a restart only
// mark the server reload-required; the others are pushed to the live service
// when there is one. A live service that is not healthy also only marks the
// server reload-required rather than failing the operation.
func (d *Definition) WriteAttribute(op *operation.Operation) pipeline.Step {
	v, ok := op.Param(operation.ParamValue)
	if !ok {
		v = cty.NullVal(cty.DynamicPseudoType)
	}
	return d.write(op, v)
}

// UndefineAttribute is WriteAttribute with a null value: the attribute falls
// back to its default, or disappears when it has none.
func (d *Definition) UndefineAttribute(op *operation.Operation) pipeline.Step {
	return d.write(op, cty.NullVal(cty.DynamicPseudoType))
}

func (d *Definition) write(op *operation.Operation, proposed cty.Value) pipeline.Step {
	addr := op.Address()
	name := op.StringParam(operation.ParamName)

	var (
		desc       catalog.AttributeDescriptor
		oldValue   cty.Value
		newValue   cty.Value
		reloadSet  bool
		appliedOld cty.Value
		applied    bool
	)

	return Strategy{
		Name: "write-attribute " + name + " " + addr.String(),
		Validate: func(ctx context.Context, oc *pipeline.Context) error {
			var found bool
			desc, found = d.Catalog.Lookup(d.Type, name)
			if !found {
				return failure.New(failure.UnknownAttribute, "resource type %q has no attribute %q", d.Type, name)
			}
			normalized, err := catalog.Normalize(desc, proposed)
			if err != nil {
				return err
			}
			if normalized.IsNull() && desc.Required && !desc.HasDefault() && len(desc.Alternatives) == 0 {
				return failure.New(failure.RequiredAttributeMissing, "attribute %q is required", name)
			}

			r, err := oc.ReadForUpdate(addr)
			if err != nil {
				return err
			}
			current, had := r.Attribute(name)
			if !had {
				current = cty.NilVal
			}
			oldValue = current

			switch {
			case !normalized.IsNull():
				r.Set(name, normalized)
			case desc.HasDefault():
				r.Set(name, *desc.Default)
			default:
				r.Unset(name)
			}
			newValue, _ = r.Attribute(name)

			if err := catalog.CheckConstraints(d.attributes(), r.Attributes()); err != nil {
				return err
			}
			if missing := missingAlternative(d.attributes(), r.Attributes()); missing != "" {
				return failure.New(failure.RequiredAttributeMissing, "one of %s must be set", missing)
			}

			oc.SetCompensating(compensatingWrite(op, name, oldValue))
			oc.SetResult(cty.NullVal(cty.DynamicPseudoType))

			if value.Equal(oldValue, newValue) || oc.IsBooting() {
				return nil
			}
			// A stopped server still reads the old value on its next start.
			if desc.Mutability == catalog.RestartAllServices {
				oc.Reload().RequireReload()
				reloadSet = true
			}
			return nil
		},
		ModelUndo: func(ctx context.Context, oc *pipeline.Context) error {
			if reloadSet {
				oc.Reload().RevertReload()
			}
			return nil
		},
		NeedsRuntime: func(oc *pipeline.Context) bool {
			return desc.Mutability == catalog.RestartNone &&
				!value.Equal(oldValue, newValue) &&
				d.runtimeReady(oc, addr)
		},
		Apply: func(ctx context.Context, oc *pipeline.Context) error {
			h, ok := primaryService(oc, addr)
			if !ok || d.Hooks.Apply == nil {
				return nil
			}
			if !h.Healthy() {
				ctxlog.FromContext(ctx).Warn("Service is not healthy; the change takes effect after a reload.",
					"address", addr.String(), "attribute", name, "service", h.Name())
				oc.Reload().RequireReload()
				reloadSet = true
				return nil
			}
			resolvedNew, err := catalog.ResolveValue(desc, newValue, d.Resolver)
			if err != nil {
				return err
			}
			resolvedOld, err := catalog.ResolveValue(desc, oldValue, d.Resolver)
			if err != nil {
				return err
			}
			oc.MarkRuntimeAffected()
			if err := d.Hooks.Apply(ctx, h, name, resolvedNew); err != nil {
				return failure.Wrap(failure.ServiceApplyFailed, err, "applying %s to %s", name, addr)
			}
			applied, appliedOld = true, resolvedOld
			return nil
		},
		Undo: func(ctx context.Context, oc *pipeline.Context) error {
			if reloadSet {
				oc.Reload().RevertReload()
			}
			if !applied {
				return nil
			}
			h, ok := primaryService(oc, addr)
			if !ok {
				return nil
			}
			applied = false
			return d.Hooks.Apply(ctx, h, name, appliedOld)
		},
	}.Step()
}

// compensatingWrite restores old, or undefines the attribute when it had no
// value.
func compensatingWrite(op *operation.Operation, name string, old cty.Value) *operation.Operation {
	if old.Type() == cty.NilType {
		return operation.New(operation.UndefineAttribute, op.Address(), map[string]cty.Value{operation.ParamName: cty.StringVal(name)})
	}
	return operation.New(operation.WriteAttribute, op.Address(), map[string]cty.Value{
		operation.ParamName:  cty.StringVal(name),
		operation.ParamValue: old,
	})
}

// missingAlternative names a required alternative group with no member set.
func missingAlternative(attrs []catalog.AttributeDescriptor, model map[string]cty.Value) string {
	for _, a := range attrs {
		if !a.Required || len(a.Alternatives) == 0 {
			continue
		}
		set := false
		for _, n := range append([]string{a.Name}, a.Alternatives...) {
			if v, ok := model[n]; ok && !v.IsNull() {
				set = true
				break
			}
		}
		if !set {
			return a.Name + " or " + a.Alternatives[0]
		}
	}
	return ""
}
