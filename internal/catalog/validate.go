package catalog

import (
	"os"
	"sort"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/vk/brokerconf/internal/failure"
	"github.com/vk/brokerconf/internal/value"
)

// Normalize type-checks a proposed value against the descriptor and returns
// the value in its stored form. Null is returned unchanged.
func Normalize(d AttributeDescriptor, v cty.Value) (cty.Value, error) {
	if d.Mutability == StorageRuntime {
		return cty.NilVal, failure.New(failure.InvalidAttributeValue, "attribute %q is read-only", d.Name)
	}
	if v.IsNull() {
		return v, nil
	}

	if !value.IsExpression(v) && v.Type() == cty.String && value.LooksLikeExpression(v.AsString()) {
		if !d.AllowExpression {
			return cty.NilVal, failure.New(failure.InvalidAttributeValue, "attribute %q does not support expressions", d.Name)
		}
		v = value.NewExpression(v.AsString())
	}
	if value.IsExpression(v) {
		if !d.AllowExpression {
			return cty.NilVal, failure.New(failure.InvalidAttributeValue, "attribute %q does not support expressions", d.Name)
		}
		if _, _, err := value.ParseExpression(value.ExpressionSource(v)); err != nil {
			return cty.NilVal, failure.Wrap(failure.InvalidAttributeValue, err, "attribute %q", d.Name)
		}
		return v, nil
	}

	return check(d, v)
}

// check converts a concrete value and runs the validators.
func check(d AttributeDescriptor, v cty.Value) (cty.Value, error) {
	converted, err := convert.Convert(v, d.Type())
	if err != nil {
		return cty.NilVal, failure.New(failure.InvalidAttributeValue, "attribute %q: expected %s: %v", d.Name, d.Kind, err)
	}
	if err := d.Kind.CheckRange(converted); err != nil {
		return cty.NilVal, failure.New(failure.InvalidAttributeValue, "attribute %q: %v", d.Name, err)
	}
	for _, validator := range d.Validators {
		if !validator.Check(converted) {
			return cty.NilVal, failure.New(failure.InvalidAttributeValue, "attribute %q %s", d.Name, validator.Message)
		}
	}
	return converted, nil
}

// ValidateAndSet applies the descriptor to params and writes the result into
// target. An absent attribute takes its default; an absent required attribute
// with no default and no alternative set fails.
func ValidateAndSet(d AttributeDescriptor, params, target map[string]cty.Value) error {
	if !d.Persistent() {
		if v, ok := params[d.Name]; ok && !v.IsNull() {
			return failure.New(failure.InvalidAttributeValue, "attribute %q is read-only", d.Name)
		}
		return nil
	}

	v, ok := params[d.Name]
	if !ok || v.IsNull() {
		switch {
		case d.HasDefault():
			target[d.Name] = *d.Default
		case d.Required && !anySet(params, d.Alternatives):
			if len(d.Alternatives) > 0 {
				return failure.New(failure.RequiredAttributeMissing, "one of %s must be set",
					strings.Join(append([]string{d.Name}, d.Alternatives...), ", "))
			}
			return failure.New(failure.RequiredAttributeMissing, "attribute %q is required", d.Name)
		default:
			delete(target, d.Name)
		}
		return nil
	}

	normalized, err := Normalize(d, v)
	if err != nil {
		return err
	}
	target[d.Name] = normalized
	return nil
}

// ValidateAll validates a complete parameter set for a new resource and
// returns its attribute model. Unknown parameters and alternative conflicts
// are reported before any per-attribute check.
func (c *Catalog) ValidateAll(resourceType string, params map[string]cty.Value) (map[string]cty.Value, error) {
	attrs, ok := c.Describe(resourceType)
	if !ok {
		return nil, failure.New(failure.ValidationFailed, "unknown resource type %q", resourceType)
	}
	if err := checkUnknown(resourceType, attrs, params); err != nil {
		return nil, err
	}
	if err := CheckConstraints(attrs, params); err != nil {
		return nil, err
	}

	model := make(map[string]cty.Value, len(attrs))
	for _, d := range attrs {
		if err := ValidateAndSet(d, params, model); err != nil {
			return nil, err
		}
	}
	return model, nil
}

// CheckConstraints verifies the alternative and requires relations over a
// set of attribute values.
func CheckConstraints(attrs []AttributeDescriptor, model map[string]cty.Value) error {
	for _, d := range attrs {
		if !isSet(model, d.Name) {
			continue
		}
		for _, alt := range d.Alternatives {
			if isSet(model, alt) {
				return failure.New(failure.AlternativeAttributeConflict,
					"attributes %q and %q are mutually exclusive", d.Name, alt)
			}
		}
		for _, req := range d.Requires {
			if !isSet(model, req) {
				return failure.New(failure.RequiredAttributeMissing,
					"attribute %q requires %q to be set", d.Name, req)
			}
		}
	}
	return nil
}

func checkUnknown(resourceType string, attrs []AttributeDescriptor, params map[string]cty.Value) error {
	known := make(map[string]struct{}, len(attrs))
	for _, d := range attrs {
		known[d.Name] = struct{}{}
	}
	var unknown []string
	for name := range params {
		if _, ok := known[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return failure.New(failure.UnknownAttribute, "resource type %q has no attribute %s", resourceType, strings.Join(unknown, ", "))
}

func isSet(m map[string]cty.Value, name string) bool {
	v, ok := m[name]
	return ok && !v.IsNull()
}

func anySet(m map[string]cty.Value, names []string) bool {
	for _, n := range names {
		if isSet(m, n) {
			return true
		}
	}
	return false
}

// Resolver supplies the environment expressions are resolved against.
type Resolver interface {
	Env() map[string]string
}

// OSResolver resolves against the process environment at call time.
type OSResolver struct{}

// Env snapshots os.Environ into a map.
func (OSResolver) Env() map[string]string {
	env := make(map[string]string)
	for _, e := range os.Environ() {
		pair := strings.SplitN(e, "=", 2)
		if len(pair) == 2 {
			env[pair[0]] = pair[1]
		}
	}
	return env
}

// MapResolver resolves against a fixed map.
type MapResolver map[string]string

// Env returns the map itself.
func (m MapResolver) Env() map[string]string { return m }

// ResolveValue returns the effective value of an attribute at the point of
// use: expressions are evaluated against the resolver and re-validated, a
// missing value falls back to the default.
func ResolveValue(d AttributeDescriptor, v cty.Value, r Resolver) (cty.Value, error) {
	if v.Type() == cty.NilType || v.IsNull() {
		if d.HasDefault() {
			return *d.Default, nil
		}
		return cty.NullVal(d.Type()), nil
	}
	if !value.IsExpression(v) {
		return v, nil
	}
	resolved, err := value.Evaluate(value.ExpressionSource(v), r.Env())
	if err != nil {
		return cty.NilVal, failure.Wrap(failure.InvalidAttributeValue, err, "attribute %q", d.Name)
	}
	return check(d, resolved)
}
