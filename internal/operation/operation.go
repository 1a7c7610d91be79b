// Package operation defines the management requests executed against the
// model and the results they produce.
package operation

import (
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/brokerconf/internal/address"
	"github.com/vk/brokerconf/internal/value"
)

// Well-known operation names.
const (
	Add               = "add"
	Remove            = "remove"
	WriteAttribute    = "write-attribute"
	UndefineAttribute = "undefine-attribute"
	ReadResource      = "read-resource"
	ReadAttribute     = "read-attribute"
	ReadChildrenNames = "read-children-names"
	Composite         = "composite"
)

// Well-known parameter names.
const (
	ParamName           = "name"
	ParamValue          = "value"
	ParamRecursive      = "recursive"
	ParamIncludeRuntime = "include-runtime"
	ParamIncludeDefault = "include-defaults"
	ParamResolve        = "resolve"
	ParamChildType      = "child-type"
)

// Headers modify how an operation is executed.
type Headers struct {
	// RollbackOnRuntimeFailure rolls the model back when a runtime step
	// fails. When false the model change is kept and the server is marked
	// reload-required instead.
	RollbackOnRuntimeFailure bool
	// DryRun executes every stage and then rolls back.
	DryRun bool
	// ClientVersion is the model version the caller was built against.
	ClientVersion *semver.Version
}

// DefaultHeaders returns the headers used when a caller sets none.
func DefaultHeaders() Headers {
	return Headers{RollbackOnRuntimeFailure: true}
}

// Operation is an immutable management request. The With* methods return
// modified copies.
type Operation struct {
	name    string
	address address.Address
	params  map[string]cty.Value
	headers Headers
	steps   []*Operation
}

// New creates an operation. params is copied.
func New(name string, addr address.Address, params map[string]cty.Value) *Operation {
	op := &Operation{name: name, address: addr, params: make(map[string]cty.Value, len(params)), headers: DefaultHeaders()}
	for k, v := range params {
		op.params[k] = v
	}
	return op
}

// NewComposite creates an operation that executes steps as one unit.
func NewComposite(steps ...*Operation) *Operation {
	op := New(Composite, address.Root(), nil)
	op.steps = append(op.steps, steps...)
	return op
}

func (o *Operation) clone() *Operation {
	c := New(o.name, o.address, o.params)
	c.headers = o.headers
	c.steps = append([]*Operation(nil), o.steps...)
	return c
}

// Name returns the operation name.
func (o *Operation) Name() string { return o.name }

// Address returns the target address.
func (o *Operation) Address() address.Address { return o.address }

// Headers returns the execution headers.
func (o *Operation) Headers() Headers { return o.headers }

// IsComposite reports whether the operation groups other operations.
func (o *Operation) IsComposite() bool { return o.name == Composite }

// Steps returns the operations of a composite.
func (o *Operation) Steps() []*Operation { return append([]*Operation(nil), o.steps...) }

// Params returns a copy of the parameters.
func (o *Operation) Params() map[string]cty.Value {
	out := make(map[string]cty.Value, len(o.params))
	for k, v := range o.params {
		out[k] = v
	}
	return out
}

// ParamNames returns the parameter names, sorted.
func (o *Operation) ParamNames() []string {
	out := make([]string, 0, len(o.params))
	for k := range o.params {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Param returns a single parameter.
func (o *Operation) Param(name string) (cty.Value, bool) {
	v, ok := o.params[name]
	return v, ok
}

// StringParam returns a string parameter, or "" when absent or not a string.
func (o *Operation) StringParam(name string) string {
	v, ok := o.params[name]
	if !ok || v.IsNull() || v.Type() != cty.String {
		return ""
	}
	return v.AsString()
}

// BoolParam returns a bool parameter, or def when absent or not a bool.
func (o *Operation) BoolParam(name string, def bool) bool {
	v, ok := o.params[name]
	if !ok || v.IsNull() || v.Type() != cty.Bool {
		return def
	}
	return v.True()
}

// WithParam returns a copy with one parameter set.
func (o *Operation) WithParam(name string, v cty.Value) *Operation {
	c := o.clone()
	c.params[name] = v
	return c
}

// WithoutParams returns a copy without the named parameters.
func (o *Operation) WithoutParams(names ...string) *Operation {
	c := o.clone()
	for _, n := range names {
		delete(c.params, n)
	}
	return c
}

// WithHeaders returns a copy with different headers.
func (o *Operation) WithHeaders(h Headers) *Operation {
	c := o.clone()
	c.headers = h
	return c
}

// WithSteps returns a copy of a composite with different steps.
func (o *Operation) WithSteps(steps ...*Operation) *Operation {
	c := o.clone()
	c.steps = append([]*Operation(nil), steps...)
	return c
}

// Equal reports whether two operations request the same thing.
func (o *Operation) Equal(other *Operation) bool {
	if o == nil || other == nil {
		return o == other
	}
	if o.name != other.name || !o.address.Equal(other.address) || len(o.params) != len(other.params) || len(o.steps) != len(other.steps) {
		return false
	}
	for k, v := range o.params {
		ov, ok := other.params[k]
		if !ok || !value.Equal(v, ov) {
			return false
		}
	}
	for i := range o.steps {
		if !o.steps[i].Equal(other.steps[i]) {
			return false
		}
	}
	return true
}

// String renders the operation for logs.
func (o *Operation) String() string {
	return o.name + " " + o.address.String()
}
