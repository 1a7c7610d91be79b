package transform

import (
	"fmt"
	"slices"
	"sort"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/brokerconf/internal/operation"
	"github.com/vk/brokerconf/internal/value"
)

// Transformer rewrites one operation.
type Transformer interface {
	TransformOperation(op *operation.Operation) Outcome
}

// ResultTransformer rewrites the result of a read addressed to the type the
// transformer is registered for.
type ResultTransformer interface {
	TransformResult(attrs map[string]cty.Value) map[string]cty.Value
}

// Func adapts a function to a Transformer.
type Func func(op *operation.Operation) Outcome

// TransformOperation calls f.
func (f Func) TransformOperation(op *operation.Operation) Outcome { return f(op) }

// attributeOf returns the attribute named by a write or undefine.
func attributeOf(op *operation.Operation) (string, bool) {
	switch op.Name() {
	case operation.WriteAttribute, operation.UndefineAttribute:
		return op.StringParam(operation.ParamName), true
	default:
		return "", false
	}
}

// writtenValue is the value a write sets, null for an undefine.
func writtenValue(op *operation.Operation) cty.Value {
	if op.Name() == operation.UndefineAttribute {
		return cty.NullVal(cty.DynamicPseudoType)
	}
	v, ok := op.Param(operation.ParamValue)
	if !ok {
		return cty.NullVal(cty.DynamicPseudoType)
	}
	return v
}

func isSet(v cty.Value, ok bool) bool {
	return ok && v.Type() != cty.NilType && !v.IsNull()
}

type insertDefaults struct {
	defaults map[string]cty.Value
}

// InsertDefaults adds values a newer client leaves out but the older peer
// needs. Explicit values are never overwritten. An undefine of one of the
// attributes becomes a write of the default.
func InsertDefaults(defaults map[string]cty.Value) Transformer {
	return insertDefaults{defaults: defaults}
}

func (t insertDefaults) TransformOperation(op *operation.Operation) Outcome {
	if op.Name() == operation.Add {
		for _, name := range sortedKeys(t.defaults) {
			if isSet(op.Param(name)) {
				continue
			}
			op = op.WithParam(name, t.defaults[name])
		}
		return Accepted(op)
	}
	if op.Name() == operation.UndefineAttribute {
		name, _ := attributeOf(op)
		if def, ok := t.defaults[name]; ok {
			return Accepted(operation.New(operation.WriteAttribute, op.Address(), map[string]cty.Value{
				operation.ParamName:  cty.StringVal(name),
				operation.ParamValue: def,
			}).WithHeaders(op.Headers()))
		}
	}
	return Accepted(op)
}

type removeAttributes struct {
	names []string
}

// RemoveAttributes strips attributes the older peer does not know. Writes to
// one of them are discarded and reads lose them.
func RemoveAttributes(names ...string) interface {
	Transformer
	ResultTransformer
} {
	return removeAttributes{names: names}
}

func (t removeAttributes) TransformOperation(op *operation.Operation) Outcome {
	if name, ok := attributeOf(op); ok {
		if slices.Contains(t.names, name) {
			return Discarded()
		}
		return Accepted(op)
	}
	if op.Name() == operation.Add {
		return Accepted(op.WithoutParams(t.names...))
	}
	return Accepted(op)
}

func (t removeAttributes) TransformResult(attrs map[string]cty.Value) map[string]cty.Value {
	for _, n := range t.names {
		delete(attrs, n)
	}
	return attrs
}

type rejectIfPresent struct {
	reason string
	names  []string
}

// RejectIfPresent refuses any operation that sets one of the attributes.
func RejectIfPresent(reason string, names ...string) Transformer {
	return rejectIfPresent{reason: reason, names: names}
}

func (t rejectIfPresent) TransformOperation(op *operation.Operation) Outcome {
	if name, ok := attributeOf(op); ok {
		v := writtenValue(op)
		if slices.Contains(t.names, name) && !v.IsNull() {
			return Rejected(fmt.Sprintf("%s: %s", name, t.reason))
		}
		return Accepted(op)
	}
	if op.Name() == operation.Add {
		for _, n := range t.names {
			if isSet(op.Param(n)) {
				return Rejected(fmt.Sprintf("%s: %s", n, t.reason))
			}
		}
	}
	return Accepted(op)
}

type discardIfDefault struct {
	defaults map[string]cty.Value
}

// DiscardIfDefault drops attributes the older peer does not know when they
// carry the value the peer implicitly has, and rejects any other value.
func DiscardIfDefault(defaults map[string]cty.Value) Transformer {
	return discardIfDefault{defaults: defaults}
}

func (t discardIfDefault) TransformOperation(op *operation.Operation) Outcome {
	if name, ok := attributeOf(op); ok {
		def, known := t.defaults[name]
		if !known {
			return Accepted(op)
		}
		v := writtenValue(op)
		if v.IsNull() || value.Equal(v, def) {
			return Discarded()
		}
		return Rejected(fmt.Sprintf("%s: only the default %s is supported", name, value.Display(def)))
	}
	if op.Name() != operation.Add {
		return Accepted(op)
	}
	var drop []string
	for _, name := range sortedKeys(t.defaults) {
		v, ok := op.Param(name)
		if !isSet(v, ok) {
			drop = append(drop, name)
			continue
		}
		if !value.Equal(v, t.defaults[name]) {
			return Rejected(fmt.Sprintf("%s: only the default %s is supported", name, value.Display(t.defaults[name])))
		}
		drop = append(drop, name)
	}
	return Accepted(op.WithoutParams(drop...))
}

type rejectExpressions struct {
	names []string
}

// RejectExpressions refuses expressions for attributes that only accept
// literal values on the older peer.
func RejectExpressions(names ...string) Transformer {
	return rejectExpressions{names: names}
}

func (t rejectExpressions) TransformOperation(op *operation.Operation) Outcome {
	check := func(name string, v cty.Value) *Outcome {
		if slices.Contains(t.names, name) && isExpression(v) {
			o := Rejected(fmt.Sprintf("%s: expressions are not supported", name))
			return &o
		}
		return nil
	}
	if name, ok := attributeOf(op); ok {
		if o := check(name, writtenValue(op)); o != nil {
			return *o
		}
		return Accepted(op)
	}
	if op.Name() == operation.Add {
		for _, n := range op.ParamNames() {
			v, _ := op.Param(n)
			if o := check(n, v); o != nil {
				return *o
			}
		}
	}
	return Accepted(op)
}

// isExpression also catches raw wire strings that have not been normalized
// into expression values yet.
func isExpression(v cty.Value) bool {
	if value.IsExpression(v) {
		return true
	}
	return v.Type() == cty.String && v.IsKnown() && !v.IsNull() && value.LooksLikeExpression(v.AsString())
}

func sortedKeys(m map[string]cty.Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
