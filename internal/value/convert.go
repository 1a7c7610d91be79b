package value

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"

	"github.com/zclconf/go-cty/cty"
)

// FromNative converts a decoded JSON document (or plain Go values) into a
// cty value. Strings containing template interpolation become expressions
// only when the caller asks for them via NewExpression; FromNative never
// guesses.
func FromNative(v any) (cty.Value, error) {
	switch t := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case cty.Value:
		return t, nil
	case string:
		return cty.StringVal(t), nil
	case bool:
		return cty.BoolVal(t), nil
	case json.Number:
		n, err := cty.ParseNumberVal(t.String())
		if err != nil {
			return cty.NilVal, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return n, nil
	case int:
		return cty.NumberIntVal(int64(t)), nil
	case int32:
		return cty.NumberIntVal(int64(t)), nil
	case int64:
		return cty.NumberIntVal(t), nil
	case float64:
		return cty.NumberFloatVal(t), nil
	case []string:
		items := make([]any, len(t))
		for i, s := range t {
			items[i] = s
		}
		return FromNative(items)
	case []any:
		if len(t) == 0 {
			return cty.EmptyTupleVal, nil
		}
		elems := make([]cty.Value, 0, len(t))
		for i, item := range t {
			ev, err := FromNative(item)
			if err != nil {
				return cty.NilVal, fmt.Errorf("element %d: %w", i, err)
			}
			elems = append(elems, ev)
		}
		return cty.TupleVal(elems), nil
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, s := range t {
			m[k] = s
		}
		return FromNative(m)
	case map[string]any:
		if len(t) == 0 {
			return cty.EmptyObjectVal, nil
		}
		attrs := make(map[string]cty.Value, len(t))
		for k, item := range t {
			ev, err := FromNative(item)
			if err != nil {
				return cty.NilVal, fmt.Errorf("key %q: %w", k, err)
			}
			attrs[k] = ev
		}
		return cty.ObjectVal(attrs), nil
	default:
		return cty.NilVal, fmt.Errorf("unsupported value of type %T", v)
	}
}

// ToNative converts a cty value into plain Go values suitable for JSON
// encoding. Integral numbers become int64, expressions become their source.
func ToNative(val cty.Value) (any, error) {
	if !val.IsKnown() || val.IsNull() {
		return nil, nil
	}
	if IsExpression(val) {
		return ExpressionSource(val), nil
	}
	ty := val.Type()
	if ty.IsPrimitiveType() {
		switch ty {
		case cty.String:
			return val.AsString(), nil
		case cty.Number:
			bf := val.AsBigFloat()
			if bf.IsInt() {
				if i, acc := bf.Int64(); acc == big.Exact {
					return i, nil
				}
			}
			f, _ := bf.Float64()
			return f, nil
		case cty.Bool:
			return val.True(), nil
		default:
			return nil, fmt.Errorf("unsupported primitive type: %s", ty.FriendlyName())
		}
	}
	if ty.IsObjectType() || ty.IsMapType() {
		out := make(map[string]any)
		for it := val.ElementIterator(); it.Next(); {
			k, v := it.Element()
			native, err := ToNative(v)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = native
		}
		return out, nil
	}
	if ty.IsTupleType() || ty.IsListType() || ty.IsSetType() {
		out := []any{}
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			native, err := ToNative(v)
			if err != nil {
				return nil, err
			}
			out = append(out, native)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported cty.Type for conversion: %s", ty.FriendlyName())
}

// Equal reports whether two values are identical, including expressions and
// nulls. Absent values (cty.NilVal) only equal each other.
func Equal(a, b cty.Value) bool {
	aNil, bNil := a.Type() == cty.NilType, b.Type() == cty.NilType
	if aNil || bNil {
		return aNil && bNil
	}
	return a.RawEquals(b)
}

// Display renders a value for logs and error messages.
func Display(v cty.Value) string {
	if v.Type() == cty.NilType {
		return "<undefined>"
	}
	native, err := ToNative(v)
	if err != nil {
		return v.GoString()
	}
	if m, ok := native.(map[string]any); ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make([]string, len(keys))
		for i, k := range keys {
			ordered[i] = fmt.Sprintf("%s=%v", k, m[k])
		}
		return fmt.Sprintf("%v", ordered)
	}
	b, err := json.Marshal(native)
	if err != nil {
		return fmt.Sprintf("%v", native)
	}
	return string(b)
}
