package value

import (
	"fmt"
	"math"
	"math/big"

	"github.com/zclconf/go-cty/cty"
)

// Kind is the declared value type of an attribute.
type Kind int

const (
	String Kind = iota
	Int
	Long
	Bool
	List
	Object
)

// String returns the catalog name of the kind.
func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Int:
		return "int"
	case Long:
		return "long"
	case Bool:
		return "bool"
	case List:
		return "list"
	case Object:
		return "object"
	default:
		return "unknown"
	}
}

// CtyType returns the cty type values of this kind are converted to. elem is
// the element type for List and Object and is ignored otherwise; an unset
// element type defaults to string.
func (k Kind) CtyType(elem cty.Type) cty.Type {
	if elem == cty.NilType {
		elem = cty.String
	}
	switch k {
	case Int, Long:
		return cty.Number
	case Bool:
		return cty.Bool
	case List:
		return cty.List(elem)
	case Object:
		return cty.Map(elem)
	default:
		return cty.String
	}
}

// CheckRange verifies that a converted number is integral and fits the kind.
// Non-numeric kinds always pass.
func (k Kind) CheckRange(v cty.Value) error {
	if (k != Int && k != Long) || v.IsNull() || !v.IsKnown() {
		return nil
	}
	bf := v.AsBigFloat()
	if !bf.IsInt() {
		return fmt.Errorf("%s is not an integer", bf.Text('g', -1))
	}
	i, acc := bf.Int64()
	if acc != big.Exact {
		return fmt.Errorf("%s overflows a %s", bf.Text('g', -1), k)
	}
	if k == Int && (i < math.MinInt32 || i > math.MaxInt32) {
		return fmt.Errorf("%d overflows an int", i)
	}
	return nil
}
