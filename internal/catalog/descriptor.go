// Package catalog holds the attribute descriptors of every resource type and
// the validation rules applied when attribute values enter the model.
package catalog

import (
	"fmt"
	"math/big"
	"slices"

	"github.com/Masterminds/semver/v3"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/brokerconf/internal/value"
)

// Mutability classifies how a change to an attribute reaches the running
// services.
type Mutability int

const (
	// RestartNone attributes are pushed to the live service.
	RestartNone Mutability = iota
	// RestartAllServices attributes only take effect after a reload.
	RestartAllServices
	// StorageRuntime attributes are read-only, sourced from the live
	// service and never persisted.
	StorageRuntime
)

func (m Mutability) String() string {
	switch m {
	case RestartNone:
		return "restart-none"
	case RestartAllServices:
		return "restart-all-services"
	case StorageRuntime:
		return "storage-runtime"
	default:
		return "unknown"
	}
}

// Validator is a predicate over a converted, non-null value.
type Validator struct {
	Check   func(cty.Value) bool
	Message string
}

// AttributeDescriptor is the metadata of one attribute of a resource type.
type AttributeDescriptor struct {
	Name        string
	Kind        value.Kind
	ElementType cty.Type
	Default     *cty.Value
	// Required is allow-null=false. For an attribute with alternatives it
	// means one of the group must be set.
	Required        bool
	Validators      []Validator
	Mutability      Mutability
	AllowExpression bool
	Alternatives    []string
	Requires        []string
	Since           *semver.Version
}

// Type returns the cty type that values of this attribute are converted to.
func (d AttributeDescriptor) Type() cty.Type {
	return d.Kind.CtyType(d.ElementType)
}

// HasDefault reports whether the descriptor declares a default value.
func (d AttributeDescriptor) HasDefault() bool {
	return d.Default != nil
}

// Persistent reports whether the attribute is stored in the model.
func (d AttributeDescriptor) Persistent() bool {
	return d.Mutability != StorageRuntime
}

// IsAlternative reports whether name is declared mutually exclusive with d.
func (d AttributeDescriptor) IsAlternative(name string) bool {
	return slices.Contains(d.Alternatives, name)
}

// Default returns a pointer to v, for use in descriptor literals.
func Default(v cty.Value) *cty.Value {
	return &v
}

// Range accepts integral values in [min, max].
func Range(min, max int64) Validator {
	return Validator{
		Check: func(v cty.Value) bool {
			i, acc := v.AsBigFloat().Int64()
			return acc == big.Exact && i >= min && i <= max
		},
		Message: fmt.Sprintf("must be between %d and %d", min, max),
	}
}

// AtLeast accepts integral values >= min.
func AtLeast(min int64) Validator {
	return Validator{
		Check: func(v cty.Value) bool {
			i, acc := v.AsBigFloat().Int64()
			return acc == big.Exact && i >= min
		},
		Message: fmt.Sprintf("must be at least %d", min),
	}
}

// OneOf accepts one of the given strings.
func OneOf(allowed ...string) Validator {
	return Validator{
		Check: func(v cty.Value) bool {
			return slices.Contains(allowed, v.AsString())
		},
		Message: fmt.Sprintf("must be one of %v", allowed),
	}
}

// NotEmpty rejects empty strings and empty collections.
func NotEmpty() Validator {
	return Validator{
		Check: func(v cty.Value) bool {
			if v.Type() == cty.String {
				return v.AsString() != ""
			}
			if v.Type().IsListType() || v.Type().IsMapType() {
				return v.LengthInt() > 0
			}
			return true
		},
		Message: "must not be empty",
	}
}
