package value

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// Expression is the payload of a deferred value: HCL template source such as
// `${env.BROKER_HOST}:5445`.
type Expression struct {
	Source string
}

// ExpressionType is the capsule type of deferred values.
var ExpressionType = cty.CapsuleWithOps("expression", reflect.TypeOf(Expression{}), &cty.CapsuleOps{
	GoString: func(v any) string {
		return fmt.Sprintf("value.NewExpression(%q)", v.(*Expression).Source)
	},
	TypeGoString: func(reflect.Type) string {
		return "value.ExpressionType"
	},
	RawEquals: func(a, b any) bool {
		return a.(*Expression).Source == b.(*Expression).Source
	},
	Equals: func(a, b any) cty.Value {
		return cty.BoolVal(a.(*Expression).Source == b.(*Expression).Source)
	},
})

// EnvVariable is the only root variable an expression may reference.
const EnvVariable = "env"

// functions is the fixed function table available to expressions.
var functions = map[string]function.Function{
	"lookup":    stdlib.LookupFunc,
	"coalesce":  stdlib.CoalesceFunc,
	"upper":     stdlib.UpperFunc,
	"lower":     stdlib.LowerFunc,
	"trimspace": stdlib.TrimSpaceFunc,
	"format":    stdlib.FormatFunc,
	"join":      stdlib.JoinFunc,
}

// NewExpression wraps template source as a deferred value.
func NewExpression(source string) cty.Value {
	return cty.CapsuleVal(ExpressionType, &Expression{Source: source})
}

// IsExpression reports whether v is a deferred value.
func IsExpression(v cty.Value) bool {
	ty := v.Type()
	return ty != cty.NilType && ty.Equals(ExpressionType) && !v.IsNull()
}

// ExpressionSource returns the template source of a deferred value.
func ExpressionSource(v cty.Value) string {
	return v.EncapsulatedValue().(*Expression).Source
}

// LooksLikeExpression reports whether a raw string parameter uses template
// interpolation syntax.
func LooksLikeExpression(s string) bool {
	return strings.Contains(s, "${")
}

// Analysis is the result of inspecting an expression without evaluating it.
type Analysis struct {
	References []string
	Functions  []string
}

// traversalKey generates a stable, canonical string for a traversal.
func traversalKey(t hcl.Traversal) string {
	return string(hclwrite.TokensForTraversal(t).Bytes())
}

// ParseExpression parses template source and checks that it only references
// the environment and the known function table.
func ParseExpression(source string) (hclsyntax.Expression, *Analysis, error) {
	expr, diags := hclsyntax.ParseTemplate([]byte(source), "expression", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, nil, fmt.Errorf("invalid expression %q: %s", source, diags.Error())
	}

	refs := make(map[string]struct{})
	for _, traversal := range expr.Variables() {
		if traversal.RootName() != EnvVariable {
			return nil, nil, fmt.Errorf("expression %q references %q; only %s.* is available", source, traversal.RootName(), EnvVariable)
		}
		refs[traversalKey(traversal)] = struct{}{}
	}

	funcs := make(map[string]struct{})
	walkForFunctions(expr, funcs)
	for name := range funcs {
		if _, ok := functions[name]; !ok {
			return nil, nil, fmt.Errorf("expression %q calls unknown function %q", source, name)
		}
	}

	return expr, &Analysis{References: sortedKeys(refs), Functions: sortedKeys(funcs)}, nil
}

// Evaluate resolves template source against the given environment.
func Evaluate(source string, env map[string]string) (cty.Value, error) {
	expr, _, err := ParseExpression(source)
	if err != nil {
		return cty.NilVal, err
	}

	envVals := make(map[string]cty.Value, len(env))
	for k, v := range env {
		envVals[k] = cty.StringVal(v)
	}
	envVal := cty.MapValEmpty(cty.String)
	if len(envVals) > 0 {
		envVal = cty.MapVal(envVals)
	}

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{EnvVariable: envVal},
		Functions: functions,
	}
	out, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return cty.NilVal, fmt.Errorf("cannot resolve expression %q: %s", source, diags.Error())
	}
	return out, nil
}

// walkForFunctions recursively walks the syntax tree collecting function calls.
func walkForFunctions(expr hclsyntax.Expression, found map[string]struct{}) {
	if expr == nil {
		return
	}
	switch e := expr.(type) {
	case *hclsyntax.FunctionCallExpr:
		found[e.Name] = struct{}{}
		for _, arg := range e.Args {
			walkForFunctions(arg, found)
		}
	case *hclsyntax.BinaryOpExpr:
		walkForFunctions(e.LHS, found)
		walkForFunctions(e.RHS, found)
	case *hclsyntax.ConditionalExpr:
		walkForFunctions(e.Condition, found)
		walkForFunctions(e.TrueResult, found)
		walkForFunctions(e.FalseResult, found)
	case *hclsyntax.UnaryOpExpr:
		walkForFunctions(e.Val, found)
	case *hclsyntax.TemplateExpr:
		for _, part := range e.Parts {
			walkForFunctions(part, found)
		}
	case *hclsyntax.TemplateWrapExpr:
		walkForFunctions(e.Wrapped, found)
	case *hclsyntax.TupleConsExpr:
		for _, item := range e.Exprs {
			walkForFunctions(item, found)
		}
	case *hclsyntax.ObjectConsExpr:
		for _, item := range e.Items {
			walkForFunctions(item.KeyExpr, found)
			walkForFunctions(item.ValueExpr, found)
		}
	case *hclsyntax.IndexExpr:
		walkForFunctions(e.Collection, found)
		walkForFunctions(e.Key, found)
	case *hclsyntax.ParenthesesExpr:
		walkForFunctions(e.Expression, found)
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
