package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/brokerconf/internal/address"
	"github.com/vk/brokerconf/internal/ctxlog"
	"github.com/vk/brokerconf/internal/operation"
)

// Load reads the model file and returns the operations that rebuild it:
// write-attribute operations for root attributes followed by one add per
// resource, parents first. A missing file yields no operations.
func Load(ctx context.Context, path, subsystem string) ([]*operation.Operation, error) {
	logger := ctxlog.FromContext(ctx)
	src, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("Model file does not exist, starting with an empty model.", "path", path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading model file %s: %w", path, err)
	}
	ops, err := Parse(src, path, subsystem)
	if err != nil {
		return nil, err
	}
	logger.Debug("Model file loaded.", "path", path, "operations", len(ops))
	return ops, nil
}

// Parse converts HCL source into operations. filename is only used in
// diagnostics.
func Parse(src []byte, filename, subsystem string) ([]*operation.Operation, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return nil, fmt.Errorf("failed to parse HCL file %s: not native syntax", filename)
	}
	if len(body.Attributes) > 0 {
		return nil, fmt.Errorf("%s: unexpected top-level attributes", filename)
	}

	var ops []*operation.Operation
	found := false
	for _, block := range body.Blocks {
		if block.Type != SubsystemBlock {
			return nil, fmt.Errorf("%s: unexpected block %q", block.DefRange().String(), block.Type)
		}
		if len(block.Labels) != 1 || block.Labels[0] != subsystem {
			return nil, fmt.Errorf("%s: expected subsystem %q", block.DefRange().String(), subsystem)
		}
		if found {
			return nil, fmt.Errorf("%s: duplicate subsystem %q", block.DefRange().String(), subsystem)
		}
		found = true

		rootAttrs, err := attributes(block.Body, src)
		if err != nil {
			return nil, err
		}
		for _, name := range sortedNames(rootAttrs) {
			ops = append(ops, operation.New(operation.WriteAttribute, address.Root(), map[string]cty.Value{
				operation.ParamName:  cty.StringVal(name),
				operation.ParamValue: rootAttrs[name],
			}))
		}
		children, err := resources(block.Body, src, address.Root())
		if err != nil {
			return nil, err
		}
		ops = append(ops, children...)
	}
	return ops, nil
}

func resources(body *hclsyntax.Body, src []byte, parent address.Address) ([]*operation.Operation, error) {
	var ops []*operation.Operation
	for _, block := range body.Blocks {
		if len(block.Labels) != 1 {
			return nil, fmt.Errorf("%s: block %q needs exactly one name label", block.DefRange().String(), block.Type)
		}
		addr := parent.Append(block.Type, block.Labels[0])
		params, err := attributes(block.Body, src)
		if err != nil {
			return nil, err
		}
		ops = append(ops, operation.New(operation.Add, addr, params))

		children, err := resources(block.Body, src, addr)
		if err != nil {
			return nil, err
		}
		ops = append(ops, children...)
	}
	return ops, nil
}

// attributes evaluates literal attributes. Templates with interpolations
// are returned as their source string.
func attributes(body *hclsyntax.Body, src []byte) (map[string]cty.Value, error) {
	out := make(map[string]cty.Value, len(body.Attributes))
	for name, attr := range body.Attributes {
		if tmpl, ok := attr.Expr.(*hclsyntax.TemplateExpr); ok && !tmpl.IsStringLiteral() {
			out[name] = cty.StringVal(templateSource(tmpl, src))
			continue
		}
		v, diags := attr.Expr.Value(&hcl.EvalContext{})
		if diags.HasErrors() {
			return nil, fmt.Errorf("attribute %q: %w", name, diags)
		}
		out[name] = v
	}
	return out, nil
}

func templateSource(tmpl *hclsyntax.TemplateExpr, src []byte) string {
	raw := string(tmpl.SrcRange.SliceBytes(src))
	raw = strings.TrimPrefix(raw, `"`)
	raw = strings.TrimSuffix(raw, `"`)
	return unquoteTemplate(raw)
}

func sortedNames(m map[string]cty.Value) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
