package transform

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/brokerconf/internal/failure"
	"github.com/vk/brokerconf/internal/operation"
)

// Chain holds the transformers converting from the next newer model version
// to Version, keyed by resource type.
type Chain struct {
	version *semver.Version
	ops     map[string][]Transformer
	results map[string][]ResultTransformer
}

// Version returns the version this chain converts to.
func (c *Chain) Version() *semver.Version { return c.version }

// Add appends transformers for a resource type. Transformers that also
// rewrite results are registered for results as well. Order matters: each
// transformer sees the output of the previous one.
func (c *Chain) Add(resourceType string, ts ...Transformer) *Chain {
	for _, t := range ts {
		c.ops[resourceType] = append(c.ops[resourceType], t)
		if rt, ok := t.(ResultTransformer); ok {
			c.results[resourceType] = append(c.results[resourceType], rt)
		}
	}
	return c
}

// Types lists the resource types with transformers, sorted.
func (c *Chain) Types() []string {
	seen := make(map[string]struct{})
	for k := range c.ops {
		seen[k] = struct{}{}
	}
	for k := range c.results {
		seen[k] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (c *Chain) apply(op *operation.Operation) Outcome {
	for _, t := range c.ops[op.Address().Type()] {
		out := t.TransformOperation(op)
		if out.Action != Accept {
			return out
		}
		op = out.Operation
	}
	return Accepted(op)
}

// Table maps older model versions to their chains.
type Table struct {
	current *semver.Version
	chains  []*Chain // newest first
}

// NewTable creates an empty table for a model at version current.
func NewTable(current *semver.Version) *Table {
	return &Table{current: current}
}

// Current returns the model version the table converts from.
func (t *Table) Current() *semver.Version { return t.current }

// Register returns a new chain for version. It panics on a duplicate or on a
// version that is not older than the current one.
func (t *Table) Register(version string) *Chain {
	v := semver.MustParse(version)
	if !v.LessThan(t.current) {
		panic(fmt.Sprintf("transformer version %s is not older than the model version %s", v, t.current))
	}
	for _, c := range t.chains {
		if c.version.Equal(v) {
			panic(fmt.Sprintf("transformer chain for version %s already registered", v))
		}
	}
	slog.Debug("Registering transformer chain.", "version", v.String())
	c := &Chain{
		version: v,
		ops:     make(map[string][]Transformer),
		results: make(map[string][]ResultTransformer),
	}
	t.chains = append(t.chains, c)
	sort.Slice(t.chains, func(i, j int) bool { return t.chains[i].version.GreaterThan(t.chains[j].version) })
	return c
}

// Versions lists the supported older versions, newest first.
func (t *Table) Versions() []*semver.Version {
	out := make([]*semver.Version, len(t.chains))
	for i, c := range t.chains {
		out[i] = c.version
	}
	return out
}

// Chains returns the registered chains, newest first.
func (t *Table) Chains() []*Chain {
	return append([]*Chain(nil), t.chains...)
}

// chainsTo returns the chains to apply, in order, to reach target.
func (t *Table) chainsTo(target *semver.Version) ([]*Chain, error) {
	if target == nil || !target.LessThan(t.current) {
		return nil, nil
	}
	if len(t.chains) == 0 || target.LessThan(t.chains[len(t.chains)-1].version) {
		return nil, failure.New(failure.OperationRejected, "model version %s is not supported", target)
	}
	var out []*Chain
	for _, c := range t.chains {
		if c.version.LessThan(target) {
			break
		}
		out = append(out, c)
	}
	return out, nil
}

// TransformOperation converts op for a peer at version target. A composite
// is transformed step by step: a rejected step rejects the whole composite
// and discarded steps are dropped.
func (t *Table) TransformOperation(op *operation.Operation, target *semver.Version) (Outcome, error) {
	chains, err := t.chainsTo(target)
	if err != nil {
		return Outcome{}, err
	}
	return transformOperation(op, chains), nil
}

func transformOperation(op *operation.Operation, chains []*Chain) Outcome {
	if op.IsComposite() {
		var kept []*operation.Operation
		for i, step := range op.Steps() {
			out := transformOperation(step, chains)
			switch out.Action {
			case Reject:
				return Rejected(fmt.Sprintf("step-%d: %s", i+1, out.Reason))
			case Accept:
				kept = append(kept, out.Operation)
			}
		}
		if len(kept) == 0 {
			return Discarded()
		}
		return Accepted(op.WithSteps(kept...))
	}
	for _, c := range chains {
		out := c.apply(op)
		if out.Action != Accept {
			return out
		}
		op = out.Operation
	}
	return Accepted(op)
}

// TransformResult converts the result of op for a peer at version target.
// Only read-resource results change; attributes the peer does not know are
// removed at every level of a recursive read.
func (t *Table) TransformResult(op *operation.Operation, target *semver.Version, result cty.Value) (cty.Value, error) {
	chains, err := t.chainsTo(target)
	if err != nil || len(chains) == 0 {
		return result, err
	}
	return transformResult(op, chains, result), nil
}

func transformResult(op *operation.Operation, chains []*Chain, result cty.Value) cty.Value {
	if !isObject(result) {
		return result
	}
	if op.IsComposite() {
		steps := result.AsValueMap()
		for i, step := range op.Steps() {
			key := fmt.Sprintf("step-%d", i+1)
			sr, ok := steps[key]
			if !ok || !isObject(sr) || !sr.Type().HasAttribute("result") {
				continue
			}
			fields := sr.AsValueMap()
			fields["result"] = transformResult(step, chains, fields["result"])
			steps[key] = cty.ObjectVal(fields)
		}
		return cty.ObjectVal(steps)
	}
	if op.Name() != operation.ReadResource {
		return result
	}
	return transformResource(op.Address().Type(), chains, result)
}

// transformResource applies result transformers of resourceType and recurses
// into child collections. Child collections are objects keyed by child name;
// object-kind attributes are maps and are left alone.
func transformResource(resourceType string, chains []*Chain, v cty.Value) cty.Value {
	attrs := v.AsValueMap()
	if attrs == nil {
		attrs = make(map[string]cty.Value)
	}
	for _, c := range chains {
		for _, rt := range c.results[resourceType] {
			attrs = rt.TransformResult(attrs)
		}
	}
	for key, cv := range attrs {
		if !isObject(cv) {
			continue
		}
		children := cv.AsValueMap()
		for name, child := range children {
			if isObject(child) {
				children[name] = transformResource(key, chains, child)
			}
		}
		attrs[key] = cty.ObjectVal(children)
	}
	return cty.ObjectVal(attrs)
}

func isObject(v cty.Value) bool {
	return v.Type().IsObjectType() && v.IsKnown() && !v.IsNull()
}
