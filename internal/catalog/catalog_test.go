package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/brokerconf/internal/failure"
	"github.com/vk/brokerconf/internal/value"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c := New()
	require.NoError(t, c.Register("factory",
		AttributeDescriptor{Name: "entries", Kind: value.List, Required: true, Validators: []Validator{NotEmpty()}},
		AttributeDescriptor{Name: "connectors", Kind: value.List, Required: true, Alternatives: []string{"discovery-group"}},
		AttributeDescriptor{Name: "discovery-group", Kind: value.String, Required: true, Alternatives: []string{"connectors"}},
		AttributeDescriptor{Name: "call-timeout", Kind: value.Long, Default: Default(cty.NumberIntVal(30000)), Validators: []Validator{AtLeast(0)}},
		AttributeDescriptor{Name: "client-id", Kind: value.String, AllowExpression: true},
		AttributeDescriptor{Name: "mode", Kind: value.String, Validators: []Validator{OneOf("sync", "async")}},
		AttributeDescriptor{Name: "consumers", Kind: value.Int, Mutability: StorageRuntime},
	))
	return c
}

func TestCatalog_Register(t *testing.T) {
	c := New()
	require.NoError(t, c.Register("queue", AttributeDescriptor{Name: "address"}))
	require.Error(t, c.Register("queue"))
	require.Error(t, c.Register("dup", AttributeDescriptor{Name: "a"}, AttributeDescriptor{Name: "a"}))
	require.Error(t, c.Register("dangling", AttributeDescriptor{Name: "a", Alternatives: []string{"b"}}))

	d, ok := c.Lookup("queue", "address")
	require.True(t, ok)
	assert.Equal(t, "address", d.Name)
	_, ok = c.Lookup("queue", "nope")
	assert.False(t, ok)
	assert.Equal(t, []string{"queue"}, c.Types())
}

func TestCatalog_ValidateAll(t *testing.T) {
	c := testCatalog(t)
	entries := cty.TupleVal([]cty.Value{cty.StringVal("java:/cf")})

	testCases := []struct {
		name     string
		params   map[string]cty.Value
		wantKind failure.Kind
		check    func(t *testing.T, model map[string]cty.Value)
	}{
		{
			name:   "defaults written when absent",
			params: map[string]cty.Value{"entries": entries, "connectors": cty.TupleVal([]cty.Value{cty.StringVal("netty")})},
			check: func(t *testing.T, model map[string]cty.Value) {
				assert.True(t, model["call-timeout"].RawEquals(cty.NumberIntVal(30000)))
				assert.True(t, model["connectors"].Type().IsListType())
				_, hasDG := model["discovery-group"]
				assert.False(t, hasDG)
				_, hasRuntime := model["consumers"]
				assert.False(t, hasRuntime)
			},
		},
		{
			name:     "alternatives both set",
			params:   map[string]cty.Value{"entries": entries, "connectors": cty.TupleVal([]cty.Value{cty.StringVal("netty")}), "discovery-group": cty.StringVal("dg")},
			wantKind: failure.AlternativeAttributeConflict,
		},
		{
			name:     "alternatives neither set",
			params:   map[string]cty.Value{"entries": entries},
			wantKind: failure.RequiredAttributeMissing,
		},
		{
			name:     "unknown attribute",
			params:   map[string]cty.Value{"entries": entries, "discovery-group": cty.StringVal("dg"), "bogus": cty.True},
			wantKind: failure.UnknownAttribute,
		},
		{
			name:     "validator rejects",
			params:   map[string]cty.Value{"entries": entries, "discovery-group": cty.StringVal("dg"), "mode": cty.StringVal("turbo")},
			wantKind: failure.InvalidAttributeValue,
		},
		{
			name:     "type mismatch",
			params:   map[string]cty.Value{"entries": entries, "discovery-group": cty.StringVal("dg"), "call-timeout": cty.StringVal("soon")},
			wantKind: failure.InvalidAttributeValue,
		},
		{
			name:     "expression not allowed",
			params:   map[string]cty.Value{"entries": entries, "discovery-group": cty.StringVal("${env.DG}")},
			wantKind: failure.InvalidAttributeValue,
		},
		{
			name:     "runtime attribute is read-only",
			params:   map[string]cty.Value{"entries": entries, "discovery-group": cty.StringVal("dg"), "consumers": cty.NumberIntVal(3)},
			wantKind: failure.InvalidAttributeValue,
		},
		{
			name:   "expression kept deferred",
			params: map[string]cty.Value{"entries": entries, "discovery-group": cty.StringVal("dg"), "client-id": cty.StringVal("${env.CLIENT}")},
			check: func(t *testing.T, model map[string]cty.Value) {
				require.True(t, value.IsExpression(model["client-id"]))
				assert.Equal(t, "${env.CLIENT}", value.ExpressionSource(model["client-id"]))
			},
		},
		{
			name:     "empty entries",
			params:   map[string]cty.Value{"entries": cty.ListValEmpty(cty.String), "discovery-group": cty.StringVal("dg")},
			wantKind: failure.InvalidAttributeValue,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			model, err := c.ValidateAll("factory", tc.params)
			if tc.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tc.wantKind, failure.KindOf(err))
				return
			}
			require.NoError(t, err)
			tc.check(t, model)
		})
	}
}

func TestResolveValue(t *testing.T) {
	d := AttributeDescriptor{Name: "call-timeout", Kind: value.Long, AllowExpression: true, Default: Default(cty.NumberIntVal(30000)), Validators: []Validator{AtLeast(0)}}
	env := MapResolver{"TIMEOUT": "1500", "NEGATIVE": "-5"}

	got, err := ResolveValue(d, value.NewExpression("${env.TIMEOUT}"), env)
	require.NoError(t, err)
	assert.True(t, got.RawEquals(cty.NumberIntVal(1500)))

	got, err = ResolveValue(d, cty.NilVal, env)
	require.NoError(t, err)
	assert.True(t, got.RawEquals(cty.NumberIntVal(30000)))

	got, err = ResolveValue(d, cty.NumberIntVal(7), env)
	require.NoError(t, err)
	assert.True(t, got.RawEquals(cty.NumberIntVal(7)))

	_, err = ResolveValue(d, value.NewExpression("${env.NEGATIVE}"), env)
	assert.Equal(t, failure.InvalidAttributeValue, failure.KindOf(err))

	_, err = ResolveValue(d, value.NewExpression("${env.UNSET}"), env)
	assert.Equal(t, failure.InvalidAttributeValue, failure.KindOf(err))
}
