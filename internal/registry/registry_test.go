package registry

import (
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/brokerconf/internal/catalog"
	"github.com/vk/brokerconf/internal/handlers"
	"github.com/vk/brokerconf/internal/operation"
	"github.com/vk/brokerconf/internal/testutil"
	"github.com/vk/brokerconf/internal/transform"
	"github.com/vk/brokerconf/internal/value"
)

type moduleFunc func(r *Registry)

func (f moduleFunc) Register(r *Registry) { f(r) }

func rootAndServer(r *Registry) {
	r.Catalog.MustRegister("")
	r.Catalog.MustRegister("server",
		catalog.AttributeDescriptor{Name: "statistics-enabled", Kind: value.Bool, Since: semver.MustParse("15.0.0")},
	)
	r.RegisterDefinition(&handlers.Definition{Type: "", Resolver: catalog.MapResolver{}})
	r.RegisterDefinition(&handlers.Definition{Type: "server", Parents: []string{""}, Resolver: catalog.MapResolver{}})
}

func TestRegistry_LoadAndLookup(t *testing.T) {
	r := New(semver.MustParse("16.0.0"))
	r.Load(moduleFunc(rootAndServer))

	assert.Equal(t, []string{"", "server"}, r.Types())
	assert.Equal(t, []string{"server"}, r.ChildTypes(""))
	def, ok := r.Definition("server")
	require.True(t, ok)
	assert.Same(t, r.Catalog, def.Catalog)

	_, ok = r.Handlers.Lookup("server", operation.Add)
	assert.True(t, ok)
	_, ok = r.Handlers.Lookup("", operation.Add)
	assert.False(t, ok, "the root cannot be added")

	assert.Panics(t, func() {
		r.RegisterDefinition(&handlers.Definition{Type: "server", Resolver: catalog.MapResolver{}})
	})
}

func TestRegistry_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		module  moduleFunc
		wantErr string
	}{
		{name: "consistent", module: rootAndServer},
		{
			name: "catalog type without definition",
			module: func(r *Registry) {
				rootAndServer(r)
				r.Catalog.MustRegister("queue")
			},
			wantErr: "type 'queue': catalog describes it",
		},
		{
			name: "unknown parent",
			module: func(r *Registry) {
				rootAndServer(r)
				r.Catalog.MustRegister("queue")
				r.RegisterDefinition(&handlers.Definition{Type: "queue", Parents: []string{"broker"}, Resolver: catalog.MapResolver{}})
			},
			wantErr: "parent type 'broker' is not registered",
		},
		{
			name: "attribute from the future",
			module: func(r *Registry) {
				r.Catalog.MustRegister("")
				r.Catalog.MustRegister("server", catalog.AttributeDescriptor{Name: "x", Kind: value.Bool, Since: semver.MustParse("17.0.0")})
				r.RegisterDefinition(&handlers.Definition{Type: "", Resolver: catalog.MapResolver{}})
				r.RegisterDefinition(&handlers.Definition{Type: "server", Parents: []string{""}, Resolver: catalog.MapResolver{}})
			},
			wantErr: "introduced in 17.0.0",
		},
		{
			name: "transformer for unknown type",
			module: func(r *Registry) {
				rootAndServer(r)
				r.Transforms.Register("14.0.0").Add("bridge", transform.RemoveAttributes("x"))
			},
			wantErr: "type 'bridge' is not registered",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, _ := testutil.NewContext(t)
			r := New(semver.MustParse("16.0.0"))
			r.Load(tc.module)

			err := r.ValidateRegistry(ctx)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestRegistry_ValidateWarnsOnUncoveredAttribute(t *testing.T) {
	ctx, logs := testutil.NewContext(t)
	r := New(semver.MustParse("16.0.0"))
	r.Load(moduleFunc(rootAndServer))
	r.Transforms.Register("14.0.0")

	require.NoError(t, r.ValidateRegistry(ctx))
	assert.Contains(t, logs.String(), "statistics-enabled")
}
