package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/vk/brokerconf/internal/catalog"
	"github.com/vk/brokerconf/internal/handlers"
	"github.com/vk/brokerconf/internal/operation"
	"github.com/vk/brokerconf/internal/transform"
)

// Module is the interface that all subsystem modules must implement to be
// registered.
type Module interface {
	Register(r *Registry)
}

// Registry holds the catalog, handlers, resource definitions and
// transformers of a single controller instance.
type Registry struct {
	Catalog    *catalog.Catalog
	Handlers   *handlers.Handlers
	Transforms *transform.Table
	// Startup operations run, in order, once the persisted model is loaded.
	Startup     []*operation.Operation
	definitions map[string]*handlers.Definition
}

// New creates an empty registry for a model at version modelVersion.
func New(modelVersion *semver.Version) *Registry {
	return &Registry{
		Catalog:     catalog.New(),
		Handlers:    handlers.New(),
		Transforms:  transform.NewTable(modelVersion),
		definitions: make(map[string]*handlers.Definition),
	}
}

// Load registers every module in order.
func (r *Registry) Load(modules ...Module) {
	for _, m := range modules {
		m.Register(r)
	}
}

// ModelVersion returns the version of the model the registry describes.
func (r *Registry) ModelVersion() *semver.Version {
	return r.Transforms.Current()
}

// RegisterDefinition binds a resource type definition and its standard
// operations. The definition's attributes must already be in the catalog.
func (r *Registry) RegisterDefinition(def *handlers.Definition) {
	if _, exists := r.definitions[def.Type]; exists {
		panic(fmt.Sprintf("resource definition for type '%s' already registered", def.Type))
	}
	slog.Debug("Registering resource definition.", "type", def.Type, "parents", def.Parents)
	if def.Catalog == nil {
		def.Catalog = r.Catalog
	}
	r.definitions[def.Type] = def
	r.Handlers.RegisterStandard(def)
}

// RegisterOperation binds a custom operation to a resource type.
func (r *Registry) RegisterOperation(resourceType, opName string, h handlers.Handler) {
	r.Handlers.RegisterHandler(resourceType, opName, h)
}

// RegisterStartup appends an operation to run after boot.
func (r *Registry) RegisterStartup(op *operation.Operation) {
	slog.Debug("Registering startup operation.", "operation", op.String())
	r.Startup = append(r.Startup, op)
}

// Definition returns the definition of a resource type.
func (r *Registry) Definition(resourceType string) (*handlers.Definition, bool) {
	def, ok := r.definitions[resourceType]
	return def, ok
}

// Types lists the registered resource types, sorted.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.definitions))
	for t := range r.definitions {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ChildTypes lists the resource types that may be created under parentType.
func (r *Registry) ChildTypes(parentType string) []string {
	var out []string
	for _, t := range r.Types() {
		for _, p := range r.definitions[t].Parents {
			if p == parentType {
				out = append(out, t)
				break
			}
		}
	}
	return out
}
