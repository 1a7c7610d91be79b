package messaging

import (
	"context"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/brokerconf/internal/address"
	"github.com/vk/brokerconf/internal/broker"
	"github.com/vk/brokerconf/internal/catalog"
	"github.com/vk/brokerconf/internal/handlers"
	"github.com/vk/brokerconf/internal/operation"
	"github.com/vk/brokerconf/internal/pipeline"
	"github.com/vk/brokerconf/internal/registry"
	"github.com/vk/brokerconf/internal/service"
)

// Module implements the registry.Module interface for the messaging
// subsystem.
type Module struct {
	Engine   broker.Engine
	Resolver catalog.Resolver
}

var _ registry.Module = (*Module)(nil)

// Register declares the catalog, resource definitions, runtime operations,
// transformers and startup operation of the subsystem.
func (m *Module) Register(r *registry.Registry) {
	resolver := m.Resolver
	if resolver == nil {
		resolver = catalog.OSResolver{}
	}
	registerCatalog(r.Catalog)

	live := handlers.Hooks{
		RuntimeReady: serverRunning,
		Apply:        m.apply,
		ReadRuntime:  m.readRuntime,
	}
	define := func(typ string, parents []string, services func(context.Context, *pipeline.Context, address.Address, map[string]cty.Value) ([]service.Descriptor, error)) *handlers.Definition {
		hooks := live
		hooks.Services = services
		return &handlers.Definition{Type: typ, Parents: parents, Resolver: resolver, Hooks: hooks}
	}
	underServer := []string{TypeServer}

	root := define(TypeRoot, nil, nil)
	root.Hooks.Apply, root.Hooks.ReadRuntime = nil, nil
	r.RegisterDefinition(root)
	r.RegisterDefinition(define(TypeServer, []string{TypeRoot}, m.serverServices))
	r.RegisterDefinition(define(TypeQueue, underServer, m.componentServices))
	r.RegisterDefinition(define(TypeConnector, underServer, m.componentServices))
	r.RegisterDefinition(define(TypeDiscoveryGroup, underServer, m.componentServices))
	r.RegisterDefinition(define(TypeConnectionFactory, underServer, m.connectionFactoryServices))

	s := &starter{registry: r}
	r.RegisterOperation(TypeRoot, OpReload, s.reload)
	for _, op := range []string{broker.OpPause, broker.OpResume, broker.OpCountMessages, broker.OpRemoveMessages} {
		r.RegisterOperation(TypeQueue, op, m.queueOperation)
	}

	registerTransformers(r)
	r.RegisterStartup(operation.New(OpReload, address.Root(), nil))
}

// serverRunning reports whether the server owning addr is up. The subsystem
// root is always live once booted.
func serverRunning(oc *pipeline.Context, addr address.Address) bool {
	if addr.IsRoot() {
		return true
	}
	h, ok := oc.LookupService(address.ServiceName(serverAddress(addr)))
	return ok && h.State() == service.StateUp
}

func (m *Module) serverServices(_ context.Context, _ *pipeline.Context, addr address.Address, model map[string]cty.Value) ([]service.Descriptor, error) {
	svc := &serverService{engine: m.Engine, name: addr.Name(), settings: settingsOf(model)}
	return []service.Descriptor{{
		Name:    address.ServiceName(addr),
		Owner:   addr,
		Factory: func(context.Context) (service.Service, error) { return svc, nil },
	}}, nil
}

func (m *Module) componentServices(_ context.Context, _ *pipeline.Context, addr address.Address, model map[string]cty.Value) ([]service.Descriptor, error) {
	return []service.Descriptor{m.component(addr, model)}, nil
}

// connectionFactoryServices depends on the connectors or discovery group the
// factory names.
func (m *Module) connectionFactoryServices(_ context.Context, _ *pipeline.Context, addr address.Address, model map[string]cty.Value) ([]service.Descriptor, error) {
	d := m.component(addr, model)
	server := serverAddress(addr)
	if v, ok := model["connectors"]; ok && !v.IsNull() {
		for it := v.ElementIterator(); it.Next(); {
			_, name := it.Element()
			d.Deps = append(d.Deps, address.ServiceName(server.Append(TypeConnector, name.AsString())))
		}
	}
	if v, ok := model["discovery-group"]; ok && !v.IsNull() {
		d.Deps = append(d.Deps, address.ServiceName(server.Append(TypeDiscoveryGroup, v.AsString())))
	}
	return []service.Descriptor{d}, nil
}

func (m *Module) component(addr address.Address, model map[string]cty.Value) service.Descriptor {
	svc := &componentService{engine: m.Engine, ref: refOf(addr), settings: settingsOf(model)}
	return service.Descriptor{
		Name:    address.ServiceName(addr),
		Owner:   addr,
		Factory: func(context.Context) (service.Service, error) { return svc, nil },
		Deps:    []string{address.ServiceName(serverAddress(addr))},
	}
}

func (m *Module) apply(ctx context.Context, h *service.Handle, name string, v cty.Value) error {
	c, err := controlledService(h)
	if err != nil {
		return err
	}
	return m.Engine.SetAttribute(ctx, c.Ref(), name, v)
}

func (m *Module) readRuntime(ctx context.Context, h *service.Handle, name string) (cty.Value, error) {
	c, err := controlledService(h)
	if err != nil {
		return cty.NilVal, err
	}
	return m.Engine.ReadAttribute(ctx, c.Ref(), name)
}
