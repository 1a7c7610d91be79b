package messaging

import (
	"context"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/brokerconf/internal/address"
	"github.com/vk/brokerconf/internal/ctxlog"
	"github.com/vk/brokerconf/internal/operation"
	"github.com/vk/brokerconf/internal/pipeline"
	"github.com/vk/brokerconf/internal/registry"
	"github.com/vk/brokerconf/internal/service"
	"github.com/vk/brokerconf/internal/tree"
)

// OpReload restarts every server from the committed model and clears the
// reload-required flag.
const OpReload = "reload"

// starter runs the bulk startup of servers.
type starter struct {
	registry *registry.Registry
}

func (s *starter) reload(op *operation.Operation) pipeline.Step {
	var stopped []service.Descriptor
	var servers []string

	return pipeline.Step{
		Name: "reload",
		Execute: func(ctx context.Context, oc *pipeline.Context) error {
			root, err := oc.Read(address.Root())
			if err != nil {
				return err
			}
			servers = root.ChildNames(TypeServer)
			oc.SetResult(cty.NullVal(cty.DynamicPseudoType))
			return oc.AddStep(pipeline.StageRuntime, pipeline.Step{
				Name: "reload servers",
				Execute: func(ctx context.Context, oc *pipeline.Context) error {
					logger := ctxlog.FromContext(ctx)
					for _, name := range servers {
						removed, err := oc.RemoveOwnedServices(ctx, address.Of(TypeServer, name))
						stopped = append(stopped, removed...)
						if err != nil {
							return err
						}
					}
					for _, name := range servers {
						installed, err := s.startServer(ctx, oc, root, name)
						if err != nil {
							return err
						}
						logger.Info("✅ Server started.", "server", name, "services", len(installed))
					}
					oc.Reload().ClearReload()
					return nil
				},
				Undo: func(ctx context.Context, oc *pipeline.Context) error {
					for _, name := range servers {
						if _, err := oc.RemoveOwnedServices(ctx, address.Of(TypeServer, name)); err != nil {
							return err
						}
					}
					err := oc.ReinstallServices(ctx, stopped)
					stopped = nil
					return err
				},
			})
		},
	}
}

// startServer installs a server and the services of all its children,
// connectors and discovery groups before the resources that use them.
func (s *starter) startServer(ctx context.Context, oc *pipeline.Context, root *tree.Resource, name string) ([]service.Descriptor, error) {
	serverAddr := address.Of(TypeServer, name)
	server, ok := root.Child(TypeServer, name)
	if !ok {
		return nil, nil
	}
	def, _ := s.registry.Definition(TypeServer)
	first, err := def.Descriptors(ctx, oc, serverAddr, server)
	if err != nil {
		return nil, err
	}

	tiers := [][]service.Descriptor{first, nil, nil}
	for _, ct := range server.ChildTypes() {
		def, ok := s.registry.Definition(ct)
		if !ok {
			continue
		}
		tier := 2
		if ct == TypeConnector || ct == TypeDiscoveryGroup {
			tier = 1
		}
		for _, cn := range server.ChildNames(ct) {
			child, _ := server.Child(ct, cn)
			descs, err := def.Descriptors(ctx, oc, serverAddr.Append(ct, cn), child)
			if err != nil {
				return nil, err
			}
			tiers[tier] = append(tiers[tier], descs...)
		}
	}
	return oc.InstallServicePlan(ctx, tiers...)
}
