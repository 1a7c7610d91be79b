package handlers

import (
	"context"

	"github.com/vk/brokerconf/internal/address"
	"github.com/vk/brokerconf/internal/ctxlog"
	"github.com/vk/brokerconf/internal/operation"
	"github.com/vk/brokerconf/internal/pipeline"
	"github.com/vk/brokerconf/internal/service"
	"github.com/vk/brokerconf/internal/tree"
)

// Remove detaches a resource subtree and destroys the services it owns. The
// removed subtree and the service descriptors are kept so that a rollback
// can restore both exactly.
func (d *Definition) Remove(op *operation.Operation) pipeline.Step {
	addr := op.Address()
	var (
		snapshot *tree.Resource
		removed  []service.Descriptor
	)

	return Strategy{
		Name: "remove " + addr.String(),
		Validate: func(ctx context.Context, oc *pipeline.Context) error {
			subtree, err := oc.RemoveResource(addr)
			if err != nil {
				return err
			}
			snapshot = subtree
			oc.SetCompensating(RecreateOperation(addr, subtree))
			return nil
		},
		ModelUndo: func(ctx context.Context, oc *pipeline.Context) error {
			if snapshot == nil {
				return nil
			}
			return oc.RestoreResource(addr, snapshot)
		},
		Apply: func(ctx context.Context, oc *pipeline.Context) error {
			var err error
			removed, err = oc.RemoveOwnedServices(ctx, addr)
			if err != nil {
				return err
			}
			if len(removed) == 0 && d.Hooks.Services != nil && d.runtimeReady(oc, addr) {
				ctxlog.FromContext(ctx).Warn("Configuration inconsistency: no live service found for removed resource; continuing with the model change only.",
					"address", addr.String(), "service", address.ServiceName(addr))
			}
			return nil
		},
		Undo: func(ctx context.Context, oc *pipeline.Context) error {
			if len(removed) == 0 {
				return nil
			}
			err := oc.ReinstallServices(ctx, removed)
			removed = nil
			return err
		},
	}.Step()
}

// RecreateOperation builds the operation that recreates a removed subtree:
// a single add for a leaf, a composite of adds (parents first) otherwise.
func RecreateOperation(addr address.Address, subtree *tree.Resource) *operation.Operation {
	var adds []*operation.Operation
	subtree.Walk(addr, func(at address.Address, r *tree.Resource) bool {
		adds = append(adds, operation.New(operation.Add, at, r.Attributes()))
		return true
	})
	if len(adds) == 1 {
		return adds[0]
	}
	return operation.NewComposite(adds...)
}
