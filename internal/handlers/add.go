package handlers

import (
	"context"

	"github.com/vk/brokerconf/internal/ctxlog"
	"github.com/vk/brokerconf/internal/operation"
	"github.com/vk/brokerconf/internal/pipeline"
	"github.com/vk/brokerconf/internal/tree"
)

// Add validates and writes the full attribute set of a new resource and, if
// its server is already running, installs its services. On a server that is
// not running yet nothing happens at runtime: the server's bulk startup picks
// the resource up from the tree.
func (d *Definition) Add(op *operation.Operation) pipeline.Step {
	addr := op.Address()
	var installed []string

	return Strategy{
		Name: "add " + addr.String(),
		Validate: func(ctx context.Context, oc *pipeline.Context) error {
			if err := d.checkParent(addr); err != nil {
				return err
			}
			model, err := d.Catalog.ValidateAll(d.Type, op.Params())
			if err != nil {
				return err
			}
			if _, err := oc.CreateResource(addr, tree.NewResource(model)); err != nil {
				return err
			}
			oc.SetCompensating(operation.New(operation.Remove, addr, nil))
			return nil
		},
		NeedsRuntime: func(oc *pipeline.Context) bool {
			return d.Hooks.Services != nil
		},
		Apply: func(ctx context.Context, oc *pipeline.Context) error {
			if !d.runtimeReady(oc, addr.Parent()) {
				ctxlog.FromContext(ctx).Debug("Server is not running; services are left to bulk startup.", "address", addr.String())
				return nil
			}
			r, err := oc.Read(addr)
			if err != nil {
				return err
			}
			descriptors, err := d.Descriptors(ctx, oc, addr, r)
			if err != nil {
				return err
			}
			for _, desc := range descriptors {
				if _, err := oc.InstallService(ctx, desc); err != nil {
					return err
				}
				installed = append(installed, desc.Name)
			}
			return nil
		},
		Undo: func(ctx context.Context, oc *pipeline.Context) error {
			for i := len(installed) - 1; i >= 0; i-- {
				if err := oc.RemoveService(ctx, installed[i]); err != nil {
					return err
				}
			}
			installed = nil
			return nil
		},
	}.Step()
}
