// Package controller executes management operations against one model: it
// resolves handlers, runs the step pipeline, commits and persists the
// model, and keeps the metrics current.
package controller

import (
	"context"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/brokerconf/internal/address"
	"github.com/vk/brokerconf/internal/ctxlog"
	"github.com/vk/brokerconf/internal/failure"
	"github.com/vk/brokerconf/internal/metrics"
	"github.com/vk/brokerconf/internal/operation"
	"github.com/vk/brokerconf/internal/pipeline"
	"github.com/vk/brokerconf/internal/registry"
	"github.com/vk/brokerconf/internal/reload"
	"github.com/vk/brokerconf/internal/service"
	"github.com/vk/brokerconf/internal/transform"
	"github.com/vk/brokerconf/internal/tree"
)

// Options configures a Controller.
type Options struct {
	Registry  *registry.Registry
	Container service.Container
	// Persist runs under the commit lock of every commit that changed the
	// model. Nil disables persistence.
	Persist tree.PersistFunc
	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Controller is the entry point for management operations.
type Controller struct {
	registry *registry.Registry
	tree     *tree.Tree
	services *service.Coordinator
	tracker  *reload.Tracker
	persist  tree.PersistFunc
	metrics  *metrics.Metrics
}

// New creates a controller with an empty model.
func New(opts Options) *Controller {
	container := opts.Container
	if container == nil {
		container = service.NewMemoryContainer()
	}
	c := &Controller{
		registry: opts.Registry,
		tree:     tree.New(),
		services: service.NewCoordinator(container),
		tracker:  reload.NewTracker(),
		persist:  opts.Persist,
		metrics:  opts.Metrics,
	}
	if c.metrics != nil {
		c.tracker.OnChange(c.metrics.SetReloadRequired)
	}
	return c
}

// Registry returns the registry the controller dispatches to.
func (c *Controller) Registry() *registry.Registry { return c.registry }

// Tree returns the committed model.
func (c *Controller) Tree() *tree.Tree { return c.tree }

// Services returns the service coordinator.
func (c *Controller) Services() *service.Coordinator { return c.services }

// ReloadRequired reports whether accepted changes wait for a restart.
func (c *Controller) ReloadRequired() bool { return c.tracker.IsReloadRequired() }

// Metrics returns the metrics the controller updates, or nil.
func (c *Controller) Metrics() *metrics.Metrics { return c.metrics }

// Execute runs one operation to completion and returns its result. It never
// returns nil.
func (c *Controller) Execute(ctx context.Context, op *operation.Operation) *operation.Result {
	return c.run(ctx, op, false)
}

func (c *Controller) run(ctx context.Context, op *operation.Operation, boot bool) *operation.Result {
	id := uuid.NewString()
	ctx = ctxlog.WithOperation(ctx, id, op.Name(), op.Address().String())
	start := time.Now()

	res := c.execute(ctx, op, boot)
	res.OperationID = id

	if target := op.Headers().ClientVersion; target != nil && res.Succeeded() {
		transformed, err := c.registry.Transforms.TransformResult(op, target, res.Result)
		if err != nil {
			ctxlog.FromContext(ctx).Warn("Result could not be transformed for the client version.", "client_version", target.String(), "error", err)
		} else {
			res.Result = transformed
		}
	}

	if c.metrics != nil {
		c.metrics.ObserveOperation(op.Name(), res, time.Since(start))
		c.metrics.SetServices(c.services.Count())
	}
	return res
}

func (c *Controller) execute(ctx context.Context, op *operation.Operation, boot bool) *operation.Result {
	entry, err := c.entryStep(op)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("Operation rejected.", "error", err)
		return operation.FailedResult(err)
	}
	persist := c.persist
	if boot {
		persist = nil
	}
	oc := pipeline.New(pipeline.Config{
		Operation: op,
		Overlay:   c.tree.Begin(),
		Services:  c.services,
		Reload:    c.tracker.Begin(),
		Persist:   persist,
		Boot:      boot,
	})
	return oc.Run(ctx, entry)
}

// entryStep resolves the first step of an operation.
func (c *Controller) entryStep(op *operation.Operation) (pipeline.Step, error) {
	if op.IsComposite() {
		return c.compositeStep(op), nil
	}
	handler, ok := c.registry.Handlers.Lookup(op.Address().Type(), op.Name())
	if !ok {
		typ := op.Address().Type()
		if typ == "" {
			typ = "the subsystem root"
		}
		return pipeline.Step{}, failure.New(failure.UnknownOperation, "operation %q is not defined for %s", op.Name(), typ)
	}
	return handler(op), nil
}

// Boot rebuilds the model from ops without runtime effects and then runs
// the registered startup operations.
func (c *Controller) Boot(ctx context.Context, ops []*operation.Operation) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("▶️ Booting management model.", "operations", len(ops))

	if len(ops) > 0 {
		res := c.run(ctx, operation.NewComposite(ops...), true)
		if !res.Succeeded() {
			return failure.New(res.FailureKind, "loading the persisted model failed: %s", res.FailureDescription)
		}
	}
	for _, op := range c.registry.Startup {
		res := c.run(ctx, op, false)
		if !res.Succeeded() {
			return failure.New(res.FailureKind, "startup operation %s failed: %s", op, res.FailureDescription)
		}
	}

	logger.Info("✅ Management model booted.", "services", c.services.Count())
	return nil
}

// Transform converts op for a caller at version target without executing it.
func (c *Controller) Transform(op *operation.Operation, target *semver.Version) (transform.Outcome, error) {
	return c.registry.Transforms.TransformOperation(op, target)
}

// Shutdown removes every running service, dependents first.
func (c *Controller) Shutdown(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("🔥 Stopping all services.", "services", c.services.Count())
	_, err := c.services.RemoveOwned(ctx, address.Root())
	if c.metrics != nil {
		c.metrics.SetServices(c.services.Count())
	}
	if err != nil {
		return err
	}
	logger.Info("🏁 All services stopped.")
	return nil
}

// Read is a shortcut for a read-resource of addr with runtime attributes.
func (c *Controller) Read(ctx context.Context, addr address.Address, recursive bool) (cty.Value, error) {
	op := operation.New(operation.ReadResource, addr, map[string]cty.Value{
		operation.ParamRecursive:      cty.BoolVal(recursive),
		operation.ParamIncludeRuntime: cty.True,
	})
	res := c.Execute(ctx, op)
	if err := res.Err(); err != nil {
		return cty.NilVal, err
	}
	return res.Result, nil
}
