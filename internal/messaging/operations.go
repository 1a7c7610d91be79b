package messaging

import (
	"context"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/brokerconf/internal/address"
	"github.com/vk/brokerconf/internal/broker"
	"github.com/vk/brokerconf/internal/failure"
	"github.com/vk/brokerconf/internal/operation"
	"github.com/vk/brokerconf/internal/pipeline"
	"github.com/vk/brokerconf/internal/service"
)

// inverse maps the reversible queue operations to their undo.
var inverse = map[string]string{
	broker.OpPause:  broker.OpResume,
	broker.OpResume: broker.OpPause,
}

// queueOperation runs a control operation against a live queue. Pause and
// resume are undone on rollback; removed messages are gone for good.
func (m *Module) queueOperation(op *operation.Operation) pipeline.Step {
	addr := op.Address()
	var (
		ref     broker.Ref
		changed bool
	)

	return pipeline.Step{
		Name: op.Name() + " " + addr.String(),
		Execute: func(ctx context.Context, oc *pipeline.Context) error {
			if !oc.Exists(addr) {
				return failure.New(failure.NoSuchResource, "resource %s does not exist", addr)
			}
			return oc.AddStep(pipeline.StageRuntime, pipeline.Step{
				Name: op.Name() + " " + addr.String() + " (runtime)",
				Execute: func(ctx context.Context, oc *pipeline.Context) error {
					h, ok := oc.LookupService(address.ServiceName(addr))
					if !ok || h.State() != service.StateUp {
						return failure.New(failure.OperationRejected, "queue %s is not running", addr)
					}
					c, err := controlledService(h)
					if err != nil {
						return err
					}
					ref = c.Ref()

					if _, reversible := inverse[op.Name()]; reversible {
						paused, err := m.Engine.ReadAttribute(ctx, ref, "paused")
						if err != nil {
							return failure.Wrap(failure.ServiceApplyFailed, err, "reading state of %s", addr)
						}
						changed = isTrue(paused) != (op.Name() == broker.OpPause)
						oc.MarkRuntimeAffected()
					}

					res, err := m.Engine.Invoke(ctx, ref, op.Name(), op.Params())
					if err != nil {
						changed = false
						return failure.Wrap(failure.ServiceApplyFailed, err, "%s on %s", op.Name(), addr)
					}
					oc.SetResult(res)
					return nil
				},
				Undo: func(ctx context.Context, oc *pipeline.Context) error {
					if !changed {
						return nil
					}
					changed = false
					_, err := m.Engine.Invoke(ctx, ref, inverse[op.Name()], nil)
					return err
				},
			})
		},
	}
}

func isTrue(v cty.Value) bool {
	return v.Type() == cty.Bool && v.IsKnown() && !v.IsNull() && v.True()
}
