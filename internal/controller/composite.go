package controller

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/brokerconf/internal/failure"
	"github.com/vk/brokerconf/internal/operation"
	"github.com/vk/brokerconf/internal/pipeline"
)

// compositeStep runs every step of a composite operation in the same
// context. Each step reports into its own slot; the composite result lists
// them as step-1..N.
func (c *Controller) compositeStep(op *operation.Operation) pipeline.Step {
	return pipeline.Step{
		Name: operation.Composite,
		Execute: func(ctx context.Context, oc *pipeline.Context) error {
			steps := op.Steps()
			slots := make([]*pipeline.Slot, len(steps))
			for i, sub := range steps {
				entry, err := c.entryStep(sub)
				if err != nil {
					return fmt.Errorf("step-%d: %w", i+1, err)
				}
				slots[i] = pipeline.NewSlot(sub)
				if err := oc.AddStepWithSlot(pipeline.StageModel, entry, slots[i]); err != nil {
					return err
				}
			}

			action := oc.CompleteStep(ctx)
			oc.SetResult(compositeResult(slots, action == pipeline.Rollback))
			if action == pipeline.Keep {
				oc.SetCompensating(compensation(slots))
			}
			return nil
		},
	}
}

func compositeResult(slots []*pipeline.Slot, rolledBack bool) cty.Value {
	if len(slots) == 0 {
		return cty.EmptyObjectVal
	}
	steps := make(map[string]cty.Value, len(slots))
	for i, s := range slots {
		fields := map[string]cty.Value{
			"outcome":     cty.StringVal(string(operation.Success)),
			"result":      s.Result,
			"rolled-back": cty.BoolVal(rolledBack),
		}
		if s.Result.Type() == cty.NilType {
			fields["result"] = cty.NullVal(cty.DynamicPseudoType)
		}
		if s.Failure != nil {
			fields["outcome"] = cty.StringVal(string(operation.Failed))
			fields["failure-description"] = cty.StringVal(failure.Describe(s.Failure))
		}
		steps[fmt.Sprintf("step-%d", i+1)] = cty.ObjectVal(fields)
	}
	return cty.ObjectVal(steps)
}

// compensation undoes the steps in reverse order. Steps without a
// compensating operation (reads) are skipped.
func compensation(slots []*pipeline.Slot) *operation.Operation {
	var undo []*operation.Operation
	for i := len(slots) - 1; i >= 0; i-- {
		if comp := slots[i].Compensating; comp != nil {
			undo = append(undo, comp)
		}
	}
	if len(undo) == 0 {
		return nil
	}
	return operation.NewComposite(undo...)
}
