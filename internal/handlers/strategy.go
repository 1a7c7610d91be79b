package handlers

import (
	"context"

	"github.com/vk/brokerconf/internal/pipeline"
)

// Strategy is the shape shared by the lifecycle templates: a MODEL-stage
// validate function, an optional RUNTIME-stage apply function and the undo of
// each. One generic runner turns it into pipeline steps.
type Strategy struct {
	Name      string
	Validate  func(ctx context.Context, oc *pipeline.Context) error
	ModelUndo func(ctx context.Context, oc *pipeline.Context) error
	// NeedsRuntime is consulted after Validate succeeds; nil means Apply
	// always runs when set.
	NeedsRuntime func(oc *pipeline.Context) bool
	Apply        func(ctx context.Context, oc *pipeline.Context) error
	Undo         func(ctx context.Context, oc *pipeline.Context) error
}

// Step builds the MODEL step of the strategy.
func (s Strategy) Step() pipeline.Step {
	return pipeline.Step{
		Name: s.Name,
		Execute: func(ctx context.Context, oc *pipeline.Context) error {
			if err := s.Validate(ctx, oc); err != nil {
				return err
			}
			if s.Apply == nil || (s.NeedsRuntime != nil && !s.NeedsRuntime(oc)) {
				return nil
			}
			return oc.AddStep(pipeline.StageRuntime, pipeline.Step{
				Name:    s.Name + " (runtime)",
				Execute: s.Apply,
				Undo:    s.Undo,
			})
		},
		Undo: s.ModelUndo,
	}
}
