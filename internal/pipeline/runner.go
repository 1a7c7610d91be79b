package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/brokerconf/internal/ctxlog"
	"github.com/vk/brokerconf/internal/failure"
	"github.com/vk/brokerconf/internal/operation"
)

// Run executes entry as the first MODEL step and drives the operation to
// COMMITTED or ROLLED_BACK.
func (oc *Context) Run(ctx context.Context, entry Step) *operation.Result {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("▶️ Executing operation.", "dry_run", oc.headers.DryRun)

	oc.queues[StageModel] = append(oc.queues[StageModel], queued{step: entry, slot: oc.root})
	action := oc.executeNext(ctx)

	if action == Rollback {
		oc.cfg.Overlay.Discard()
		if oc.cfg.Reload != nil {
			oc.cfg.Reload.RevertReload()
		}
	}

	res := &operation.Result{
		Outcome:        operation.Success,
		Result:         oc.root.Result,
		RolledBack:     action == Rollback,
		Compensating:   oc.root.Compensating,
		ReloadRequired: oc.cfg.Reload != nil && oc.cfg.Reload.IsReloadRequired(),
	}
	if res.Result.Type() == cty.NilType {
		res.Result = cty.NullVal(cty.DynamicPseudoType)
	}
	if action == Rollback {
		res.Compensating = nil
	}

	err := oc.failure
	if len(oc.undoErrors) > 0 {
		err = failure.Wrap(failure.RollbackFailed, errors.Join(oc.undoErrors...),
			"rolling back %q left the model and the running services inconsistent (original failure: %s)",
			oc.cfg.Operation.Name(), failure.Describe(oc.failure))
	}
	if err != nil {
		res.Outcome = operation.Failed
		res.FailureDescription = failure.Describe(err)
		res.FailureKind = failure.KindOf(err)
	}

	switch {
	case err != nil && action == Rollback:
		logger.Warn("⏪ Operation rolled back.", "kind", res.FailureKind, "error", res.FailureDescription)
	case err != nil:
		logger.Warn("Operation failed; model changes were kept.", "kind", res.FailureKind, "error", res.FailureDescription)
	case action == Rollback:
		logger.Info("⏪ Operation rolled back on request.")
	default:
		logger.Debug("🏁 Operation committed.", "reload_required", res.ReloadRequired)
	}
	return res
}

// CompleteStep is the continuation barrier: it runs every remaining step of
// the operation and reports whether the current step must keep or undo its
// effect. It may be called at most once per step; steps that do not call it
// get an implicit call after Execute returns.
func (oc *Context) CompleteStep(ctx context.Context) ResultAction {
	a := oc.current
	if a == nil {
		panic("pipeline: CompleteStep called outside of a step")
	}
	if a.completed {
		panic(fmt.Sprintf("pipeline: CompleteStep called twice by step %q", a.step.Name))
	}
	a.completed = true
	if oc.rollingBack() {
		a.action = Rollback
	} else {
		a.action = oc.executeNext(ctx)
	}
	if a.action == Rollback {
		oc.unwinding = true
	}
	return a.action
}

// executeNext runs the next queued step, advancing stages as queues drain,
// and returns the fate of the operation as seen from the caller.
func (oc *Context) executeNext(ctx context.Context) ResultAction {
	logger := ctxlog.FromContext(ctx)

	var next queued
	for {
		if oc.rollingBack() {
			return Rollback
		}
		if oc.stage < StageDone && len(oc.queues[oc.stage]) > 0 {
			next = oc.queues[oc.stage][0]
			oc.queues[oc.stage] = oc.queues[oc.stage][1:]
			break
		}
		if oc.stage == StageDone {
			return oc.finish(ctx)
		}
		if oc.stage == StageModel && !oc.cfg.Boot && len(oc.queues[StageRuntime]) > 0 {
			if err := oc.cfg.Overlay.Reserve(ctx); err != nil {
				oc.setFailure(err)
				continue
			}
		}
		if oc.stage == StageRuntime && oc.runtimeAffected && oc.cfg.Services != nil {
			if err := oc.cfg.Services.AwaitSettled(ctx); err != nil {
				oc.setFailure(failure.Wrap(failure.ServiceApplyFailed, err, "waiting for services to settle"))
			}
		}
		oc.stage++
		logger.Debug("Entering stage.", "stage", oc.stage.String())
	}

	a := &active{queued: next, stage: oc.stage}
	prev := oc.current
	oc.current = a
	defer func() { oc.current = prev }()

	logger.Debug("Executing step.", "step", next.step.Name, "stage", a.stage.String())
	if err := oc.execute(ctx, next.step); err != nil {
		oc.setFailure(err)
		if a.stage != StageModel && !oc.headers.RollbackOnRuntimeFailure && oc.cfg.Reload != nil {
			oc.cfg.Reload.RequireReload()
		}
	}
	if !a.completed {
		oc.CompleteStep(ctx)
	}

	if a.action == Rollback && next.step.Undo != nil {
		logger.Debug("Undoing step.", "step", next.step.Name)
		if err := oc.undo(ctx, next.step); err != nil {
			logger.Error("Undo failed.", "step", next.step.Name, "error", err)
			oc.undoErrors = append(oc.undoErrors, fmt.Errorf("%s: %w", next.step.Name, err))
		}
	}
	return a.action
}

// finish commits the overlay. A failed commit turns into a rollback.
func (oc *Context) finish(ctx context.Context) ResultAction {
	if oc.headers.DryRun {
		oc.rollbackOnly = true
		return Rollback
	}
	if err := oc.cfg.Overlay.Commit(oc.cfg.Persist); err != nil {
		oc.setFailure(err)
		return Rollback
	}
	oc.committed = true
	if oc.cfg.Reload != nil {
		oc.cfg.Reload.Publish()
	}
	ctxlog.FromContext(ctx).Debug("✅ Model committed.")
	return Keep
}

// Committed reports whether the overlay was merged into the shared tree.
func (oc *Context) Committed() bool { return oc.committed }

func (oc *Context) execute(ctx context.Context, step Step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = failure.New(failure.ServiceApplyFailed, "step %q panicked: %v", step.Name, r)
		}
	}()
	return step.Execute(ctx, oc)
}

func (oc *Context) undo(ctx context.Context, step Step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("undo of step %q panicked: %v", step.Name, r)
		}
	}()
	return step.Undo(ctx, oc)
}

// DescribeSlots joins the failures of nested slots for a composite result.
func DescribeSlots(slots []*Slot) string {
	var parts []string
	for i, s := range slots {
		if s.Failure != nil {
			parts = append(parts, fmt.Sprintf("step-%d: %s", i+1, failure.Describe(s.Failure)))
		}
	}
	return strings.Join(parts, "; ")
}
