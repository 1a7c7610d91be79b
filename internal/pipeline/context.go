package pipeline

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/brokerconf/internal/address"
	"github.com/vk/brokerconf/internal/failure"
	"github.com/vk/brokerconf/internal/operation"
	"github.com/vk/brokerconf/internal/reload"
	"github.com/vk/brokerconf/internal/service"
	"github.com/vk/brokerconf/internal/tree"
)

// Step is one unit of work bound to a stage.
type Step struct {
	Name    string
	Execute func(ctx context.Context, oc *Context) error
	// Undo runs when the operation rolls back after this step completed.
	Undo func(ctx context.Context, oc *Context) error
}

// Slot collects the outcome of one (possibly nested) operation. Steps added
// by a step share its slot unless a new one is given.
type Slot struct {
	Operation    *operation.Operation
	Result       cty.Value
	Compensating *operation.Operation
	Failure      error
}

// NewSlot creates an empty slot for op.
func NewSlot(op *operation.Operation) *Slot {
	return &Slot{Operation: op, Result: cty.NilVal}
}

type queued struct {
	step Step
	slot *Slot
}

type active struct {
	queued
	stage     Stage
	insertAt  int
	completed bool
	action    ResultAction
}

// Config wires a Context to the model and the services.
type Config struct {
	Operation *operation.Operation
	Overlay   *tree.Overlay
	Services  *service.Coordinator
	Reload    *reload.Flag
	Persist   tree.PersistFunc
	// Boot disables runtime effects: RUNTIME and VERIFY steps are skipped
	// with a debug line.
	Boot bool
}

// Context is the state threaded through every step of one operation.
type Context struct {
	cfg     Config
	headers operation.Headers

	stage   Stage
	queues  [StageDone][]queued
	current *active

	failure      error
	failureStage Stage
	rollbackOnly bool
	unwinding    bool
	committed    bool
	undoErrors   []error

	runtimeAffected bool
	root            *Slot
}

// New creates a context for cfg.Operation.
func New(cfg Config) *Context {
	return &Context{
		cfg:     cfg,
		headers: cfg.Operation.Headers(),
		stage:   StageModel,
		root:    NewSlot(cfg.Operation),
	}
}

// Operation returns the top-level operation.
func (oc *Context) Operation() *operation.Operation { return oc.cfg.Operation }

// Headers returns the top-level operation headers.
func (oc *Context) Headers() operation.Headers { return oc.headers }

// Stage returns the stage currently executing.
func (oc *Context) Stage() Stage { return oc.stage }

// IsBooting reports whether the operation runs during boot.
func (oc *Context) IsBooting() bool { return oc.cfg.Boot }

// IsUnwinding reports whether undo functions are running.
func (oc *Context) IsUnwinding() bool { return oc.unwinding }

// Reload returns the operation's reload-required flag.
func (oc *Context) Reload() *reload.Flag { return oc.cfg.Reload }

// Slot returns the slot of the step currently executing.
func (oc *Context) Slot() *Slot {
	if oc.current == nil {
		return oc.root
	}
	return oc.current.slot
}

// SetResult stores the result of the current operation.
func (oc *Context) SetResult(v cty.Value) { oc.Slot().Result = v }

// SetCompensating records the operation that would undo the current one.
func (oc *Context) SetCompensating(op *operation.Operation) { oc.Slot().Compensating = op }

// SetRollbackOnly makes the operation roll back even if every step succeeds.
func (oc *Context) SetRollbackOnly() { oc.rollbackOnly = true }

// Failure returns the recorded failure.
func (oc *Context) Failure() error { return oc.failure }

// AddStep queues a step. A step added to the current stage runs before any
// step queued earlier, after the steps the caller added before it.
func (oc *Context) AddStep(stage Stage, step Step) error {
	return oc.add(stage, queued{step: step, slot: oc.Slot()}, false)
}

// AddStepWithSlot queues a step that reports into its own slot.
func (oc *Context) AddStepWithSlot(stage Stage, step Step, slot *Slot) error {
	return oc.add(stage, queued{step: step, slot: slot}, false)
}

// AddImmediateStep queues a step that runs next in its stage.
func (oc *Context) AddImmediateStep(stage Stage, step Step) error {
	return oc.add(stage, queued{step: step, slot: oc.Slot()}, true)
}

func (oc *Context) add(stage Stage, q queued, immediate bool) error {
	if stage < StageModel || stage >= StageDone {
		return fmt.Errorf("steps cannot be added to stage %s", stage)
	}
	if stage < oc.stage || (oc.current != nil && oc.current.completed) {
		return fmt.Errorf("stage %s has already completed", stage)
	}
	if oc.cfg.Boot && stage != StageModel {
		return nil
	}

	queue := oc.queues[stage]
	switch {
	case immediate:
		oc.queues[stage] = append([]queued{q}, queue...)
		if oc.current != nil && stage == oc.stage {
			oc.current.insertAt++
		}
	case oc.current != nil && stage == oc.stage:
		i := oc.current.insertAt
		queue = append(queue, queued{})
		copy(queue[i+1:], queue[i:])
		queue[i] = q
		oc.queues[stage] = queue
		oc.current.insertAt++
	default:
		oc.queues[stage] = append(queue, q)
	}
	return nil
}

// setFailure records the first failure of the operation.
func (oc *Context) setFailure(err error) {
	if oc.failure != nil || err == nil {
		return
	}
	oc.failure = err
	oc.failureStage = oc.stage
	oc.Slot().Failure = err
}

// rollingBack reports whether the operation can no longer commit.
func (oc *Context) rollingBack() bool {
	if oc.rollbackOnly {
		return true
	}
	if oc.failure == nil {
		return false
	}
	if oc.failureStage == StageModel || oc.failureStage == StageDone {
		return true
	}
	return oc.headers.RollbackOnRuntimeFailure
}

func (oc *Context) requireStage(what string, stages ...Stage) error {
	if oc.unwinding {
		return nil
	}
	for _, s := range stages {
		if oc.stage == s {
			return nil
		}
	}
	return failure.New(failure.OperationRejected, "%s is not allowed in stage %s", what, oc.stage)
}

// Read returns a read-only view of a resource in the operation's overlay.
func (oc *Context) Read(addr address.Address) (*tree.Resource, error) {
	return oc.cfg.Overlay.Read(addr)
}

// Exists reports whether a resource exists in the operation's overlay.
func (oc *Context) Exists(addr address.Address) bool {
	_, ok := oc.cfg.Overlay.Navigate(addr)
	return ok
}

// ReadForUpdate returns a writable copy of a resource.
func (oc *Context) ReadForUpdate(addr address.Address) (*tree.Resource, error) {
	if err := oc.requireStage("model update", StageModel); err != nil {
		return nil, err
	}
	return oc.cfg.Overlay.ReadForUpdate(addr)
}

// CreateResource adds a resource to the overlay.
func (oc *Context) CreateResource(addr address.Address, r *tree.Resource) (*tree.Resource, error) {
	if err := oc.requireStage("resource creation", StageModel); err != nil {
		return nil, err
	}
	return oc.cfg.Overlay.Create(addr, r)
}

// RemoveResource removes a subtree from the overlay and returns it.
func (oc *Context) RemoveResource(addr address.Address) (*tree.Resource, error) {
	if err := oc.requireStage("resource removal", StageModel); err != nil {
		return nil, err
	}
	return oc.cfg.Overlay.Remove(addr)
}

// RestoreResource puts a removed subtree back.
func (oc *Context) RestoreResource(addr address.Address, r *tree.Resource) error {
	if err := oc.requireStage("resource restore", StageModel); err != nil {
		return err
	}
	return oc.cfg.Overlay.Restore(addr, r)
}

// LookupService returns a live service handle.
func (oc *Context) LookupService(name string) (*service.Handle, bool) {
	if oc.cfg.Services == nil {
		return nil, false
	}
	return oc.cfg.Services.Lookup(name)
}

// ServiceDescriptor returns the descriptor a live service was installed from.
func (oc *Context) ServiceDescriptor(name string) (service.Descriptor, bool) {
	if oc.cfg.Services == nil {
		return service.Descriptor{}, false
	}
	return oc.cfg.Services.Descriptor(name)
}

// InstallService installs a service and waits for it to come up.
func (oc *Context) InstallService(ctx context.Context, d service.Descriptor) (*service.Handle, error) {
	if err := oc.requireStage("service installation", StageRuntime, StageVerify); err != nil {
		return nil, err
	}
	oc.runtimeAffected = true
	return oc.cfg.Services.Install(ctx, d)
}

// InstallServicePlan installs services tier by tier, each tier
// concurrently. Nothing of a failed plan stays installed.
func (oc *Context) InstallServicePlan(ctx context.Context, tiers ...[]service.Descriptor) ([]service.Descriptor, error) {
	if err := oc.requireStage("service installation", StageRuntime, StageVerify); err != nil {
		return nil, err
	}
	oc.runtimeAffected = true
	return oc.cfg.Services.InstallPlan(ctx, tiers...)
}

// RemoveService removes a service and waits for it to stop.
func (oc *Context) RemoveService(ctx context.Context, name string) error {
	if err := oc.requireStage("service removal", StageRuntime, StageVerify); err != nil {
		return err
	}
	oc.runtimeAffected = true
	return oc.cfg.Services.Remove(ctx, name)
}

// RemoveOwnedServices removes every service owned by the subtree at addr.
func (oc *Context) RemoveOwnedServices(ctx context.Context, addr address.Address) ([]service.Descriptor, error) {
	if err := oc.requireStage("service removal", StageRuntime, StageVerify); err != nil {
		return nil, err
	}
	oc.runtimeAffected = true
	return oc.cfg.Services.RemoveOwned(ctx, addr)
}

// ReinstallServices reinstalls services removed by RemoveOwnedServices.
func (oc *Context) ReinstallServices(ctx context.Context, removed []service.Descriptor) error {
	if err := oc.requireStage("service installation", StageRuntime, StageVerify); err != nil {
		return err
	}
	oc.runtimeAffected = true
	return oc.cfg.Services.Reinstall(ctx, removed)
}

// MarkRuntimeAffected records a runtime change made outside the
// coordinator, such as a control call to a live service.
func (oc *Context) MarkRuntimeAffected() {
	oc.runtimeAffected = true
}
