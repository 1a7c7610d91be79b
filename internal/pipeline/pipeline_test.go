package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/brokerconf/internal/address"
	"github.com/vk/brokerconf/internal/failure"
	"github.com/vk/brokerconf/internal/operation"
	"github.com/vk/brokerconf/internal/reload"
	"github.com/vk/brokerconf/internal/service"
	"github.com/vk/brokerconf/internal/testutil"
	"github.com/vk/brokerconf/internal/tree"
)

type fixture struct {
	ctx      context.Context
	tree     *tree.Tree
	services *service.Coordinator
	tracker  *reload.Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, _ := testutil.NewContext(t)
	return &fixture{
		ctx:      ctx,
		tree:     tree.New(),
		services: service.NewCoordinator(service.NewMemoryContainer()),
		tracker:  reload.NewTracker(),
	}
}

func (f *fixture) context(op *operation.Operation, persist tree.PersistFunc) *Context {
	return New(Config{
		Operation: op,
		Overlay:   f.tree.Begin(),
		Services:  f.services,
		Reload:    f.tracker.Begin(),
		Persist:   persist,
	})
}

func testOp() *operation.Operation {
	return operation.New("test", address.Root(), nil)
}

// recorder returns a step that appends name to log, optionally running more.
func recorder(log *[]string, name string, then func(ctx context.Context, oc *Context) error) Step {
	return Step{
		Name: name,
		Execute: func(ctx context.Context, oc *Context) error {
			*log = append(*log, name)
			if then != nil {
				return then(ctx, oc)
			}
			return nil
		},
		Undo: func(context.Context, *Context) error {
			*log = append(*log, "undo "+name)
			return nil
		},
	}
}

func TestRun_DepthFirstStageOrdering(t *testing.T) {
	f := newFixture(t)
	var log []string

	entry := recorder(&log, "entry", func(ctx context.Context, oc *Context) error {
		require.NoError(t, oc.AddStep(StageVerify, recorder(&log, "verify", nil)))
		require.NoError(t, oc.AddStep(StageRuntime, recorder(&log, "runtime", nil)))
		require.NoError(t, oc.AddStep(StageModel, recorder(&log, "model-a", func(ctx context.Context, oc *Context) error {
			return oc.AddStep(StageModel, recorder(&log, "model-a-child", nil))
		})))
		require.NoError(t, oc.AddStep(StageModel, recorder(&log, "model-b", nil)))
		return oc.AddImmediateStep(StageModel, recorder(&log, "immediate", nil))
	})

	res := f.context(testOp(), nil).Run(f.ctx, entry)
	require.True(t, res.Succeeded(), res.FailureDescription)
	assert.Equal(t, []string{"entry", "immediate", "model-a", "model-a-child", "model-b", "runtime", "verify"}, log)
	assert.False(t, res.RolledBack)
}

func TestRun_FailureUndoesInReverseOrder(t *testing.T) {
	f := newFixture(t)
	var log []string

	entry := recorder(&log, "validate", func(ctx context.Context, oc *Context) error {
		require.NoError(t, oc.AddStep(StageRuntime, recorder(&log, "install", nil)))
		return oc.AddStep(StageRuntime, recorder(&log, "apply", func(context.Context, *Context) error {
			return errors.New("broker refused")
		}))
	})

	res := f.context(testOp(), nil).Run(f.ctx, entry)
	assert.Equal(t, operation.Failed, res.Outcome)
	assert.True(t, res.RolledBack)
	assert.Equal(t, failure.ServiceApplyFailed, res.FailureKind)
	assert.Equal(t, []string{"validate", "install", "apply", "undo apply", "undo install", "undo validate"}, log)
}

func TestRun_ContinuationBarrier(t *testing.T) {
	f := newFixture(t)
	var log []string
	var seen ResultAction = -1

	entry := Step{
		Name: "install",
		Execute: func(ctx context.Context, oc *Context) error {
			require.NoError(t, oc.AddStep(StageVerify, Step{
				Name:    "veto",
				Execute: func(context.Context, *Context) error { return errors.New("verification failed") },
			}))
			log = append(log, "installed")
			seen = oc.CompleteStep(ctx)
			if seen == Rollback {
				log = append(log, "removed")
			}
			return nil
		},
	}

	res := f.context(testOp(), nil).Run(f.ctx, entry)
	assert.Equal(t, Rollback, seen)
	assert.Equal(t, []string{"installed", "removed"}, log)
	assert.Equal(t, operation.Failed, res.Outcome)
}

func TestRun_AddToCompletedStage(t *testing.T) {
	f := newFixture(t)
	var addErr error

	entry := Step{
		Name: "entry",
		Execute: func(ctx context.Context, oc *Context) error {
			return oc.AddStep(StageRuntime, Step{
				Name: "late",
				Execute: func(ctx context.Context, oc *Context) error {
					addErr = oc.AddStep(StageModel, Step{Name: "too-late", Execute: func(context.Context, *Context) error { return nil }})
					return nil
				},
			})
		},
	}

	res := f.context(testOp(), nil).Run(f.ctx, entry)
	require.True(t, res.Succeeded())
	require.Error(t, addErr)
	assert.Contains(t, addErr.Error(), "already completed")
}

func TestRun_ModelCommitAndStageGuards(t *testing.T) {
	f := newFixture(t)
	addr := address.Of("server", "default")

	var runtimeErr error
	entry := Step{
		Name: "create",
		Execute: func(ctx context.Context, oc *Context) error {
			if _, err := oc.CreateResource(addr, tree.NewResource(map[string]cty.Value{"persistence-enabled": cty.True})); err != nil {
				return err
			}
			return oc.AddStep(StageRuntime, Step{
				Name: "runtime",
				Execute: func(ctx context.Context, oc *Context) error {
					_, runtimeErr = oc.ReadForUpdate(addr)
					return nil
				},
			})
		},
	}

	var persisted *tree.Resource
	res := f.context(testOp(), func(root *tree.Resource) error {
		persisted = root
		return nil
	}).Run(f.ctx, entry)
	require.True(t, res.Succeeded(), res.FailureDescription)
	require.NotNil(t, persisted)
	_, err := f.tree.Read(addr)
	require.NoError(t, err)
	assert.Equal(t, failure.OperationRejected, failure.KindOf(runtimeErr))
}

func TestRun_PersistenceFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	addr := address.Of("server", "default")
	var log []string

	entry := recorder(&log, "create", func(ctx context.Context, oc *Context) error {
		_, err := oc.CreateResource(addr, nil)
		return err
	})

	res := f.context(testOp(), func(*tree.Resource) error { return errors.New("read-only file system") }).Run(f.ctx, entry)
	assert.Equal(t, failure.PersistenceFailed, res.FailureKind)
	assert.True(t, res.RolledBack)
	assert.Equal(t, []string{"create", "undo create"}, log)
	_, err := f.tree.Read(addr)
	assert.Equal(t, failure.NoSuchResource, failure.KindOf(err))
}

func TestRun_RuntimeFailureWithoutRollback(t *testing.T) {
	f := newFixture(t)
	addr := address.Of("server", "default")

	op := testOp().WithHeaders(operation.Headers{RollbackOnRuntimeFailure: false})
	entry := Step{
		Name: "create",
		Execute: func(ctx context.Context, oc *Context) error {
			if _, err := oc.CreateResource(addr, nil); err != nil {
				return err
			}
			return oc.AddStep(StageRuntime, Step{
				Name:    "apply",
				Execute: func(context.Context, *Context) error { return errors.New("broker refused") },
			})
		},
	}

	res := f.context(op, nil).Run(f.ctx, entry)
	assert.Equal(t, operation.Failed, res.Outcome)
	assert.False(t, res.RolledBack)
	assert.True(t, res.ReloadRequired)
	assert.True(t, f.tracker.IsReloadRequired())
	_, err := f.tree.Read(addr)
	assert.NoError(t, err, "the model change is kept")
}

func TestRun_DryRun(t *testing.T) {
	f := newFixture(t)
	addr := address.Of("server", "default")

	op := testOp().WithHeaders(operation.Headers{RollbackOnRuntimeFailure: true, DryRun: true})
	entry := Step{
		Name: "create",
		Execute: func(ctx context.Context, oc *Context) error {
			_, err := oc.CreateResource(addr, nil)
			oc.SetResult(cty.StringVal("created"))
			return err
		},
	}

	res := f.context(op, nil).Run(f.ctx, entry)
	assert.True(t, res.Succeeded())
	assert.True(t, res.RolledBack)
	assert.Equal(t, "created", res.Result.AsString())
	_, err := f.tree.Read(addr)
	assert.Error(t, err)
}

func TestRun_UndoFailureIsFatal(t *testing.T) {
	f := newFixture(t)

	entry := Step{
		Name: "install",
		Execute: func(ctx context.Context, oc *Context) error {
			return oc.AddStep(StageRuntime, Step{
				Name:    "apply",
				Execute: func(context.Context, *Context) error { return errors.New("broker refused") },
			})
		},
		Undo: func(context.Context, *Context) error { return errors.New("service container gone") },
	}

	res := f.context(testOp(), nil).Run(f.ctx, entry)
	assert.Equal(t, failure.RollbackFailed, res.FailureKind)
	assert.Equal(t, failure.CategoryFatal, failure.CategoryOf(res.FailureKind))
	assert.Contains(t, res.FailureDescription, "broker refused")
	assert.Contains(t, res.FailureDescription, "service container gone")
}

func TestRun_BootSkipsRuntimeSteps(t *testing.T) {
	f := newFixture(t)
	var log []string

	entry := recorder(&log, "model", func(ctx context.Context, oc *Context) error {
		assert.True(t, oc.IsBooting())
		return oc.AddStep(StageRuntime, recorder(&log, "runtime", nil))
	})

	oc := New(Config{Operation: testOp(), Overlay: f.tree.Begin(), Services: f.services, Reload: f.tracker.Begin(), Boot: true})
	res := oc.Run(f.ctx, entry)
	require.True(t, res.Succeeded())
	assert.Equal(t, []string{"model"}, log)
}
