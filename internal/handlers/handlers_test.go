package handlers

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/brokerconf/internal/address"
	"github.com/vk/brokerconf/internal/catalog"
	"github.com/vk/brokerconf/internal/failure"
	"github.com/vk/brokerconf/internal/operation"
	"github.com/vk/brokerconf/internal/pipeline"
	"github.com/vk/brokerconf/internal/reload"
	"github.com/vk/brokerconf/internal/service"
	"github.com/vk/brokerconf/internal/testutil"
	"github.com/vk/brokerconf/internal/tree"
	"github.com/vk/brokerconf/internal/value"
)

type liveQueue struct {
	mu      sync.Mutex
	applied []string
	healthy bool
	failOn  string
}

func (q *liveQueue) Start(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.healthy = true
	return nil
}

func (q *liveQueue) Stop(context.Context) error { return nil }

func (q *liveQueue) Healthy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.healthy
}

type env struct {
	ctx      context.Context
	tree     *tree.Tree
	services *service.Coordinator
	tracker  *reload.Tracker
	handlers *Handlers
	queues   map[string]*liveQueue
	persists int
}

var (
	serverAddr = address.Of("server", "default")
	ordersAddr = serverAddr.Append("queue", "orders")
)

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx, _ := testutil.NewContext(t)
	e := &env{
		ctx:      ctx,
		tree:     tree.New(),
		services: service.NewCoordinator(service.NewMemoryContainer()),
		tracker:  reload.NewTracker(),
		handlers: New(),
		queues:   make(map[string]*liveQueue),
	}

	cat := catalog.New()
	cat.MustRegister("server")
	cat.MustRegister("queue",
		catalog.AttributeDescriptor{Name: "address", Kind: value.String, Required: true, AllowExpression: true, Mutability: catalog.RestartAllServices},
		catalog.AttributeDescriptor{Name: "durable", Kind: value.Bool, Default: catalog.Default(cty.True), Mutability: catalog.RestartAllServices},
		catalog.AttributeDescriptor{Name: "static", Kind: value.List, Alternatives: []string{"discovery"}},
		catalog.AttributeDescriptor{Name: "discovery", Kind: value.String, Alternatives: []string{"static"}},
		catalog.AttributeDescriptor{Name: "redelivery-delay", Kind: value.Long, Default: catalog.Default(cty.NumberIntVal(0))},
		catalog.AttributeDescriptor{Name: "message-count", Kind: value.Long, Mutability: catalog.StorageRuntime},
	)

	serverRunning := func(oc *pipeline.Context, addr address.Address) bool {
		if addr.IsRoot() {
			return true
		}
		h, ok := oc.LookupService(address.ServiceName(address.New(addr.Segment(0))))
		return ok && h.State() == service.StateUp
	}
	e.handlers.RegisterStandard(&Definition{Type: "server", Parents: []string{""}, Catalog: cat, Resolver: catalog.MapResolver{}})
	e.handlers.RegisterStandard(&Definition{
		Type:     "queue",
		Parents:  []string{"server"},
		Catalog:  cat,
		Resolver: catalog.MapResolver{"QUEUE_PREFIX": "jms"},
		Hooks: Hooks{
			RuntimeReady: serverRunning,
			Services: func(ctx context.Context, oc *pipeline.Context, addr address.Address, model map[string]cty.Value) ([]service.Descriptor, error) {
				name := address.ServiceName(addr)
				return []service.Descriptor{{
					Name:  name,
					Owner: addr,
					Deps:  []string{address.ServiceName(addr.Parent())},
					Factory: func(context.Context) (service.Service, error) {
						q := &liveQueue{}
						e.queues[name] = q
						return q, nil
					},
				}}, nil
			},
			Apply: func(ctx context.Context, h *service.Handle, name string, v cty.Value) error {
				q := h.Service().(*liveQueue)
				if q.failOn == name {
					return errors.New("broker refused " + name)
				}
				q.applied = append(q.applied, name+"="+value.Display(v))
				return nil
			},
			ReadRuntime: func(ctx context.Context, h *service.Handle, name string) (cty.Value, error) {
				return cty.NumberIntVal(42), nil
			},
		},
	})

	// Seed the server resource and start its service.
	res := e.run(t, operation.New(operation.Add, serverAddr, nil))
	require.True(t, res.Succeeded(), res.FailureDescription)
	return e
}

func (e *env) startServer(t *testing.T) {
	t.Helper()
	_, err := e.services.Install(e.ctx, service.Descriptor{
		Name:    "default",
		Owner:   serverAddr,
		Factory: func(context.Context) (service.Service, error) { return &liveQueue{}, nil },
	})
	require.NoError(t, err)
}

func (e *env) run(t *testing.T, op *operation.Operation, extra ...pipeline.Step) *operation.Result {
	t.Helper()
	handler, ok := e.handlers.Lookup(op.Address().Type(), op.Name())
	require.True(t, ok, "no handler for %s", op)
	entry := handler(op)
	if len(extra) > 0 {
		inner := entry.Execute
		entry.Execute = func(ctx context.Context, oc *pipeline.Context) error {
			if err := inner(ctx, oc); err != nil {
				return err
			}
			for _, s := range extra {
				if err := oc.AddStep(pipeline.StageVerify, s); err != nil {
					return err
				}
			}
			return nil
		}
	}
	oc := pipeline.New(pipeline.Config{
		Operation: op,
		Overlay:   e.tree.Begin(),
		Services:  e.services,
		Reload:    e.tracker.Begin(),
		Persist: func(*tree.Resource) error {
			e.persists++
			return nil
		},
	})
	return oc.Run(e.ctx, entry)
}

func addOrders(params map[string]cty.Value) *operation.Operation {
	if params == nil {
		params = map[string]cty.Value{"address": cty.StringVal("jms.orders"), "durable": cty.True}
	}
	return operation.New(operation.Add, ordersAddr, params)
}

func veto() pipeline.Step {
	return pipeline.Step{Name: "veto", Execute: func(context.Context, *pipeline.Context) error {
		return errors.New("vetoed")
	}}
}

func TestAdd_InstallsServiceWhenServerRunning(t *testing.T) {
	e := newEnv(t)
	e.startServer(t)

	res := e.run(t, addOrders(nil))
	require.True(t, res.Succeeded(), res.FailureDescription)
	h, ok := e.services.Lookup("default/queue/orders")
	require.True(t, ok)
	assert.Equal(t, service.StateUp, h.State())
	assert.True(t, res.Compensating.Equal(operation.New(operation.Remove, ordersAddr, nil)))

	r, err := e.tree.Read(ordersAddr)
	require.NoError(t, err)
	delay, _ := r.Attribute("redelivery-delay")
	assert.True(t, delay.RawEquals(cty.NumberIntVal(0)), "defaults are written")
}

func TestAdd_DefersServicesWhenServerStopped(t *testing.T) {
	e := newEnv(t)

	res := e.run(t, addOrders(nil))
	require.True(t, res.Succeeded(), res.FailureDescription)
	_, ok := e.services.Lookup("default/queue/orders")
	assert.False(t, ok)
	_, err := e.tree.Read(ordersAddr)
	assert.NoError(t, err)
}

func TestAdd_Failures(t *testing.T) {
	testCases := []struct {
		name     string
		op       *operation.Operation
		wantKind failure.Kind
	}{
		{
			name: "alternative conflict",
			op: addOrders(map[string]cty.Value{
				"address":   cty.StringVal("jms.orders"),
				"static":    cty.TupleVal([]cty.Value{cty.StringVal("a")}),
				"discovery": cty.StringVal("dg"),
			}),
			wantKind: failure.AlternativeAttributeConflict,
		},
		{name: "required missing", op: addOrders(map[string]cty.Value{}), wantKind: failure.RequiredAttributeMissing},
		{
			name:     "missing parent",
			op:       operation.New(operation.Add, address.Of("server", "other", "queue", "x"), map[string]cty.Value{"address": cty.StringVal("a")}),
			wantKind: failure.NoSuchParent,
		},
		{
			name:     "wrong parent type",
			op:       operation.New(operation.Add, address.Of("queue", "x"), map[string]cty.Value{"address": cty.StringVal("a")}),
			wantKind: failure.ValidationFailed,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t)
			e.startServer(t)
			before := e.tree.Root()

			res := e.run(t, tc.op)
			assert.Equal(t, tc.wantKind, res.FailureKind)
			assert.Equal(t, failure.CategoryValidation, failure.CategoryOf(res.FailureKind))
			assert.True(t, e.tree.Root().Equal(before))
			assert.Equal(t, []string{"default"}, e.services.Names(), "no service was touched")
		})
	}
}

func TestAdd_RollbackRemovesInstalledService(t *testing.T) {
	e := newEnv(t)
	e.startServer(t)
	before := e.tree.Root()

	res := e.run(t, addOrders(nil), veto())
	assert.True(t, res.RolledBack)
	assert.True(t, e.tree.Root().Equal(before))
	_, ok := e.services.Lookup("default/queue/orders")
	assert.False(t, ok)
}

func TestRemove_RoundTrip(t *testing.T) {
	e := newEnv(t)
	e.startServer(t)
	require.True(t, e.run(t, addOrders(nil)).Succeeded())
	withQueue := e.tree.Root()

	res := e.run(t, operation.New(operation.Remove, ordersAddr, nil))
	require.True(t, res.Succeeded(), res.FailureDescription)
	_, ok := e.services.Lookup("default/queue/orders")
	assert.False(t, ok)
	require.NotNil(t, res.Compensating)
	assert.Equal(t, operation.Add, res.Compensating.Name())

	again := e.run(t, operation.New(operation.Remove, ordersAddr, nil))
	assert.Equal(t, failure.NoSuchResource, again.FailureKind)

	restored := e.run(t, res.Compensating)
	require.True(t, restored.Succeeded(), restored.FailureDescription)
	assert.True(t, e.tree.Root().Equal(withQueue))
	_, ok = e.services.Lookup("default/queue/orders")
	assert.True(t, ok)
}

func TestRemove_RollbackReinstallsServices(t *testing.T) {
	e := newEnv(t)
	e.startServer(t)
	require.True(t, e.run(t, addOrders(nil)).Succeeded())
	before := e.tree.Root()

	res := e.run(t, operation.New(operation.Remove, ordersAddr, nil), veto())
	assert.True(t, res.RolledBack)
	assert.True(t, e.tree.Root().Equal(before))
	h, ok := e.services.Lookup("default/queue/orders")
	require.True(t, ok)
	assert.Equal(t, service.StateUp, h.State())
}

func write(name string, v cty.Value) *operation.Operation {
	return operation.New(operation.WriteAttribute, ordersAddr, map[string]cty.Value{
		operation.ParamName:  cty.StringVal(name),
		operation.ParamValue: v,
	})
}

func TestWriteAttribute_RestartRequiredNeverTouchesService(t *testing.T) {
	e := newEnv(t)
	e.startServer(t)
	require.True(t, e.run(t, addOrders(nil)).Succeeded())

	res := e.run(t, write("durable", cty.False))
	require.True(t, res.Succeeded(), res.FailureDescription)
	assert.True(t, res.ReloadRequired)
	assert.True(t, e.tracker.IsReloadRequired())
	assert.Empty(t, e.queues["default/queue/orders"].applied)

	require.NotNil(t, res.Compensating)
	old, _ := res.Compensating.Param(operation.ParamValue)
	assert.True(t, old.RawEquals(cty.True))
}

func TestWriteAttribute_ServerStopped(t *testing.T) {
	testCases := []struct {
		name       string
		op         *operation.Operation
		wantReload bool
	}{
		{name: "restart-all attribute", op: write("durable", cty.False), wantReload: true},
		{name: "live attribute", op: write("redelivery-delay", cty.NumberIntVal(500)), wantReload: false},
		{name: "unchanged restart-all attribute", op: write("durable", cty.True), wantReload: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t)
			require.True(t, e.run(t, addOrders(nil)).Succeeded())

			res := e.run(t, tc.op)
			require.True(t, res.Succeeded(), res.FailureDescription)
			assert.Equal(t, tc.wantReload, res.ReloadRequired)
			assert.Equal(t, tc.wantReload, e.tracker.IsReloadRequired())
			assert.Empty(t, e.queues)
		})
	}
}

func TestWriteAttribute_LiveApplyAndUndo(t *testing.T) {
	e := newEnv(t)
	e.startServer(t)
	require.True(t, e.run(t, addOrders(nil)).Succeeded())
	q := e.queues["default/queue/orders"]

	res := e.run(t, write("redelivery-delay", cty.NumberIntVal(500)))
	require.True(t, res.Succeeded(), res.FailureDescription)
	assert.False(t, res.ReloadRequired)
	assert.Equal(t, []string{"redelivery-delay=500"}, q.applied)

	res = e.run(t, write("redelivery-delay", cty.NumberIntVal(900)), veto())
	assert.True(t, res.RolledBack)
	assert.Equal(t, []string{"redelivery-delay=500", "redelivery-delay=900", "redelivery-delay=500"}, q.applied)

	q.failOn = "redelivery-delay"
	res = e.run(t, write("redelivery-delay", cty.NumberIntVal(700)))
	assert.Equal(t, failure.ServiceApplyFailed, res.FailureKind)
	r, err := e.tree.Read(ordersAddr)
	require.NoError(t, err)
	v, _ := r.Attribute("redelivery-delay")
	assert.True(t, v.RawEquals(cty.NumberIntVal(500)), "the model is rolled back with the runtime")
}

func TestWriteAttribute_UnhealthyServiceRequiresReload(t *testing.T) {
	e := newEnv(t)
	e.startServer(t)
	require.True(t, e.run(t, addOrders(nil)).Succeeded())
	q := e.queues["default/queue/orders"]
	q.mu.Lock()
	q.healthy = false
	q.mu.Unlock()

	res := e.run(t, write("redelivery-delay", cty.NumberIntVal(500)))
	require.True(t, res.Succeeded(), res.FailureDescription)
	assert.True(t, res.ReloadRequired)
	assert.Empty(t, q.applied)
}

func TestWriteAttribute_Validation(t *testing.T) {
	testCases := []struct {
		name     string
		op       *operation.Operation
		wantKind failure.Kind
	}{
		{name: "unknown attribute", op: write("bogus", cty.True), wantKind: failure.UnknownAttribute},
		{name: "runtime attribute", op: write("message-count", cty.NumberIntVal(1)), wantKind: failure.InvalidAttributeValue},
		{name: "bad type", op: write("durable", cty.StringVal("maybe")), wantKind: failure.InvalidAttributeValue},
		{name: "creates conflict", op: write("discovery", cty.StringVal("dg")), wantKind: failure.AlternativeAttributeConflict},
		{name: "required cannot be undefined", op: write("address", cty.NullVal(cty.String)), wantKind: failure.RequiredAttributeMissing},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t)
			require.True(t, e.run(t, addOrders(map[string]cty.Value{
				"address": cty.StringVal("jms.orders"),
				"static":  cty.TupleVal([]cty.Value{cty.StringVal("netty")}),
			})).Succeeded())

			res := e.run(t, tc.op)
			assert.Equal(t, tc.wantKind, res.FailureKind)
		})
	}
}

func TestUndefineAttribute_FallsBackToDefault(t *testing.T) {
	e := newEnv(t)
	require.True(t, e.run(t, addOrders(nil)).Succeeded())
	require.True(t, e.run(t, write("redelivery-delay", cty.NumberIntVal(5))).Succeeded())

	res := e.run(t, operation.New(operation.UndefineAttribute, ordersAddr, map[string]cty.Value{operation.ParamName: cty.StringVal("redelivery-delay")}))
	require.True(t, res.Succeeded(), res.FailureDescription)
	r, err := e.tree.Read(ordersAddr)
	require.NoError(t, err)
	v, _ := r.Attribute("redelivery-delay")
	assert.True(t, v.RawEquals(cty.NumberIntVal(0)))
}

func TestReadOperations(t *testing.T) {
	e := newEnv(t)
	e.startServer(t)
	require.True(t, e.run(t, addOrders(map[string]cty.Value{"address": cty.StringVal("${env.QUEUE_PREFIX}.orders")})).Succeeded())

	res := e.run(t, operation.New(operation.ReadResource, serverAddr, map[string]cty.Value{operation.ParamRecursive: cty.True}))
	require.True(t, res.Succeeded(), res.FailureDescription)
	native, err := value.ToNative(res.Result)
	require.NoError(t, err)
	queue := native.(map[string]any)["queue"].(map[string]any)["orders"].(map[string]any)
	assert.Equal(t, "${env.QUEUE_PREFIX}.orders", queue["address"])

	res = e.run(t, operation.New(operation.ReadResource, ordersAddr, map[string]cty.Value{operation.ParamIncludeRuntime: cty.True}))
	require.True(t, res.Succeeded(), res.FailureDescription)
	count := res.Result.GetAttr("message-count")
	assert.True(t, count.RawEquals(cty.NumberIntVal(42)))

	res = e.run(t, operation.New(operation.ReadAttribute, ordersAddr, map[string]cty.Value{
		operation.ParamName:    cty.StringVal("address"),
		operation.ParamResolve: cty.True,
	}))
	require.True(t, res.Succeeded(), res.FailureDescription)
	assert.Equal(t, "jms.orders", res.Result.AsString())

	res = e.run(t, operation.New(operation.ReadChildrenNames, serverAddr, map[string]cty.Value{operation.ParamChildType: cty.StringVal("queue")}))
	require.True(t, res.Succeeded(), res.FailureDescription)
	assert.True(t, res.Result.RawEquals(cty.ListVal([]cty.Value{cty.StringVal("orders")})))
}
