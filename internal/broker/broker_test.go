package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/brokerconf/internal/ctxlog"
	"github.com/vk/brokerconf/internal/testutil"
)

var orders = Ref{Server: "default", Kind: KindQueue, Name: "orders"}

func TestMemory_Lifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.Error(t, m.Deploy(ctx, orders, nil), "server not running")
	require.NoError(t, m.StartServer(ctx, "default", map[string]cty.Value{"persistence-enabled": cty.True}))
	require.Error(t, m.StartServer(ctx, "default", nil))
	require.NoError(t, m.Deploy(ctx, orders, map[string]cty.Value{"address": cty.StringVal("jms.orders")}))
	require.Error(t, m.Deploy(ctx, orders, nil))
	assert.Equal(t, []string{"default/queue/orders"}, m.Deployed("default"))

	require.NoError(t, m.SetAttribute(ctx, orders, "redelivery-delay", cty.NumberIntVal(5)))
	v, err := m.ReadAttribute(ctx, orders, "redelivery-delay")
	require.NoError(t, err)
	assert.True(t, v.RawEquals(cty.NumberIntVal(5)))

	require.NoError(t, m.Enqueue(orders, 3))
	testCases := []struct {
		op   string
		want cty.Value
	}{
		{op: OpCountMessages, want: cty.NumberIntVal(3)},
		{op: OpRemoveMessages, want: cty.NumberIntVal(3)},
		{op: OpCountMessages, want: cty.NumberIntVal(0)},
	}
	for _, tc := range testCases {
		got, err := m.Invoke(ctx, orders, tc.op, nil)
		require.NoError(t, err)
		assert.True(t, got.RawEquals(tc.want), "%s: %s", tc.op, got.GoString())
	}

	_, err = m.Invoke(ctx, orders, OpPause, nil)
	require.NoError(t, err)
	paused, _ := m.ReadAttribute(ctx, orders, "paused")
	assert.True(t, paused.True())

	require.NoError(t, m.Destroy(ctx, orders))
	require.Error(t, m.Destroy(ctx, orders))
	require.NoError(t, m.StopServer(ctx, "default"))
	assert.Error(t, m.Ping(ctx, "default"))
	started, _ := m.ReadAttribute(ctx, ServerRef("default"), "started")
	assert.False(t, started.True())
}

func TestMemory_FaultsAndCalls(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.StartServer(ctx, "default", nil))
	boom := errors.New("boom")

	m.Fail("Deploy", orders, boom)
	assert.ErrorIs(t, m.Deploy(ctx, orders, nil), boom)
	m.Fail("Deploy", orders, nil)
	assert.NoError(t, m.Deploy(ctx, orders, nil))

	assert.Len(t, m.Calls("Deploy"), 2)
	assert.Len(t, m.Calls(""), 3)

	m.FailOnce("Invoke", orders, boom)
	_, err := m.Invoke(ctx, orders, OpPause, nil)
	assert.ErrorIs(t, err, boom)
	_, err = m.Invoke(ctx, orders, OpPause, nil)
	assert.NoError(t, err)
}

// fakeBroker answers control requests the way a broker would.
type fakeBroker struct {
	mu       sync.Mutex
	requests []map[string]any
	answer   func(req map[string]any) map[string]any
}

func newTestRemote(t *testing.T, answer func(req map[string]any) map[string]any) (*Remote, *fakeBroker) {
	t.Helper()
	ctx, _ := testutil.NewContext(t)
	cfg := DefaultRemoteConfig("http://broker.invalid/socket.io/")
	cfg.CallTimeout = 200 * time.Millisecond
	r := newRemote(cfg, ctxlog.FromContext(ctx))
	fb := &fakeBroker{answer: answer}
	r.emit = func(event string, args ...any) {
		assert.Equal(t, EventControl, event)
		req := args[0].(map[string]any)
		fb.mu.Lock()
		fb.requests = append(fb.requests, req)
		fb.mu.Unlock()
		if reply := fb.answer(req); reply != nil {
			go r.deliver(reply)
		}
	}
	return r, fb
}

func TestRemote_CallRoundTrip(t *testing.T) {
	r, fb := newTestRemote(t, func(req map[string]any) map[string]any {
		switch req["method"] {
		case "read-attribute":
			return map[string]any{"id": req["id"], "result": float64(7)}
		case "deploy":
			return map[string]any{"id": req["id"], "error": "queue exists"}
		default:
			return map[string]any{"id": req["id"]}
		}
	})
	ctx := context.Background()

	v, err := r.ReadAttribute(ctx, orders, "message-count")
	require.NoError(t, err)
	assert.True(t, v.RawEquals(cty.NumberIntVal(7)))

	err = r.Deploy(ctx, orders, map[string]cty.Value{"durable": cty.True})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue exists")

	require.NoError(t, r.SetAttribute(ctx, orders, "redelivery-delay", cty.NumberIntVal(10)))

	fb.mu.Lock()
	defer fb.mu.Unlock()
	require.Len(t, fb.requests, 3)
	assert.Equal(t, "queue", fb.requests[1]["kind"])
	assert.Equal(t, map[string]any{"durable": true}, fb.requests[1]["settings"])
	assert.Equal(t, int64(10), fb.requests[2]["value"])
}

func TestRemote_TimeoutAndClose(t *testing.T) {
	r, _ := newTestRemote(t, func(map[string]any) map[string]any { return nil })

	err := r.Ping(context.Background(), "default")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")

	done := make(chan error, 1)
	r.cfg.CallTimeout = time.Minute
	go func() { done <- r.StopServer(context.Background(), "default") }()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.pending) == 1
	}, time.Second, 5*time.Millisecond)
	r.Close()
	assert.ErrorContains(t, <-done, "closed")
}

func TestSignalConnect_KeepsFirstOutcome(t *testing.T) {
	refused := errors.New("refused")

	testCases := []struct {
		name     string
		outcomes []error
		want     error
	}{
		{name: "connect then error", outcomes: []error{nil, refused}, want: nil},
		{name: "error then connect", outcomes: []error{refused, nil}, want: refused},
		{name: "repeated errors", outcomes: []error{refused, refused, refused}, want: refused},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ch := make(chan error, 1)
			done := make(chan struct{})
			go func() {
				defer close(done)
				for _, err := range tc.outcomes {
					signalConnect(ch, err)
				}
			}()

			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("signalling a connection outcome blocked")
			}
			assert.Equal(t, tc.want, <-ch)
		})
	}
}
