package integration_tests

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vk/brokerconf/internal/app"
	"github.com/vk/brokerconf/internal/broker"
	"github.com/vk/brokerconf/internal/testutil"
)

var ordersRef = broker.Ref{Server: "default", Kind: broker.KindQueue, Name: "orders"}

// instance is one running controller process serving a model file.
type instance struct {
	t      *testing.T
	path   string
	engine *broker.Memory
	app    *app.App
	logs   *testutil.SafeBuffer
	cancel context.CancelFunc
	done   chan error
}

// newModelFile writes content (if any) to a fresh model path.
func newModelFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "messaging.hcl")
	if content != "" {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return path
}

// start boots the app on path against a fresh in-process broker and waits
// for the management endpoint.
func start(t *testing.T, path string) *instance {
	t.Helper()
	cfg := app.DefaultConfig()
	cfg.ModelPath = path
	cfg.Listen = "127.0.0.1:0"
	cfg.LogLevel = "debug"
	cfg.LogFormat = "text"
	config, err := app.NewConfig(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	in := &instance{
		t:      t,
		path:   path,
		engine: broker.NewMemory(),
		logs:   &testutil.SafeBuffer{},
		cancel: cancel,
		done:   make(chan error, 1),
	}
	in.app = app.NewApp(in.logs, config, in.engine)
	go func() { in.done <- in.app.Run(ctx) }()

	select {
	case <-in.app.Ready():
	case err := <-in.done:
		cancel()
		t.Fatalf("app stopped during boot: %v\n%s", err, in.logs.String())
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("app did not become ready")
	}
	t.Cleanup(func() {
		if in.cancel != nil {
			in.stop()
		}
		if os.Getenv(testutil.LogsEnv) == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), in.logs.String())
		}
	})
	return in
}

// stop cancels the app and waits for a clean exit.
func (in *instance) stop() {
	in.t.Helper()
	in.cancel()
	in.cancel = nil
	select {
	case err := <-in.done:
		require.NoError(in.t, err)
	case <-time.After(10 * time.Second):
		in.t.Fatal("app did not stop")
	}
}

func (in *instance) url(path string) string {
	return "http://" + in.app.Addr() + path
}

// exec posts one JSON operation and decodes the result.
func (in *instance) exec(body string) (int, map[string]any) {
	in.t.Helper()
	resp, err := http.Post(in.url("/management"), "application/json", strings.NewReader(body))
	require.NoError(in.t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(in.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

// mustExec posts body and requires success.
func (in *instance) mustExec(body string) map[string]any {
	in.t.Helper()
	status, out := in.exec(body)
	require.Equal(in.t, http.StatusOK, status, "%s: %v", body, out)
	return out
}

func (in *instance) health() map[string]any {
	in.t.Helper()
	resp, err := http.Get(in.url("/health"))
	require.NoError(in.t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(in.t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// model returns the current content of the model file.
func (in *instance) model() string {
	in.t.Helper()
	data, err := os.ReadFile(in.path)
	require.NoError(in.t, err)
	return string(data)
}
