package app

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/brokerconf/internal/broker"
	"github.com/vk/brokerconf/internal/testutil"
)

const bootModel = `subsystem "messaging" {
  server "default" {
    statistics-enabled = false
  }
}
`

func writeModel(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "messaging.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testConfig(t *testing.T, modelPath string) *Config {
	t.Helper()
	base := DefaultConfig()
	base.ModelPath = modelPath
	base.Listen = "127.0.0.1:0"
	base.LogFormat = "text"
	base.LogLevel = "debug"
	cfg, err := NewConfig(base)
	require.NoError(t, err)
	return cfg
}

func TestNewConfig(t *testing.T) {
	valid := DefaultConfig()
	valid.ModelPath = "model.hcl"

	testCases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing model path", mutate: func(c *Config) { c.ModelPath = "" }, wantErr: "model file path"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "trace" }, wantErr: "invalid log-level"},
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: "invalid log-format"},
		{name: "zero boot timeout", mutate: func(c *Config) { c.BootTimeout = 0 }, wantErr: "boot-timeout"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid
			tc.mutate(&c)
			cfg, err := NewConfig(c)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "model.hcl", cfg.ModelPath)
		})
	}
}

func TestLoadSettings(t *testing.T) {
	dir := t.TempDir()

	t.Run("overlays base", func(t *testing.T) {
		path := filepath.Join(dir, "settings.yaml")
		require.NoError(t, os.WriteFile(path, []byte("model: /etc/brokerconf/messaging.hcl\nlog-level: debug\nboot-timeout: 5s\n"), 0o600))

		cfg, err := LoadSettings(path, DefaultConfig())
		require.NoError(t, err)
		assert.Equal(t, "/etc/brokerconf/messaging.hcl", cfg.ModelPath)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, 5*time.Second, cfg.BootTimeout)
		assert.Equal(t, ":9990", cfg.Listen, "unset keys keep their base value")
	})

	t.Run("unknown key", func(t *testing.T) {
		path := filepath.Join(dir, "unknown.yaml")
		require.NoError(t, os.WriteFile(path, []byte("workers: 4\n"), 0o600))

		_, err := LoadSettings(path, DefaultConfig())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode settings file")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadSettings(filepath.Join(dir, "absent.yaml"), DefaultConfig())
		require.Error(t, err)
	})
}

func TestApp_Check(t *testing.T) {
	testCases := []struct {
		name    string
		model   string
		wantErr string
	}{
		{name: "valid model", model: bootModel},
		{name: "missing file boots empty", model: ""},
		{
			name:    "required attribute missing",
			model:   "subsystem \"messaging\" {\n  server \"default\" {\n    queue \"orders\" {}\n  }\n}\n",
			wantErr: "failed to boot",
		},
		{
			name:    "syntax error",
			model:   "subsystem \"messaging\" {\n",
			wantErr: "failed to parse",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "messaging.hcl")
			if tc.model != "" {
				path = writeModel(t, tc.model)
			}
			cfg := testConfig(t, path)
			cfg.Check = true

			var out testutil.SafeBuffer
			err := NewApp(&out, cfg, nil).Run(context.Background())
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out.String(), "Model is valid.")
		})
	}
}

func TestApp_Run(t *testing.T) {
	path := writeModel(t, bootModel)
	engine := broker.NewMemory()
	var out testutil.SafeBuffer
	a := NewApp(&out, testConfig(t, path), engine)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-a.Ready():
	case err := <-done:
		t.Fatalf("app stopped before it was ready: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not become ready")
	}
	require.NoError(t, engine.Ping(ctx, "default"), "booted server must be running")

	base := "http://" + a.Addr()
	body := `{"op":"add","address":"/server=default/queue=orders","params":{"address":"jms.orders"}}`
	resp, err := http.Post(base+"/management", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	var res map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, res)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `queue "orders"`)
	assert.Regexp(t, `address\s+= "jms\.orders"`, string(data))

	resp, err = http.Get(base + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.Empty(t, engine.Deployed("default"), "shutdown stops the services the app installed")
	assert.Contains(t, out.String(), "Stopped.")
}
