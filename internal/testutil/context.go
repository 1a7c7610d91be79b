// Package testutil holds helpers shared by the package tests.
package testutil

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/brokerconf/internal/ctxlog"
	"github.com/vk/brokerconf/internal/value"
)

// LogsEnv, when set to "true", dumps the captured log of every test that
// used NewContext.
const LogsEnv = "BROKERCONF_TEST_LOGS"

// NewContext returns a context carrying a debug logger that writes into the
// returned buffer.
func NewContext(t *testing.T) (context.Context, *SafeBuffer) {
	t.Helper()
	buf := &SafeBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	t.Cleanup(func() {
		if os.Getenv(LogsEnv) == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), buf.String())
		}
	})
	return ctxlog.WithLogger(context.Background(), logger), buf
}

// CtyComparer makes cmp treat cty values (including expressions) by value.
var CtyComparer = cmp.Comparer(func(a, b cty.Value) bool {
	return value.Equal(a, b)
})
