package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/brokerconf/internal/failure"
	"github.com/vk/brokerconf/internal/operation"
)

// gathered returns the value of the first sample of a metric family.
func gathered(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	samples:
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue samples
				}
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				return float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func TestMetrics_ObserveOperation(t *testing.T) {
	testCases := []struct {
		name        string
		result      *operation.Result
		wantOutcome string
		wantKind    string
	}{
		{name: "success", result: &operation.Result{Outcome: operation.Success}, wantOutcome: "success"},
		{
			name:        "rolled back failure",
			result:      &operation.Result{Outcome: operation.Failed, FailureKind: failure.ServiceApplyFailed, RolledBack: true},
			wantOutcome: "failed",
			wantKind:    "ServiceApplyFailed",
		},
		{name: "dry run", result: &operation.Result{Outcome: operation.Success, RolledBack: true}, wantOutcome: "success", wantKind: "requested"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := New()
			m.ObserveOperation("add", tc.result, 20*time.Millisecond)

			assert.Equal(t, 1.0, gathered(t, m, "brokerconf_operations_total", map[string]string{"operation": "add", "outcome": tc.wantOutcome}))
			assert.Equal(t, 1.0, gathered(t, m, "brokerconf_operation_duration_seconds", map[string]string{"operation": "add"}))
			if tc.wantKind != "" {
				assert.Equal(t, 1.0, gathered(t, m, "brokerconf_rollbacks_total", map[string]string{"kind": tc.wantKind}))
			}
		})
	}
}

func TestMetrics_Gauges(t *testing.T) {
	m := New()
	m.SetReloadRequired(true)
	m.SetServices(4)
	m.PersistWrite(PersistWritten)
	m.PersistWrite(PersistWritten)

	assert.Equal(t, 1.0, gathered(t, m, "brokerconf_reload_required", nil))
	assert.Equal(t, 4.0, gathered(t, m, "brokerconf_services", nil))
	assert.Equal(t, 2.0, gathered(t, m, "brokerconf_persist_writes_total", map[string]string{"result": PersistWritten}))

	m.SetReloadRequired(false)
	assert.Equal(t, 0.0, gathered(t, m, "brokerconf_reload_required", nil))
}
