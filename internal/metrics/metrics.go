// Package metrics holds the Prometheus collectors of one controller. Each
// controller owns its own registry so several can live in one process.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vk/brokerconf/internal/operation"
)

const namespace = "brokerconf"

// Persist write results.
const (
	PersistWritten   = "written"
	PersistUnchanged = "unchanged"
	PersistFailed    = "failed"
)

// Metrics contains the management metrics of a controller.
type Metrics struct {
	registry *prometheus.Registry

	Operations     *prometheus.CounterVec
	Duration       *prometheus.HistogramVec
	Rollbacks      *prometheus.CounterVec
	ReloadRequired prometheus.Gauge
	Services       prometheus.Gauge
	PersistWrites  *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go
// runtime collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Management operations executed, by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Management operation duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		Rollbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollbacks_total",
				Help:      "Operations rolled back, by failure kind.",
			},
			[]string{"kind"},
		),
		ReloadRequired: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reload_required",
			Help:      "1 when accepted changes wait for a reload.",
		}),
		Services: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "services",
			Help:      "Services currently installed.",
		}),
		PersistWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persist_writes_total",
				Help:      "Persisted model writes, by result.",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(
		m.Operations,
		m.Duration,
		m.Rollbacks,
		m.ReloadRequired,
		m.Services,
		m.PersistWrites,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the Prometheus registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveOperation records one finished operation.
func (m *Metrics) ObserveOperation(name string, res *operation.Result, elapsed time.Duration) {
	outcome := "success"
	if !res.Succeeded() {
		outcome = "failed"
	}
	m.Operations.WithLabelValues(name, outcome).Inc()
	m.Duration.WithLabelValues(name).Observe(elapsed.Seconds())
	if res.RolledBack {
		kind := string(res.FailureKind)
		if kind == "" {
			kind = "requested"
		}
		m.Rollbacks.WithLabelValues(kind).Inc()
	}
}

// SetReloadRequired updates the reload-required gauge.
func (m *Metrics) SetReloadRequired(required bool) {
	if required {
		m.ReloadRequired.Set(1)
		return
	}
	m.ReloadRequired.Set(0)
}

// SetServices updates the installed services gauge.
func (m *Metrics) SetServices(n int) { m.Services.Set(float64(n)) }

// PersistWrite counts one persisted model write.
func (m *Metrics) PersistWrite(result string) {
	m.PersistWrites.WithLabelValues(result).Inc()
}
