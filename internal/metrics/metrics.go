// Package metrics exposes the pipeline's prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mvsync"

// Metric names.
const (
	MetricTasksApplied  = "tasks_applied_total"
	MetricTaskFailures  = "task_failures_total"
	MetricKeysRequested = "keys_requested_total"
	MetricRowsWritten   = "rows_written_total"
	MetricReadRetries   = "read_retries_total"
	MetricReadSeconds   = "read_duration_seconds"
	MetricScannedRows   = "scanned_rows_total"
)

// Metrics holds the collectors of one process.
type Metrics struct {
	TasksApplied  *prometheus.CounterVec
	TaskFailures  *prometheus.CounterVec
	KeysRequested *prometheus.CounterVec
	RowsWritten   *prometheus.CounterVec
	ReadRetries   *prometheus.CounterVec
	ReadSeconds   *prometheus.HistogramVec
	ScannedRows   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TasksApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricTasksApplied,
			Help:      "Apply tasks processed, by handler and action.",
		}, []string{"handler", "action"}),
		TaskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricTaskFailures,
			Help:      "Apply tasks whose batch failed, by handler and action.",
		}, []string{"handler", "action"}),
		KeysRequested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricKeysRequested,
			Help:      "Distinct keys requested by batched reads, by handler and target.",
		}, []string{"handler", "target"}),
		RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricRowsWritten,
			Help:      "Target rows written, by handler, target and operation.",
		}, []string{"handler", "target", "op"}),
		ReadRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricReadRetries,
			Help:      "Batched reads retried after a transient failure, by handler.",
		}, []string{"handler"}),
		ReadSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricReadSeconds,
			Help:      "Latency of one batched read round trip, by handler and statement kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"handler", "kind"}),
		ScannedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricScannedRows,
			Help:      "Main-table rows produced by full scans, by handler and target.",
		}, []string{"handler", "target"}),
	}
	if reg != nil {
		reg.MustRegister(m.TasksApplied, m.TaskFailures, m.KeysRequested, m.RowsWritten,
			m.ReadRetries, m.ReadSeconds, m.ScannedRows)
	}
	return m
}

func (m *Metrics) Applied(handler, action string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.TasksApplied.WithLabelValues(handler, action).Add(float64(n))
}

func (m *Metrics) Failed(handler, action string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.TaskFailures.WithLabelValues(handler, action).Add(float64(n))
}

func (m *Metrics) Requested(handler, target string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.KeysRequested.WithLabelValues(handler, target).Add(float64(n))
}

func (m *Metrics) Written(handler, target, op string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RowsWritten.WithLabelValues(handler, target, op).Add(float64(n))
}

func (m *Metrics) Retried(handler string) {
	if m == nil {
		return
	}
	m.ReadRetries.WithLabelValues(handler).Inc()
}

func (m *Metrics) ObserveRead(handler, kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.ReadSeconds.WithLabelValues(handler, kind).Observe(d.Seconds())
}

func (m *Metrics) Scanned(handler, target string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ScannedRows.WithLabelValues(handler, target).Add(float64(n))
}
