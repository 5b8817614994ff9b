package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Applied("h", "sync", 1)
		m.Failed("h", "sync", 1)
		m.Requested("h", "t", 1)
		m.Written("h", "t", "upsert", 1)
		m.Retried("h")
		m.ObserveRead("h", "select_by_keys", time.Millisecond)
		m.Scanned("h", "t", 1)
	})
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Applied("sales", "sync", 3)
	m.Applied("sales", "sync", 2)
	m.Written("sales", "order_view", "delete", 4)
	m.Requested("sales", "order_view", 0)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.TasksApplied.WithLabelValues("sales", "sync")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.RowsWritten.WithLabelValues("sales", "order_view", "delete")))

	count, err := testutil.GatherAndCount(reg, "mvsync_keys_requested_total")
	require.NoError(t, err)
	assert.Equal(t, 0, count, "zero adds create no series")
}
