package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveOperation("put", "jobs", time.Now(), nil)
	m.ObserveOperation("put", "jobs", time.Now(), errors.New("x"))
	m.Crypto("decrypt", errors.New("bad"))
	m.Crypto("encrypt", nil)
	m.SkippedRecord("stories")
	m.MigrationItem("migrated")
	m.MigrationItem("migrated")
	m.SetUsage(2048)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("put", "jobs", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("put", "jobs", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cryptoTotal.WithLabelValues("decrypt", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skippedRecords.WithLabelValues("stories")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.migrationItems.WithLabelValues("migrated")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(m.usageBytes))
	assert.Equal(t, 1, testutil.CollectAndCount(m.operationDuration))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ObserveOperation("get", "jobs", time.Now(), nil)
		m.Crypto("encrypt", nil)
		m.SkippedRecord("jobs")
		m.MigrationItem("failed")
		m.SetUsage(1)
		require.NoError(t, m.WriteTextfile("ignored"))
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := New()
	m.MigrationItem("failed")

	path := filepath.Join(t.TempDir(), "canvas.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `canvasvault_migration_items_total{status="failed"} 1`))
}
