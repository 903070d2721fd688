// Package metrics instruments storage, crypto and migration activity with
// Prometheus collectors. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "canvasvault"

type Metrics struct {
	registry *prometheus.Registry

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	cryptoTotal       *prometheus.CounterVec
	skippedRecords    *prometheus.CounterVec
	migrationItems    *prometheus.CounterVec
	usageBytes        prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		operationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operations_total",
			Help:      "Storage operations by operation, collection and status",
		}, []string{"operation", "collection", "status"}),
		operationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Time spent in storage operations",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"operation"}),
		cryptoTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crypto_operations_total",
			Help:      "Field encryptions and decryptions by status",
		}, []string{"operation", "status"}),
		skippedRecords: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_skipped_records_total",
			Help:      "Records left out of exports because they could not be decrypted",
		}, []string{"collection"}),
		migrationItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migration_items_total",
			Help:      "Legacy keys processed by the migration utility",
		}, []string{"status"}),
		usageBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "storage_used_bytes",
			Help:      "Bytes used by the local database at the last usage probe",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveOperation records one storage operation started at start.
func (m *Metrics) ObserveOperation(op, collection string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(op, collection, status(err)).Inc()
	m.operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Crypto records one field encryption ("encrypt") or decryption ("decrypt").
func (m *Metrics) Crypto(op string, err error) {
	if m == nil {
		return
	}
	m.cryptoTotal.WithLabelValues(op, status(err)).Inc()
}

func (m *Metrics) SkippedRecord(collection string) {
	if m == nil {
		return
	}
	m.skippedRecords.WithLabelValues(collection).Inc()
}

// MigrationItem records a migrated, failed or skipped legacy key.
func (m *Metrics) MigrationItem(status string) {
	if m == nil {
		return
	}
	m.migrationItems.WithLabelValues(status).Inc()
}

func (m *Metrics) SetUsage(used int64) {
	if m == nil {
		return
	}
	m.usageBytes.Set(float64(used))
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
