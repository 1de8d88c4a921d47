// Package metrics exposes load and enrichment counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Enrichment row outcomes.
const (
	RowFilled        = "filled"
	RowAlreadyFilled = "already_filled"
	RowNotFound      = "not_found"
	RowNoIdentifier  = "no_identifier"
)

// Metrics holds all Prometheus metrics for both passes. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Files            *prometheus.CounterVec
	RecordsExtracted prometheus.Counter
	RecordsSkipped   prometheus.Counter
	RowsUpserted     prometheus.Counter
	BatchesCommitted prometheus.Counter
	EnrichRows       *prometheus.CounterVec
	StoreDuration    *prometheus.HistogramVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Files: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_files_total",
			Help: "Registry dump files processed, by status (ok or skipped)",
		}, []string{"status"}),
		RecordsExtracted: factory.NewCounter(prometheus.CounterOpts{
			Name: "registry_records_extracted_total",
			Help: "Records with identifier and region extracted from registry dumps",
		}),
		RecordsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "registry_records_skipped_total",
			Help: "Registry documents skipped for a missing identifier or region",
		}),
		RowsUpserted: factory.NewCounter(prometheus.CounterOpts{
			Name: "registry_rows_upserted_total",
			Help: "Records written to the store",
		}),
		BatchesCommitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "registry_batches_committed_total",
			Help: "Upsert transactions committed",
		}),
		EnrichRows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "enrich_rows_total",
			Help: "Tabular rows written by the enrichment pass, by outcome",
		}, []string{"result"}),
		StoreDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "registry_store_batch_seconds",
			Help:    "Duration of one batched store operation",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"operation"}),
	}
}

// ObserveFile counts one finished or skipped file and its records.
func (m *Metrics) ObserveFile(records, skippedRecords int, skipped bool) {
	if m == nil {
		return
	}
	status := "ok"
	if skipped {
		status = "skipped"
	}
	m.Files.WithLabelValues(status).Inc()
	m.RecordsExtracted.Add(float64(records))
	m.RecordsSkipped.Add(float64(skippedRecords))
}

// ObserveUpsert counts one committed batch.
func (m *Metrics) ObserveUpsert(rows int, took time.Duration) {
	if m == nil {
		return
	}
	m.RowsUpserted.Add(float64(rows))
	m.BatchesCommitted.Inc()
	m.StoreDuration.WithLabelValues("upsert").Observe(took.Seconds())
}

// ObserveLookup records the duration of one batched lookup.
func (m *Metrics) ObserveLookup(took time.Duration) {
	if m == nil {
		return
	}
	m.StoreDuration.WithLabelValues("lookup").Observe(took.Seconds())
}

// ObserveRow counts one enrichment row outcome.
func (m *Metrics) ObserveRow(result string) {
	if m == nil {
		return
	}
	m.EnrichRows.WithLabelValues(result).Inc()
}
