// Package metrics exposes prometheus counters/gauges for the Chum exporter
// and importer, mirroring the teacher's core/system_health_logging.go
// registry-plus-named-collector shape.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups every onecore Chum metric under one prometheus.Registry,
// served by the debug HTTP server at /metrics.
type Registry struct {
	registry *prometheus.Registry

	ExportedBytes     prometheus.Counter
	ExportedObjects   prometheus.Counter
	ExportDenied      prometheus.Counter
	ActiveConnections prometheus.Gauge

	ImportedObjects prometheus.Counter
	ImportErrors    prometheus.Counter
	MergeCount      prometheus.Counter
	PollDuration    prometheus.Histogram
}

// New constructs and registers every collector.
func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		registry: reg,
		ExportedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "onecore_chum_exported_bytes_total",
			Help: "Total bytes served by the Chum exporter (objects, microdata and BLOB streams).",
		}),
		ExportedObjects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "onecore_chum_exported_objects_total",
			Help: "Total objects, id-objects and blobs served by the Chum exporter.",
		}),
		ExportDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "onecore_chum_export_denied_total",
			Help: "Requests refused with AccessDenied by the Chum exporter.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "onecore_chum_active_connections",
			Help: "Currently open Chum exporter connections.",
		}),
		ImportedObjects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "onecore_chum_imported_objects_total",
			Help: "Total objects, id-objects and blobs fetched by the Chum importer.",
		}),
		ImportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "onecore_chum_import_errors_total",
			Help: "Per-root import failures reported via onError.",
		}),
		MergeCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "onecore_chum_merges_total",
			Help: "Version-node merges performed by the Merge Coordinator in REMOTE mode.",
		}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "onecore_chum_poll_duration_seconds",
			Help: "Duration of one Chum importer poll cycle.",
		}),
	}
	reg.MustRegister(
		m.ExportedBytes, m.ExportedObjects, m.ExportDenied, m.ActiveConnections,
		m.ImportedObjects, m.ImportErrors, m.MergeCount, m.PollDuration,
	)
	return m
}

// Handler returns the promhttp handler serving this registry's collectors.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
