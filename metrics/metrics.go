// Package metrics bundles the Prometheus collectors shared by the request
// coordinators, the search debouncer, the backend client and the export
// pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors on a dedicated registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registry           *prometheus.Registry
	CoordinatorStarts  *prometheus.CounterVec
	CoordinatorResults *prometheus.CounterVec
	FetchDuration      *prometheus.HistogramVec
	DebounceForwards   prometheus.Counter
	DebounceClears     prometheus.Counter
	ClientRequests     *prometheus.CounterVec
	ClientDuration     prometheus.Histogram
	ClientErrors       *prometheus.CounterVec
	ExportRows         *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	starts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookwise_coordinator_requests_total",
			Help: "Requests handed to a coordinator, by how they were served.",
		},
		[]string{"coordinator", "outcome"},
	)
	results := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookwise_coordinator_results_total",
			Help: "Fetch completions seen by a coordinator, by what happened to them.",
		},
		[]string{"coordinator", "result"},
	)
	fetchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookwise_coordinator_fetch_duration_seconds",
			Help:    "Latency of coordinated fetches, including discarded ones.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"coordinator"},
	)
	forwards := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bookwise_debounce_forwards_total",
			Help: "Search inputs forwarded after the quiet period.",
		},
	)
	clears := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bookwise_debounce_clears_total",
			Help: "Search inputs too short to search that cleared the results.",
		},
	)
	clientRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookwise_client_requests_total",
			Help: "HTTP requests issued to the backend.",
		},
		[]string{"endpoint", "phase"},
	)
	clientDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bookwise_client_request_duration_seconds",
			Help:    "HTTP request latency for backend requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	clientErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookwise_client_errors_total",
			Help: "Backend request errors by type.",
		},
		[]string{"error_type"},
	)

	exportRows := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookwise_export_rows_total",
			Help: "Offer rows handed to the export pipeline, by outcome.",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(starts, results, fetchDuration, forwards, clears, clientRequests, clientDuration, clientErrors, exportRows)

	return &Metrics{
		Registry:           registry,
		CoordinatorStarts:  starts,
		CoordinatorResults: results,
		FetchDuration:      fetchDuration,
		DebounceForwards:   forwards,
		DebounceClears:     clears,
		ClientRequests:     clientRequests,
		ClientDuration:     clientDuration,
		ClientErrors:       clientErrors,
		ExportRows:         exportRows,
	}
}

// IncRequest counts a coordinator request by outcome
// (started, cache_hit, stale_hit, in_flight, idle).
func (m *Metrics) IncRequest(coordinator, outcome string) {
	if m == nil {
		return
	}
	m.CoordinatorStarts.WithLabelValues(coordinator, outcome).Inc()
}

// IncResult counts a fetch completion by result (settled, failed, dropped, cancelled).
func (m *Metrics) IncResult(coordinator, result string) {
	if m == nil {
		return
	}
	m.CoordinatorResults.WithLabelValues(coordinator, result).Inc()
}

// ObserveFetch records the duration of a coordinated fetch.
func (m *Metrics) ObserveFetch(coordinator string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(coordinator).Observe(d.Seconds())
}

// IncForward increments the debounce forwards counter.
func (m *Metrics) IncForward() {
	if m == nil {
		return
	}
	m.DebounceForwards.Inc()
}

// IncClear increments the debounce clears counter.
func (m *Metrics) IncClear() {
	if m == nil {
		return
	}
	m.DebounceClears.Inc()
}

// IncClientRequest counts a backend request phase for endpoint.
func (m *Metrics) IncClientRequest(endpoint, phase string) {
	if m == nil {
		return
	}
	m.ClientRequests.WithLabelValues(endpoint, phase).Inc()
}

// ObserveClientDuration records a backend request duration.
func (m *Metrics) ObserveClientDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.ClientDuration.Observe(d.Seconds())
}

// IncClientError increments the client errors counter for a type label.
func (m *Metrics) IncClientError(errorType string) {
	if m == nil {
		return
	}
	m.ClientErrors.WithLabelValues(errorType).Inc()
}

// IncExportRow counts an export row by outcome (written, invalid, duplicate).
func (m *Metrics) IncExportRow(outcome string) {
	if m == nil {
		return
	}
	m.ExportRows.WithLabelValues(outcome).Inc()
}
