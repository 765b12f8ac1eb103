package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IncRequest("search", "started")
	m.IncResult("search", "dropped")
	m.ObserveFetch("search", time.Second)
	m.IncForward()
	m.IncClear()
	m.IncClientRequest("search", "started")
	m.ObserveClientDuration(time.Second)
	m.IncClientError("network")
	m.IncExportRow("written")
}

func TestCountersRecord(t *testing.T) {
	m := NewMetrics()
	m.IncRequest("search", "started")
	m.IncRequest("search", "started")
	m.IncResult("detail", "dropped")
	m.IncForward()
	m.IncExportRow("duplicate")

	if got := testutil.ToFloat64(m.CoordinatorStarts.WithLabelValues("search", "started")); got != 2 {
		t.Fatalf("search starts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CoordinatorResults.WithLabelValues("detail", "dropped")); got != 1 {
		t.Fatalf("detail dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DebounceForwards); got != 1 {
		t.Fatalf("forwards = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ExportRows.WithLabelValues("duplicate")); got != 1 {
		t.Fatalf("duplicate export rows = %v, want 1", got)
	}
}
