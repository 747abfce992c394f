package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.Transcript("Agent")
	if got := testutil.ToFloat64(b.Transcripts.WithLabelValues("Agent")); got != 0 {
		t.Errorf("second instance saw %v transcripts, want 0", got)
	}
	if got := testutil.ToFloat64(a.Transcripts.WithLabelValues("Agent")); got != 1 {
		t.Errorf("transcripts = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ChunkSent("Agent")
	m.SendFailed("Agent")
	m.SetDropped("Agent", 3)
	m.Transcript("Agent")
	m.ServiceError("Customer")
	m.Flushed("threshold", 0)
	m.Dispatched("ok", time.Second)
	m.DispatchQueueFull()
	m.SetQueueDepth(2)
	m.SetRunning(true)
	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
}

func TestSetDropped_Monotonic(t *testing.T) {
	m := New()

	m.SetDropped("Customer", 4)
	m.SetDropped("Customer", 2)
	m.SetDropped("Customer", 7)

	if got := testutil.ToFloat64(m.ChunksDropped.WithLabelValues("Customer")); got != 7 {
		t.Errorf("dropped = %v, want 7", got)
	}
}

func TestCounters(t *testing.T) {
	m := New()

	m.ChunkSent("Agent")
	m.ChunkSent("Agent")
	m.SendFailed("Agent")
	m.ServiceError("Customer")
	m.Flushed("threshold", 1)
	m.Dispatched("ok", 120*time.Millisecond)
	m.Dispatched("failed", time.Second)
	m.DispatchQueueFull()
	m.SetRunning(true)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"read", testutil.ToFloat64(m.ChunksRead.WithLabelValues("Agent")), 3},
		{"sent", testutil.ToFloat64(m.ChunksSent.WithLabelValues("Agent")), 2},
		{"send errors", testutil.ToFloat64(m.SendErrors.WithLabelValues("Agent")), 1},
		{"service errors", testutil.ToFloat64(m.ServiceErrors.WithLabelValues("Customer")), 1},
		{"flushed", testutil.ToFloat64(m.BatchesFlushed.WithLabelValues("threshold")), 1},
		{"pending", testutil.ToFloat64(m.PendingLines), 1},
		{"dispatch ok", testutil.ToFloat64(m.DispatchTotal.WithLabelValues("ok")), 1},
		{"dispatch failed", testutil.ToFloat64(m.DispatchTotal.WithLabelValues("failed")), 1},
		{"queue full", testutil.ToFloat64(m.DispatchDropped), 1},
		{"running", testutil.ToFloat64(m.PipelineUp), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.Transcript("Agent")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `callscribe_transcripts_total{channel="Agent"} 1`) {
		t.Errorf("exposition missing transcript counter:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("exposition missing go collector")
	}
}
