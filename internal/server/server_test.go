package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/leonardotrapani/callscribe/internal/conversation"
	"github.com/leonardotrapani/callscribe/internal/dispatch"
	"github.com/leonardotrapani/callscribe/internal/metrics"
	"github.com/leonardotrapani/callscribe/internal/pipeline"
)

type fakeSource struct {
	status  pipeline.Status
	pending int
	flushes int
}

func (f *fakeSource) Snapshot() pipeline.Snapshot {
	return pipeline.Snapshot{
		Status:    f.status,
		Pending:   f.pending,
		Threshold: 5,
		Channels:  []pipeline.ChannelSnapshot{{Label: "Agent", Transcripts: 3}, {Label: "Customer", Transcripts: 1}},
	}
}

func (f *fakeSource) Flush() (conversation.Batch, bool) {
	f.flushes++
	if f.pending == 0 {
		return conversation.Batch{}, false
	}
	b := conversation.Batch{ID: "manual-1", Lines: make([]conversation.Line, f.pending)}
	f.pending = 0
	return b, true
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		status pipeline.Status
		want   int
	}{
		{pipeline.Running, http.StatusOK},
		{pipeline.Starting, http.StatusServiceUnavailable},
		{pipeline.Idle, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			s := New(&fakeSource{status: tt.status}, nil, nil, nil)
			rec := httptest.NewRecorder()
			s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if rec.Code != tt.want {
				t.Errorf("code = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	stats := func() dispatch.Stats { return dispatch.Stats{Dispatched: 4, Failed: 1} }
	s := New(&fakeSource{status: pipeline.Running, pending: 2}, stats, nil, nil)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var resp StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Pipeline.Status != pipeline.Running || resp.Pipeline.Pending != 2 {
		t.Errorf("pipeline = %+v", resp.Pipeline)
	}
	if len(resp.Pipeline.Channels) != 2 || resp.Pipeline.Channels[0].Transcripts != 3 {
		t.Errorf("channels = %+v", resp.Pipeline.Channels)
	}
	if resp.Dispatch.Dispatched != 4 || resp.Dispatch.Failed != 1 {
		t.Errorf("dispatch = %+v", resp.Dispatch)
	}
}

func TestFlush(t *testing.T) {
	src := &fakeSource{status: pipeline.Running, pending: 3}
	s := New(src, nil, nil, nil)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/flush", nil))

	var resp FlushResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if !resp.Flushed || resp.Lines != 3 || resp.BatchID != "manual-1" {
		t.Errorf("first flush = %+v", resp)
	}

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/flush", nil))
	resp = FlushResponse{}
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Flushed {
		t.Errorf("second flush should find nothing, got %+v", resp)
	}

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/flush", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /flush code = %d, want 405", rec.Code)
	}
	if src.flushes != 2 {
		t.Errorf("flushes = %d, want 2", src.flushes)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.Transcript("Customer")
	s := New(&fakeSource{status: pipeline.Running}, nil, m, nil)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `callscribe_transcripts_total{channel="Customer"} 1`) {
		t.Errorf("metrics output missing counter:\n%s", body)
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := New(&fakeSource{status: pipeline.Running}, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("code = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}
