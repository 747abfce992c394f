package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/leonardotrapani/callscribe/internal/conversation"
	"github.com/leonardotrapani/callscribe/internal/dispatch"
	"github.com/leonardotrapani/callscribe/internal/metrics"
	"github.com/leonardotrapani/callscribe/internal/pipeline"
)

// Source is the running pipeline as seen by the status server.
type Source interface {
	Snapshot() pipeline.Snapshot
	Flush() (conversation.Batch, bool)
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Pipeline pipeline.Snapshot `json:"pipeline"`
	Dispatch dispatch.Stats    `json:"dispatch"`
}

type FlushResponse struct {
	Flushed bool   `json:"flushed"`
	BatchID string `json:"batch_id,omitempty"`
	Lines   int    `json:"lines"`
}

type Server struct {
	source  Source
	stats   func() dispatch.Stats
	metrics *metrics.Metrics
	logger  *log.Logger
	http    *http.Server
}

func New(source Source, stats func() dispatch.Stats, m *metrics.Metrics, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	if stats == nil {
		stats = func() dispatch.Stats { return dispatch.Stats{} }
	}
	s := &Server{
		source:  source,
		stats:   stats,
		metrics: m,
		logger:  logger.WithPrefix("server"),
	}
	s.http = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Post("/flush", s.handleFlush)
	r.Handle("/metrics", s.metrics.Handler())
	return r
}

// Serve blocks until ctx is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()
	s.logger.Info("status server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	return nil
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.source.Snapshot().Status
	code := http.StatusOK
	if status != pipeline.Running {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": string(status)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Pipeline: s.source.Snapshot(),
		Dispatch: s.stats(),
	})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	b, ok := s.source.Flush()
	resp := FlushResponse{Flushed: ok}
	if ok {
		resp.BatchID = b.ID
		resp.Lines = b.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
