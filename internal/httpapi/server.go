// Package httpapi exposes the pipeline over a small JSON API with an SSE
// stream for live job status.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/notepress/notepress/internal/analysis"
	"github.com/notepress/notepress/internal/jobs"
)

// jobService is the slice of the pipeline the API needs.
type jobService interface {
	Jobs(ctx context.Context) ([]*jobs.Job, error)
	Submit(ctx context.Context, path string) (*jobs.Job, bool, error)
	Retry(ctx context.Context, path string) (*jobs.Job, error)
	Augment(ctx context.Context, noteID string) (analysis.Result, error)
}

type scanTrigger interface {
	Scan(ctx context.Context) (int, error)
}

type Server struct {
	pipeline jobService
	scanner  scanTrigger

	streamInterval time.Duration

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithScanner(scanner scanTrigger) Option {
	return func(s *Server) {
		s.scanner = scanner
	}
}

func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

func NewServer(pipeline jobService, opts ...Option) *Server {
	s := &Server{
		pipeline:       pipeline,
		streamInterval: time.Second,
		mux:            http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/jobs", s.handleJobs)
	s.mux.HandleFunc("/api/jobs/retry", s.handleRetry)
	s.mux.HandleFunc("/api/jobs/stream", s.handleJobStream)
	s.mux.HandleFunc("/api/scan", s.handleScan)
	s.mux.HandleFunc("/api/augment", s.handleAugment)
	s.mux.HandleFunc("/api/healthz", s.handleHealthz)
}
