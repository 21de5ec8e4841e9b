// Package server exposes decoded clips over HTTP.
//
// Routes:
//
//	GET /audio/{key...}  decoded WAVE file (Range requests supported)
//	GET /info/{key...}   clip metadata as JSON
//	GET /abnormal        upstream clip listing with playable URLs
//	GET /healthz         liveness
//	GET /metrics         Prometheus exposition
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/sleepmon/clipd/internal/cache"
	"github.com/sleepmon/clipd/internal/observe"
	"github.com/sleepmon/clipd/internal/storage"
)

// Lister provides the upstream abnormal clip listing.
type Lister interface {
	ListAbnormal(ctx context.Context, days int, device string) (*storage.Listing, error)
}

// Options configures a [Server].
type Options struct {
	Addr    string
	Cache   *cache.Cache
	Fetcher storage.Fetcher

	// Lister is optional; without it /abnormal answers 404.
	Lister Lister

	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Server serves decoded clips over HTTP
type Server struct {
	mu       sync.Mutex
	listener net.Listener
	httpSrv  *http.Server
	addr     string
	running  bool
	done     chan struct{}

	cache    *cache.Cache
	fetcher  storage.Fetcher
	lister   Lister
	gatherer prometheus.Gatherer
	metrics  *observe.Metrics
	log      *slog.Logger

	// proc is nil when process stats are unavailable.
	proc *process.Process
}

// New creates a new clip server
func New(opts Options) *Server {
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		opts.Logger.Debug("process stats unavailable", "err", err)
		proc = nil
	}

	return &Server{
		proc:     proc,
		addr:     opts.Addr,
		cache:    opts.Cache,
		fetcher:  opts.Fetcher,
		lister:   opts.Lister,
		gatherer: opts.Gatherer,
		metrics:  opts.Metrics,
		log:      opts.Logger.With("component", "server"),
	}
}

// Handler returns the complete HTTP handler, middleware included.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /audio/{key...}", s.handleAudio)
	mux.Handle("GET /info/{key...}", gzipped(http.HandlerFunc(s.handleInfo)))
	mux.Handle("GET /abnormal", gzipped(http.HandlerFunc(s.handleAbnormal)))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return observe.Middleware(s.metrics, s.log)(withCORS(mux))
}

// Start starts listening and serving in the background
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.listener = listener
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
	}
	s.done = make(chan struct{})
	s.running = true

	s.log.Info("HTTP server listening", "addr", listener.Addr().String())

	go s.serve(s.httpSrv, listener, s.done)

	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts the server down, waiting for in-flight requests
// until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv, done := s.httpSrv, s.done
	s.mu.Unlock()

	err := srv.Shutdown(ctx)
	<-done
	return err
}

func (s *Server) serve(srv *http.Server, l net.Listener, done chan struct{}) {
	defer close(done)
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error("HTTP server stopped", "err", err)
	}
}
