package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"agripredict/artifacts"
	"agripredict/cache"
	"agripredict/database"
	"agripredict/realtime"
)

// StatusReader returns the latest cached cycle status
type StatusReader interface {
	Latest(ctx context.Context) (*cache.CycleStatus, bool, error)
}

// RunHistory reads recorded cycles
type RunHistory interface {
	RecentRuns(ctx context.Context, limit int) ([]database.TrainingRun, error)
	GetRun(ctx context.Context, id string) (*database.TrainingRun, error)
	LastSuccessfulRun(ctx context.Context) (*database.TrainingRun, error)
}

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// Options wires the server to the rest of the service. Only ArtifactsDir is
// required.
type Options struct {
	ArtifactsDir   string
	Status         StatusReader
	Runs           RunHistory
	Broker         *realtime.Broker
	AllowedOrigins []string
	NextRun        func() time.Time
	Checks         map[string]HealthCheck
	Log            zerolog.Logger
}

// Server handles HTTP API requests
type Server struct {
	opts Options
	log  zerolog.Logger
	srv  *http.Server

	mu       sync.Mutex
	snapshot *artifacts.Snapshot
}

// NewServer creates a new API server instance
func NewServer(opts Options) *Server {
	return &Server{
		opts: opts,
		log:  opts.Log,
	}
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/forecast/status", s.handleStatus)
	mux.HandleFunc("GET /api/forecast/runs", s.handleRuns)
	mux.HandleFunc("GET /api/forecast/runs/{id}", s.handleRun)
	mux.HandleFunc("GET /api/forecast/history", s.handleHistory)
	mux.HandleFunc("GET /api/forecast/regions", s.handleRegions)
	mux.HandleFunc("GET /api/forecast/predict", s.handlePredict)
	mux.HandleFunc("GET /api/features/export", s.handleExportFeatures)

	if s.opts.Broker != nil {
		mux.Handle("GET /api/events", s.opts.Broker) // SSE Endpoint
		mux.Handle("GET /api/events/ws", realtime.NewWSHandler(s.opts.Broker, s.opts.AllowedOrigins))
	}

	mux.Handle("GET /metrics", promhttp.Handler())

	return s.corsMiddleware(s.loggingMiddleware(mux))
}

// Start serves on the given port until Shutdown is called
func (s *Server) Start(port int) error {
	serverAddr := fmt.Sprintf("0.0.0.0:%d", port)

	s.mu.Lock()
	s.srv = &http.Server{
		Addr:              serverAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.srv
	s.mu.Unlock()

	s.log.Info().Str("addr", serverAddr).Msg("🚀 API Server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("took", time.Since(start)).Msg("api request")
	})
}

// currentSnapshot returns the published pair, reloading only when the
// manifest names a new generation.
func (s *Server) currentSnapshot() (*artifacts.Snapshot, error) {
	manifest, err := artifacts.ReadManifest(s.opts.ArtifactsDir)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	cached := s.snapshot
	s.mu.Unlock()
	if cached != nil && cached.Manifest.Generation == manifest.Generation {
		return cached, nil
	}

	snap, err := artifacts.Load(s.opts.ArtifactsDir)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
	return snap, nil
}
