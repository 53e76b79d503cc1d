// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gmb-sync/internal/logging"
	"github.com/gmb-sync/internal/metrics"
	"github.com/gmb-sync/internal/models"
	"github.com/gmb-sync/internal/types"
)

// Service interfaces for dependency injection and testing

// SyncRunner runs a transactional account sync
type SyncRunner interface {
	PerformTransactionalSync(ctx context.Context, accountID string, includeQuestions bool) (*models.SyncResult, error)
}

// JobStore is the part of the job queue the API reads and writes
type JobStore interface {
	Enqueue(ctx context.Context, accountID, userID string, jobType types.JobType, priority int, metadata models.JobMetadata) (string, error)
	HasActiveJob(ctx context.Context, accountID string, jobType types.JobType) (bool, error)
	GetByID(ctx context.Context, jobID string) (*models.SyncJob, error)
	ListByParent(ctx context.Context, parentJobID string) ([]*models.SyncJob, error)
}

// AccountReader loads accounts
type AccountReader interface {
	GetByID(ctx context.Context, accountID string) (*models.Account, error)
}

// EventReader reads the recorded progress of a sync
type EventReader interface {
	ListBySyncID(ctx context.Context, syncID string) ([]*models.SyncEvent, error)
}

// Dependencies are the collaborators behind the routes. Progress and Gatherer are optional.
type Dependencies struct {
	Sync     SyncRunner
	Jobs     JobStore
	Accounts AccountReader
	Events   EventReader
	Progress http.Handler
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	deps       Dependencies
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	RequestsPerSecond int
	Burst             int
	IncludeQuestions  bool // default for sync requests without the query parameter
	DiscoveryPriority int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, deps Dependencies) *Server {
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		config: config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(MetricsMiddleware(s.deps.Metrics))
	s.router.Use(CORSMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	gatherer := s.deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	// Must be registered before the /api subrouter.
	if s.deps.Progress != nil {
		s.router.Handle("/api/progress/ws", s.deps.Progress).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(rateLimiter))

	api.HandleFunc("/accounts/{accountId}/sync", s.handleSync).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{accountId}/discovery", s.handleDiscovery).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{jobId}", s.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/sync/{syncId}/events", s.handleGetSyncEvents).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// Handler returns the root handler, used by tests and embedding servers
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "gmb-sync",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.Infof("[API] Starting server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("[API] Shutting down server")
	return s.httpServer.Shutdown(ctx)
}
