// Package api provides the operational HTTP surface: health, readiness,
// and read-only views of the run ledger. Trading control does not live
// here; the worker owns the cycle.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/ethanbabel/crypto-yield-farming-bot/internal/logging"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/models"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/storage"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/worker"
)

// StatusProvider exposes the cycle worker's state to the ops surface
type StatusProvider interface {
	Status() worker.Status
}

// Server is the operational HTTP server
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	runRepo    *storage.RunRepository
	tradeRepo  *storage.TradeRepository
	snapRepo   *storage.SnapshotRepository
	status     StatusProvider
	logger     *logging.Logger
	config     *ServerConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new ops server instance
func NewServer(
	config *ServerConfig,
	runRepo *storage.RunRepository,
	tradeRepo *storage.TradeRepository,
	snapRepo *storage.SnapshotRepository,
	status StatusProvider,
	logger *logging.Logger,
) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		runRepo:   runRepo,
		tradeRepo: tradeRepo,
		snapRepo:  snapRepo,
		status:    status,
		logger:    logger.WithField("component", "ops_server"),
		config:    config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all ops routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/ready", s.handleReady).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/runs/latest", s.handleLatestRun).Methods("GET")
	api.HandleFunc("/runs/{id}/targets", s.handleRunTargets).Methods("GET")
	api.HandleFunc("/runs/{id}/trades", s.handleRunTrades).Methods("GET")
	api.HandleFunc("/snapshots/latest", s.handleLatestSnapshot).Methods("GET")
}

// handleHealth reports process liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "yield-farming-bot",
	})
}

// handleReady reports whether the worker is accepting cycles. A halted
// worker (fatal cycle error awaiting review) is not ready.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.status.Status()
	if !status.Running || status.Halted {
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// handleStatus returns the worker's cycle status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.status.Status())
}

// handleLatestRun returns the most recent strategy run with its targets
func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runRepo.LatestRun(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to load latest run")
		return
	}
	if run == nil {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "no runs recorded yet")
		return
	}

	targets, err := s.runRepo.TargetsForRun(r.Context(), run.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to load run targets")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"run":     run,
		"targets": targets,
	})
}

// handleRunTargets returns the targets of a run
func (s *Server) handleRunTargets(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}

	targets, err := s.runRepo.TargetsForRun(r.Context(), runID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to load run targets")
		return
	}
	respondJSON(w, http.StatusOK, targets)
}

// handleRunTrades returns the trade audit trail of a run
func (s *Server) handleRunTrades(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}

	trades, err := s.tradeRepo.TradesForRun(r.Context(), runID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to load run trades")
		return
	}
	if trades == nil {
		trades = []*models.Trade{}
	}
	respondJSON(w, http.StatusOK, trades)
}

// handleLatestSnapshot returns the most recent portfolio snapshot with
// its position breakdown
func (s *Server) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.snapRepo.Latest(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to load latest snapshot")
		return
	}
	if snapshot == nil {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "no snapshots recorded yet")
		return
	}

	positions, err := s.snapRepo.PositionsForSnapshot(r.Context(), snapshot.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to load snapshot positions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"snapshot":  snapshot,
		"positions": positions,
	})
}

func parseRunID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["id"]
	runID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || runID < 1 {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "run id must be a positive integer")
		return 0, false
	}
	return runID, true
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting ops server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down ops server")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.router
}
