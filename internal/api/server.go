// Package api exposes backtest runs over HTTP and pushes live progress
// over websockets.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/admf-trader/backtest-engine/internal/backtester"
	"github.com/admf-trader/backtest-engine/internal/data"
	"github.com/admf-trader/backtest-engine/internal/strategy"
	"github.com/admf-trader/backtest-engine/pkg/types"
	"github.com/admf-trader/backtest-engine/pkg/utils"
)

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// DefaultServerConfig returns sensible defaults for local use.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:           ":8080",
		AllowedOrigins: []string{"*"},
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   30 * time.Second,
	}
}

type runStatus string

const (
	statusRunning   runStatus = "running"
	statusCompleted runStatus = "completed"
	statusCancelled runStatus = "cancelled"
	statusFailed    runStatus = "failed"
)

// runState tracks one submitted backtest for the lifetime of the server.
type runState struct {
	mu          sync.RWMutex
	coordinator *backtester.Coordinator
	status      runStatus
	progress    types.BacktestProgress
	result      *types.BacktestResult
	errMsg      string
	startedAt   time.Time
}

func (r *runState) snapshot() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]interface{}{
		"status":    r.status,
		"progress":  r.progress,
		"startedAt": r.startedAt,
	}
	if r.result != nil {
		out["result"] = r.result
	}
	if r.errMsg != "" {
		out["error"] = r.errMsg
	}
	return out
}

// Server serves the backtest HTTP API.
type Server struct {
	logger   *zap.Logger
	config   ServerConfig
	baseCfg  types.BacktestConfig
	registry *strategy.Registry
	hub      *Hub

	httpServer *http.Server
	handler    http.Handler

	mu   sync.RWMutex
	runs map[string]*runState
}

// NewServer creates the API server. baseCfg supplies defaults that each
// run request may override.
func NewServer(logger *zap.Logger, config ServerConfig, baseCfg types.BacktestConfig, registry *strategy.Registry) *Server {
	s := &Server{
		logger:   logger,
		config:   config,
		baseCfg:  baseCfg,
		registry: registry,
		hub:      NewHub(logger),
		runs:     make(map[string]*runState),
	}

	router := mux.NewRouter()
	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	v1.HandleFunc("/strategies", s.handleStrategies).Methods(http.MethodGet)
	v1.HandleFunc("/backtest/run", s.handleRun).Methods(http.MethodPost)
	v1.HandleFunc("/backtest/{id}", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/backtest/{id}/trades", s.handleTrades).Methods(http.MethodGet)
	v1.HandleFunc("/backtest/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	v1.HandleFunc("/ws", s.hub.ServeWS)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.handler = cors.New(cors.Options{
		AllowedOrigins: config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(router)

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start runs the hub and blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	go s.hub.Run()
	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.logger.Info("api server listening", zap.String("addr", s.config.Addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server and the websocket hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	runCount := len(s.runs)
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"time":    time.Now().UTC(),
		"runs":    runCount,
		"clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategies": s.registry.List(),
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	cfg := s.baseCfg
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if cfg.RunID == "" {
		cfg.RunID = utils.GenerateRunID()
	}

	s.mu.Lock()
	if _, exists := s.runs[cfg.RunID]; exists {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, fmt.Errorf("run %s already exists", cfg.RunID))
		return
	}
	s.mu.Unlock()

	coordinator, err := s.buildCoordinator(cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	run := &runState{
		coordinator: coordinator,
		status:      statusRunning,
		startedAt:   time.Now().UTC(),
	}
	s.mu.Lock()
	s.runs[cfg.RunID] = run
	s.mu.Unlock()

	coordinator.SetProgressFunc(func(p types.BacktestProgress) {
		run.mu.Lock()
		run.progress = p
		run.mu.Unlock()
		s.hub.Broadcast("backtest.progress", p.RunID, p)
	})

	go s.execute(cfg.RunID, run)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"runId":  cfg.RunID,
		"status": statusRunning,
	})
}

func (s *Server) buildCoordinator(cfg types.BacktestConfig) (*backtester.Coordinator, error) {
	strat, err := s.registry.Build(cfg.Strategy.Name, cfg.Strategy.Parameters)
	if err != nil {
		return nil, fmt.Errorf("build strategy: %w", err)
	}
	loader := data.NewCSVLoader(s.logger, cfg.Data.TimestampFormat)
	perSymbol, err := loader.LoadDir(cfg.Data.Dir, cfg.Symbols)
	if err != nil {
		return nil, fmt.Errorf("load data: %w", err)
	}
	series, err := data.NewSeries(perSymbol)
	if err != nil {
		return nil, fmt.Errorf("build series: %w", err)
	}
	return backtester.NewCoordinator(s.logger, cfg, series, strat)
}

func (s *Server) execute(runID string, run *runState) {
	result, err := run.coordinator.Run(context.Background())

	run.mu.Lock()
	switch {
	case err != nil:
		run.status = statusFailed
		run.errMsg = err.Error()
	case result.Cancelled:
		run.status = statusCancelled
		run.result = result
	default:
		run.status = statusCompleted
		run.result = result
	}
	status := run.status
	run.mu.Unlock()

	if err != nil {
		s.logger.Error("backtest failed", zap.String("run_id", runID), zap.Error(err))
		s.hub.Broadcast("backtest.failed", runID, map[string]string{"error": err.Error()})
		return
	}
	s.hub.Broadcast("backtest."+string(status), runID, result)
}

func (s *Server) run(r *http.Request) (*runState, string, bool) {
	id := mux.Vars(r)["id"]
	s.mu.RLock()
	run, ok := s.runs[id]
	s.mu.RUnlock()
	return run, id, ok
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	run, id, ok := s.run(r)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown run %s", id))
		return
	}
	body := run.snapshot()
	body["runId"] = id
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	run, id, ok := s.run(r)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown run %s", id))
		return
	}
	run.mu.RLock()
	defer run.mu.RUnlock()
	if run.result == nil {
		writeError(w, http.StatusConflict, fmt.Errorf("run %s has no result yet", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runId":  id,
		"trades": run.result.Trades,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	run, id, ok := s.run(r)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown run %s", id))
		return
	}
	run.coordinator.Cancel()
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"runId":  id,
		"status": "cancel requested",
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
