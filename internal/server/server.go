// Package server provides the batch processing core's thin operational HTTP
// surface (spec.md §6 names response shapes; this module fixes concrete
// routes, per SPEC_FULL.md §C.1). Grounded in the teacher's
// internal/server/server.go chi-router composition (middleware stack, New,
// Start/Shutdown), adapted from Sentinel's dozens of module handler groups
// down to a health check plus the five /api routes a batch core's operators
// actually need.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/sigmasight/batch-core/internal/calendar"
	"github.com/sigmasight/batch-core/internal/config"
	"github.com/sigmasight/batch-core/internal/database"
	"github.com/sigmasight/batch-core/internal/events"
	"github.com/sigmasight/batch-core/internal/history"
	"github.com/sigmasight/batch-core/internal/orchestrator"
	"github.com/sigmasight/batch-core/internal/repository"
)

// Config holds everything New needs to build a Server.
type Config struct {
	Log          zerolog.Logger
	Port         int
	DevMode      bool
	DB           *database.DB
	Orchestrator *orchestrator.Orchestrator
	Runs         *history.Repository
	Tracker      *history.Tracker
	Snapshots    *repository.SnapshotRepository
	Events       *events.Bus
	Calendar     *calendar.NYSE
	Config       *config.Config
}

// Server is the batch core's HTTP surface: status, run history, snapshot
// reads, and an SSE lifecycle stream. It never triggers a run itself
// (cmd/batch and the cron scheduler own that); it only reports state.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger

	db        *database.DB
	runs      *history.Repository
	tracker   *history.Tracker
	snapshots *repository.SnapshotRepository
	events    *events.Bus
	calendar  *calendar.NYSE
	cfg       *config.Config

	startedAt time.Time
}

// New builds a Server and wires its routes; call Start to begin serving.
func New(c Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       c.Log.With().Str("component", "http_server").Logger(),
		db:        c.DB,
		runs:      c.Runs,
		tracker:   c.Tracker,
		snapshots: c.Snapshots,
		events:    c.Events,
		calendar:  c.Calendar,
		cfg:       c.Config,
		startedAt: time.Now(),
	}

	s.setupMiddleware(c.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", c.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // the SSE stream holds connections open
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/batch/runs", s.handleListRuns)
		r.Get("/batch/runs/{id}", s.handleGetRun)
		r.Get("/portfolios/{id}/snapshot", s.handlePortfolioSnapshot)
		r.Get("/events/stream", s.handleEventsStream)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// Start begins serving. It blocks until the listener stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting http server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down http server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.HealthCheck(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus reports process health alongside the progress of the batch
// run in flight, if any (a finished run is not shown), mirroring the teacher's LED/system status
// surface adapted from Arduino indicators to a JSON operational summary.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := processStats(s.log)

	resp := map[string]any{
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
		"cpu_percent":     cpuPercent,
		"memory_percent":  memPercent,
		"beta_invite_code_configured": s.cfg.BetaInviteCode != "",
	}
	if snap := s.tracker.Snapshot(); snap != nil {
		resp["current_run"] = snap
	}
	writeJSON(w, http.StatusOK, resp)
}

func processStats(log zerolog.Logger) (cpuPercent, memPercent float64) {
	percentages, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read cpu percentage")
	} else if len(percentages) > 0 {
		cpuPercent = percentages[0]
	}

	virtMem, err := mem.VirtualMemory()
	if err != nil {
		log.Warn().Err(err).Msg("failed to read memory statistics")
		return cpuPercent, 0
	}
	return cpuPercent, virtMem.UsedPercent
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	runs, err := s.runs.Recent(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid batch run id"})
		return
	}
	run, err := s.runs.Get(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if run == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "batch run not found"})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handlePortfolioSnapshot serves the most recent snapshot on or before an
// as_of date (default: today). A caller-supplied as_of must be an NYSE
// trading day - the batch never writes a snapshot for any other date
// (spec.md §4.G), so rejecting it here surfaces a caller mistake instead of
// silently falling back to the prior trading day.
func (s *Server) handlePortfolioSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid portfolio id"})
		return
	}

	asOf := time.Now()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		asOf, err = time.Parse("2006-01-02", raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "as_of must be YYYY-MM-DD"})
			return
		}
		if err := s.calendar.RequireTradingDay(asOf); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}

	snap, err := s.snapshots.Latest(r.Context(), id, asOf)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if snap == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no snapshot yet for this portfolio"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
