// Package server exposes the HTTP API: keyword statistics, run history,
// series and comparison projections, on-demand scrapes, and the daily
// schedule controls.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/jortega/priceradar/internal/config"
	"github.com/jortega/priceradar/internal/pipeline"
	"github.com/jortega/priceradar/internal/scheduler"
	"github.com/jortega/priceradar/internal/store"
	"github.com/jortega/priceradar/pkg/series"
)

// Server provides the HTTP API.
type Server struct {
	store  store.Store
	runner *pipeline.Runner
	sched  *scheduler.Controller
	agg    *series.Aggregator
	scrape config.ScrapeConfig
	log    zerolog.Logger
	port   int
}

// New creates an HTTP server over the store, pipeline, and scheduler.
func New(st store.Store, runner *pipeline.Runner, sched *scheduler.Controller, scrape config.ScrapeConfig, log zerolog.Logger, port int) *Server {
	if port == 0 {
		port = 8811
	}
	return &Server{
		store:  st,
		runner: runner,
		sched:  sched,
		agg:    series.New(st),
		scrape: scrape,
		log:    log.With().Str("component", "server").Logger(),
		port:   port,
	}
}

// Handler builds the route table. Split out from ListenAndServe so tests can
// drive it through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/v1/keywords", s.handleKeywords)
	mux.HandleFunc("GET /api/v1/keyword/{keyword}/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/keyword/{keyword}/series", s.handleSeries)
	mux.HandleFunc("GET /api/v1/keyword/{keyword}/runs", s.handleRuns)
	mux.HandleFunc("POST /api/v1/keyword/{keyword}/scrape", s.handleScrape)
	mux.HandleFunc("DELETE /api/v1/keyword/{keyword}/runs/{scraped_at}", s.handleDeleteRun)
	mux.HandleFunc("DELETE /api/v1/keyword/{keyword}", s.handleDeleteKeyword)

	mux.HandleFunc("POST /api/v1/compare", s.handleCompare)

	mux.HandleFunc("GET /api/v1/daily", s.handleGetDaily)
	mux.HandleFunc("POST /api/v1/daily", s.handleSetDaily)
	mux.HandleFunc("POST /api/v1/daily/run_now", s.handleRunNow)
	mux.HandleFunc("GET /api/v1/daily/task", s.handleTaskState)
	mux.HandleFunc("POST /api/v1/daily/task/install", s.handleTaskInstall)
	mux.HandleFunc("POST /api/v1/daily/task/remove", s.handleTaskRemove)

	return mux
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.log.Info().Str("addr", addr).Msg("listening")
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// apiError is the error envelope every failing endpoint returns.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]apiError{"error": {Code: code, Message: message}})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
