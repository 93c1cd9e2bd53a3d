package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jortega/priceradar/internal/pipeline"
	"github.com/jortega/priceradar/internal/scheduler"
	"github.com/jortega/priceradar/internal/store"
	"github.com/jortega/priceradar/pkg/market"
	"github.com/jortega/priceradar/pkg/series"
	"github.com/jortega/priceradar/pkg/stats"
)

type keywordsResponse struct {
	Keywords []string `json:"keywords"`
	Count    int      `json:"count"`
}

func (s *Server) handleKeywords(w http.ResponseWriter, r *http.Request) {
	keywords, err := s.store.ListKeywords(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if keywords == nil {
		keywords = []string{}
	}
	writeJSON(w, http.StatusOK, keywordsResponse{Keywords: keywords, Count: len(keywords)})
}

// statsResponse is the latest-run view of one keyword: the summary columns,
// the price bands, the sell-speed digest, and the change against the
// previous run.
type statsResponse struct {
	Keyword   string           `json:"keyword"`
	ScrapedAt time.Time        `json:"scraped_at"`
	Stats     stats.Summary    `json:"stats"`
	Ranges    stats.Ranges     `json:"price_ranges"`
	SellSpeed series.SellSpeed `json:"sell_speed"`
	Change    series.Change    `json:"change"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	keyword := r.PathValue("keyword")
	ctx := r.Context()

	run, err := s.store.LatestRun(ctx, keyword)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "no runs for keyword "+keyword)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	speed, err := s.agg.SellSpeedOf(ctx, keyword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	points, err := s.agg.Series(ctx, keyword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Keyword:   run.Keyword,
		ScrapedAt: run.ScrapedAt,
		Stats:     run.Stats(),
		Ranges:    run.Ranges,
		SellSpeed: speed,
		Change:    series.ChangeOf(points),
	})
}

type seriesResponse struct {
	Keyword string         `json:"keyword"`
	Series  []series.Point `json:"series"`
	Count   int            `json:"count"`
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	keyword := r.PathValue("keyword")
	points, err := s.agg.Series(r.Context(), keyword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, seriesResponse{Keyword: keyword, Series: points, Count: len(points)})
}

type runsResponse struct {
	Keyword string             `json:"keyword"`
	Runs    []store.RunSummary `json:"runs"`
	Count   int                `json:"count"`
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	keyword := r.PathValue("keyword")
	runs, err := s.store.ListRuns(r.Context(), keyword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}
	writeJSON(w, http.StatusOK, runsResponse{Keyword: keyword, Runs: runs, Count: len(runs)})
}

// scrapeRequest carries the optional overrides for an on-demand run; absent
// fields fall back to the configured scrape defaults.
type scrapeRequest struct {
	Limit          *int     `json:"limit"`
	OrderBy        string   `json:"order_by"`
	MinPrice       *float64 `json:"min_price"`
	MaxPrice       *float64 `json:"max_price"`
	FilterMode     string   `json:"filter_mode"`
	ExcludeBadText *bool    `json:"exclude_bad_text"`
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	keyword := strings.TrimSpace(r.PathValue("keyword"))
	if keyword == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "keyword must not be empty")
		return
	}

	// ContentLength is -1 for chunked bodies; only a definitely-empty body
	// skips decoding.
	req := scrapeRequest{}
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	if req.MinPrice != nil && req.MaxPrice != nil && *req.MinPrice > *req.MaxPrice {
		req.MinPrice, req.MaxPrice = req.MaxPrice, req.MinPrice
	}

	run := pipeline.Request{
		Keyword:        keyword,
		Limit:          s.scrape.Limit,
		OrderBy:        s.scrape.OrderBy,
		MinPrice:       req.MinPrice,
		MaxPrice:       req.MaxPrice,
		FilterMode:     s.scrape.FilterMode,
		ExcludeBadText: s.scrape.ExcludeBadText,
	}
	if req.Limit != nil {
		run.Limit = *req.Limit
	}
	if req.OrderBy != "" {
		run.OrderBy = req.OrderBy
	}
	if req.FilterMode != "" {
		run.FilterMode = market.NormalizeMode(req.FilterMode)
	}
	if req.ExcludeBadText != nil {
		run.ExcludeBadText = *req.ExcludeBadText
	}

	result, err := s.runner.Run(r.Context(), run)
	if errors.Is(err, pipeline.ErrNoListings) {
		writeError(w, http.StatusNotFound, "no_listings", "no usable listings for keyword "+keyword)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, "scrape_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type deleteResponse struct {
	Deleted int64 `json:"deleted"`
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	keyword := r.PathValue("keyword")
	scrapedAt, err := time.Parse(time.RFC3339, r.PathValue("scraped_at"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "scraped_at must be RFC 3339")
		return
	}

	// Deleting a run that is not there is a no-op reporting zero, never an
	// error.
	deleted, err := s.store.DeleteRun(r.Context(), keyword, scrapedAt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Deleted: deleted})
}

func (s *Server) handleDeleteKeyword(w http.ResponseWriter, r *http.Request) {
	keyword := r.PathValue("keyword")
	deleted, err := s.store.DeleteKeyword(r.Context(), keyword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Deleted: deleted})
}

type compareRequest struct {
	Keywords    []string `json:"keywords"`
	Granularity string   `json:"granularity"`
}

type compareResponse struct {
	Selected    []string     `json:"selected"`
	Granularity string       `json:"granularity"`
	Comparison  []series.Row `json:"comparison"`
	Count       int          `json:"count"`
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Keywords) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "keywords must not be empty")
		return
	}

	// Daily scrapes land seconds apart across keywords, so day bucketing is
	// the default; exact alignment is opt-in.
	granularity := series.ByDay
	name := "day"
	switch strings.ToLower(req.Granularity) {
	case "", "day":
	case "exact":
		granularity = series.Exact
		name = "exact"
	default:
		writeError(w, http.StatusBadRequest, "bad_request", "granularity must be \"day\" or \"exact\"")
		return
	}

	rows, err := s.agg.Compare(r.Context(), req.Keywords, granularity)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if rows == nil {
		rows = []series.Row{}
	}
	writeJSON(w, http.StatusOK, compareResponse{
		Selected:    req.Keywords,
		Granularity: name,
		Comparison:  rows,
		Count:       len(rows),
	})
}

type dailyResponse struct {
	Rows  []store.DailyConfig `json:"rows"`
	Count int                 `json:"count"`
}

func (s *Server) handleGetDaily(w http.ResponseWriter, r *http.Request) {
	configs, err := s.store.ListDailyConfigs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if configs == nil {
		configs = []store.DailyConfig{}
	}
	writeJSON(w, http.StatusOK, dailyResponse{Rows: configs, Count: len(configs)})
}

type setDailyRequest struct {
	Rows []store.DailyConfig `json:"rows"`
}

// handleSetDaily replaces the whole recurring configuration. Posting an
// empty list clears it.
func (s *Server) handleSetDaily(w http.ResponseWriter, r *http.Request) {
	var req setDailyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	seen := make(map[string]bool, len(req.Rows))
	for i := range req.Rows {
		cfg := &req.Rows[i]
		cfg.Keyword = strings.TrimSpace(cfg.Keyword)
		if cfg.Keyword == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "config keyword must not be empty")
			return
		}
		if seen[cfg.Keyword] {
			writeError(w, http.StatusBadRequest, "bad_request", "duplicate keyword "+cfg.Keyword)
			return
		}
		seen[cfg.Keyword] = true
		cfg.FilterMode = market.NormalizeMode(cfg.FilterMode)
	}

	if err := s.store.ReplaceDailyConfigs(r.Context(), req.Rows); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dailyResponse{Rows: req.Rows, Count: len(req.Rows)})
}

type sweepResponse struct {
	Attempted int `json:"attempted"`
}

func (s *Server) handleRunNow(w http.ResponseWriter, r *http.Request) {
	attempted, err := s.sched.RunNow(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{Attempted: attempted})
}

func (s *Server) handleTaskState(w http.ResponseWriter, r *http.Request) {
	st, err := s.sched.State(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type installRequest struct {
	Time string `json:"time"`
}

func (s *Server) handleTaskInstall(w http.ResponseWriter, r *http.Request) {
	var req installRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := scheduler.ValidateTime(req.Time); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := s.sched.Install(r.Context(), req.Time); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	st, _ := s.sched.State(r.Context())
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleTaskRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.Remove(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	st, _ := s.sched.State(r.Context())
	writeJSON(w, http.StatusOK, st)
}
