// Package pipeline executes one end-to-end ingestion run: fetch listings,
// filter them, compute statistics and price bands, and persist the run. It
// is the only writer of run history.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jortega/priceradar/internal/store"
	"github.com/jortega/priceradar/pkg/market"
	"github.com/jortega/priceradar/pkg/series"
	"github.com/jortega/priceradar/pkg/stats"
)

// ErrNoListings is returned when a scrape yields no usable listings after
// filtering. Nothing is written in that case; the keyword's history only
// ever contains runs backed by data.
var ErrNoListings = errors.New("no usable listings")

// Request describes one ingestion run for a keyword.
type Request struct {
	Keyword        string
	Limit          int
	OrderBy        string
	MinPrice       *float64
	MaxPrice       *float64
	FilterMode     string
	ExcludeBadText bool
}

// Result is what one successful run produced.
type Result struct {
	Keyword   string            `json:"keyword"`
	ScrapedAt time.Time         `json:"scraped_at"`
	Stats     stats.Summary     `json:"stats"`
	Ranges    stats.Ranges      `json:"price_ranges"`
	Filter    market.FilterMeta `json:"filter"`
}

// Runner owns the scrape-filter-compute-persist sequence. Runs for the same
// keyword are serialized; different keywords proceed in parallel.
type Runner struct {
	store   store.Store
	scraper market.Scraper
	agg     *series.Aggregator
	log     zerolog.Logger
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRunner wires a Runner over the store and scraper.
func NewRunner(st store.Store, scraper market.Scraper, log zerolog.Logger) *Runner {
	return &Runner{
		store:   st,
		scraper: scraper,
		agg:     series.New(st),
		log:     log.With().Str("component", "pipeline").Logger(),
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (r *Runner) keywordLock(keyword string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.locks[keyword]
	if l == nil {
		l = &sync.Mutex{}
		r.locks[keyword] = l
	}
	return l
}

// Run performs one full ingestion for the request's keyword. On success the
// run is stored keyed by (keyword, scraped_at); a scrape that survives no
// filter returns ErrNoListings and leaves the store untouched.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	lock := r.keywordLock(req.Keyword)
	lock.Lock()
	defer lock.Unlock()

	started := r.now()
	log := r.log.With().Str("keyword", req.Keyword).Logger()
	log.Info().Msg("run started")

	raw, err := r.scraper.Search(ctx, market.Query{
		Keyword:  req.Keyword,
		Limit:    req.Limit,
		OrderBy:  market.NormalizeOrderBy(req.OrderBy),
		MinPrice: req.MinPrice,
		MaxPrice: req.MaxPrice,
	})
	if err != nil {
		log.Error().Err(err).Msg("scrape failed")
		return nil, fmt.Errorf("scrape %q: %w", req.Keyword, err)
	}

	listings, meta := market.ApplyFilters(raw, market.FilterOptions{
		Mode:           req.FilterMode,
		ExcludeBadText: req.ExcludeBadText,
	})
	log.Info().
		Int("raw", meta.TotalIn).
		Int("kept", meta.Kept).
		Int("removed_text", meta.RemovedText).
		Int("removed_price", meta.RemovedMinPrice+meta.RemovedLow+meta.RemovedHigh).
		Msg("listings filtered")

	if len(listings) == 0 {
		return nil, fmt.Errorf("run %q: %w", req.Keyword, ErrNoListings)
	}

	summary := stats.Compute(market.Prices(listings))

	// The fast/slow split needs the listing history as it was before this
	// run, so it is read ahead of the upsert.
	var signal *stats.SpeedSignal
	if speed, err := r.agg.SellSpeedOf(ctx, req.Keyword); err != nil {
		log.Warn().Err(err).Msg("sell speed unavailable, classifying without it")
	} else if sig, ok := speed.Signal(); ok {
		signal = &sig
	}
	ranges := stats.ClassifyRanges(summary, signal)

	scrapedAt := started.UTC().Truncate(time.Second)
	run := store.NewRun(req.Keyword, scrapedAt, summary, ranges)
	rows := make([]store.ListingRow, 0, len(listings))
	for _, l := range listings {
		rows = append(rows, store.ListingRow{
			Keyword:    req.Keyword,
			ScrapedAt:  scrapedAt,
			ExternalID: l.ExternalID,
			Title:      l.Title,
			Price:      l.Price,
			URL:        l.URL,
		})
	}
	if err := r.store.UpsertRun(ctx, run, rows); err != nil {
		log.Error().Err(err).Msg("persist failed")
		return nil, fmt.Errorf("persist run %q: %w", req.Keyword, err)
	}

	log.Info().
		Int("n", summary.N).
		Float64("median", summary.Median).
		Dur("took", r.now().Sub(started)).
		Msg("run stored")

	return &Result{
		Keyword:   req.Keyword,
		ScrapedAt: scrapedAt,
		Stats:     summary,
		Ranges:    ranges,
		Filter:    meta,
	}, nil
}
