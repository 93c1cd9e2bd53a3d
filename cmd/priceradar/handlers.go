package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"github.com/jortega/priceradar/internal/config"
	"github.com/jortega/priceradar/internal/logging"
	"github.com/jortega/priceradar/internal/pipeline"
	"github.com/jortega/priceradar/internal/scheduler"
	"github.com/jortega/priceradar/internal/store"
	"github.com/jortega/priceradar/pkg/market"
	"github.com/jortega/priceradar/pkg/series"
	"github.com/jortega/priceradar/pkg/server"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

type app struct {
	cfg    *config.Config
	db     *store.SQLiteStore
	log    zerolog.Logger
	runner *pipeline.Runner
	sched  *scheduler.Controller
}

func buildApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	log := logging.New(cfg.Logging.Level, cfg.Logging.File)
	runner := pipeline.NewRunner(db, market.NewClient(cfg.Scrape.BaseURL), log)
	sched := scheduler.New(db, runner, log)

	return &app{cfg: cfg, db: db, log: log, runner: runner, sched: sched}, nil
}

func runScrape(keyword string, limit int, orderBy, filterMode string, excludeBadText bool, minPrice, maxPrice float64) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.db.Close()

	req := pipeline.Request{
		Keyword:        keyword,
		Limit:          a.cfg.Scrape.Limit,
		OrderBy:        a.cfg.Scrape.OrderBy,
		FilterMode:     a.cfg.Scrape.FilterMode,
		ExcludeBadText: excludeBadText,
	}
	if limit > 0 {
		req.Limit = limit
	}
	if orderBy != "" {
		req.OrderBy = orderBy
	}
	if filterMode != "" {
		req.FilterMode = filterMode
	}
	if minPrice > 0 {
		req.MinPrice = &minPrice
	}
	if maxPrice > 0 {
		req.MaxPrice = &maxPrice
	}

	result, err := a.runner.Run(context.Background(), req)
	if err != nil {
		return err
	}

	s := result.Stats
	fmt.Printf("%s: %d listings, median %.2f, mean %.2f, range [%.2f, %.2f]\n",
		result.Keyword, s.N, s.Median, s.Mean, s.Min, s.Max)
	if b := result.Ranges.Normal; b != nil {
		fmt.Printf("normal band: %.2f - %.2f\n", b.From, b.To)
	}
	return nil
}

func runStats(keyword string, jsonOutput bool) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.db.Close()

	ctx := context.Background()
	run, err := a.db.LatestRun(ctx, keyword)
	if err != nil {
		return fmt.Errorf("latest run: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"keyword":      run.Keyword,
			"scraped_at":   run.ScrapedAt,
			"stats":        run.Stats(),
			"price_ranges": run.Ranges,
		})
	}

	s := run.Stats()
	fmt.Printf("%s (scraped %s)\n", run.Keyword, run.ScrapedAt.Local().Format(time.RFC3339))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "n\t%d\n", s.N)
	fmt.Fprintf(w, "mean\t%.2f\n", s.Mean)
	fmt.Fprintf(w, "median\t%.2f\n", s.Median)
	fmt.Fprintf(w, "q1\t%.2f\n", s.Q1)
	fmt.Fprintf(w, "q3\t%.2f\n", s.Q3)
	fmt.Fprintf(w, "min\t%.2f\n", s.Min)
	fmt.Fprintf(w, "max\t%.2f\n", s.Max)
	return w.Flush()
}

func runKeywords() error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.db.Close()

	keywords, err := a.db.ListKeywords(context.Background())
	if err != nil {
		return fmt.Errorf("list keywords: %w", err)
	}
	if len(keywords) == 0 {
		fmt.Println("no keywords tracked yet (run: priceradar scrape <keyword>)")
		return nil
	}
	for _, kw := range keywords {
		fmt.Println(kw)
	}
	return nil
}

func runRuns(keyword string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.db.Close()

	ctx := context.Background()
	runs, err := a.db.ListRuns(ctx, keyword)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Printf("no runs for %q\n", keyword)
		return nil
	}

	agg := series.New(a.db)
	points, err := agg.Series(ctx, keyword)
	if err != nil {
		return fmt.Errorf("series: %w", err)
	}
	if ch := series.ChangeOf(points); ch.OK {
		fmt.Printf("last change: %+.1f%%\n", ch.Pct)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCRAPED AT\tN\tMEAN\tMIN\tMAX")
	for _, r := range runs {
		mean, min, max := "-", "-", "-"
		if r.Mean != nil {
			mean = fmt.Sprintf("%.2f", *r.Mean)
		}
		if r.MinPrice != nil {
			min = fmt.Sprintf("%.2f", *r.MinPrice)
		}
		if r.MaxPrice != nil {
			max = fmt.Sprintf("%.2f", *r.MaxPrice)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			r.ScrapedAt.Local().Format(time.RFC3339), r.N, mean, min, max)
	}
	return w.Flush()
}

func runServe(port int) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.db.Close()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	srv := server.New(a.db, a.runner, a.sched, a.cfg.Scrape, a.log, port)
	return srv.ListenAndServe()
}

func runDaemon(port int) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.db.Close()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The scheduler catches up missed days on start, then fires daily.
	go func() {
		if err := a.sched.Run(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "scheduler error: %v\n", err)
		}
	}()

	srv := server.New(a.db, a.runner, a.sched, a.cfg.Scrape, a.log, port)
	go func() {
		<-ctx.Done()
		fmt.Fprintln(os.Stderr, "\nshutting down...")
	}()

	return srv.ListenAndServe()
}
