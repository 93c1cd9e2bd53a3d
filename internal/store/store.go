// Package store is the durable source of truth: per-keyword run history,
// the raw listing observations behind each run, the recurring scrape
// configuration, and the schedule state. Everything lives in one embedded
// SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/jortega/priceradar/pkg/stats"
)

// ErrNotFound signals that a keyword has no runs. Deletions of missing rows
// are not errors; they report zero rows removed instead.
var ErrNotFound = errors.New("not found")

// Run is one stored snapshot of a keyword's market. The stats columns are
// NULL for an empty run (n == 0); Stats() folds them back into a Summary.
type Run struct {
	Keyword    string       `db:"keyword"`
	ScrapedAt  time.Time    `db:"scraped_at"`
	N          int          `db:"n"`
	Mean       *float64     `db:"mean"`
	Median     *float64     `db:"median"`
	Q1         *float64     `db:"q1"`
	Q2         *float64     `db:"q2"`
	Q3         *float64     `db:"q3"`
	MinPrice   *float64     `db:"min_price"`
	MaxPrice   *float64     `db:"max_price"`
	RangesJSON string       `db:"price_ranges"`
	Ranges     stats.Ranges `db:"-"`
}

// Stats reconstructs the Summary stored in the run's columns.
func (r *Run) Stats() stats.Summary {
	if r.N == 0 || r.Mean == nil {
		return stats.Summary{}
	}
	return stats.Summary{
		N:      r.N,
		Mean:   *r.Mean,
		Median: *r.Median,
		Q1:     *r.Q1,
		Q2:     *r.Q2,
		Q3:     *r.Q3,
		Min:    *r.MinPrice,
		Max:    *r.MaxPrice,
	}
}

// NewRun builds a Run from computed statistics and bands.
func NewRun(keyword string, scrapedAt time.Time, s stats.Summary, ranges stats.Ranges) *Run {
	r := &Run{Keyword: keyword, ScrapedAt: scrapedAt.UTC(), N: s.N, Ranges: ranges}
	if s.Valid() {
		r.Mean, r.Median = &s.Mean, &s.Median
		r.Q1, r.Q2, r.Q3 = &s.Q1, &s.Q2, &s.Q3
		r.MinPrice, r.MaxPrice = &s.Min, &s.Max
	}
	return r
}

// RunSummary is the reduced per-run view used by the runs table and the
// dashboard list. Ordering is the caller's concern.
type RunSummary struct {
	ScrapedAt time.Time `db:"scraped_at" json:"scraped_at"`
	N         int       `db:"n" json:"n"`
	Mean      *float64  `db:"mean" json:"media"`
	MinPrice  *float64  `db:"min_price" json:"minimo"`
	MaxPrice  *float64  `db:"max_price" json:"maximo"`
}

// ListingRow is one observed listing within a run. Kept so sell-speed can be
// reconstructed from history; the run's statistics never re-read these.
type ListingRow struct {
	Keyword    string    `db:"keyword"`
	ScrapedAt  time.Time `db:"scraped_at"`
	ExternalID string    `db:"external_id"`
	Title      string    `db:"title"`
	Price      float64   `db:"price"`
	URL        string    `db:"url"`
}

// DailyConfig is the desired recurring scrape configuration for one keyword.
type DailyConfig struct {
	Keyword        string   `db:"keyword" json:"keyword"`
	MinPrice       *float64 `db:"min_price" json:"min_price"`
	MaxPrice       *float64 `db:"max_price" json:"max_price"`
	FilterMode     string   `db:"filter_mode" json:"filter_mode"`
	ExcludeBadText bool     `db:"exclude_bad_text" json:"exclude_bad_text"`
	Position       int      `db:"position" json:"-"`
}

// ScheduleState describes the recurring trigger installation.
type ScheduleState struct {
	ScheduleTime  string `db:"schedule_time" json:"schedule_time"`
	TaskInstalled bool   `db:"task_installed" json:"task_installed"`
}

// Store is the persistence interface.
type Store interface {
	UpsertRun(ctx context.Context, run *Run, listings []ListingRow) error
	ListKeywords(ctx context.Context) ([]string, error)
	LatestRun(ctx context.Context, keyword string) (*Run, error)
	ListRuns(ctx context.Context, keyword string) ([]RunSummary, error)
	ListRunsDetailed(ctx context.Context, keyword string) ([]Run, error)
	DeleteRun(ctx context.Context, keyword string, scrapedAt time.Time) (int64, error)
	DeleteKeyword(ctx context.Context, keyword string) (int64, error)

	ListListings(ctx context.Context, keyword string) ([]ListingRow, error)

	ListDailyConfigs(ctx context.Context) ([]DailyConfig, error)
	ReplaceDailyConfigs(ctx context.Context, rows []DailyConfig) error

	ScheduleState(ctx context.Context) (ScheduleState, error)
	SetScheduleState(ctx context.Context, st ScheduleState) error

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// Writes go through one connection so concurrent upserts serialize in
	// the driver instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertRun stores a run keyed by (keyword, scraped_at); a second call with
// the same key overwrites. The run's listing rows are replaced in the same
// transaction so readers never see a half-written run.
func (s *SQLiteStore) UpsertRun(ctx context.Context, run *Run, listings []ListingRow) error {
	rangesJSON, err := json.Marshal(run.Ranges)
	if err != nil {
		return fmt.Errorf("marshal price ranges: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert run: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (keyword, scraped_at, n, mean, median, q1, q2, q3, min_price, max_price, price_ranges)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(keyword, scraped_at) DO UPDATE SET
			n = excluded.n,
			mean = excluded.mean,
			median = excluded.median,
			q1 = excluded.q1,
			q2 = excluded.q2,
			q3 = excluded.q3,
			min_price = excluded.min_price,
			max_price = excluded.max_price,
			price_ranges = excluded.price_ranges
	`, run.Keyword, run.ScrapedAt, run.N, run.Mean, run.Median,
		run.Q1, run.Q2, run.Q3, run.MinPrice, run.MaxPrice, string(rangesJSON))
	if err != nil {
		return fmt.Errorf("upsert run %s@%s: %w", run.Keyword, run.ScrapedAt.Format(time.RFC3339), err)
	}

	_, err = tx.ExecContext(ctx,
		"DELETE FROM listings WHERE keyword = ? AND scraped_at = ?",
		run.Keyword, run.ScrapedAt)
	if err != nil {
		return fmt.Errorf("clear run listings: %w", err)
	}

	for i := range listings {
		l := &listings[i]
		_, err = tx.ExecContext(ctx, `
			INSERT INTO listings (keyword, scraped_at, external_id, title, price, url)
			VALUES (?, ?, ?, ?, ?, ?)
		`, run.Keyword, run.ScrapedAt, l.ExternalID, l.Title, l.Price, l.URL)
		if err != nil {
			return fmt.Errorf("insert listing %s: %w", l.ExternalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert run: %w", err)
	}
	return nil
}

// ListKeywords returns every keyword with at least one run, sorted so
// pagination by the caller stays stable.
func (s *SQLiteStore) ListKeywords(ctx context.Context) ([]string, error) {
	var keywords []string
	err := s.db.SelectContext(ctx, &keywords,
		"SELECT DISTINCT keyword FROM runs ORDER BY keyword")
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	return keywords, nil
}

// LatestRun returns the run with the maximum scraped_at for the keyword,
// or ErrNotFound when the keyword has no runs.
func (s *SQLiteStore) LatestRun(ctx context.Context, keyword string) (*Run, error) {
	var run Run
	err := s.db.GetContext(ctx, &run, `
		SELECT * FROM runs
		WHERE keyword = ?
		ORDER BY scraped_at DESC
		LIMIT 1
	`, keyword)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest run %q: %w", keyword, err)
	}
	if err := decodeRanges(&run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, keyword string) ([]RunSummary, error) {
	var runs []RunSummary
	err := s.db.SelectContext(ctx, &runs, `
		SELECT scraped_at, n, mean, min_price, max_price
		FROM runs
		WHERE keyword = ?
		ORDER BY scraped_at DESC
	`, keyword)
	if err != nil {
		return nil, fmt.Errorf("list runs %q: %w", keyword, err)
	}
	return runs, nil
}

func (s *SQLiteStore) ListRunsDetailed(ctx context.Context, keyword string) ([]Run, error) {
	var runs []Run
	err := s.db.SelectContext(ctx, &runs,
		"SELECT * FROM runs WHERE keyword = ?", keyword)
	if err != nil {
		return nil, fmt.Errorf("list runs detailed %q: %w", keyword, err)
	}
	for i := range runs {
		if err := decodeRanges(&runs[i]); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// DeleteRun removes exactly one run and its listings. A missing run is a
// no-op reporting zero.
func (s *SQLiteStore) DeleteRun(ctx context.Context, keyword string, scrapedAt time.Time) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete run: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"DELETE FROM runs WHERE keyword = ? AND scraped_at = ?",
		keyword, scrapedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete run %s@%s: %w", keyword, scrapedAt.Format(time.RFC3339), err)
	}
	deleted, _ := res.RowsAffected()

	_, err = tx.ExecContext(ctx,
		"DELETE FROM listings WHERE keyword = ? AND scraped_at = ?",
		keyword, scrapedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete run listings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete run: %w", err)
	}
	return deleted, nil
}

// DeleteKeyword removes every run and listing for the keyword atomically
// and returns the number of runs removed.
func (s *SQLiteStore) DeleteKeyword(ctx context.Context, keyword string) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete keyword: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE keyword = ?", keyword)
	if err != nil {
		return 0, fmt.Errorf("delete keyword runs %q: %w", keyword, err)
	}
	deleted, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, "DELETE FROM listings WHERE keyword = ?", keyword); err != nil {
		return 0, fmt.Errorf("delete keyword listings %q: %w", keyword, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete keyword: %w", err)
	}
	return deleted, nil
}

func (s *SQLiteStore) ListListings(ctx context.Context, keyword string) ([]ListingRow, error) {
	var rows []ListingRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT keyword, scraped_at, external_id, title, price, url
		FROM listings
		WHERE keyword = ?
	`, keyword)
	if err != nil {
		return nil, fmt.Errorf("list listings %q: %w", keyword, err)
	}
	return rows, nil
}

func (s *SQLiteStore) ListDailyConfigs(ctx context.Context) ([]DailyConfig, error) {
	var rows []DailyConfig
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM daily_configs ORDER BY position, keyword")
	if err != nil {
		return nil, fmt.Errorf("list daily configs: %w", err)
	}
	return rows, nil
}

// ReplaceDailyConfigs swaps the whole recurring-scrape configuration in one
// transaction; the previous rows survive any mid-way failure.
func (s *SQLiteStore) ReplaceDailyConfigs(ctx context.Context, rows []DailyConfig) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace daily configs: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM daily_configs"); err != nil {
		return fmt.Errorf("clear daily configs: %w", err)
	}

	for i := range rows {
		r := &rows[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO daily_configs (keyword, min_price, max_price, filter_mode, exclude_bad_text, position)
			VALUES (?, ?, ?, ?, ?, ?)
		`, r.Keyword, r.MinPrice, r.MaxPrice, r.FilterMode, r.ExcludeBadText, i)
		if err != nil {
			return fmt.Errorf("insert daily config %q: %w", r.Keyword, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace daily configs: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ScheduleState(ctx context.Context) (ScheduleState, error) {
	var st ScheduleState
	err := s.db.GetContext(ctx, &st,
		"SELECT schedule_time, task_installed FROM schedule_state WHERE id = 1")
	if errors.Is(err, sql.ErrNoRows) {
		return ScheduleState{}, nil
	}
	if err != nil {
		return ScheduleState{}, fmt.Errorf("get schedule state: %w", err)
	}
	return st, nil
}

// SetScheduleState upserts the single schedule row; installing twice updates
// in place.
func (s *SQLiteStore) SetScheduleState(ctx context.Context, st ScheduleState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedule_state (id, schedule_time, task_installed)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schedule_time = excluded.schedule_time,
			task_installed = excluded.task_installed
	`, st.ScheduleTime, st.TaskInstalled)
	if err != nil {
		return fmt.Errorf("set schedule state: %w", err)
	}
	return nil
}

func decodeRanges(r *Run) error {
	if r.RangesJSON == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(r.RangesJSON), &r.Ranges); err != nil {
		return fmt.Errorf("decode price ranges %s@%s: %w",
			r.Keyword, r.ScrapedAt.Format(time.RFC3339), err)
	}
	return nil
}
