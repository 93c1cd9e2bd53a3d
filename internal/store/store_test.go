package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jortega/priceradar/pkg/stats"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(keyword string, at time.Time) (*Run, []ListingRow) {
	summary := stats.Compute([]float64{300, 320, 350, 400, 410})
	ranges := stats.ClassifyRanges(summary, nil)
	run := NewRun(keyword, at, summary, ranges)
	rows := []ListingRow{
		{Keyword: keyword, ScrapedAt: at, ExternalID: "e1", Title: "a", Price: 300, URL: "http://x/1"},
		{Keyword: keyword, ScrapedAt: at, ExternalID: "e2", Title: "b", Price: 410, URL: "http://x/2"},
	}
	return run, rows
}

func TestUpsertAndLatestRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	run, rows := sampleRun("iphone 12", at)
	if err := s.UpsertRun(ctx, run, rows); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.LatestRun(ctx, "iphone 12")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.N != 5 {
		t.Errorf("N: got %d, want 5", got.N)
	}
	if got.Median == nil || *got.Median != 350 {
		t.Errorf("Median: got %v, want 350", got.Median)
	}
	if got.Ranges.Normal == nil || got.Ranges.Normal.From != 320 {
		t.Errorf("Ranges not restored: %+v", got.Ranges)
	}
	if !got.ScrapedAt.UTC().Equal(at) {
		t.Errorf("ScrapedAt: got %v, want %v", got.ScrapedAt, at)
	}
}

func TestUpsertIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	run, rows := sampleRun("kw", at)
	if err := s.UpsertRun(ctx, run, rows); err != nil {
		t.Fatal(err)
	}
	// Same key again with different stats overwrites, never duplicates.
	summary := stats.Compute([]float64{100, 200})
	run2 := NewRun("kw", at, summary, stats.ClassifyRanges(summary, nil))
	if err := s.UpsertRun(ctx, run2, rows[:1]); err != nil {
		t.Fatal(err)
	}

	runs, err := s.ListRuns(ctx, "kw")
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs: got %d, want 1", len(runs))
	}
	if runs[0].N != 2 {
		t.Errorf("N after overwrite: got %d, want 2", runs[0].N)
	}

	listings, err := s.ListListings(ctx, "kw")
	if err != nil {
		t.Fatal(err)
	}
	if len(listings) != 1 {
		t.Errorf("listings after overwrite: got %d, want 1", len(listings))
	}
}

func TestCorruptedRangesSurfaceAsError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	run, rows := sampleRun("kw", at)
	if err := s.UpsertRun(ctx, run, rows); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE runs SET price_ranges = '{not json' WHERE keyword = 'kw'"); err != nil {
		t.Fatal(err)
	}

	if _, err := s.LatestRun(ctx, "kw"); err == nil {
		t.Error("LatestRun swallowed a corrupted price_ranges column")
	}
	if _, err := s.ListRunsDetailed(ctx, "kw"); err == nil {
		t.Error("ListRunsDetailed swallowed a corrupted price_ranges column")
	}
}

func TestLatestRunNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LatestRun(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestEmptyRunStoresNulls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	run := NewRun("kw", at, stats.Summary{}, stats.Ranges{})
	if err := s.UpsertRun(ctx, run, nil); err != nil {
		t.Fatal(err)
	}
	got, err := s.LatestRun(ctx, "kw")
	if err != nil {
		t.Fatal(err)
	}
	if got.N != 0 || got.Mean != nil {
		t.Errorf("empty run: got N=%d Mean=%v", got.N, got.Mean)
	}
	if got.Stats().Valid() {
		t.Error("empty run must not reconstruct a valid summary")
	}
}

func TestListKeywords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	for _, kw := range []string{"zeta", "alpha", "alpha"} {
		run, rows := sampleRun(kw, at)
		if err := s.UpsertRun(ctx, run, rows); err != nil {
			t.Fatal(err)
		}
		at = at.Add(time.Hour)
	}

	keywords, err := s.ListKeywords(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keywords) != 2 || keywords[0] != "alpha" || keywords[1] != "zeta" {
		t.Errorf("keywords: got %v, want [alpha zeta]", keywords)
	}
}

func TestDeleteRunIsIsolated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at1 := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	at2 := at1.Add(24 * time.Hour)

	for _, at := range []time.Time{at1, at2} {
		run, rows := sampleRun("kw", at)
		if err := s.UpsertRun(ctx, run, rows); err != nil {
			t.Fatal(err)
		}
	}

	deleted, err := s.DeleteRun(ctx, "kw", at1)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Fatalf("deleted: got %d, want 1", deleted)
	}

	runs, err := s.ListRuns(ctx, "kw")
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("remaining runs: got %d, want 1", len(runs))
	}
	if !runs[0].ScrapedAt.UTC().Equal(at2) {
		t.Errorf("wrong run survived: %v", runs[0].ScrapedAt)
	}

	// Only the deleted run's listings are gone.
	listings, err := s.ListListings(ctx, "kw")
	if err != nil {
		t.Fatal(err)
	}
	if len(listings) != 2 {
		t.Errorf("listings: got %d, want 2", len(listings))
	}

	// Deleting the same run again is a no-op.
	deleted, err = s.DeleteRun(ctx, "kw", at1)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 0 {
		t.Errorf("second delete: got %d, want 0", deleted)
	}
}

func TestDeleteKeywordCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	for _, kw := range []string{"keep", "drop"} {
		run, rows := sampleRun(kw, at)
		if err := s.UpsertRun(ctx, run, rows); err != nil {
			t.Fatal(err)
		}
	}

	deleted, err := s.DeleteKeyword(ctx, "drop")
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("deleted: got %d, want 1", deleted)
	}

	if _, err := s.LatestRun(ctx, "drop"); !errors.Is(err, ErrNotFound) {
		t.Errorf("dropped keyword still has runs: %v", err)
	}
	listings, _ := s.ListListings(ctx, "drop")
	if len(listings) != 0 {
		t.Errorf("dropped keyword still has listings: %d", len(listings))
	}

	// The other keyword is untouched.
	if _, err := s.LatestRun(ctx, "keep"); err != nil {
		t.Errorf("kept keyword lost its runs: %v", err)
	}
}

func TestReplaceDailyConfigs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	min := 50.0
	first := []DailyConfig{
		{Keyword: "iphone 12", MinPrice: &min, FilterMode: "soft", ExcludeBadText: true},
		{Keyword: "switch oled", FilterMode: "strict"},
	}
	if err := s.ReplaceDailyConfigs(ctx, first); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListDailyConfigs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("configs: got %d, want 2", len(got))
	}
	// Order of insertion is preserved via position.
	if got[0].Keyword != "iphone 12" || got[1].Keyword != "switch oled" {
		t.Errorf("order: got %v, %v", got[0].Keyword, got[1].Keyword)
	}
	if got[0].MinPrice == nil || *got[0].MinPrice != 50 {
		t.Errorf("MinPrice: got %v", got[0].MinPrice)
	}

	// A replace swaps the full set.
	if err := s.ReplaceDailyConfigs(ctx, []DailyConfig{{Keyword: "ps5", FilterMode: "off"}}); err != nil {
		t.Fatal(err)
	}
	got, err = s.ListDailyConfigs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Keyword != "ps5" {
		t.Errorf("after replace: got %+v", got)
	}
}

func TestScheduleStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st, err := s.ScheduleState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.TaskInstalled {
		t.Error("fresh store must have no installed task")
	}

	if err := s.SetScheduleState(ctx, ScheduleState{ScheduleTime: "09:30", TaskInstalled: true}); err != nil {
		t.Fatal(err)
	}
	st, err = s.ScheduleState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !st.TaskInstalled || st.ScheduleTime != "09:30" {
		t.Errorf("state: got %+v", st)
	}

	// Installing again updates in place.
	if err := s.SetScheduleState(ctx, ScheduleState{ScheduleTime: "18:00", TaskInstalled: true}); err != nil {
		t.Fatal(err)
	}
	st, _ = s.ScheduleState(ctx)
	if st.ScheduleTime != "18:00" {
		t.Errorf("ScheduleTime: got %q, want 18:00", st.ScheduleTime)
	}
}
