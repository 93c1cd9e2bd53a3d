package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/jortega/priceradar/internal/config"
	"github.com/jortega/priceradar/internal/pipeline"
	"github.com/jortega/priceradar/internal/scheduler"
	"github.com/jortega/priceradar/internal/store"
	"github.com/jortega/priceradar/pkg/market"
)

type fakeScraper struct {
	listings  []market.Listing
	err       error
	lastQuery market.Query
}

func (f *fakeScraper) Search(ctx context.Context, q market.Query) ([]market.Listing, error) {
	f.lastQuery = q
	return f.listings, f.err
}

func testListings(prices ...float64) []market.Listing {
	out := make([]market.Listing, len(prices))
	for i, p := range prices {
		out[i] = market.Listing{
			ExternalID: string(rune('a' + i)),
			Title:      "iphone 12",
			Price:      p,
			URL:        "http://x/1",
		}
	}
	return out
}

func newTestServer(t *testing.T, scraper market.Scraper) (*httptest.Server, *store.SQLiteStore) {
	t.Helper()
	db, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := zerolog.Nop()
	runner := pipeline.NewRunner(db, scraper, log)
	sched := scheduler.New(db, runner, log)
	scrape := config.Default().Scrape

	srv := httptest.NewServer(New(db, runner, sched, scrape, log, 0).Handler())
	t.Cleanup(srv.Close)
	return srv, db
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &fakeScraper{})
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("body: got %v", body)
	}
}

func TestScrapeThenStats(t *testing.T) {
	scraper := &fakeScraper{listings: testListings(300, 320, 350, 400, 410)}
	srv, _ := newTestServer(t, scraper)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/keyword/iphone 12/scrape",
		map[string]any{"filter_mode": "off"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("scrape status: got %d, body %v", resp.StatusCode, body)
	}
	if body["keyword"] != "iphone 12" {
		t.Errorf("keyword: got %v", body["keyword"])
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/keyword/iphone 12/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status: got %d, body %v", resp.StatusCode, body)
	}
	stats, ok := body["stats"].(map[string]any)
	if !ok {
		t.Fatalf("stats missing: %v", body)
	}
	if stats["mediana"] != 350.0 {
		t.Errorf("mediana: got %v, want 350", stats["mediana"])
	}
	if stats["n"] != 5.0 {
		t.Errorf("n: got %v, want 5", stats["n"])
	}
	ranges, ok := body["price_ranges"].(map[string]any)
	if !ok {
		t.Fatalf("price_ranges missing: %v", body)
	}
	if _, ok := ranges["normal"]; !ok {
		t.Errorf("normal band missing: %v", ranges)
	}
}

func TestStatsUnknownKeyword(t *testing.T) {
	srv, _ := newTestServer(t, &fakeScraper{})
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/keyword/nothing/stats", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	envelope, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("error envelope missing: %v", body)
	}
	if envelope["code"] != "not_found" {
		t.Errorf("code: got %v", envelope["code"])
	}
	if envelope["message"] == "" {
		t.Error("message must not be empty")
	}
}

func TestScrapeNoListings(t *testing.T) {
	srv, db := newTestServer(t, &fakeScraper{})
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/keyword/ghost/scrape", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: got %d, body %v", resp.StatusCode, body)
	}
	// A run without usable listings writes nothing.
	if _, err := db.LatestRun(context.Background(), "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected no stored run, got err=%v", err)
	}
}

func TestKeywordsEmpty(t *testing.T) {
	srv, _ := newTestServer(t, &fakeScraper{})
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/keywords", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	if body["count"] != 0.0 {
		t.Errorf("count: got %v, want 0", body["count"])
	}
	if _, ok := body["keywords"].([]any); !ok {
		t.Errorf("keywords must be an array, got %v", body["keywords"])
	}
}

func TestDeleteRunAndKeyword(t *testing.T) {
	scraper := &fakeScraper{listings: testListings(100, 150, 200)}
	srv, _ := newTestServer(t, scraper)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/keyword/kw/scrape",
		map[string]any{"filter_mode": "off"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("scrape: got %d %v", resp.StatusCode, body)
	}
	scrapedAt, _ := body["scraped_at"].(string)
	if scrapedAt == "" {
		t.Fatalf("scraped_at missing: %v", body)
	}

	resp, body = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/keyword/kw/runs/"+scrapedAt, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete run: got %d", resp.StatusCode)
	}
	if body["deleted"] != 1.0 {
		t.Errorf("deleted: got %v, want 1", body["deleted"])
	}

	// Gone now, so a second delete is a successful no-op reporting zero.
	resp, body = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/keyword/kw/runs/"+scrapedAt, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("second delete run: got %d, want 200", resp.StatusCode)
	}
	if body["deleted"] != 0.0 {
		t.Errorf("second delete: got %v, want 0", body["deleted"])
	}

	resp, body = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/keyword/kw", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete empty keyword: got %d, want 200", resp.StatusCode)
	}
	if body["deleted"] != 0.0 {
		t.Errorf("delete empty keyword: got %v, want 0", body["deleted"])
	}
}

func TestScrapeChunkedBodyIsHonored(t *testing.T) {
	// Every price is below the soft minimum, so the run only succeeds if the
	// body's filter_mode=off actually reaches the pipeline.
	scraper := &fakeScraper{listings: testListings(2, 3, 4)}
	srv, _ := newTestServer(t, scraper)

	// An opaque reader hides the length, forcing chunked transfer encoding.
	body := struct{ io.Reader }{strings.NewReader(`{"filter_mode":"off"}`)}
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/keyword/kw/scrape", body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("chunked scrape: got %d, want 200 (body was ignored)", resp.StatusCode)
	}
}

func TestScrapeSwapsInvertedBounds(t *testing.T) {
	scraper := &fakeScraper{listings: testListings(100, 150, 200)}
	srv, _ := newTestServer(t, scraper)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/keyword/kw/scrape",
		map[string]any{"filter_mode": "off", "min_price": 300, "max_price": 100})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("scrape: got %d, body %v", resp.StatusCode, body)
	}
	q := scraper.lastQuery
	if q.MinPrice == nil || q.MaxPrice == nil {
		t.Fatal("price bounds were dropped")
	}
	if *q.MinPrice != 100 || *q.MaxPrice != 300 {
		t.Errorf("bounds: got [%v, %v], want swapped [100, 300]", *q.MinPrice, *q.MaxPrice)
	}
}

func TestDeleteRunBadTimestamp(t *testing.T) {
	srv, _ := newTestServer(t, &fakeScraper{})
	resp, body := doJSON(t, http.MethodDelete, srv.URL+"/api/v1/keyword/kw/runs/yesterday", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: got %d, body %v", resp.StatusCode, body)
	}
}

func TestCompareValidation(t *testing.T) {
	srv, _ := newTestServer(t, &fakeScraper{})

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/compare",
		map[string]any{"keywords": []string{}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty keywords: got %d, want 400", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/compare",
		map[string]any{"keywords": []string{"a"}, "granularity": "hourly"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad granularity: got %d, want 400", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/compare",
		map[string]any{"keywords": []string{"a", "b"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("compare: got %d, body %v", resp.StatusCode, body)
	}
	if body["granularity"] != "day" {
		t.Errorf("default granularity: got %v, want day", body["granularity"])
	}
}

func TestDailyConfigRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, &fakeScraper{})

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/daily", map[string]any{
		"rows": []map[string]any{
			{"keyword": "iphone 12", "min_price": 50, "filter_mode": "strict"},
			{"keyword": "ps5"},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set daily: got %d, body %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/daily", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get daily: got %d", resp.StatusCode)
	}
	if body["count"] != 2.0 {
		t.Errorf("count: got %v, want 2", body["count"])
	}
	rows := body["rows"].([]any)
	first := rows[0].(map[string]any)
	if first["keyword"] != "iphone 12" || first["filter_mode"] != "strict" {
		t.Errorf("first config: got %v", first)
	}
	// Unspecified filter mode normalizes to soft.
	second := rows[1].(map[string]any)
	if second["filter_mode"] != "soft" {
		t.Errorf("second filter_mode: got %v, want soft", second["filter_mode"])
	}
}

func TestDailyConfigRejectsDuplicates(t *testing.T) {
	srv, _ := newTestServer(t, &fakeScraper{})
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/daily", map[string]any{
		"rows": []map[string]any{{"keyword": "ps5"}, {"keyword": "ps5"}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("duplicates: got %d, want 400", resp.StatusCode)
	}
}

func TestTaskInstallValidation(t *testing.T) {
	srv, _ := newTestServer(t, &fakeScraper{})

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/daily/task/install",
		map[string]any{"time": "25:99"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad time: got %d, want 400", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/daily/task/install",
		map[string]any{"time": "08:15"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("install: got %d", resp.StatusCode)
	}
	if body["schedule_time"] != "08:15" || body["task_installed"] != true {
		t.Errorf("state after install: got %v", body)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/daily/task/remove", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("remove: got %d", resp.StatusCode)
	}
	if body["task_installed"] != false {
		t.Errorf("state after remove: got %v", body)
	}
}
