// Package series builds the read-model projections over stored runs: the
// per-keyword time series, the cross-keyword comparison table, and the
// up/down change indicator. It never writes.
package series

import (
	"context"
	"sort"
	"time"

	"github.com/jortega/priceradar/internal/store"
)

// RunSource is the slice of the store the aggregator reads from.
type RunSource interface {
	ListRunsDetailed(ctx context.Context, keyword string) ([]store.Run, error)
	ListListings(ctx context.Context, keyword string) ([]store.ListingRow, error)
}

// Point is one series sample, projected from a run.
type Point struct {
	ScrapedAt time.Time `json:"scraped_at"`
	Mean      float64   `json:"media"`
	Median    float64   `json:"mediana"`
}

// Granularity controls how Compare aligns timestamps across keywords.
type Granularity int

const (
	// Exact merges rows only on identical timestamps. Two keywords scraped
	// seconds apart land in separate rows.
	Exact Granularity = iota
	// ByDay buckets each run to its local calendar day before merging,
	// which is what the dashboard wants for daily scrapes.
	ByDay
)

// Row is one comparison row: a timestamp (or day bucket) plus the median of
// each requested keyword at that instant. A nil value means the keyword has
// no run there; it is never reported as zero.
type Row struct {
	At     time.Time           `json:"scraped_at"`
	Values map[string]*float64 `json:"values"`
}

// Aggregator serves read-only projections of the run history.
type Aggregator struct {
	src RunSource
}

// New creates an Aggregator over a run source.
func New(src RunSource) *Aggregator {
	return &Aggregator{src: src}
}

// Series returns the keyword's mean/median history ascending by time.
// Empty runs (n == 0) carry no usable price and are skipped. A keyword with
// no history yields an empty slice, not an error.
func (a *Aggregator) Series(ctx context.Context, keyword string) ([]Point, error) {
	runs, err := a.src.ListRunsDetailed(ctx, keyword)
	if err != nil {
		return nil, err
	}

	points := make([]Point, 0, len(runs))
	for i := range runs {
		r := &runs[i]
		if r.Mean == nil || r.Median == nil {
			continue
		}
		points = append(points, Point{
			ScrapedAt: r.ScrapedAt,
			Mean:      *r.Mean,
			Median:    *r.Median,
		})
	}

	sort.Slice(points, func(i, j int) bool {
		return points[i].ScrapedAt.Before(points[j].ScrapedAt)
	})
	return points, nil
}

// Compare merges the series of several keywords into timestamp-keyed rows,
// ascending. With ByDay, runs are bucketed to their local calendar day and
// the later run of a keyword wins within its bucket.
func (a *Aggregator) Compare(ctx context.Context, keywords []string, g Granularity) ([]Row, error) {
	type cell struct {
		median float64
		at     time.Time
	}
	merged := make(map[time.Time]map[string]cell)

	for _, kw := range keywords {
		points, err := a.Series(ctx, kw)
		if err != nil {
			return nil, err
		}
		for _, p := range points {
			key := p.ScrapedAt
			if g == ByDay {
				key = dayOf(p.ScrapedAt)
			}
			cols := merged[key]
			if cols == nil {
				cols = make(map[string]cell)
				merged[key] = cols
			}
			if prev, ok := cols[kw]; ok && prev.at.After(p.ScrapedAt) {
				continue
			}
			cols[kw] = cell{median: p.Median, at: p.ScrapedAt}
		}
	}

	rows := make([]Row, 0, len(merged))
	for at, cols := range merged {
		row := Row{At: at, Values: make(map[string]*float64, len(keywords))}
		for _, kw := range keywords {
			if c, ok := cols[kw]; ok {
				m := c.median
				row.Values[kw] = &m
			} else {
				row.Values[kw] = nil
			}
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].At.Before(rows[j].At)
	})
	return rows, nil
}

func dayOf(t time.Time) time.Time {
	local := t.Local()
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
}
