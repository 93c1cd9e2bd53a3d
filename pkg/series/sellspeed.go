package series

import (
	"context"
	"sort"
	"time"

	"github.com/jortega/priceradar/pkg/stats"
)

// minGoneForSignal is the smallest number of disappeared listings that can
// back a fast/slow split. Below it the lifetimes are noise.
const minGoneForSignal = 4

// SellSpeed summarizes how quickly a keyword's listings disappear. A listing
// still present in the latest run is active; one absent from it is gone, and
// its lifetime is the span between its first and last sighting.
type SellSpeed struct {
	Total      int     `json:"total"`
	Active     int     `json:"active"`
	Gone       int     `json:"gone"`
	PctGone    float64 `json:"pct_gone"`
	AvgDays    float64 `json:"avg_days"`
	MedianDays float64 `json:"median_days"`
	hasSignal  bool
	fastPrices []float64
	slowPrices []float64
}

// Signal returns the fast/slow price split derived from the gone listings,
// or false when too few listings have disappeared to say anything.
func (s SellSpeed) Signal() (stats.SpeedSignal, bool) {
	if !s.hasSignal {
		return stats.SpeedSignal{}, false
	}
	return stats.SpeedSignal{FastPrices: s.fastPrices, SlowPrices: s.slowPrices}, true
}

type lifetime struct {
	firstSeen time.Time
	lastSeen  time.Time
	lastPrice float64
}

// SellSpeedOf derives the sell-speed summary for a keyword from its full
// listing history. With fewer than two runs nothing can have disappeared, so
// everything counts as active and no signal is produced.
func (a *Aggregator) SellSpeedOf(ctx context.Context, keyword string) (SellSpeed, error) {
	rows, err := a.src.ListListings(ctx, keyword)
	if err != nil {
		return SellSpeed{}, err
	}
	if len(rows) == 0 {
		return SellSpeed{}, nil
	}

	seen := make(map[string]*lifetime)
	var latest time.Time
	for i := range rows {
		r := &rows[i]
		if r.ScrapedAt.After(latest) {
			latest = r.ScrapedAt
		}
		lt := seen[r.ExternalID]
		if lt == nil {
			seen[r.ExternalID] = &lifetime{firstSeen: r.ScrapedAt, lastSeen: r.ScrapedAt, lastPrice: r.Price}
			continue
		}
		if r.ScrapedAt.Before(lt.firstSeen) {
			lt.firstSeen = r.ScrapedAt
		}
		if !r.ScrapedAt.Before(lt.lastSeen) {
			lt.lastSeen = r.ScrapedAt
			lt.lastPrice = r.Price
		}
	}

	var out SellSpeed
	type gone struct {
		days  float64
		price float64
	}
	var goneListings []gone
	for _, lt := range seen {
		if lt.lastSeen.Equal(latest) {
			out.Active++
			continue
		}
		out.Gone++
		days := lt.lastSeen.Sub(lt.firstSeen).Hours() / 24
		goneListings = append(goneListings, gone{days: days, price: lt.lastPrice})
	}
	out.Total = len(seen)
	out.PctGone = float64(out.Gone) / float64(out.Total) * 100
	if out.Gone == 0 {
		return out, nil
	}

	days := make([]float64, len(goneListings))
	for i, g := range goneListings {
		days[i] = g.days
	}
	sort.Float64s(days)
	out.MedianDays = stats.Quantile(days, 0.5)
	var sum float64
	for _, d := range days {
		sum += d
	}
	out.AvgDays = sum / float64(len(days))

	if out.Gone < minGoneForSignal {
		return out, nil
	}
	for _, g := range goneListings {
		if g.days <= out.MedianDays {
			out.fastPrices = append(out.fastPrices, g.price)
		} else {
			out.slowPrices = append(out.slowPrices, g.price)
		}
	}
	out.hasSignal = true
	return out, nil
}
