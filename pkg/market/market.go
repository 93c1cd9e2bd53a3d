// Package market is the boundary to the second-hand marketplace: it fetches
// raw listings for a keyword and cleans them up before any statistics are
// computed. Anti-detection concerns live entirely behind the Scraper
// interface; the rest of the system only sees filtered listings.
package market

import (
	"context"
	"time"
)

// OrderBy values accepted by the marketplace search endpoint.
const (
	OrderRelevance      = "most_relevance"
	OrderPriceLowToHigh = "price_low_to_high"
	OrderPriceHighToLow = "price_high_to_low"
	OrderNewest         = "newest"
)

// Listing is one advertised item as returned by the marketplace, normalized.
// Listings without a parseable price are dropped at the boundary; every
// Listing that crosses it carries a usable Price.
type Listing struct {
	ExternalID  string    `json:"external_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	City        string    `json:"city"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
}

// Query describes one search against the marketplace.
type Query struct {
	Keyword  string
	Limit    int
	OrderBy  string
	MinPrice *float64
	MaxPrice *float64
}

// Scraper fetches current listings for a keyword. Implementations own their
// timeouts; callers cancel via ctx only.
type Scraper interface {
	Search(ctx context.Context, q Query) ([]Listing, error)
}

// NormalizeOrderBy maps unknown sort orders to the default.
func NormalizeOrderBy(s string) string {
	switch s {
	case OrderRelevance, OrderPriceLowToHigh, OrderPriceHighToLow, OrderNewest:
		return s
	}
	return OrderRelevance
}

// Prices extracts the price list from a set of listings.
func Prices(listings []Listing) []float64 {
	out := make([]float64, 0, len(listings))
	for _, l := range listings {
		out = append(out, l.Price)
	}
	return out
}
