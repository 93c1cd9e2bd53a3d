package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultBaseURL   = "https://api.wallapop.com/api/v3"
	defaultSearchWeb = "https://es.wallapop.com/app/search"
	defaultPageSize  = 40
	userAgent        = "priceradar/1.0"
)

// Client scrapes the marketplace search surface. It tries the JSON search
// endpoint first and falls back to parsing the embedded state blob out of
// the search page HTML when the endpoint answers with anything but 200.
type Client struct {
	http      *http.Client
	baseURL   string
	searchWeb string
}

// NewClient creates a marketplace client. Empty baseURL selects the default
// public endpoint.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		http:      &http.Client{Timeout: 30 * time.Second},
		baseURL:   strings.TrimRight(baseURL, "/"),
		searchWeb: defaultSearchWeb,
	}
}

// Search fetches listings for q, paging until q.Limit items were seen or the
// marketplace stops returning results. Listings whose text does not contain
// every keyword token, or whose price falls outside the requested bounds,
// are dropped here, so downstream only ever sees candidate listings.
func (c *Client) Search(ctx context.Context, q Query) ([]Listing, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 500
	}

	raw, err := c.searchAPI(ctx, q, limit)
	if err != nil {
		raw, err = c.searchHTML(ctx, q)
		if err != nil {
			return nil, err
		}
	}

	out := make([]Listing, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, item := range raw {
		l, ok := normalizeItem(item)
		if !ok {
			continue
		}
		if _, dup := seen[l.ExternalID]; dup {
			continue
		}
		if !MatchesKeyword(q.Keyword, l.Title+" "+l.Description) {
			continue
		}
		if q.MinPrice != nil && l.Price < *q.MinPrice {
			continue
		}
		if q.MaxPrice != nil && l.Price > *q.MaxPrice {
			continue
		}
		seen[l.ExternalID] = struct{}{}
		out = append(out, l)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (c *Client) searchAPI(ctx context.Context, q Query, limit int) ([]map[string]any, error) {
	var items []map[string]any

	for offset := 0; offset < limit; offset += defaultPageSize {
		params := url.Values{}
		params.Set("keywords", q.Keyword)
		params.Set("order_by", NormalizeOrderBy(q.OrderBy))
		params.Set("start", strconv.Itoa(offset))
		if q.MinPrice != nil {
			params.Set("min_sale_price", strconv.FormatFloat(*q.MinPrice, 'f', -1, 64))
		}
		if q.MaxPrice != nil {
			params.Set("max_sale_price", strconv.FormatFloat(*q.MaxPrice, 'f', -1, 64))
		}

		page, err := c.fetchSearchPage(ctx, c.baseURL+"/general/search?"+params.Encode())
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		items = append(items, page...)
	}
	return items, nil
}

func (c *Client) fetchSearchPage(ctx context.Context, u string) ([]map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch search page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search endpoint status %d", resp.StatusCode)
	}

	var body any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return extractItems(body), nil
}

// searchHTML loads the public search page and pulls listings out of the
// Next.js state script. Slower and capped to the first page, but it survives
// the JSON endpoint being fenced off.
func (c *Client) searchHTML(ctx context.Context, q Query) ([]map[string]any, error) {
	u := c.searchWeb + "?keywords=" + url.QueryEscape(q.Keyword)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create search html request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch search html: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search html status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse search html: %w", err)
	}

	var items []map[string]any
	doc.Find("script#__NEXT_DATA__").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var blob any
		if err := json.Unmarshal([]byte(s.Text()), &blob); err != nil {
			return true
		}
		items = extractItems(blob)
		return len(items) == 0
	})

	if len(items) == 0 {
		return nil, fmt.Errorf("no listings found in search html for %q", q.Keyword)
	}
	return items, nil
}

// extractItems walks an arbitrary decoded JSON document for the listing
// array. The marketplace has moved it around over time (data.section.items,
// data.section.payload.items, plain items), so known paths are tried first
// and a recursive scan covers the rest.
func extractItems(data any) []map[string]any {
	switch v := data.(type) {
	case map[string]any:
		// i18n blobs from the web bundle never carry listings.
		if _, ok := v["i18nMessages"]; ok {
			return nil
		}
		for _, path := range [][]string{
			{"data", "section", "items"},
			{"data", "section", "payload", "items"},
			{"data", "items"},
			{"items"},
		} {
			if items := itemsAt(v, path); items != nil {
				return items
			}
		}
		for _, child := range v {
			if items := extractItems(child); items != nil {
				return items
			}
		}
	case []any:
		if items := asListingItems(v); items != nil {
			return items
		}
		for _, child := range v {
			if items := extractItems(child); items != nil {
				return items
			}
		}
	}
	return nil
}

func itemsAt(m map[string]any, path []string) []map[string]any {
	cur := any(m)
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[key]
	}
	list, ok := cur.([]any)
	if !ok {
		return nil
	}
	return asListingItems(list)
}

// asListingItems accepts a JSON array only when it looks like marketplace
// listings: dicts carrying an id plus title/description and a price or slug.
func asListingItems(list []any) []map[string]any {
	if len(list) == 0 {
		return nil
	}
	first, ok := list[0].(map[string]any)
	if !ok {
		return nil
	}
	if _, hasID := first["id"]; !hasID {
		return nil
	}
	_, hasTitle := first["title"]
	_, hasDesc := first["description"]
	_, hasPrice := first["price"]
	_, hasSlug := first["web_slug"]
	if !(hasTitle || hasDesc) || !(hasPrice || hasSlug) {
		return nil
	}

	out := make([]map[string]any, 0, len(list))
	for _, e := range list {
		if m, ok := e.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func normalizeItem(item map[string]any) (Listing, bool) {
	id := stringField(item, "id")
	if id == "" {
		return Listing{}, false
	}

	price, ok := priceField(item["price"])
	if !ok {
		return Listing{}, false
	}

	l := Listing{
		ExternalID:  id,
		Title:       strings.TrimSpace(stringField(item, "title")),
		Description: strings.TrimSpace(stringField(item, "description")),
		Price:       price,
		City:        strings.TrimSpace(stringField(item, "city")),
	}

	if slug := stringField(item, "web_slug"); slug != "" {
		l.URL = "https://es.wallapop.com/item/" + slug
	}
	if ts, ok := item["creation_date"].(float64); ok {
		l.CreatedAt = time.UnixMilli(int64(ts)).UTC()
	}
	return l, true
}

// priceField handles both the flat price number and the nested
// {amount, currency} object the newer API returns.
func priceField(v any) (float64, bool) {
	switch p := v.(type) {
	case float64:
		return p, true
	case string:
		f, err := strconv.ParseFloat(p, 64)
		return f, err == nil
	case map[string]any:
		if amount, ok := p["amount"].(float64); ok {
			return amount, true
		}
	}
	return 0, false
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}
