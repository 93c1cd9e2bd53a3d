package market

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/jortega/priceradar/pkg/stats"
)

// Filter modes. The mode controls only the statistical trim (absolute
// minimum + median-relative outlier cut); the text filter is toggled
// separately via FilterOptions.ExcludeBadText.
const (
	ModeSoft   = "soft"
	ModeStrict = "strict"
	ModeOff    = "off"
)

// Preset holds the numeric knobs of a filter mode.
type Preset struct {
	MinValidPrice float64
	LowerFactor   float64
	UpperFactor   float64
}

// Presets are deliberately conservative for a noisy second-hand marketplace:
// MinValidPrice discards the 0/1-euro bait listings, the factors trim
// outliers relative to the median.
var presets = map[string]Preset{
	ModeSoft:   {MinValidPrice: 5.0, LowerFactor: 0.60, UpperFactor: 4.0},
	ModeStrict: {MinValidPrice: 10.0, LowerFactor: 0.75, UpperFactor: 3.0},
	ModeOff:    {MinValidPrice: 0.0, LowerFactor: 0.0, UpperFactor: 0.0},
}

// minPricedForTrim: the median trim only applies with a reasonable sample,
// so a small run is never distorted by its own filter.
const minPricedForTrim = 10

// GetPreset resolves a filter mode, falling back to soft.
func GetPreset(mode string) Preset {
	m := strings.ToLower(strings.TrimSpace(mode))
	if p, ok := presets[m]; ok {
		return p
	}
	return presets[ModeSoft]
}

// NormalizeMode maps unknown filter modes to soft.
func NormalizeMode(mode string) string {
	m := strings.ToLower(strings.TrimSpace(mode))
	if _, ok := presets[m]; ok {
		return m
	}
	return ModeSoft
}

// FilterOptions selects which cleaning steps run on raw listings.
type FilterOptions struct {
	Mode           string
	ExcludeBadText bool
}

// FilterMeta records what the filters did to one run's listings, for
// provenance and logging.
type FilterMeta struct {
	Mode            string   `json:"mode"`
	ExcludeBadText  bool     `json:"exclude_bad_text"`
	TotalIn         int      `json:"total_in"`
	Kept            int      `json:"kept"`
	RemovedText     int      `json:"removed_text"`
	RemovedMinPrice int      `json:"removed_min_price"`
	RemovedLow      int      `json:"removed_low"`
	RemovedHigh     int      `json:"removed_high"`
	AppliedTrim     bool     `json:"applied_median_filter"`
	MedianRaw       *float64 `json:"median_raw"`
	LowerBound      *float64 `json:"lower_bound"`
	UpperBound      *float64 `json:"upper_bound"`
}

// Phrases that mark a listing as useless for price tracking: broken items,
// loose accessories, wanted-to-buy ads, services. Intentionally conservative;
// a few noisy listings kept is better than good listings dropped.
var badPhrases = []string{
	"roto", "rota", "averiado", "averiada",
	"no funciona", "no enciende", "no carga",
	"pantalla rota", "sin probar",
	"para piezas", "por piezas", "despiece", "repuesto",
	"solo caja", "caja vacia", "solo mando", "mando suelto",
	"solo cargador", "cargador suelto", "solo funda", "funda suelta",
	"solo carcasa", "carcasa suelta", "incompleto", "sin accesorios",
	"busco", "compro", "se compra", "alquilo",
	"servicio", "instalacion", "reparacion",
	"cuenta", "suscripcion",
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldText lowercases and strips diacritics so phrase matching survives the
// accent-optional spelling typical of marketplace listings.
func foldText(s string) string {
	out, _, err := transform.String(foldTransformer, strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return out
}

// IsBadText reports whether a listing's text marks it as noise.
func IsBadText(l Listing) bool {
	t := foldText(l.Title + " " + l.Description)
	if t == "" {
		return false
	}

	// "cambio" is only suspicious when it reads like a swap offer.
	if strings.Contains(t, "cambio") &&
		(strings.Contains(t, "por ") || strings.Contains(t, " x ") || strings.Contains(t, "interc")) {
		return true
	}

	for _, phrase := range badPhrases {
		if strings.Contains(t, phrase) {
			return true
		}
	}
	return false
}

// MatchesKeyword is the tolerant token filter applied at the scrape boundary:
// every token of the keyword must appear somewhere in the text, any order.
// An empty keyword matches everything.
func MatchesKeyword(keyword, text string) bool {
	q := strings.ToLower(strings.TrimSpace(keyword))
	if q == "" {
		return true
	}
	t := strings.ToLower(text)
	for _, tok := range strings.Fields(q) {
		if !strings.Contains(t, tok) {
			return false
		}
	}
	return true
}

// ApplyFilters runs the cleaning steps in order: text exclusion, absolute
// minimum price, then the median-relative outlier trim. Returns the kept
// listings and a FilterMeta describing every removal.
func ApplyFilters(listings []Listing, opts FilterOptions) ([]Listing, FilterMeta) {
	mode := NormalizeMode(opts.Mode)
	preset := GetPreset(mode)

	meta := FilterMeta{
		Mode:           mode,
		ExcludeBadText: opts.ExcludeBadText,
		TotalIn:        len(listings),
	}

	kept := make([]Listing, 0, len(listings))
	for _, l := range listings {
		if opts.ExcludeBadText && IsBadText(l) {
			meta.RemovedText++
			continue
		}
		if l.Price <= preset.MinValidPrice {
			meta.RemovedMinPrice++
			continue
		}
		kept = append(kept, l)
	}

	if mode == ModeOff || len(kept) < minPricedForTrim {
		meta.Kept = len(kept)
		return kept, meta
	}

	median := stats.Median(Prices(kept))
	if median <= 0 {
		meta.Kept = len(kept)
		return kept, meta
	}

	lower := median * preset.LowerFactor
	upper := median * preset.UpperFactor
	meta.AppliedTrim = true
	meta.MedianRaw = &median
	meta.LowerBound = &lower
	meta.UpperBound = &upper

	out := kept[:0]
	for _, l := range kept {
		if l.Price < lower {
			meta.RemovedLow++
			continue
		}
		if l.Price > upper {
			meta.RemovedHigh++
			continue
		}
		out = append(out, l)
	}
	meta.Kept = len(out)
	return out, meta
}
