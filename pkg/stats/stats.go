// Package stats reduces a run's filtered listing prices to descriptive
// statistics and classifies the price bands used by the dashboard.
package stats

import "sort"

// Summary holds the descriptive statistics for one run's price list.
// A zero-value Summary (N == 0) means "no data", never "all zeros".
type Summary struct {
	N      int     `json:"n"`
	Mean   float64 `json:"media"`
	Median float64 `json:"mediana"`
	Q1     float64 `json:"q1"`
	Q2     float64 `json:"q2"`
	Q3     float64 `json:"q3"`
	Min    float64 `json:"minimo"`
	Max    float64 `json:"maximo"`
}

// Valid reports whether the summary was computed from at least one price.
func (s Summary) Valid() bool {
	return s.N > 0
}

// Compute reduces a price list to a Summary. The input is not modified;
// ordering of the input is irrelevant. An empty list yields Summary{N: 0}.
func Compute(prices []float64) Summary {
	if len(prices) == 0 {
		return Summary{}
	}

	sorted := make([]float64, len(prices))
	copy(sorted, prices)
	sort.Float64s(sorted)

	n := len(sorted)
	var total float64
	for _, p := range sorted {
		total += p
	}

	median := Quantile(sorted, 0.5)
	return Summary{
		N:      n,
		Mean:   total / float64(n),
		Median: median,
		Q1:     Quantile(sorted, 0.25),
		Q2:     median,
		Q3:     Quantile(sorted, 0.75),
		Min:    sorted[0],
		Max:    sorted[n-1],
	}
}

// Quantile returns the p-quantile of an ascending-sorted slice using linear
// interpolation between order statistics (rank = p * (n-1)).
func Quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	rank := p * float64(n-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// Median is a convenience wrapper over Compute for callers that only need
// the middle value.
func Median(prices []float64) float64 {
	return Compute(prices).Median
}
