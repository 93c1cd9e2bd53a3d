package series

import "math"

// Change is the percentage move between the two most recent medians of a
// series. OK distinguishes "no measurable change" from a genuine 0% move:
// with fewer than two points, or an earlier median of zero or worse, there
// is no defensible percentage and OK is false.
type Change struct {
	Pct float64 `json:"pct"`
	OK  bool    `json:"ok"`
}

// ChangeOf computes the median change across the last two points, which must
// already be in ascending time order.
func ChangeOf(points []Point) Change {
	if len(points) < 2 {
		return Change{}
	}
	prev := points[len(points)-2].Median
	curr := points[len(points)-1].Median
	if prev <= 0 || math.IsNaN(prev) || math.IsInf(prev, 0) {
		return Change{}
	}
	pct := (curr - prev) / prev * 100
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return Change{}
	}
	return Change{Pct: pct, OK: true}
}
