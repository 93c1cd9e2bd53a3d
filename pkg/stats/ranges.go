package stats

// Band is a closed price interval.
type Band struct {
	From float64 `json:"from"`
	To   float64 `json:"to"`
}

// Ranges classifies a run's market into named price bands. Normal is present
// whenever the run has at least one price; Fast and Slow require sell-speed
// evidence and are nil without it. Callers must treat a nil Normal band as
// "insufficient data", not as a zero-priced market.
type Ranges struct {
	Normal *Band `json:"normal,omitempty"`
	Fast   *Band `json:"fast,omitempty"`
	Slow   *Band `json:"slow,omitempty"`
}

// SpeedSignal partitions observed prices by how quickly their listings left
// the market. Either subset may be empty when the evidence is one-sided.
type SpeedSignal struct {
	FastPrices []float64
	SlowPrices []float64
}

// ClassifyRanges derives the price bands for a run. The normal band is
// [Q1, Q3] of the full price list; the fast/slow bands are [Q1, Q3] of the
// corresponding sell-speed subset, using the same quartile method.
func ClassifyRanges(s Summary, speed *SpeedSignal) Ranges {
	var r Ranges
	if !s.Valid() {
		return r
	}

	r.Normal = &Band{From: s.Q1, To: s.Q3}

	if speed == nil {
		return r
	}
	if sub := Compute(speed.FastPrices); sub.Valid() {
		r.Fast = &Band{From: sub.Q1, To: sub.Q3}
	}
	if sub := Compute(speed.SlowPrices); sub.Valid() {
		r.Slow = &Band{From: sub.Q1, To: sub.Q3}
	}
	return r
}
