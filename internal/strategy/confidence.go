// File: internal/strategy/confidence.go
// Description: Shared confidence arithmetic for the evaluators. Recorded
// confidences are trusted as a baseline; live observations only ever adjust
// them by the rules here so scores stay comparable across strategies.
package strategy

import "math"

const (
	// multiMatchK scales the logarithmic ambiguity penalty.
	multiMatchK = 0.12
	// multiMatchCap bounds the penalty so a wildly ambiguous selector can
	// still outrank a strategy that found nothing at all.
	multiMatchCap = 0.40
)

// multiMatchPenalty returns the confidence deduction for a probe that
// matched n elements. A unique match costs nothing; ambiguity is charged
// logarithmically because the tenth duplicate says little more than the
// second.
func multiMatchPenalty(n int) float64 {
	if n <= 1 {
		return 0
	}
	return math.Min(multiMatchK*math.Log2(float64(n)), multiMatchCap)
}

// scoreMatches applies the ambiguity penalty to a base confidence and clamps
// the result into [0,1].
func scoreMatches(base float64, n int) float64 {
	return clamp01(base - multiMatchPenalty(n))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
