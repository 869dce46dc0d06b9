// File: internal/engine/weights.go
// Description: Static strategy weights and the weighted-score arbitration
// rule. Weights rank the trustworthiness of the strategy kind itself;
// recorded and live confidence rank one particular probe. The product of
// the two is what variants compete on.
package engine

import (
	"sort"

	"github.com/xkilldash9x/rewind-cli/api/schemas"
)

// defaultWeights orders strategies by resilience: semantic identity
// outlives attributes, attributes outlive structure, structure outlives
// pixels.
var defaultWeights = map[schemas.StrategyTag]float64{
	schemas.StrategySemanticRole:      0.95,
	schemas.StrategyPowerAttributes:   0.90,
	schemas.StrategyDOMSelector:       0.85,
	schemas.StrategyCSSSelector:       0.80,
	schemas.StrategyEvidenceHeuristic: 0.70,
	schemas.StrategyVisionText:        0.65,
	schemas.StrategyCoordinates:       0.60,
}

// unknownTagWeight keeps variants with unrecognized tags in the running
// without letting them outrank any known strategy.
const unknownTagWeight = 0.50

// WeightTable resolves per-strategy weights, with configuration overrides
// applied over the defaults.
type WeightTable map[schemas.StrategyTag]float64

// NewWeightTable copies the defaults and applies overrides keyed by tag
// string. Overrides outside (0,1] are ignored.
func NewWeightTable(overrides map[string]float64) WeightTable {
	t := make(WeightTable, len(defaultWeights))
	for tag, w := range defaultWeights {
		t[tag] = w
	}
	for key, w := range overrides {
		if w > 0 && w <= 1 {
			t[schemas.StrategyTag(key)] = w
		}
	}
	return t
}

// Weight returns the table's weight for a tag.
func (t WeightTable) Weight(tag schemas.StrategyTag) float64 {
	if w, ok := t[tag]; ok {
		return w
	}
	return unknownTagWeight
}

// Score is the arbitration value of one evaluation: strategy weight times
// live confidence. A miss scores zero regardless of weight.
func (t WeightTable) Score(r schemas.EvaluationResult) float64 {
	if !r.Found {
		return 0
	}
	return t.Weight(r.Tag) * r.Confidence
}

// SortByScore stamps each result's weighted score onto the trail entry and
// orders results by descending score, found results first. The sort is
// stable so equal scores keep evaluation order.
func (t WeightTable) SortByScore(results []schemas.EvaluationResult) {
	for i := range results {
		results[i].Score = t.Score(results[i])
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}
