package analysis

import (
	"math"
	"sort"
)

// Confidence shaping constants
const (
	neutralConfidence = 0.5
	maxConfidence     = 1.0
)

// marginBonuses are cumulative: every step whose threshold the margin reaches applies
var marginBonuses = []struct {
	minMargin int
	bonus     float64
}{
	{minMargin: 5, bonus: 0.15},
	{minMargin: 10, bonus: 0.10},
	{minMargin: 15, bonus: 0.05},
}

// Aggregate sums fragment vectors. Addition is commutative, so order only
// matters for the narrative, never for the totals.
func Aggregate(vectors ...ScoreVector) ScoreVector {
	var total ScoreVector
	for _, v := range vectors {
		total = total.Merge(v)
	}
	return total
}

// RankedCategory is one entry of a ranked score vector
type RankedCategory struct {
	Category Category `json:"category"`
	Score    int      `json:"score"`
}

// Rank orders categories by descending score. Equal scores keep CategoryPriority order.
func Rank(v ScoreVector) []RankedCategory {
	ranked := make([]RankedCategory, len(CategoryPriority))
	for i, c := range CategoryPriority {
		ranked[i] = RankedCategory{Category: c, Score: v.Get(c)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked
}

// Resolve picks the winning category and its margin over the runner-up.
// An all-zero vector resolves to the first priority category.
func Resolve(v ScoreVector) Decision {
	ranked := Rank(v)
	return Decision{
		Recommendation: ranked[0].Category,
		TopScore:       ranked[0].Score,
		SecondScore:    ranked[1].Score,
		Margin:         ranked[0].Score - ranked[1].Score,
	}
}

// EstimateConfidence returns the winner's share of all points plus margin
// bonuses, capped at 1 and rounded to two decimals. No points at all means 0.5.
func EstimateConfidence(v ScoreVector, d Decision) float64 {
	total := v.Total()
	if total <= 0 {
		return neutralConfidence
	}

	confidence := float64(v.Get(d.Recommendation)) / float64(total)
	for _, step := range marginBonuses {
		if d.Margin >= step.minMargin {
			confidence = math.Min(confidence+step.bonus, maxConfidence)
		}
	}
	return math.Round(confidence*100) / 100
}
