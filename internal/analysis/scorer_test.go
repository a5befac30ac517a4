package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreVector_Add(t *testing.T) {
	var v ScoreVector
	v.Add(Recycle, 3)
	v.Add(Repair, 2)
	v.Add(Reuse, 0)
	v.Add(Retain, -4)
	v.Add(Category("unknown"), 7)

	assert.Equal(t, ScoreVector{Recycle: 3, Repair: 2}, v)
	assert.Equal(t, 5, v.Total())
}

func TestScoreVector_Scale(t *testing.T) {
	tests := []struct {
		name     string
		input    ScoreVector
		factor   float64
		expected ScoreVector
	}{
		{
			name:     "rounds each component to nearest",
			input:    ScoreVector{Recycle: 5, Repair: 3, Reuse: 4, Retain: 1},
			factor:   ImageWeight,
			expected: ScoreVector{Recycle: 2, Repair: 1, Reuse: 2, Retain: 0},
		},
		{
			name:     "zero vector stays zero",
			input:    ScoreVector{},
			factor:   ImageWeight,
			expected: ScoreVector{},
		},
		{
			name:     "identity factor",
			input:    ScoreVector{Recycle: 7, Retain: 9},
			factor:   1,
			expected: ScoreVector{Recycle: 7, Retain: 9},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.input.Scale(tt.factor))
		})
	}
}

func TestParseCategory(t *testing.T) {
	for _, c := range CategoryPriority {
		parsed, err := ParseCategory(" " + c.Label() + " ")
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}

	_, err := ParseCategory("landfill")
	assert.Error(t, err)
}

func TestAggregate_OrderIndependent(t *testing.T) {
	vectors := []ScoreVector{
		{Recycle: 10},
		{Repair: 4, Retain: 2},
		{Reuse: 3, Retain: 5},
		{Recycle: 2, Repair: 7},
	}
	expected := ScoreVector{Recycle: 12, Repair: 11, Reuse: 3, Retain: 7}

	tests := []struct {
		name  string
		order []int
	}{
		{name: "natural order", order: []int{0, 1, 2, 3}},
		{name: "reversed", order: []int{3, 2, 1, 0}},
		{name: "interleaved", order: []int{2, 0, 3, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ordered := make([]ScoreVector, len(tt.order))
			for i, idx := range tt.order {
				ordered[i] = vectors[idx]
			}
			assert.Equal(t, expected, Aggregate(ordered...))
		})
	}

	t.Run("grouping does not matter", func(t *testing.T) {
		left := vectors[0].Merge(vectors[1]).Merge(vectors[2])
		right := vectors[0].Merge(vectors[1].Merge(vectors[2]))
		assert.Equal(t, left, right)
	})
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		scores   ScoreVector
		expected Decision
	}{
		{
			name:     "all zero falls back to recycle",
			scores:   ScoreVector{},
			expected: Decision{Recommendation: Recycle},
		},
		{
			name:     "clear winner",
			scores:   ScoreVector{Recycle: 1, Retain: 9},
			expected: Decision{Recommendation: Retain, TopScore: 9, SecondScore: 1, Margin: 8},
		},
		{
			name:     "recycle beats repair on tie",
			scores:   ScoreVector{Recycle: 5, Repair: 5},
			expected: Decision{Recommendation: Recycle, TopScore: 5, SecondScore: 5},
		},
		{
			name:     "repair beats reuse and retain on tie",
			scores:   ScoreVector{Repair: 3, Reuse: 3, Retain: 3},
			expected: Decision{Recommendation: Repair, TopScore: 3, SecondScore: 3},
		},
		{
			name:     "reuse beats retain on tie",
			scores:   ScoreVector{Recycle: 1, Reuse: 4, Retain: 4},
			expected: Decision{Recommendation: Reuse, TopScore: 4, SecondScore: 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := Resolve(tt.scores)
			assert.Equal(t, tt.expected, first)
			assert.Equal(t, first, Resolve(tt.scores), "resolution must be deterministic")
		})
	}
}

func TestRank(t *testing.T) {
	ranked := Rank(ScoreVector{Recycle: 2, Repair: 8, Reuse: 2, Retain: 5})

	require.Len(t, ranked, 4)
	assert.Equal(t, []RankedCategory{
		{Category: Repair, Score: 8},
		{Category: Retain, Score: 5},
		{Category: Recycle, Score: 2},
		{Category: Reuse, Score: 2},
	}, ranked)
}

func TestEstimateConfidence(t *testing.T) {
	tests := []struct {
		name     string
		scores   ScoreVector
		expected float64
	}{
		{
			name:     "no points is total ambiguity",
			scores:   ScoreVector{},
			expected: 0.5,
		},
		{
			name:     "narrow margin has no bonus",
			scores:   ScoreVector{Recycle: 6, Repair: 5},
			expected: 0.55,
		},
		{
			name:     "margin of five adds first bonus",
			scores:   ScoreVector{Recycle: 10, Repair: 5},
			expected: 0.82,
		},
		{
			name:     "margin of ten adds two bonuses",
			scores:   ScoreVector{Recycle: 12, Repair: 2, Reuse: 2, Retain: 2},
			expected: 0.92,
		},
		{
			name:     "bonuses clamp at one",
			scores:   ScoreVector{Recycle: 20, Repair: 5},
			expected: 1.0,
		},
		{
			name:     "single category",
			scores:   ScoreVector{Retain: 13},
			expected: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := EstimateConfidence(tt.scores, Resolve(tt.scores))
			assert.InDelta(t, tt.expected, conf, 1e-9)
			assert.GreaterOrEqual(t, conf, 0.0)
			assert.LessOrEqual(t, conf, 1.0)
		})
	}
}

func TestEstimateConfidence_MonotonicInMargin(t *testing.T) {
	// Winner fixed at 10 points and total fixed at 20; only the runner-up moves.
	vectors := []ScoreVector{
		{Recycle: 10, Repair: 10},
		{Recycle: 10, Repair: 7, Reuse: 3},
		{Recycle: 10, Repair: 5, Reuse: 5},
		{Recycle: 10, Repair: 4, Reuse: 3, Retain: 3},
	}

	prevMargin := -1
	prevConf := 0.0
	for _, v := range vectors {
		d := Resolve(v)
		require.Equal(t, Recycle, d.Recommendation)
		require.Equal(t, 20, v.Total())
		require.Greater(t, d.Margin, prevMargin)

		conf := EstimateConfidence(v, d)
		assert.GreaterOrEqual(t, conf, prevConf, "margin %d", d.Margin)
		assert.LessOrEqual(t, conf, 1.0)
		prevMargin, prevConf = d.Margin, conf
	}
}

func TestSummary(t *testing.T) {
	scores := ScoreVector{Recycle: 1, Repair: 2, Reuse: 3, Retain: 9}
	assert.Equal(t,
		"Score breakdown - Recycle: 1, Repair: 2, Reuse: 3, Retain: 9. Decision margin: 6 points.",
		Summary(scores, Resolve(scores)),
	)
}
