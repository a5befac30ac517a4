package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fieldCase struct {
	name      string
	input     Submission
	scores    ScoreVector
	reasoning string
	critical  string
}

func runFieldCases(t *testing.T, analyze func(Submission) Fragment, tests []fieldCase) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frag := analyze(tt.input)
			assert.Equal(t, tt.scores, frag.Scores)
			assert.Equal(t, tt.reasoning, frag.Reasoning)
			assert.Equal(t, tt.critical, frag.CriticalFactor)
		})
	}
}

func TestAnalyzeAppearance(t *testing.T) {
	runFieldCases(t, AnalyzeAppearance, []fieldCase{
		{
			name:      "minor wear",
			input:     Submission{"Wear and tear": "Minor scratches"},
			scores:    ScoreVector{Repair: 4, Retain: 2},
			reasoning: "Minor wear detected, product largely intact.",
		},
		{
			name:      "falls back to the short wear label",
			input:     Submission{"Wear and tear": "", "Wear": "Major"},
			scores:    ScoreVector{Recycle: 5, Repair: 2},
			reasoning: "Extensive wear indicates significant use or damage.",
		},
		{
			name:      "no wear",
			input:     Submission{"Wear": "None"},
			scores:    ScoreVector{Retain: 5},
			reasoning: "Minimal wear, product well-maintained.",
		},
		{
			name:      "wear and deterioration stack",
			input:     Submission{"Wear and tear": "only cable", "Visible deterioration": "Low"},
			scores:    ScoreVector{Repair: 4, Reuse: 2, Retain: 6},
			reasoning: "Minor wear detected, product largely intact. Low deterioration, good physical condition.",
		},
		{
			name:      "severe deterioration alone",
			input:     Submission{"Visible deterioration": "Severe"},
			scores:    ScoreVector{Recycle: 5},
			reasoning: "High deterioration affects product viability.",
		},
		{
			name:   "missing fields",
			input:  Submission{},
			scores: ScoreVector{},
		},
	})
}

func TestAnalyzeFunctionality(t *testing.T) {
	runFieldCases(t, AnalyzeFunctionality, []fieldCase{
		{
			name: "repairable cable with intact mechanics",
			input: Submission{
				"Electrical issue": "Yes, wire exposed but is repairable",
				"Mechanical issue": "None",
			},
			scores:    ScoreVector{Repair: 16, Reuse: 3, Retain: 5},
			reasoning: "No mechanical issues, core functionality intact.",
			critical:  "Electrical issue is confirmed repairable (cable replacement).",
		},
		{
			name: "cable damage sets the electrical-only critical factor",
			input: Submission{
				"Electrical issue": "Yes, damaged cable",
				"Mechanical issue": "No issue",
			},
			scores:    ScoreVector{Repair: 11, Reuse: 3, Retain: 5},
			reasoning: "No mechanical issues, core functionality intact. Cable damage detected, typically repairable component.",
			critical:  "Only electrical issue with intact mechanics - ideal for repair.",
		},
		{
			name: "both mechanical and electrical issues",
			input: Submission{
				"Electrical issue": "Yes",
				"Mechanical issue": "Yes",
			},
			scores:    ScoreVector{Recycle: 5, Repair: 8},
			reasoning: "Mechanical issues present. Electrical issue requires assessment.",
		},
		{
			name:   "no electrical issue",
			input:  Submission{"Electrical issue": "No"},
			scores: ScoreVector{Retain: 4},
		},
		{
			name:   "missing fields",
			input:  Submission{},
			scores: ScoreVector{},
		},
	})
}

func TestAnalyzeRepairability(t *testing.T) {
	runFieldCases(t, AnalyzeRepairability, []fieldCase{
		{
			name:      "easy and modular",
			input:     Submission{"Ease of disassembly": "Easy", "Level of components integration": "Separate components"},
			scores:    ScoreVector{Repair: 9},
			reasoning: "Easy disassembly makes repair practical and cost-effective. Modular design allows component-level repair.",
		},
		{
			name:      "difficult and integrated",
			input:     Submission{"Ease of disassembly": "Difficult", "Level of components integration": "Highly integrated"},
			scores:    ScoreVector{Recycle: 5, Reuse: 2},
			reasoning: "Difficult disassembly increases repair complexity.",
		},
		{
			name:      "can be unplugged",
			input:     Submission{"Ease of disassembly": "Parts can be unplugged"},
			scores:    ScoreVector{Repair: 5},
			reasoning: "Easy disassembly makes repair practical and cost-effective.",
		},
	})
}

func TestAnalyzeOutdated(t *testing.T) {
	runFieldCases(t, AnalyzeOutdated, []fieldCase{
		{name: "current", input: Submission{"Outdated": "No"}, scores: ScoreVector{Repair: 2, Retain: 4}, reasoning: "Modern design still current, retains value."},
		{name: "obsolete", input: Submission{"Outdated": "Yes, obsolete"}, scores: ScoreVector{Recycle: 3, Reuse: 5}, reasoning: "Outdated model better suited for reuse or recycling."},
		{name: "unrecognised", input: Submission{"Outdated": "maybe"}, scores: ScoreVector{}},
	})
}

func TestAnalyzeCondition(t *testing.T) {
	runFieldCases(t, AnalyzeCondition, []fieldCase{
		{name: "excellent", input: Submission{"Condition": "Excellent"}, scores: ScoreVector{Retain: 8}, reasoning: "Excellent condition warrants retention."},
		{name: "like new via alternate label", input: Submission{"Product Condition": "Like new"}, scores: ScoreVector{Retain: 8}, reasoning: "Excellent condition warrants retention."},
		{name: "good", input: Submission{"Condition": "Very good"}, scores: ScoreVector{Reuse: 3, Retain: 5}, reasoning: "Good overall condition supports retention or reuse."},
		{name: "fair", input: Submission{"Condition": "Average"}, scores: ScoreVector{Repair: 4, Reuse: 5}, reasoning: "Fair condition suggests repair or reuse options."},
		{name: "poor takes precedence over broken", input: Submission{"Condition": "Poor, partly broken"}, scores: ScoreVector{Recycle: 3, Repair: 5}, reasoning: "Poor condition may require significant repair."},
		{name: "broken", input: Submission{"Condition": "Broken"}, scores: ScoreVector{Recycle: 8}, reasoning: "Broken condition indicates recycling as primary option."},
	})
}

func TestAnalyzeWarranty(t *testing.T) {
	runFieldCases(t, AnalyzeWarranty, []fieldCase{
		{name: "active", input: Submission{"Warranty Status": "Active"}, scores: ScoreVector{Repair: 6, Retain: 4}, reasoning: "Active warranty enables free or low-cost repair."},
		{name: "expired via alternate label", input: Submission{"Under Warranty": "Expired"}, scores: ScoreVector{Reuse: 2}, reasoning: "Expired warranty, self-funded repair or reuse considered."},
	})
}

func TestAnalyzeMedia(t *testing.T) {
	tests := []struct {
		name      string
		input     Submission
		reasoning string
	}{
		{name: "single upload", input: Submission{"Product Image": "/uploads/a.bin"}, reasoning: "Visual documentation provided (1 file) for condition assessment."},
		{name: "extensions are case-insensitive", input: Submission{"Video": "clip.MOV", "Photo": "side.jpeg"}, reasoning: "Visual documentation provided (2 files) for condition assessment."},
		{name: "documents are not media", input: Submission{"Manual": "manual.pdf"}},
		{name: "non-string values", input: Submission{"Photos": 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frag := AnalyzeMedia(tt.input)
			assert.True(t, frag.Scores.IsZero())
			assert.Equal(t, tt.reasoning, frag.Reasoning)
		})
	}
}

func TestSubmission_Field(t *testing.T) {
	s := Submission{"A": "", "B": 12, "C": nil, "D": []string{"x"}, "E": "value"}

	assert.Equal(t, "12", s.Field("A", "B"))
	assert.Equal(t, "value", s.Field("C", "D", "E"))
	assert.Equal(t, "", s.Field("missing"))
	assert.True(t, s.Has("missing", "E"))
	assert.False(t, s.Has("A", "C"))
}
