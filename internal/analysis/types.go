package analysis

import (
	"fmt"
	"strings"
)

// UploadMarker is the path segment every stored upload reference carries
const UploadMarker = "/uploads/"

// Submission maps questionnaire field labels to their values. String values are
// the norm; file fields carry an upload reference. The engine never mutates it.
type Submission map[string]any

// Field returns the first non-empty value among the given labels, in order.
// Non-string scalar values are rendered with fmt so numeric answers still match.
func (s Submission) Field(labels ...string) string {
	for _, label := range labels {
		v, ok := s[label]
		if !ok || v == nil {
			continue
		}
		var str string
		switch t := v.(type) {
		case string:
			str = t
		case fmt.Stringer:
			str = t.String()
		case bool, int, int32, int64, float32, float64:
			str = fmt.Sprint(t)
		default:
			continue
		}
		if str != "" {
			return str
		}
	}
	return ""
}

// Has reports whether any of the labels carries a non-empty value
func (s Submission) Has(labels ...string) bool {
	return s.Field(labels...) != ""
}

// lowerField is Field lowercased, the form every field rule matches against
func (s Submission) lowerField(labels ...string) string {
	return strings.ToLower(s.Field(labels...))
}

// Fragment is the output of a single analyzer
type Fragment struct {
	Source         string      `json:"source"`
	Scores         ScoreVector `json:"scores"`
	Reasoning      string      `json:"reasoning,omitempty"`
	CriticalFactor string      `json:"critical_factor,omitempty"`
}

// Classification is one ranked label from an image classifier
type Classification struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Decision is the ranking outcome derived from a final ScoreVector
type Decision struct {
	Recommendation Category `json:"recommendation"`
	TopScore       int      `json:"top_score"`
	SecondScore    int      `json:"second_score"`
	Margin         int      `json:"margin"`
}

// AnalysisResult is the public verdict for one submission
type AnalysisResult struct {
	Recommendation  Category         `json:"recommendation"`
	Confidence      float64          `json:"confidence"`
	Reasoning       string           `json:"reasoning"`
	Analysis        string           `json:"analysis"`
	Scores          ScoreVector      `json:"scores"`
	Decision        Decision         `json:"decision"`
	Classifications []Classification `json:"classifications,omitempty"`
	Fragments       []Fragment       `json:"fragments,omitempty"`
}
