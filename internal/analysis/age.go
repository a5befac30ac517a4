package analysis

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// AgeThresholds are the upper bounds (exclusive, in years) of each age band
type AgeThresholds struct {
	Retain  float64
	Reuse   float64
	Repair  float64
	Recycle float64
}

var DefaultAgeThresholds = AgeThresholds{Retain: 1, Reuse: 3, Repair: 5, Recycle: 100}

var (
	yearPattern  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(year|yr)`)
	monthPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(month|mo)`)
)

// ParseAge extracts an age in years from free text such as "2 years" or
// "18 months". Text without a recognisable age yields 0.
func ParseAge(text string) float64 {
	text = strings.ToLower(text)
	if m := yearPattern.FindStringSubmatch(text); m != nil {
		if years, err := strconv.ParseFloat(m[1], 64); err == nil {
			return years
		}
	}
	if m := monthPattern.FindStringSubmatch(text); m != nil {
		if months, err := strconv.ParseFloat(m[1], 64); err == nil {
			return months / 12
		}
	}
	return 0
}

// AnalyzeAge scores the product age band
func AnalyzeAge(s Submission) Fragment {
	return analyzeAge(s, DefaultAgeThresholds)
}

func analyzeAge(s Submission, th AgeThresholds) Fragment {
	frag := Fragment{Source: "age"}
	raw := s.Field(LabelsAge...)
	if raw == "" {
		return frag
	}

	age := ParseAge(raw)
	years := strconv.FormatFloat(age, 'f', -1, 64)
	switch {
	case age < th.Retain:
		frag.Scores = ScoreVector{Retain: 5}
		frag.Reasoning = fmt.Sprintf("Product age (%s years) indicates recent purchase, high retention value.", years)
	case age < th.Reuse:
		frag.Scores = ScoreVector{Reuse: 4, Retain: 2}
		frag.Reasoning = fmt.Sprintf("Product age (%s years) suitable for continued use or reuse.", years)
	case age < th.Repair:
		frag.Scores = ScoreVector{Repair: 3, Reuse: 3}
		frag.Reasoning = fmt.Sprintf("Product age (%s years) at midlife, repair may extend lifespan.", years)
	default:
		frag.Scores = ScoreVector{Recycle: 5}
		frag.Reasoning = fmt.Sprintf("Product age (%s years) suggests end of useful life.", years)
	}
	return frag
}
