package analysis

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const maxReportedKeywords = 3

// TextAnalyzer spots lexicon phrases in the free-text values of a submission
type TextAnalyzer struct {
	lexicon  *KeywordLexicon
	scored   []Subcategory
	patterns map[string]*regexp.Regexp // word-boundary patterns, only set in strict mode
}

// NewTextAnalyzer creates a text analyzer. By default a phrase matches anywhere in
// the text, so overlapping phrases such as "crack" and "small crack" both count.
// With strict set, phrases must match on word boundaries.
func NewTextAnalyzer(lexicon *KeywordLexicon, strict bool) *TextAnalyzer {
	if lexicon == nil {
		lexicon = DefaultLexicon()
	}
	ta := &TextAnalyzer{
		lexicon: lexicon,
		scored:  lexicon.Scored(),
	}
	if strict {
		ta.patterns = make(map[string]*regexp.Regexp)
		for _, sub := range ta.scored {
			for _, phrase := range sub.Phrases {
				ta.patterns[phrase] = regexp.MustCompile(`\b` + regexp.QuoteMeta(phrase) + `\b`)
			}
		}
	}
	return ta
}

// Strict reports whether word-boundary matching is enabled
func (ta *TextAnalyzer) Strict() bool {
	return ta.patterns != nil
}

// SearchText builds the lowercase text the analyzer scans: every string value
// that is not an upload reference, in label order, joined by single spaces.
func SearchText(s Submission) string {
	labels := make([]string, 0, len(s))
	for label := range s {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	parts := make([]string, 0, len(labels))
	for _, label := range labels {
		value, ok := s[label].(string)
		if !ok || strings.Contains(value, UploadMarker) {
			continue
		}
		parts = append(parts, strings.ToLower(value))
	}
	return strings.Join(parts, " ")
}

// Analyze scores the submission's free text against the scored lexicon subcategories
func (ta *TextAnalyzer) Analyze(s Submission) Fragment {
	text := SearchText(s)
	frag := Fragment{Source: "text"}
	found := make(map[Category][]string)

	for _, sub := range ta.scored {
		for _, phrase := range sub.Phrases {
			if !ta.contains(text, phrase) {
				continue
			}
			frag.Scores.Add(sub.Category, sub.Weight)
			frag.Scores = frag.Scores.Merge(sub.Extra)
			found[sub.Category] = append(found[sub.Category], phrase)
			if sub.Category == Recycle && sub.Name == "critical" && frag.CriticalFactor == "" {
				frag.CriticalFactor = fmt.Sprintf("Critical damage detected: \"%s\".", phrase)
			}
		}
	}

	if frag.Scores.IsZero() {
		return frag
	}
	top := frag.Scores.Top()
	if keywords := uniqueKeywords(found[top], maxReportedKeywords); len(keywords) > 0 {
		frag.Reasoning = fmt.Sprintf("Keywords detected: \"%s\" indicate %s.", strings.Join(keywords, ", "), top)
	}
	return frag
}

func (ta *TextAnalyzer) contains(text, phrase string) bool {
	if ta.patterns == nil {
		return strings.Contains(text, phrase)
	}
	return ta.patterns[phrase].MatchString(text)
}

func uniqueKeywords(keywords []string, limit int) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, limit)
	for _, kw := range keywords {
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
		if len(out) == limit {
			break
		}
	}
	return out
}
