package analysis

import "strings"

// anyOf matches when the value contains at least one of the substrings
type anyOf []string

func (a anyOf) match(value string) bool {
	for _, s := range a {
		if strings.Contains(value, s) {
			return true
		}
	}
	return false
}

// rule is one row of a field decision table. Every group in when must match.
type rule struct {
	when     []anyOf
	effect   ScoreVector
	reason   string
	critical string
}

func (r rule) match(value string) bool {
	if value == "" || len(r.when) == 0 {
		return false
	}
	for _, group := range r.when {
		if !group.match(value) {
			return false
		}
	}
	return true
}

// ruleTable is an ordered decision table; the first matching row wins
type ruleTable []rule

func (t ruleTable) first(value string) (rule, bool) {
	for _, r := range t {
		if r.match(value) {
			return r, true
		}
	}
	return rule{}, false
}

// apply evaluates the table against value and folds the winning row into frag
func (t ruleTable) apply(frag *Fragment, value string) bool {
	r, ok := t.first(value)
	if !ok {
		return false
	}
	frag.Scores = frag.Scores.Merge(r.effect)
	frag.Reasoning = joinSentences(frag.Reasoning, r.reason)
	if r.critical != "" && frag.CriticalFactor == "" {
		frag.CriticalFactor = r.critical
	}
	return true
}

func when(groups ...anyOf) []anyOf { return groups }

// joinSentences joins the non-empty parts with single spaces
func joinSentences(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
