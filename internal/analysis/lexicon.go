package analysis

import (
	"slices"
	"strings"
)

// Subcategory is a weighted group of trigger phrases for one category.
// Weight is added to Category once per matched phrase; Extra is added alongside it.
// Subcategories with zero weight are carried as vocabulary but never scored.
type Subcategory struct {
	Category Category    `json:"category"`
	Name     string      `json:"name"`
	Weight   int         `json:"weight"`
	Extra    ScoreVector `json:"extra"`
	Phrases  []string    `json:"phrases"`
}

// KeywordEntry is a single flattened lexicon row
type KeywordEntry struct {
	Category    Category `json:"category"`
	Subcategory string   `json:"subcategory"`
	Phrase      string   `json:"phrase"`
	Weight      int      `json:"weight"`
}

// KeywordLexicon is the immutable phrase table used by the text analyzer.
// Scored subcategories are evaluated in table order.
type KeywordLexicon struct {
	subcategories []Subcategory
}

var defaultSubcategories = []Subcategory{
	{Category: Recycle, Name: "critical", Weight: 10, Phrases: []string{"destroyed", "shattered", "beyond repair", "completely broken", "unrepairable", "damaged", "totaled"}},
	{Category: Recycle, Name: "major", Weight: 5, Phrases: []string{"broken", "cracked", "smashed", "fried", "burnt", "melted", "corroded"}},
	{Category: Recycle, Name: "moderate", Phrases: []string{"severe damage", "water damage", "dead", "not working"}},
	{Category: Recycle, Name: "failure", Phrases: []string{"failed", "failure", "stopped working", "does not work", "doesn't work", "stop working"}},
	{Category: Recycle, Name: "structural", Phrases: []string{"leaking", "rusted", "warped", "rust"}},

	{Category: Repair, Name: "explicit", Weight: 6, Phrases: []string{"repairable", "fixable", "can be fixed", "easy fix", "minor fix"}},
	{Category: Repair, Name: "issues", Weight: 4, Phrases: []string{"damaged cable", "cable issue", "wire exposed", "battery issue", "screen crack", "wire"}},
	{Category: Repair, Name: "conditions", Weight: 3, Phrases: []string{"minor damage", "small crack", "scratched", "dent", "loose", "worn", "scratch", "crack", "minor damaged"}},
	{Category: Repair, Name: "malfunctions", Phrases: []string{"malfunctioning", "malfunction", "unresponsive", "error", "error message", "error code"}},
	{Category: Repair, Name: "defects", Phrases: []string{"defective", "button issue", "control issue", "sensor issue", "defect"}},
	{Category: Repair, Name: "leaks", Phrases: []string{"leak", "leaks"}},

	{Category: Reuse, Name: "functional", Weight: 4, Extra: ScoreVector{Retain: 2}, Phrases: []string{"works fine", "still functional", "working condition", "functional", "functional/working"}},
	{Category: Reuse, Name: "replacement", Weight: 3, Phrases: []string{"old model", "outdated", "upgrade", "replaced", "no longer need", "switched"}},
	{Category: Reuse, Name: "performance", Phrases: []string{"slow performance", "old but working", "undercooked", "overcooked"}},
	{Category: Reuse, Name: "acceptable", Phrases: []string{"acceptable", "okay", "still works", "functional but", "function but", "accaptable"}},
	{Category: Reuse, Name: "minor_issues", Phrases: []string{"weak", "slow", "ineffective", "poor performance"}},

	{Category: Retain, Name: "excellent", Weight: 6, Phrases: []string{"excellent", "like new", "perfect", "mint condition", "pristine"}},
	{Category: Retain, Name: "good", Weight: 4, Phrases: []string{"good condition", "works perfectly", "no issues", "barely used", "clean"}},
	{Category: Retain, Name: "minor_cosmetic", Phrases: []string{"minor cosmetic", "cosmetic only", "aesthetic only"}},
}

// DefaultLexicon returns the built-in disposal vocabulary
func DefaultLexicon() *KeywordLexicon {
	return NewLexicon(defaultSubcategories)
}

// NewLexicon builds a lexicon from subcategories, lowercasing every phrase.
// The input is copied; later changes to it do not affect the lexicon.
func NewLexicon(subcategories []Subcategory) *KeywordLexicon {
	subs := make([]Subcategory, len(subcategories))
	for i, sub := range subcategories {
		sub.Phrases = make([]string, len(subcategories[i].Phrases))
		for j, phrase := range subcategories[i].Phrases {
			sub.Phrases[j] = strings.ToLower(phrase)
		}
		subs[i] = sub
	}
	return &KeywordLexicon{subcategories: subs}
}

// Scored returns the weighted subcategories in evaluation order
func (l *KeywordLexicon) Scored() []Subcategory {
	scored := make([]Subcategory, 0, len(l.subcategories))
	for _, sub := range l.subcategories {
		if sub.Weight > 0 {
			scored = append(scored, cloneSubcategory(sub))
		}
	}
	return scored
}

// Subcategories returns every subcategory of c, scored or not
func (l *KeywordLexicon) Subcategories(c Category) []Subcategory {
	var subs []Subcategory
	for _, sub := range l.subcategories {
		if sub.Category == c {
			subs = append(subs, cloneSubcategory(sub))
		}
	}
	return subs
}

// Phrases returns the phrases of one subcategory, or nil if it does not exist
func (l *KeywordLexicon) Phrases(c Category, name string) []string {
	for _, sub := range l.subcategories {
		if sub.Category == c && sub.Name == name {
			return slices.Clone(sub.Phrases)
		}
	}
	return nil
}

// Entries flattens the lexicon into one row per phrase
func (l *KeywordLexicon) Entries() []KeywordEntry {
	var entries []KeywordEntry
	for _, sub := range l.subcategories {
		for _, phrase := range sub.Phrases {
			entries = append(entries, KeywordEntry{
				Category:    sub.Category,
				Subcategory: sub.Name,
				Phrase:      phrase,
				Weight:      sub.Weight,
			})
		}
	}
	return entries
}

func cloneSubcategory(sub Subcategory) Subcategory {
	sub.Phrases = slices.Clone(sub.Phrases)
	return sub
}
