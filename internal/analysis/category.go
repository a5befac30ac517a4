package analysis

import (
	"fmt"
	"math"
	"strings"
)

// Category is one of the four disposition outcomes
type Category string

const (
	Recycle Category = "recycle"
	Repair  Category = "repair"
	Reuse   Category = "reuse"
	Retain  Category = "retain"
)

// CategoryPriority is the fixed category order. Ties in the final ranking resolve
// in this order and every ordered iteration over categories follows it.
var CategoryPriority = [4]Category{Recycle, Repair, Reuse, Retain}

// ParseCategory converts a case-insensitive tag into a Category
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range CategoryPriority {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Label returns the upper-case display form used in reports
func (c Category) Label() string {
	return strings.ToUpper(string(c))
}

// ScoreVector is the four-category point tally produced by every analyzer
type ScoreVector struct {
	Recycle int `json:"recycle"`
	Repair  int `json:"repair"`
	Reuse   int `json:"reuse"`
	Retain  int `json:"retain"`
}

// Add adds points to one category. Non-positive deltas are ignored so a vector never decreases.
func (v *ScoreVector) Add(c Category, points int) {
	if points <= 0 {
		return
	}
	switch c {
	case Recycle:
		v.Recycle += points
	case Repair:
		v.Repair += points
	case Reuse:
		v.Reuse += points
	case Retain:
		v.Retain += points
	}
}

// Get returns the points for one category
func (v ScoreVector) Get(c Category) int {
	switch c {
	case Recycle:
		return v.Recycle
	case Repair:
		return v.Repair
	case Reuse:
		return v.Reuse
	case Retain:
		return v.Retain
	}
	return 0
}

// Merge returns the component-wise sum of two vectors
func (v ScoreVector) Merge(other ScoreVector) ScoreVector {
	return ScoreVector{
		Recycle: v.Recycle + other.Recycle,
		Repair:  v.Repair + other.Repair,
		Reuse:   v.Reuse + other.Reuse,
		Retain:  v.Retain + other.Retain,
	}
}

// Scale multiplies every component by factor, rounding each to the nearest integer
func (v ScoreVector) Scale(factor float64) ScoreVector {
	scale := func(x int) int { return int(math.Round(float64(x) * factor)) }
	return ScoreVector{
		Recycle: scale(v.Recycle),
		Repair:  scale(v.Repair),
		Reuse:   scale(v.Reuse),
		Retain:  scale(v.Retain),
	}
}

// Total returns the sum of all four components
func (v ScoreVector) Total() int {
	return v.Recycle + v.Repair + v.Reuse + v.Retain
}

func (v ScoreVector) IsZero() bool {
	return v == ScoreVector{}
}

// Top returns the highest-scoring category, ties going to the earlier CategoryPriority entry
func (v ScoreVector) Top() Category {
	best := CategoryPriority[0]
	for _, c := range CategoryPriority[1:] {
		if v.Get(c) > v.Get(best) {
			best = c
		}
	}
	return best
}

func (v ScoreVector) String() string {
	return fmt.Sprintf("Recycle: %d, Repair: %d, Reuse: %d, Retain: %d", v.Recycle, v.Repair, v.Reuse, v.Retain)
}
