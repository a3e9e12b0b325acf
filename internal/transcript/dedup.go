package transcript

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

const (
	duplicateWindow  = 3.0 // seconds between starts
	duplicateJaccard = 0.8
)

// Normalize lower-cases text, strips punctuation, and collapses whitespace
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Jaccard returns the word-set Jaccard similarity of two normalized texts
func Jaccard(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}

	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

// IsDuplicate reports whether two segments carry the same speech.
// Starts must be within three seconds, and the normalized texts must be equal,
// one's words must appear as a contiguous run in the other, or their word Jaccard similarity must exceed 0.8.
// The relation is symmetric.
func IsDuplicate(a, b Segment) bool {
	if math.Abs(a.StartTime-b.StartTime) > duplicateWindow {
		return false
	}

	na := Normalize(a.Text)
	nb := Normalize(b.Text)
	if na == "" || nb == "" {
		return na == nb
	}
	if na == nb || containsWords(na, nb) || containsWords(nb, na) {
		return true
	}
	return Jaccard(na, nb) > duplicateJaccard
}

// Deduplicate keeps the first of every group of duplicates in processing order
// and returns the survivors sorted by start time, plus the number dropped.
func Deduplicate(pending []Pending) ([]Pending, int) {
	kept := make([]Pending, 0, len(pending))
	for _, candidate := range pending {
		duplicate := false
		for _, k := range kept {
			if IsDuplicate(k.Segment, candidate.Segment) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, candidate)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].StartTime < kept[j].StartTime
	})
	return kept, len(pending) - len(kept)
}

// containsWords reports whether the words of inner appear consecutively in outer.
// Both must be normalized, so words are separated by single spaces.
func containsWords(outer, inner string) bool {
	return strings.Contains(" "+outer+" ", " "+inner+" ")
}

func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(text) {
		set[w] = struct{}{}
	}
	return set
}
