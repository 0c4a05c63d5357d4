package memory

import (
	"strings"
	"unicode"
)

// minSubstringRunes is the shortest normalized text that may match as a
// substring of a longer one. Shorter texts only match exactly.
const minSubstringRunes = 8

// Normalize case-folds, trims, collapses inner whitespace and strips trailing
// punctuation so spoken variants of the same text compare equal.
func Normalize(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

// Matches reports whether two normalized texts are the same question or topic:
// equal, or one contained in the other when the shorter is long enough.
func Matches(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	short, long := a, b
	if len([]rune(short)) > len([]rune(long)) {
		short, long = long, short
	}
	if len([]rune(short)) < minSubstringRunes {
		return false
	}
	return strings.Contains(long, short)
}

// WordSet splits text into its set of lower-cased words.
func WordSet(s string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Jaccard returns |A∩B| / |A∪B| over the word sets of a and b.
func Jaccard(a, b string) float64 {
	setA, setB := WordSet(a), WordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	shared := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			shared++
		}
	}
	union := len(setA) + len(setB) - shared
	return float64(shared) / float64(union)
}
