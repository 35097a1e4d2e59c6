package services

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Term matching is deliberately loose: normalized substring containment, no
// stemming and no word-boundary enforcement. That tolerates inflection
// ("mitosis" matches "mitosis-driven") at the cost of false positives on very
// short terms, which the exposure-based progress model accepts.

var diacriticStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeForMatch lowercases, strips diacritics, replaces every
// non-letter/non-digit rune with a space and collapses runs of whitespace.
func NormalizeForMatch(s string) string {
	stripped, _, err := transform.String(diacriticStripper, s)
	if err != nil {
		stripped = s
	}
	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range strings.ToLower(stripped) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// termMatchKey normalizes only the portion of a term before any
// parenthetical, so "krebs cycle (aka citric acid cycle)" matches on
// "krebs cycle".
func termMatchKey(term string) string {
	if i := strings.Index(term, "("); i >= 0 {
		term = term[:i]
	}
	return NormalizeForMatch(term)
}

// DetectCoveredTerms returns the candidate terms literally mentioned in text,
// preserving candidate order. A term whose normalized form is empty never
// matches. Pure function.
func DetectCoveredTerms(text string, candidates []string) []string {
	haystack := NormalizeForMatch(text)
	if haystack == "" {
		return nil
	}
	var matched []string
	for _, candidate := range candidates {
		key := termMatchKey(candidate)
		if key == "" {
			continue
		}
		if strings.Contains(haystack, key) {
			matched = append(matched, candidate)
		}
	}
	return matched
}
