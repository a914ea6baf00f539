// Package lexical provides the word-overlap matching used by retrieval
// scoring and coverage matching. Matching is purely lexical; there is no
// embedding or vector search in this system.
package lexical

import (
	"strings"
	"unicode"
)

// Tokens lowercases the text, strips punctuation and splits on whitespace.
func Tokens(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r):
			return ' '
		default:
			return ' '
		}
	}, text)
	return strings.Fields(cleaned)
}

// TokenSet returns the distinct tokens of the text.
func TokenSet(text string) map[string]bool {
	set := map[string]bool{}
	for _, t := range Tokens(text) {
		set[t] = true
	}
	return set
}

// Jaccard computes word-overlap similarity between two texts: the size of the
// token intersection over the size of the token union.
func Jaccard(a, b string) float64 {
	return JaccardSets(TokenSet(a), TokenSet(b))
}

// JaccardSets computes Jaccard similarity over prebuilt token sets.
func JaccardSets(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if b[t] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Overlap computes the fraction of query tokens present in the candidate set,
// a recall-oriented variant used when the query is much shorter than the text.
func Overlap(query map[string]bool, candidate map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for t := range query {
		if candidate[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

// Contains reports whether the text contains the phrase, token-wise.
func Contains(text, phrase string) bool {
	return strings.Contains(" "+strings.Join(Tokens(text), " ")+" ",
		" "+strings.Join(Tokens(phrase), " ")+" ")
}
