package rank

import (
	"strings"
	"unicode"
)

// TrigramSimilarity measures fuzzy string similarity the way pg_trgm does:
// both strings are lowercased, split into alphanumeric words, each word is
// padded before trigram extraction, and the score is the Jaccard ratio of the
// two trigram sets. Result is in [0,1].
func TrigramSimilarity(a, b string) float64 {
	ta := trigramSet(a)
	tb := trigramSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for g := range ta {
		if _, ok := tb[g]; ok {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

// BestTrigramSimilarity mirrors the GREATEST(similarity(...)) pattern used in
// trigram search: the query is compared against each candidate field and the
// highest score wins.
func BestTrigramSimilarity(query string, fields ...string) float64 {
	best := 0.0
	for _, field := range fields {
		if s := TrigramSimilarity(query, field); s > best {
			best = s
		}
	}
	return best
}

func trigramSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range splitWords(s) {
		// pg_trgm pads with two leading and one trailing blank.
		padded := "  " + word + " "
		for i := 0; i+3 <= len(padded); i++ {
			set[padded[i:i+3]] = struct{}{}
		}
	}
	return set
}

func splitWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
