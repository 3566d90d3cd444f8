package repoindex

import (
	"strings"
	"unicode"
)

// tokenize splits text into lowercase identifier-like terms, splitting
// camelCase and snake_case boundaries so "getUserById" and "get_user_by_id"
// both index as ["get", "user", "by", "id"].
func tokenize(text string) []string {
	var tokens []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, strings.ToLower(cur.String()))
			cur.Reset()
		}
	}

	runes := []rune(text)
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if i > 0 && unicode.IsUpper(r) && cur.Len() > 0 {
				prev := runes[i-1]
				if unicode.IsLower(prev) || unicode.IsDigit(prev) {
					flush()
				}
			}
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()

	return tokens
}

// termFrequencies counts tokens, used for both indexing and BM25 scoring.
func termFrequencies(tokens []string) map[string]int {
	freq := make(map[string]int, len(tokens))
	for _, t := range tokens {
		freq[t]++
	}
	return freq
}
