// Package textutil provides text normalization shared by the relevance
// ranker and the search service: tokenization, whitespace-collapsing
// truncation, and snippet extraction around matched tokens.
package textutil

import "strings"

// stopwords are dropped during tokenization. Short function words carry no
// relevance signal for issue matching.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "in": {}, "is": {},
	"it": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"to": {}, "with": {},
}

func isTokenRune(r rune) bool {
	return r == '_' ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}

// Tokenize splits text into lowercase tokens on runs of
// non-alphanumeric/underscore characters, dropping tokens shorter than two
// characters and stopwords. Duplicates are preserved.
func Tokenize(text string) []string {
	var tokens []string
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		token := strings.ToLower(current.String())
		current.Reset()
		if len(token) < 2 {
			return
		}
		if _, ok := stopwords[token]; ok {
			return
		}
		tokens = append(tokens, token)
	}

	for _, r := range text {
		if isTokenRune(r) {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	return tokens
}

// TokenSet returns the distinct tokens of text.
func TokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, token := range Tokenize(text) {
		set[token] = struct{}{}
	}
	return set
}
