// Package tokenizer turns post text into index terms: lower-cased
// alphanumeric runs, stop-words dropped, suffixes stripped.
package tokenizer

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// suffixRules are tried in order; the first match whose result keeps at
// least minLen bytes wins.
var suffixRules = []struct {
	suffix      string
	replacement string
	minLen      int
}{
	{"ational", "ate", 2},
	{"tional", "tion", 2},
	{"encies", "ence", 2},
	{"ances", "ance", 2},
	{"ments", "ment", 2},
	{"izing", "ize", 2},
	{"ating", "ate", 2},
	{"iness", "y", 2},
	{"ously", "ous", 2},
	{"ively", "ive", 2},
	{"eness", "ene", 2},
	{"tion", "t", 3},
	{"sion", "s", 3},
	{"ying", "y", 2},
	{"ling", "l", 3},
	{"ies", "y", 2},
	{"ing", "", 3},
	{"ers", "er", 2},
	{"est", "", 3},
	{"ful", "", 3},
	{"ous", "", 3},
	{"ess", "", 3},
	{"ble", "", 3},
	{"ed", "", 3},
	{"er", "", 3},
	{"ly", "", 3},
	{"es", "", 3},
	{"ss", "ss", 2},
	{"s", "", 3},
}

// Token is a normalised term and its position among kept terms.
type Token struct {
	Term     string
	Position int
}

// Tokenize splits text into stemmed terms. Single characters and
// stop-words are dropped.
func Tokenize(text string) []Token {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]Token, 0, len(words))
	for _, word := range words {
		term := Normalize(word)
		if term == "" {
			continue
		}
		tokens = append(tokens, Token{Term: term, Position: len(tokens)})
	}
	return tokens
}

// Normalize maps a single lower-case word to its index term, or "" when
// the word is not indexed.
func Normalize(word string) string {
	if len([]rune(word)) < 2 {
		return ""
	}
	if _, stop := stopWords[word]; stop {
		return ""
	}
	return stem(word)
}

func stem(word string) string {
	for _, rule := range suffixRules {
		if !strings.HasSuffix(word, rule.suffix) {
			continue
		}
		if out := word[:len(word)-len(rule.suffix)] + rule.replacement; len(out) >= rule.minLen {
			return out
		}
	}
	return word
}
