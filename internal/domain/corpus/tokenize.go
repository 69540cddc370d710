package corpus

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {},
	"that": {}, "the": {}, "this": {}, "to": {}, "was": {}, "with": {},
}

func isJoiner(r rune) bool { return r == '.' || r == '-' || r == '_' }

func isWordRune(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }

// Tokenize lowercases NFC-normalized text and splits it into index terms.
// Dotted, dashed and underscored composites such as "mimikatz.exe" or
// "t1003.001" are kept whole and additionally emitted as their parts.
// Single-character terms and stopwords are dropped.
func Tokenize(text string) []string {
	text = strings.ToLower(norm.NFC.String(text))
	var out []string
	emit := func(tok string) {
		if len([]rune(tok)) < 2 {
			return
		}
		if _, stop := stopwords[tok]; stop {
			return
		}
		out = append(out, tok)
	}

	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !isWordRune(r) && !isJoiner(r)
	})
	for _, f := range fields {
		f = strings.TrimFunc(f, isJoiner)
		if f == "" {
			continue
		}
		parts := strings.FieldsFunc(f, isJoiner)
		if len(parts) > 1 {
			emit(f)
		}
		for _, p := range parts {
			emit(p)
		}
	}
	return out
}

// UniqueTerms tokenizes text and drops repeated terms, keeping first-seen order.
func UniqueTerms(text string) []string {
	toks := Tokenize(text)
	seen := make(map[string]struct{}, len(toks))
	out := toks[:0]
	for _, t := range toks {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
