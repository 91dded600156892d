package spatialindexer

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// stopWords is the classic English stop set used by full-text indexers.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "if": {}, "in": {}, "into": {}, "is": {},
	"it": {}, "no": {}, "not": {}, "of": {}, "on": {}, "or": {}, "such": {},
	"that": {}, "the": {}, "their": {}, "then": {}, "there": {}, "these": {},
	"they": {}, "this": {}, "to": {}, "was": {}, "will": {}, "with": {},
}

// foldName case-folds a name. cases.Caser carries state, so each call gets
// its own.
func foldName(s string) string {
	return cases.Fold().String(s)
}

// analyze splits a name into searchable terms: case-folded, split on
// anything that is not a letter, digit or combining mark, stop words
// removed, first occurrence order kept.
func analyze(name string) []string {
	words := strings.FieldsFunc(foldName(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsMark(r)
	})

	var terms []string
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, stop := stopWords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
	}
	return terms
}
