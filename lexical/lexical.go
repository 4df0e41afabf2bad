// Package lexical provides the tokenizer and token-overlap measures shared by
// the rule-based reasoning path and literal policy scoring.
package lexical

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// minTokenLen drops short fragments such as "to", "of" and two-digit numbers
const minTokenLen = 3

var stopWords = map[string]struct{}{
	"and": {}, "any": {}, "are": {}, "but": {}, "can": {}, "for": {}, "from": {},
	"had": {}, "has": {}, "have": {}, "her": {}, "his": {}, "into": {}, "its": {},
	"may": {}, "not": {}, "our": {}, "per": {}, "shall": {}, "should": {}, "than": {},
	"that": {}, "the": {}, "their": {}, "them": {}, "then": {}, "there": {}, "these": {},
	"they": {}, "this": {}, "was": {}, "were": {}, "which": {}, "who": {}, "will": {},
	"with": {}, "within": {}, "would": {}, "you": {}, "your": {}, "all": {}, "each": {},
	"what": {}, "when": {}, "where": {}, "how": {}, "does": {}, "did": {},
}

// Tokens lowercases text, splits it on anything that is not a letter or a
// digit and keeps the distinct tokens of at least three runes that are not
// stop words.
func Tokens(text string) map[string]struct{} {
	out := make(map[string]struct{})
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, f := range fields {
		if utf8.RuneCountInString(f) < minTokenLen {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}

// Shared returns the sorted tokens present in both sets
func Shared(a, b map[string]struct{}) []string {
	if len(b) < len(a) {
		a, b = b, a
	}
	shared := make([]string, 0)
	for t := range a {
		if _, ok := b[t]; ok {
			shared = append(shared, t)
		}
	}
	sort.Strings(shared)
	return shared
}

// Coefficient is the overlap coefficient |a∩b| / min(|a|,|b|), in [0,1].
// It is 0 when either set is empty.
func Coefficient(a, b map[string]struct{}) float64 {
	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	if smaller == 0 {
		return 0
	}
	return float64(len(Shared(a, b))) / float64(smaller)
}
