package search

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Stop words and question words ignored by verbatim matching.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "do": true, "at": true, "this": true, "by": true, "from": true,
	"what": true, "which": true, "who": true, "how": true, "show": true,
	"me": true, "our": true, "my": true, "all": true, "any": true,
}

// tokenizeAndFilter splits text into lowercase words and drops stop words.
// Colons and commas separate words, so "stage: Negotiation" yields "stage"
// and "negotiation". Text is NFKC-normalized first so composed and
// decomposed or full-width forms of a word compare equal.
func tokenizeAndFilter(text string) []string {
	words := strings.FieldsFunc(norm.NFKC.String(text), func(r rune) bool {
		return unicode.IsSpace(r) || r == ':' || r == ',' || r == '/'
	})
	filtered := make([]string, 0, len(words))

	for _, word := range words {
		cleaned := strings.ToLower(strings.Trim(word, ".,!?;:'\"-()[]{}"))

		if cleaned != "" && !stopWords[cleaned] {
			filtered = append(filtered, cleaned)
		}
	}

	return filtered
}

// containsAllQueryWords reports whether every significant query word
// appears in the document.
func containsAllQueryWords(document, query string) bool {
	queryWords := tokenizeAndFilter(query)
	if len(queryWords) == 0 {
		return false
	}

	docWords := tokenizeAndFilter(document)
	docWordSet := make(map[string]bool, len(docWords))
	for _, word := range docWords {
		docWordSet[word] = true
	}

	for _, qWord := range queryWords {
		if !docWordSet[qWord] {
			return false
		}
	}

	return true
}
