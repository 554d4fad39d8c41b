// Package normalize produces stable comparison keys for category labels and
// free transaction text, so matching is robust against case, diacritics and
// punctuation variance.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	slashSpacing  = regexp.MustCompile(`\s*/\s*`)
	dashSpacing   = regexp.MustCompile(`\s*-\s*`)
)

// CategoryKey canonicalizes a category label for identity comparison.
// Diacritics are stripped, case and internal whitespace are collapsed, and
// spacing around "/" and "-" is normalized, so "Reizen/Transport" and
// "reizen / transport" resolve to the same key. Empty input yields "".
func CategoryKey(label string) string {
	s := stripMarks(label)
	s = strings.ToLower(strings.TrimSpace(s))
	s = slashSpacing.ReplaceAllString(s, " / ")
	s = dashSpacing.ReplaceAllString(s, " - ")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Text lowercases the input and strips everything except ASCII letters and
// digits (after diacritic folding), so "VISA-BETALING" matches the keyword
// "visa". Empty input yields "".
func Text(s string) string {
	folded := strings.ToLower(stripMarks(s))
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// stripMarks removes Unicode combining marks after NFKD decomposition.
func stripMarks(s string) string {
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
