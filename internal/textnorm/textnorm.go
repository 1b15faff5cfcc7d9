// Package textnorm holds the single text normalization scheme shared by
// literal search and privacy rules: Unicode NFKC, plus full case folding
// for case-insensitive comparisons.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize returns s in NFKC form.
func Normalize(s string) string {
	return norm.NFKC.String(s)
}

// Fold returns s in NFKC form with Unicode case folding applied.
// A new Caser is built per call because Casers are not safe for concurrent use.
func Fold(s string) string {
	return cases.Fold().String(norm.NFKC.String(s))
}

// Prepare normalizes s for a comparison with the given case sensitivity.
func Prepare(s string, caseSensitive bool) string {
	if caseSensitive {
		return Normalize(s)
	}
	return Fold(s)
}

// Tokens splits s into runs of letters and digits.
func Tokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// IsASCII reports whether s contains only ASCII bytes.
func IsASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
