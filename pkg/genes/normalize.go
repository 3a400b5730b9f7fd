// Package genes provides gene-symbol canonicalization helpers.
package genes

import (
	"strings"
	"unicode"
)

// NormalizeSymbol canonicalizes a raw gene-symbol string into the key used for
// comparison and deduplication: whitespace is stripped and letters upper-cased.
// "brca1", " BRCA1 " and "Brca 1" all normalize to "BRCA1".
func NormalizeSymbol(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// IsBlank reports whether a raw symbol contains no usable content.
func IsBlank(raw string) bool {
	return strings.TrimSpace(raw) == ""
}
