package util

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeEmail folds compatibility characters, trims surrounding space and
// lower-cases the address so lookalike spellings map to one identity.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
}
