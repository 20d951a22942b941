package catalog

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize returns the canonical form of an ingredient or beverage name.
func Normalize(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
