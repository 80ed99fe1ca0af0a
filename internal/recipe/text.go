package recipe

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeTagName trims the name, collapses inner whitespace and applies NFC
// so visually identical names compare equal.
func NormalizeTagName(name string) string {
	return norm.NFC.String(strings.Join(strings.Fields(name), " "))
}

// TagKey is the store-wide uniqueness key of a tag name: normalized and case
// folded, so "Dessert" and "dessert" are one tag.
func TagKey(name string) string {
	return Fold(NormalizeTagName(name))
}

// Fold returns the caseless, NFC form of s used for case-insensitive search.
func Fold(s string) string {
	return norm.NFC.String(cases.Fold().String(s))
}

// SearchKey is the folded text searched by substring queries: title and
// description joined by a newline so a match cannot span both fields.
func SearchKey(title, description string) string {
	return Fold(title) + "\n" + Fold(description)
}

// IsRemoteRef reports whether ref is an http or https URL.
func IsRemoteRef(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
