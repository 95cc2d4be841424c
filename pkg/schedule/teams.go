package schedule

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeTeam normalizes a team name for matching against the keys of
// a prediction payload (which may differ in case, accents or spacing
// from the schedule's team names).
func NormalizeTeam(name string) string {
	name = strings.ToLower(name)

	// Remove accents
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	name, _, _ = transform.String(t, name)

	// Strip punctuation, keep letters/digits/spaces
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			b.WriteRune(r)
		}
	}

	// Normalize spaces
	return strings.Join(strings.Fields(b.String()), " ")
}

// SameTeam reports whether two team names refer to the same team after
// normalization.
func SameTeam(a, b string) bool {
	return NormalizeTeam(a) == NormalizeTeam(b)
}
