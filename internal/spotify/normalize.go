package spotify

import (
	"regexp"
	"strings"
)

// maxTermLength keeps absurdly long scrobble titles from blowing up the
// search query.
const maxTermLength = 75

// featuringRe matches a featuring-artist suffix and everything after it.
var featuringRe = regexp.MustCompile(`(?i)[(\[]?\b(feat\.|ft\.|featuring)\s.*$`)

// qualifiers are parenthetical release annotations that never appear in the
// catalog's canonical track names.
var qualifiers = []string{
	"(original mix)",
	"(album version)",
	"(single version)",
	"(radio edit)",
	"(remastered)",
	"(remaster)",
	"(mono)",
	"(stereo)",
	"(explicit)",
	"(deluxe edition)",
	"(bonus track)",
}

var punctReplacer = strings.NewReplacer(
	"&", "",
	"+", "",
	"(", "",
	")", "",
	".", "",
	"'", "",
)

// Normalize reduces an artist or track name to the form used for catalog
// search queries and match comparison.
func Normalize(s string) string {
	if len(s) > maxTermLength {
		s = s[:maxTermLength]
	}
	s = strings.ToLower(s)
	s = featuringRe.ReplaceAllString(s, "")
	for _, q := range qualifiers {
		s = strings.ReplaceAll(s, q, "")
	}
	s = punctReplacer.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// normalizeArtistCredit prepares an artist name for equality matching,
// additionally collapsing " and " so "Simon and Garfunkel" matches
// "Simon & Garfunkel" either way round.
func normalizeArtistCredit(s string) string {
	s = Normalize(s)
	return strings.Join(strings.Fields(strings.ReplaceAll(s, " and ", " ")), " ")
}
