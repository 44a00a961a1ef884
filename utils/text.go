package utils

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	umlauts    = strings.NewReplacer("ä", "ae", "ö", "oe", "ü", "ue", "Ä", "ae", "Ö", "oe", "Ü", "ue", "ß", "ss")
	nonAlnum   = regexp.MustCompile(`[^a-z0-9]+`)
	cityPrefix = regexp.MustCompile(`^(?:berlin|hamburg|muenchen|koeln|frankfurt|leipzig|stuttgart|dresden)\s+`)
)

// FoldDistrict lowercases, transliterates umlauts, strips remaining
// diacritics and punctuation and drops a leading city name, so
// "Berlin-Neukölln", "Neukoelln" and "neukölln" fold to the same key.
func FoldDistrict(s string) string {
	s = umlauts.Replace(strings.TrimSpace(s))
	stripped, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err == nil {
		s = stripped
	}
	s = strings.ToLower(s)
	s = strings.TrimSpace(nonAlnum.ReplaceAllString(s, " "))
	return cityPrefix.ReplaceAllString(s, "")
}
