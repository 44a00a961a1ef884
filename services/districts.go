package services

import (
	"github.com/antzucaro/matchr"

	"rental-crawler/utils"
)

// fuzzyThreshold is the minimum Jaro-Winkler similarity for a fuzzy match.
const fuzzyThreshold = 0.9

// BerlinDistricts is the canonical district list used when no other list is
// configured.
var BerlinDistricts = []string{
	"Charlottenburg", "Friedrichshain", "Kreuzberg", "Lichtenberg", "Mitte", "Moabit",
	"Neukölln", "Pankow", "Prenzlauer Berg", "Schöneberg", "Steglitz", "Tempelhof",
	"Wedding", "Wilmersdorf", "Treptow", "Köpenick", "Spandau", "Reinickendorf",
	"Marzahn", "Hellersdorf", "Zehlendorf", "Weißensee", "Alt-Treptow", "Tiergarten",
}

var berlinAliases = map[string]string{
	"xberg":                      "Kreuzberg",
	"x berg":                     "Kreuzberg",
	"kreuzkoelln":                "Neukölln",
	"nk":                         "Neukölln",
	"fhain":                      "Friedrichshain",
	"f hain":                     "Friedrichshain",
	"pberg":                      "Prenzlauer Berg",
	"p berg":                     "Prenzlauer Berg",
	"prenzlberg":                 "Prenzlauer Berg",
	"friedrichshain kreuzberg":   "Friedrichshain",
	"charlottenburg wilmersdorf": "Charlottenburg",
	"tempelhof schoeneberg":      "Schöneberg",
	"steglitz zehlendorf":        "Steglitz",
	"treptow koepenick":          "Treptow",
	"marzahn hellersdorf":        "Marzahn",
	"gesundbrunnen":              "Wedding",
}

// DistrictIndex maps district spellings (umlaut transliterations, missing
// diacritics, city prefixes, nicknames, typos) to one canonical name.
type DistrictIndex struct {
	canonical []string
	folded    map[string]string
	aliases   map[string]string
}

// NewDistrictIndex builds an index over canonical names plus an alias table
// keyed by any spelling of the alias.
func NewDistrictIndex(canonical []string, aliases map[string]string) *DistrictIndex {
	idx := &DistrictIndex{
		canonical: canonical,
		folded:    make(map[string]string, len(canonical)),
		aliases:   make(map[string]string, len(aliases)),
	}
	for _, c := range canonical {
		idx.folded[utils.FoldDistrict(c)] = c
	}
	for alias, c := range aliases {
		idx.aliases[utils.FoldDistrict(alias)] = c
	}
	return idx
}

// DefaultDistricts returns the Berlin index.
func DefaultDistricts() *DistrictIndex {
	return NewDistrictIndex(BerlinDistricts, berlinAliases)
}

// Canonical resolves name. The second result is false when nothing matched
// closely enough; the caller keeps the cleaned original then.
func (d *DistrictIndex) Canonical(name string) (string, bool) {
	key := utils.FoldDistrict(name)
	if key == "" {
		return "", false
	}
	if c, ok := d.folded[key]; ok {
		return c, true
	}
	if c, ok := d.aliases[key]; ok {
		return c, true
	}

	var (
		best  string
		score float64
	)
	for _, c := range d.canonical {
		if s := matchr.JaroWinkler(key, utils.FoldDistrict(c), false); s > score {
			score, best = s, c
		}
	}
	if score >= fuzzyThreshold {
		return best, true
	}
	return "", false
}
