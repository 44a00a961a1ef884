package wggesucht

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"rental-crawler/models"
	"rental-crawler/utils"
)

// BaseURL is the marketplace origin.
const BaseURL = "https://www.wg-gesucht.de"

// rentTypeMonthly selects regular (non-temporary) offers.
const rentTypeMonthly = 1

type category struct {
	slug string
	code int
}

var categories = map[models.Category]category{
	models.CategorySharedRoom: {slug: "wg-zimmer", code: 0},
	models.CategoryStudio:     {slug: "1-zimmer-wohnungen", code: 1},
	models.CategoryApartment:  {slug: "wohnungen", code: 2},
	models.CategoryHouse:      {slug: "haeuser", code: 3},
}

// City is a marketplace city with its path name and numeric id.
type City struct {
	Name      string
	PathName  string
	ID        int
	Districts map[string]int
}

var cities = map[string]City{
	"berlin": {Name: "Berlin", PathName: "Berlin", ID: 8, Districts: map[string]int{
		"Charlottenburg":  85,
		"Friedrichshain":  87,
		"Kreuzberg":       91,
		"Lichtenberg":     93,
		"Mitte":           96,
		"Moabit":          97,
		"Neukölln":        98,
		"Pankow":          100,
		"Prenzlauer Berg": 101,
		"Schöneberg":      103,
		"Steglitz":        105,
		"Tempelhof":       106,
		"Wedding":         109,
		"Wilmersdorf":     126,
	}},
	"hamburg":   {Name: "Hamburg", PathName: "Hamburg", ID: 55},
	"muenchen":  {Name: "München", PathName: "Muenchen", ID: 90},
	"koeln":     {Name: "Köln", PathName: "Koeln", ID: 73},
	"frankfurt": {Name: "Frankfurt am Main", PathName: "Frankfurt-am-Main", ID: 41},
	"leipzig":   {Name: "Leipzig", PathName: "Leipzig", ID: 77},
	"stuttgart": {Name: "Stuttgart", PathName: "Stuttgart", ID: 124},
	"dresden":   {Name: "Dresden", PathName: "Dresden", ID: 27},
}

// DistrictID resolves a district name the way listings spell it, ignoring
// case, umlaut transliteration and punctuation.
func (c City) DistrictID(name string) (int, bool) {
	key := utils.FoldDistrict(name)
	if key == "" {
		return 0, false
	}
	for d, id := range c.Districts {
		if utils.FoldDistrict(d) == key {
			return id, true
		}
	}
	return 0, false
}

// LookupCity resolves a city by display name or path name, case-insensitively.
func LookupCity(name string) (City, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if c, ok := cities[key]; ok {
		return c, true
	}
	for _, c := range cities {
		if strings.EqualFold(c.Name, key) || strings.EqualFold(c.PathName, key) {
			return c, true
		}
	}
	return City{}, false
}

// BuildSearchURL turns a filter into a search URL. Multi-category searches
// join slugs with "-und-" and codes with "+", ordered by code so the same
// filter always yields the same URL.
func BuildSearchURL(f models.SearchFilter) (string, error) {
	city, ok := LookupCity(f.City)
	if !ok {
		return "", fmt.Errorf("wggesucht: unknown city %q", f.City)
	}
	if len(f.Categories) == 0 {
		return "", fmt.Errorf("wggesucht: search %q has no categories", f.Name)
	}

	seen := make(map[int]bool)
	var selected []category
	for _, c := range f.Categories {
		cat, ok := categories[c]
		if !ok {
			return "", fmt.Errorf("wggesucht: unknown category %q", c)
		}
		if seen[cat.code] {
			continue
		}
		seen[cat.code] = true
		selected = append(selected, cat)
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].code < selected[j].code })

	slugs := make([]string, len(selected))
	codes := make([]string, len(selected))
	for i, c := range selected {
		slugs[i] = c.slug
		codes[i] = strconv.Itoa(c.code)
	}

	page := f.Page
	if page < 0 {
		page = 0
	}
	path := fmt.Sprintf("/%s-in-%s.%d.%s.%d.%d.html",
		strings.Join(slugs, "-und-"), city.PathName, city.ID,
		strings.Join(codes, "+"), rentTypeMonthly, page)

	q := url.Values{}
	q.Set("offer_filter", "1")
	q.Set("city_id", strconv.Itoa(city.ID))
	q.Set("noDeact", "1")
	for _, c := range codes {
		q.Add("categories[]", c)
	}
	setBound(q, "rMin", f.MinRent)
	setBound(q, "rMax", f.MaxRent)
	setBound(q, "sMin", f.MinSize)
	if seen[categories[models.CategoryApartment].code] || seen[categories[models.CategoryHouse].code] {
		setBound(q, "rmMin", f.MinRooms)
		setBound(q, "rmMax", f.MaxRooms)
	}
	for _, d := range f.Districts {
		if id, ok := city.DistrictID(d); ok {
			q.Add("ot[]", strconv.Itoa(id))
		}
	}

	return BaseURL + path + "?" + q.Encode(), nil
}

func setBound(q url.Values, key string, v *float64) {
	if v == nil {
		return
	}
	q.Set(key, strconv.FormatFloat(*v, 'f', -1, 64))
}

var pageSegment = regexp.MustCompile(`^(.*\.)(\d+)(\.html)$`)

// PageURL rewrites the 0-based page segment of a search URL, leaving the
// rest of the URL untouched.
func PageURL(searchURL string, page int) (string, error) {
	u, err := url.Parse(searchURL)
	if err != nil {
		return "", fmt.Errorf("wggesucht: parse search url: %w", err)
	}
	m := pageSegment.FindStringSubmatch(u.Path)
	if m == nil {
		return "", fmt.Errorf("wggesucht: %q has no page segment", searchURL)
	}
	u.Path = m[1] + strconv.Itoa(page) + m[3]
	return u.String(), nil
}
