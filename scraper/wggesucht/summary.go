package wggesucht

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"rental-crawler/models"
	"rental-crawler/scraper"
	"rental-crawler/utils"
)

var (
	idFromURL    = regexp.MustCompile(`\.(\d{5,})\.html`)
	roomsInText  = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*-?\s*Zimmer`)
	dateInText   = regexp.MustCompile(`\b\d{2}\.\d{2}\.\d{2,4}\b`)
	sizeInText   = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*m²`)
	detailAnchor = "h3 a, a.detailansicht, a[href$='.html']"
)

// ParseSearchPage extracts offer stubs from a results page. Request posts
// ("Gesuche") share the offer card class and are dropped. It returns a
// StructuralChangeError when no card selector matches and the page does not
// state that the search is empty.
func ParseSearchPage(doc *goquery.Document, pageURL string) ([]models.ListingStub, error) {
	var cards *goquery.Selection
	for _, sel := range cardSelectors {
		cards = doc.Find(sel)
		if cards.Length() > 0 {
			break
		}
	}

	if cards.Length() == 0 {
		if IsEmptyResults(doc) {
			return nil, nil
		}
		return nil, &scraper.StructuralChangeError{URL: pageURL, Selectors: cardSelectors}
	}

	base, _ := url.Parse(pageURL)
	seen := make(map[string]bool)
	stubs := make([]models.ListingStub, 0, cards.Length())

	cards.Each(func(_ int, card *goquery.Selection) {
		if isRequestCard(card) {
			return
		}
		stub, ok := parseCard(card, base)
		if !ok || seen[stub.ExternalID] {
			return
		}
		seen[stub.ExternalID] = true
		stubs = append(stubs, stub)
	})
	return stubs, nil
}

// IsEmptyResults reports whether the page explicitly says nothing matched.
func IsEmptyResults(doc *goquery.Document) bool {
	for _, sel := range emptyResultSelectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	text := strings.ToLower(scraper.CleanText(doc.Find("body").Text()))
	for _, phrase := range emptyResultPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

func isRequestCard(card *goquery.Selection) bool {
	if strings.Contains(strings.ToLower(card.AttrOr("class", "")), "request") {
		return true
	}
	if card.Find(requestLabelSelector).Length() > 0 {
		return true
	}
	href := strings.ToLower(card.Find(detailAnchor).First().AttrOr("href", ""))
	return strings.Contains(href, "gesuch")
}

func parseCard(card *goquery.Selection, base *url.URL) (models.ListingStub, bool) {
	anchor := card.Find(detailAnchor).First()
	href, ok := anchor.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return models.ListingStub{}, false
	}
	link := resolve(base, href)

	id := strings.TrimSpace(card.AttrOr("data-id", ""))
	if id == "" {
		if m := idFromURL.FindStringSubmatch(link); m != nil {
			id = m[1]
		}
	}
	if id == "" {
		return models.ListingStub{}, false
	}

	title := scraper.CleanText(anchor.AttrOr("title", ""))
	if title == "" {
		title = scraper.CleanText(anchor.Text())
	}

	stub := models.ListingStub{
		Platform:   models.PlatformWGGesucht,
		ExternalID: id,
		URL:        link,
		Title:      title,
	}

	card.Find("b, strong, span, div.col-xs-3").EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		t := scraper.CleanText(cell.Text())
		if strings.Contains(t, "€") && cell.Children().Length() == 0 {
			if v, ok := utils.ParseGermanNumber(t, utils.Money); ok {
				stub.RoughPrice = &v
				return false
			}
		}
		return true
	})

	text := scraper.CleanText(card.Text())
	if m := sizeInText.FindStringSubmatch(text); m != nil {
		if v, ok := utils.ParseGermanNumber(m[1], utils.Decimal); ok {
			stub.RoughSize = &v
		}
	}
	if m := roomsInText.FindStringSubmatch(text); m != nil {
		if v, ok := utils.ParseGermanNumber(m[1], utils.Decimal); ok && v > 0 {
			stub.RoughRooms = &v
		}
	}
	if d := dateInText.FindString(text); d != "" {
		stub.AvailableHint = d
	}
	stub.DistrictHint = districtFromSubtitle(card)
	return stub, true
}

// districtFromSubtitle reads "3er WG | Berlin Kreuzberg | Wrangelstraße 12".
func districtFromSubtitle(card *goquery.Selection) string {
	var out string
	card.Find("span, div.col-xs-11").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		parts := strings.Split(scraper.CleanText(s.Text()), "|")
		if len(parts) < 2 {
			return true
		}
		loc := strings.TrimSpace(parts[1])
		if i := strings.Index(loc, " "); i > 0 {
			loc = loc[i+1:]
		}
		out = loc
		return false
	})
	return out
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil || base == nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
