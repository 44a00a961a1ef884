package wggesucht

import (
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"rental-crawler/models"
	"rental-crawler/scraper"
)

// Extracted field names, as recorded in RawListing.Strategies/Unresolved.
const (
	FieldTitle       = "title"
	FieldPrice       = "price"
	FieldWarmRent    = "warm_rent"
	FieldSize        = "size"
	FieldRooms       = "rooms"
	FieldDistrict    = "district"
	FieldAddress     = "address"
	FieldDescription = "description"
	FieldFrom        = "available_from"
	FieldUntil       = "available_until"
	FieldFloor       = "floor"
)

// coreFields must resolve for a record to be considered complete.
var coreFields = []string{FieldTitle, FieldPrice, FieldSize, FieldDistrict}

var (
	sizeValue       = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*m²`)
	roomsValue      = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*-?\s*Zimmer`)
	moneyValue      = regexp.MustCompile(`\d[\d.,]*\s*€`)
	dateValue       = regexp.MustCompile(`\d{2}\.\d{2}\.\d{2,4}`)
	postcodeLine    = regexp.MustCompile(`^(.*?)\s*(\d{5})\s+(\S+)\s*(.*)$`)
	floorValue      = regexp.MustCompile(`(?i)(\d+)\.?\s*(?:OG|Obergeschoss|Etage|Stock)|Erdgeschoss|\bEG\b|Dachgeschoss|\bDG\b|Souterrain|\bUG\b|Hochparterre`)
	latAttr         = regexp.MustCompile(`(?i)["']?lat(?:itude)?["']?\s*[:=]\s*["']?(-?\d{1,3}\.\d+)`)
	lngAttr         = regexp.MustCompile(`(?i)["']?(?:lng|lon|longitude)["']?\s*[:=]\s*["']?(-?\d{1,3}\.\d+)`)
	idInDetail      = regexp.MustCompile(`\.(\d{5,})\.html`)
	titleSuffix     = regexp.MustCompile(`\s*[-|]\s*WG-Gesucht(?:\.de)?\s*$`)
	districtInTitle = regexp.MustCompile(`in\s+[A-ZÄÖÜ][\wäöüß]+[- ]([A-ZÄÖÜ][\wäöüß-]+)`)
)

var amenityKeywords = map[string]string{
	"balkon":        "balcony",
	"terrasse":      "terrace",
	"garten":        "garden",
	"aufzug":        "elevator",
	"waschmaschine": "washing_machine",
	"spülmaschine":  "dishwasher",
	"keller":        "cellar",
	"haustiere":     "pets_allowed",
	"möbliert":      "furnished",
	"wlan":          "internet",
	"internet":      "internet",
	"parkplatz":     "parking",
	"einbauküche":   "fitted_kitchen",
	"badewanne":     "bathtub",
	"dusche":        "shower",
	"barrierefrei":  "accessible",
	"fahrradkeller": "bike_storage",
}

// DetectGone reports whether a detail page announces that the listing was
// removed or deactivated, with a short reason.
func DetectGone(doc *goquery.Document) (string, bool) {
	for _, sel := range goneSelectors {
		if scraper.Own(doc.Find(sel)).Length() > 0 {
			return "marker " + sel, true
		}
	}
	var reason string
	scraper.Own(doc.Find(goneTextSelectors)).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.ToLower(scraper.CleanText(s.Text()))
		for _, p := range gonePhrases {
			if strings.Contains(text, p) {
				reason = p
				return false
			}
		}
		return true
	})
	return reason, reason != ""
}

// ExtractDetail turns a detail page into a RawListing by running one
// strategy cascade per field. Foreign-listing containers are removed before
// any strategy runs. Output depends only on the document, so extraction is
// idempotent. A *scraper.PartialExtractionWarning is returned alongside the
// listing when core fields stay unresolved.
func ExtractDetail(doc *goquery.Document, pageURL string) (models.RawListing, error) {
	clean := scraper.WithoutForeign(doc)

	raw := models.RawListing{
		Platform:   models.PlatformWGGesucht,
		URL:        pageURL,
		Strategies: make(map[string]string),
	}
	if m := idInDetail.FindStringSubmatch(pageURL); m != nil {
		raw.ExternalID = m[1]
	}

	resolve := func(field string, strategies []scraper.Strategy) string {
		v, name, ok := scraper.Cascade(clean, strategies)
		if !ok {
			raw.Unresolved = append(raw.Unresolved, field)
			return ""
		}
		raw.Strategies[field] = name
		return v
	}

	raw.Title = resolve(FieldTitle, titleStrategies)
	raw.RawPrice = resolve(FieldPrice, priceStrategies)
	raw.RawWarmRent = resolve(FieldWarmRent, warmRentStrategies)
	raw.RawSize = resolve(FieldSize, sizeStrategies)
	raw.RawRooms = resolve(FieldRooms, roomStrategies(raw.RawSize))
	raw.District = resolve(FieldDistrict, districtStrategies)
	raw.Address = resolve(FieldAddress, addressStrategies)
	raw.Description = resolve(FieldDescription, descriptionStrategies)
	raw.RawFrom = resolve(FieldFrom, availabilityStrategies("frei ab"))
	raw.RawUntil = resolve(FieldUntil, availabilityStrategies("frei bis"))
	raw.RawFloor = resolve(FieldFloor, floorStrategies)
	raw.RawExtras = extraCosts(clean)
	raw.RawLat, raw.RawLng = coordinates(clean)
	raw.Amenities = amenities(clean)
	raw.AutoApply = clean.Find("a[href*='nachricht-senden'], .send_message_button, #contact_form").Length() > 0

	images := ExtractImages(doc, pageURL)
	raw.Images = images.URLs
	if len(raw.Images) == 0 {
		raw.RecrawlReason = "no_images"
	}

	if c := ParseContact(doc); c.Published {
		raw.ContactName = c.Name
		raw.ContactPhone = c.PreferredPhone()
		raw.ContactEmail = c.Email
	}

	sort.Strings(raw.Unresolved)
	if missing := missingCore(raw); len(missing) > 0 {
		raw.RecrawlReason = "partial_extraction"
		return raw, &scraper.PartialExtractionWarning{URL: pageURL, Fields: missing}
	}
	return raw, nil
}

func missingCore(raw models.RawListing) []string {
	var missing []string
	for _, f := range coreFields {
		unresolved := false
		for _, u := range raw.Unresolved {
			if u == f {
				unresolved = true
				break
			}
		}
		// the warm total stands in for the cold rent
		if f == FieldPrice && raw.RawWarmRent != "" {
			unresolved = false
		}
		if unresolved {
			missing = append(missing, f)
		}
	}
	return missing
}

var titleStrategies = []scraper.Strategy{
	{Name: "headline_id", Extract: func(d *goquery.Document) string {
		return scraper.FirstText(d, "h1#sliderTopTitle, h1.headline-detailed-view-title")
	}},
	{Name: "main_h1", Extract: func(d *goquery.Document) string {
		return scraper.FirstText(d, mainColumnSelector+" h1")
	}},
	{Name: "og_title", Extract: func(d *goquery.Document) string {
		return d.Find("meta[property='og:title']").AttrOr("content", "")
	}},
	{Name: "document_title", Extract: func(d *goquery.Document) string {
		return titleSuffix.ReplaceAllString(scraper.CleanText(d.Find("title").First().Text()), "")
	}},
}

var priceStrategies = []scraper.Strategy{
	{Name: "cost_table", Extract: func(d *goquery.Document) string { return labeledValue(d, "miete", "kaltmiete") }},
	{Name: "key_fact", Extract: func(d *goquery.Document) string { return keyFact(d, "kaltmiete") }},
	{Name: "text_regex", Extract: func(d *goquery.Document) string {
		return afterLabel(mainText(d), `Kaltmiete`, moneyValue)
	}},
	{Name: "headline_facts", Extract: func(d *goquery.Document) string {
		return moneyValue.FindString(scraper.FirstText(d, "h2.headline-key-facts, .headline-key-facts"))
	}},
}

var warmRentStrategies = []scraper.Strategy{
	{Name: "key_fact", Extract: func(d *goquery.Document) string { return keyFact(d, "gesamtmiete", "warmmiete") }},
	{Name: "cost_table", Extract: func(d *goquery.Document) string { return labeledValue(d, "gesamtmiete", "warmmiete") }},
	{Name: "text_regex", Extract: func(d *goquery.Document) string {
		return afterLabel(mainText(d), `(?:Gesamtmiete|Warmmiete)`, moneyValue)
	}},
}

var sizeStrategies = []scraper.Strategy{
	{Name: "key_fact", Extract: func(d *goquery.Document) string {
		return sizeValue.FindString(keyFact(d, "größe", "wohnfläche", "zimmergröße"))
	}},
	{Name: "headline_facts", Extract: func(d *goquery.Document) string {
		return sizeValue.FindString(scraper.FirstText(d, "h2.headline-key-facts, .headline-key-facts"))
	}},
	{Name: "cost_table", Extract: func(d *goquery.Document) string {
		return sizeValue.FindString(labeledValue(d, "größe", "wohnfläche"))
	}},
	{Name: "title_regex", Extract: func(d *goquery.Document) string {
		return sizeValue.FindString(d.Find("title").First().Text())
	}},
}

// roomStrategies is anchored to the already extracted size: "<n> Zimmer | <size> m²".
func roomStrategies(rawSize string) []scraper.Strategy {
	return []scraper.Strategy{
		{Name: "size_anchored", Extract: func(d *goquery.Document) string {
			num := sizeValue.FindStringSubmatch(rawSize)
			if num == nil {
				return ""
			}
			size := regexp.QuoteMeta(num[1])
			re := regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*-?\s*Zimmer\s*\|\s*` + size + `\s*m²|` +
				size + `\s*m²\s*\|\s*(\d+(?:[.,]\d+)?)\s*-?\s*Zimmer`)
			m := re.FindStringSubmatch(mainText(d))
			if m == nil {
				return ""
			}
			if m[1] != "" {
				return m[1] + " Zimmer"
			}
			return m[2] + " Zimmer"
		}},
		{Name: "bold_keyword", Extract: func(d *goquery.Document) string {
			var out string
			scraper.Own(d.Find("b, strong")).EachWithBreak(func(_ int, s *goquery.Selection) bool {
				if m := roomsValue.FindString(scraper.CleanText(s.Text())); m != "" {
					out = m
					return false
				}
				return true
			})
			return out
		}},
		{Name: "title_regex", Extract: func(d *goquery.Document) string {
			return roomsValue.FindString(d.Find("title").First().Text())
		}},
	}
}

var districtStrategies = []scraper.Strategy{
	{Name: "address_block", Extract: func(d *goquery.Document) string {
		_, district := splitAddress(addressText(d))
		return district
	}},
	{Name: "data_attr", Extract: func(d *goquery.Document) string {
		return d.Find("[data-district]").First().AttrOr("data-district", "")
	}},
	{Name: "title_regex", Extract: func(d *goquery.Document) string {
		m := districtInTitle.FindStringSubmatch(d.Find("title").First().Text())
		if m == nil {
			return ""
		}
		return m[1]
	}},
}

var addressStrategies = []scraper.Strategy{
	{Name: "address_block", Extract: func(d *goquery.Document) string {
		street, _ := splitAddress(addressText(d))
		return street
	}},
}

var descriptionStrategies = []scraper.Strategy{
	{Name: "description_text", Extract: func(d *goquery.Document) string {
		return scraper.FirstText(d, "#ad_description_text, .freitext")
	}},
	{Name: "meta_description", Extract: func(d *goquery.Document) string {
		return d.Find("meta[name='description']").AttrOr("content", "")
	}},
}

func availabilityStrategies(label string) []scraper.Strategy {
	return []scraper.Strategy{
		{Name: "key_fact", Extract: func(d *goquery.Document) string {
			return dateValue.FindString(keyFact(d, label))
		}},
		{Name: "text_regex", Extract: func(d *goquery.Document) string {
			return afterLabel(mainText(d), regexp.QuoteMeta(label), dateValue)
		}},
	}
}

var floorStrategies = []scraper.Strategy{
	{Name: "cost_table", Extract: func(d *goquery.Document) string {
		return labeledValue(d, "etage", "stockwerk")
	}},
	{Name: "text_regex", Extract: func(d *goquery.Document) string {
		return floorValue.FindString(mainText(d))
	}},
}

// labeledValue finds a "Label: value" pair in tables or label/value rows.
func labeledValue(d *goquery.Document, labels ...string) string {
	var out string
	d.Find("tr, .row, li").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		cells := row.Children()
		if cells.Length() < 2 {
			return true
		}
		label := strings.ToLower(strings.TrimSuffix(scraper.CleanText(cells.First().Text()), ":"))
		for _, l := range labels {
			if label == l {
				out = scraper.CleanText(cells.Eq(1).Text())
				return false
			}
		}
		return true
	})
	return out
}

// keyFact reads the ".key_fact_value" next to a matching ".key_fact_label".
func keyFact(d *goquery.Document, labels ...string) string {
	var out string
	d.Find(".key_fact_detail, .section_panel_detail").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		label := strings.ToLower(scraper.CleanText(s.Find(".key_fact_label").Text()))
		text := strings.ToLower(scraper.CleanText(s.Text()))
		for _, l := range labels {
			switch {
			case label != "" && strings.HasPrefix(label, l):
				out = scraper.CleanText(s.Find(".key_fact_value").Text())
				return false
			case label == "" && strings.HasPrefix(text, l):
				out = scraper.CleanText(s.Text())
				return false
			}
		}
		return true
	})
	return out
}

func afterLabel(text, label string, value *regexp.Regexp) string {
	re := regexp.MustCompile(`(?i)` + label + `\s*:?\s*(` + value.String() + `)`)
	if m := re.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

func mainText(d *goquery.Document) string {
	sel := d.Find(mainColumnSelector).First()
	if sel.Length() == 0 {
		sel = d.Find("body")
	}
	return scraper.CleanText(sel.Text())
}

func addressText(d *goquery.Document) string {
	sel := d.Find("#adress, .address, a[href='#mapContainer']").First()
	if sel.Length() == 0 {
		return ""
	}
	// <br> separates street and "PLZ City District"; keep a gap between them
	var parts []string
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		parts = append(parts, c.Text())
	})
	return scraper.CleanText(strings.Join(parts, " "))
}

// splitAddress parses "Wrangelstraße 12 10997 Berlin Kreuzberg".
func splitAddress(s string) (street, district string) {
	m := postcodeLine.FindStringSubmatch(s)
	if m == nil {
		return "", ""
	}
	street = strings.TrimSpace(m[1])
	if street != "" {
		street += ", "
	}
	street += m[2] + " " + m[3]
	return strings.TrimSpace(strings.Trim(street, ", ")), strings.TrimSpace(m[4])
}

func extraCosts(d *goquery.Document) string {
	var parts []string
	for _, label := range []string{"nebenkosten", "sonstige kosten"} {
		if v := moneyValue.FindString(labeledValue(d, label)); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ";")
}

func coordinates(d *goquery.Document) (string, string) {
	if sel := d.Find("[data-lat][data-lng]").First(); sel.Length() > 0 {
		return sel.AttrOr("data-lat", ""), sel.AttrOr("data-lng", "")
	}
	var lat, lng string
	d.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if !strings.Contains(strings.ToLower(text), "map") {
			return true
		}
		la, lo := latAttr.FindStringSubmatch(text), lngAttr.FindStringSubmatch(text)
		if la != nil && lo != nil {
			lat, lng = la[1], lo[1]
			return false
		}
		return true
	})
	return lat, lng
}

func amenities(d *goquery.Document) []string {
	found := make(map[string]bool)
	d.Find(".utility_icons .text-center, #utility_list li, .section_panel_detail, .amenity").Each(func(_ int, s *goquery.Selection) {
		text := strings.ToLower(scraper.CleanText(s.Text()))
		for kw, key := range amenityKeywords {
			if strings.Contains(text, kw) {
				found[key] = true
			}
		}
	})
	out := make([]string, 0, len(found))
	for k := range found {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
