package services

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"rental-crawler/models"
	"rental-crawler/utils"
)

var (
	// floorRegexp captures "3. OG" style floor numbers
	floorRegexp = regexp.MustCompile(`(?i)(\d+)\.?\s*(?:OG|Obergeschoss|Etage|Stock)`)
	// totalFloorsRegexp captures "von 5" / "/ 5" after the floor
	totalFloorsRegexp = regexp.MustCompile(`(?i)(?:von|/)\s*(\d+)`)
	groundFloorRegexp = regexp.MustCompile(`(?i)erdgeschoss|hochparterre|parterre|\bEG\b`)
	basementRegexp    = regexp.MustCompile(`(?i)souterrain|untergeschoss|\bUG\b`)
	dateRegexp        = regexp.MustCompile(`\d{1,2}\.\d{1,2}\.\d{2,4}`)

	studioKeywords = []string{"1-zimmer-wohnung", "1-zimmer-wohnungen", "einzimmerwohnung", "studio", "apartment", "appartement"}
	houseKeywords  = []string{"haeuser", "einfamilienhaus", "reihenhaus", "doppelhaushälfte", " haus "}
	sharedKeywords = []string{"wg-zimmer", " wg ", "er-wg", "zimmer in ", "mitbewohner"}
	flatKeywords   = []string{"wohnungen", "wohnung"}
)

// Limits bounds plausible values; anything outside is left unset.
type Limits struct {
	MinPrice, MaxPrice float64
	MinSize, MaxSize   float64
	MinRooms, MaxRooms float64
	MinFloor, MaxFloor int
}

// DefaultLimits are tuned for German room and flat rentals.
var DefaultLimits = Limits{
	MinPrice: 50, MaxPrice: 20000,
	MinSize: 5, MaxSize: 1000,
	MinRooms: 0.5, MaxRooms: 20,
	MinFloor: -1, MaxFloor: 60,
}

// Normalizer transforms RawListings into typed, validated ListingRecords.
type Normalizer struct {
	logger    *utils.Logger
	districts *DistrictIndex
	limits    Limits
}

// NewNormalizer creates a Normalizer. A nil index means DefaultDistricts.
func NewNormalizer(districts *DistrictIndex, logger *utils.Logger) *Normalizer {
	if districts == nil {
		districts = DefaultDistricts()
	}
	return &Normalizer{logger: logger, districts: districts, limits: DefaultLimits}
}

// Normalize coerces every raw field. Unparsable or implausible values leave
// the field unset and add a warning; Normalize itself never fails.
func (n *Normalizer) Normalize(raw models.RawListing) (models.ListingRecord, []string) {
	var warnings []string
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	rec := models.ListingRecord{
		Platform:        raw.Platform,
		ExternalID:      strings.TrimSpace(raw.ExternalID),
		URL:             strings.TrimSpace(raw.URL),
		Title:           normaliseText(raw.Title),
		Description:     normaliseText(raw.Description),
		Address:         normaliseText(raw.Address),
		Images:          raw.Images,
		ContactName:     normaliseText(raw.ContactName),
		ContactPhone:    normalisePhone(raw.ContactPhone),
		ContactEmail:    strings.ToLower(strings.TrimSpace(raw.ContactEmail)),
		AllowsAutoApply: raw.AutoApply,
		NeedsRecrawl:    raw.RecrawlReason != "",
		RecrawlReason:   raw.RecrawlReason,
		ScrapedAt:       raw.ScrapedAt,
		LastSeenAt:      raw.ScrapedAt,
		IsActive:        true,
	}
	if rec.Platform == "" {
		rec.Platform = models.PlatformWGGesucht
	}

	rec.Price = n.money("price", raw.RawPrice, warn)
	rec.WarmRent = n.money("warm_rent", raw.RawWarmRent, warn)
	if rec.WarmRent == nil && rec.Price != nil {
		if extras, ok := sumExtras(raw.RawExtras); ok {
			rec.WarmRent = n.clamp("warm_rent", *rec.Price+extras, n.limits.MinPrice, n.limits.MaxPrice, warn)
		}
	}

	rec.SizeSqm = n.decimal("size", raw.RawSize, n.limits.MinSize, n.limits.MaxSize, warn)
	rec.Rooms = n.decimal("rooms", raw.RawRooms, n.limits.MinRooms, n.limits.MaxRooms, warn)
	rec.Floor, rec.TotalFloors = n.parseFloor(raw.RawFloor, warn)

	if raw.District != "" {
		if c, ok := n.districts.Canonical(raw.District); ok {
			rec.District = c
		} else {
			rec.District = normaliseText(raw.District)
			warn("district %q is not in the canonical list", rec.District)
		}
	}

	rec.Lat = coordinate("lat", raw.RawLat, 90, warn)
	rec.Lng = coordinate("lng", raw.RawLng, 180, warn)
	if (rec.Lat == nil) != (rec.Lng == nil) {
		rec.Lat, rec.Lng = nil, nil
	}

	rec.AvailableFrom = parseDate("available_from", raw.RawFrom, warn)
	rec.AvailableUntil = parseDate("available_until", raw.RawUntil, warn)

	rec.PropertyType = derivePropertyType(raw.URL, raw.Title, raw.Description)
	if rec.Rooms == nil && (rec.PropertyType == models.PropertySharedRoom || rec.PropertyType == models.PropertyStudio) {
		rec.Rooms = models.Float(1)
	}

	if len(raw.Amenities) > 0 {
		rec.Amenities = make(map[string]bool, len(raw.Amenities))
		for _, a := range raw.Amenities {
			rec.Amenities[a] = true
		}
	}

	for _, w := range warnings {
		n.logger.Debug("[normalizer] %s: %s", rec.ExternalID, w)
	}
	return rec, warnings
}

// Validate rejects records that cannot be stored.
func Validate(rec models.ListingRecord) error {
	var errs []error
	if !rec.Platform.Valid() {
		errs = append(errs, fmt.Errorf("unknown platform %q", rec.Platform))
	}
	if rec.ExternalID == "" {
		errs = append(errs, errors.New("empty external id"))
	}
	if rec.URL == "" {
		errs = append(errs, errors.New("empty url"))
	}
	if rec.Rooms != nil && *rec.Rooms <= 0 {
		errs = append(errs, fmt.Errorf("rooms must be positive, got %v", *rec.Rooms))
	}
	if len(errs) > 0 {
		return fmt.Errorf("normalizer: invalid record %s: %w", rec.Key(), errors.Join(errs...))
	}
	return nil
}

func (n *Normalizer) money(field, raw string, warn func(string, ...any)) *float64 {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	v, ok := utils.ParseGermanNumber(raw, utils.Money)
	if !ok {
		warn("%s %q is not a number", field, raw)
		return nil
	}
	return n.clamp(field, v, n.limits.MinPrice, n.limits.MaxPrice, warn)
}

func (n *Normalizer) decimal(field, raw string, lo, hi float64, warn func(string, ...any)) *float64 {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	v, ok := utils.ParseGermanNumber(raw, utils.Decimal)
	if !ok {
		warn("%s %q is not a number", field, raw)
		return nil
	}
	return n.clamp(field, v, lo, hi, warn)
}

func (n *Normalizer) clamp(field string, v, lo, hi float64, warn func(string, ...any)) *float64 {
	if v < lo || v > hi {
		warn("%s %v outside [%v, %v]", field, v, lo, hi)
		return nil
	}
	return &v
}

// parseFloor understands "3. OG", "3. OG von 5", "Erdgeschoss" and
// "Souterrain". Attic floors without a number stay unset.
func (n *Normalizer) parseFloor(raw string, warn func(string, ...any)) (*int, *int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var floor *int
	switch {
	case floorRegexp.MatchString(raw):
		v, _ := strconv.Atoi(floorRegexp.FindStringSubmatch(raw)[1])
		floor = &v
	case groundFloorRegexp.MatchString(raw):
		floor = models.Int(0)
	case basementRegexp.MatchString(raw):
		floor = models.Int(-1)
	default:
		return nil, nil
	}
	if *floor < n.limits.MinFloor || *floor > n.limits.MaxFloor {
		warn("floor %d outside [%d, %d]", *floor, n.limits.MinFloor, n.limits.MaxFloor)
		return nil, nil
	}

	var total *int
	if m := totalFloorsRegexp.FindStringSubmatch(raw); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil && v >= *floor && v <= n.limits.MaxFloor {
			total = &v
		}
	}
	return floor, total
}

// sumExtras adds the ";"-separated additional cost components.
func sumExtras(raw string) (float64, bool) {
	var (
		sum   float64
		found bool
	)
	for _, part := range strings.Split(raw, ";") {
		if v, ok := utils.ParseGermanNumber(part, utils.Money); ok {
			sum += v
			found = true
		}
	}
	return sum, found
}

func coordinate(field, raw string, limit float64, warn func(string, ...any)) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < -limit || v > limit || v == 0 {
		warn("%s %q is not a valid coordinate", field, raw)
		return nil
	}
	return &v
}

// parseDate reads "dd.mm.yyyy" and "dd.mm.yy".
func parseDate(field, raw string, warn func(string, ...any)) *time.Time {
	tok := dateRegexp.FindString(raw)
	if tok == "" {
		if strings.TrimSpace(raw) != "" {
			warn("%s %q is not a date", field, raw)
		}
		return nil
	}
	for _, layout := range []string{"2.1.2006", "2.1.06"} {
		if t, err := time.ParseInLocation(layout, tok, time.UTC); err == nil {
			return &t
		}
	}
	warn("%s %q is not a date", field, raw)
	return nil
}

// derivePropertyType guesses the unit type from URL slug, title and
// description, in that order of trust.
func derivePropertyType(rawURL, title, description string) models.PropertyType {
	slug := ""
	if u, err := url.Parse(rawURL); err == nil {
		slug = strings.ReplaceAll(strings.Trim(u.Path, "/"), "-in-", " in ")
	}
	for _, text := range []string{slug, title, description} {
		t := " " + strings.ToLower(normaliseText(text)) + " "
		switch {
		case containsAny(t, studioKeywords):
			return models.PropertyStudio
		case containsAny(t, houseKeywords):
			return models.PropertyHouse
		case containsAny(t, sharedKeywords):
			return models.PropertySharedRoom
		case containsAny(t, flatKeywords):
			return models.PropertyApartment
		}
	}
	return ""
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// normalisePhone reduces a number to "+49…" digits. Numbers too short to
// dial are dropped.
func normalisePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	plus := strings.HasPrefix(raw, "+")
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, raw)

	switch {
	case plus:
	case strings.HasPrefix(digits, "00"):
		digits = digits[2:]
	case strings.HasPrefix(digits, "0"):
		digits = "49" + digits[1:]
	default:
		digits = "49" + digits
	}
	if len(digits) < 8 {
		return ""
	}
	return "+" + digits
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}
