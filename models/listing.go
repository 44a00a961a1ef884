package models

import "time"

// Platform identifies the marketplace a listing was acquired from.
type Platform string

const (
	PlatformWGGesucht Platform = "wg_gesucht"
)

// Valid reports whether p is a platform the crawler knows how to extract.
func (p Platform) Valid() bool {
	return p == PlatformWGGesucht
}

// PropertyType is the normalized kind of rental unit.
type PropertyType string

const (
	PropertySharedRoom PropertyType = "shared_room"
	PropertyStudio     PropertyType = "studio"
	PropertyApartment  PropertyType = "apartment"
	PropertyHouse      PropertyType = "house"
)

// ListingStub is the lightweight candidate produced by the summary parser.
// Rough values are hints only; the detail extractor is authoritative.
type ListingStub struct {
	Platform      Platform
	ExternalID    string
	URL           string
	Title         string
	RoughPrice    *float64
	RoughSize     *float64
	RoughRooms    *float64
	DistrictHint  string
	AvailableHint string
}

// RawListing holds unprocessed detail-page data directly from the extractor.
// Every scalar is the raw string that won its strategy cascade; normalization
// happens in services.Normalizer.
type RawListing struct {
	Platform    Platform
	ExternalID  string
	URL         string
	Title       string
	RawPrice    string
	RawWarmRent string
	RawExtras   string
	RawSize     string
	RawRooms    string
	RawFloor    string
	District    string
	Address     string
	Description string
	RawFrom     string
	RawUntil    string
	RawLat      string
	RawLng      string
	Amenities   []string
	Images      []string

	ContactName  string
	ContactPhone string
	ContactEmail string
	AutoApply    bool

	// Strategies maps a field name to the strategy that resolved it.
	Strategies map[string]string
	// Unresolved lists fields no strategy produced content for.
	Unresolved []string
	// RecrawlReason is set when the record should be re-attempted next pass.
	RecrawlReason string

	ScrapedAt time.Time
}

// ListingRecord is the normalized, validated record kept in storage.
// Optional numeric fields are pointers: nil means "not extracted".
type ListingRecord struct {
	ID           int64           `json:"id"`
	Platform     Platform        `json:"platform"`
	ExternalID   string          `json:"external_id"`
	URL          string          `json:"url"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	Price        *float64        `json:"price,omitempty"`
	WarmRent     *float64        `json:"warm_rent,omitempty"`
	SizeSqm      *float64        `json:"size_sqm,omitempty"`
	Rooms        *float64        `json:"rooms,omitempty"`
	Floor        *int            `json:"floor,omitempty"`
	TotalFloors  *int            `json:"total_floors,omitempty"`
	District     string          `json:"district,omitempty"`
	Address      string          `json:"address,omitempty"`
	Lat          *float64        `json:"lat,omitempty"`
	Lng          *float64        `json:"lng,omitempty"`
	PropertyType PropertyType    `json:"property_type,omitempty"`
	Images       []string        `json:"images"`
	Amenities    map[string]bool `json:"amenities,omitempty"`

	ContactName     string `json:"contact_name,omitempty"`
	ContactPhone    string `json:"contact_phone,omitempty"`
	ContactEmail    string `json:"contact_email,omitempty"`
	AllowsAutoApply bool   `json:"allows_auto_apply"`

	AvailableFrom  *time.Time `json:"available_from,omitempty"`
	AvailableUntil *time.Time `json:"available_until,omitempty"`

	MissedPasses  int    `json:"missed_passes"`
	NeedsRecrawl  bool   `json:"needs_recrawl"`
	RecrawlReason string `json:"recrawl_reason,omitempty"`

	ScrapedAt  time.Time `json:"scraped_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Key returns the composite identity of the record.
func (l *ListingRecord) Key() ListingKey {
	return ListingKey{Platform: l.Platform, ExternalID: l.ExternalID}
}

// ListingKey is the (platform, external_id) uniqueness key.
type ListingKey struct {
	Platform   Platform
	ExternalID string
}

func (k ListingKey) String() string {
	return string(k.Platform) + ":" + k.ExternalID
}

// Float is a small helper for building optional numeric fields.
func Float(v float64) *float64 { return &v }

// Int is a small helper for building optional integer fields.
func Int(v int) *int { return &v }
