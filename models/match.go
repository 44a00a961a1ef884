package models

import "time"

// UserSearchPreference is a saved search. Nil bounds and empty sets are
// wildcards and never constrain a match.
type UserSearchPreference struct {
	ID            string         `json:"id" yaml:"id"`
	UserID        string         `json:"user_id" yaml:"user_id"`
	MinRent       *float64       `json:"min_rent,omitempty" yaml:"min_rent"`
	MaxRent       *float64       `json:"max_rent,omitempty" yaml:"max_rent"`
	MinRooms      *float64       `json:"min_rooms,omitempty" yaml:"min_rooms"`
	MaxRooms      *float64       `json:"max_rooms,omitempty" yaml:"max_rooms"`
	MinSize       *float64       `json:"min_size,omitempty" yaml:"min_size"`
	MaxSize       *float64       `json:"max_size,omitempty" yaml:"max_size"`
	Districts     []string       `json:"districts,omitempty" yaml:"districts"`
	PropertyTypes []PropertyType `json:"property_types,omitempty" yaml:"property_types"`
	Active        bool           `json:"active" yaml:"active"`
}

// MatchEvent names one of the user-driven lifecycle timestamps of a match.
type MatchEvent string

const (
	MatchNotified  MatchEvent = "notified"
	MatchViewed    MatchEvent = "viewed"
	MatchDismissed MatchEvent = "dismissed"
	MatchSaved     MatchEvent = "saved"
)

// Valid reports whether e is a known lifecycle event.
func (e MatchEvent) Valid() bool {
	switch e {
	case MatchNotified, MatchViewed, MatchDismissed, MatchSaved:
		return true
	}
	return false
}

// MatchRecord links a user to a listing that scored above the threshold.
// Lifecycle timestamps are set at most once and never cleared.
type MatchRecord struct {
	ID           int64      `json:"id"`
	UserID       string     `json:"user_id"`
	ListingID    int64      `json:"listing_id"`
	PreferenceID string     `json:"preference_id,omitempty"`
	MatchScore   int        `json:"match_score"`
	MatchedAt    time.Time  `json:"matched_at"`
	NotifiedAt   *time.Time `json:"notified_at,omitempty"`
	ViewedAt     *time.Time `json:"viewed_at,omitempty"`
	DismissedAt  *time.Time `json:"dismissed_at,omitempty"`
	SavedAt      *time.Time `json:"saved_at,omitempty"`
}
