package models

import "time"

// Category is a marketplace search category.
type Category string

const (
	CategorySharedRoom Category = "shared_room"
	CategoryStudio     Category = "studio"
	CategoryApartment  Category = "apartment"
	CategoryHouse      Category = "house"
)

// SearchFilter describes one marketplace search. Nil bounds are omitted
// from the generated URL.
type SearchFilter struct {
	Name       string     `json:"name" yaml:"name"`
	City       string     `json:"city" yaml:"city"`
	Categories []Category `json:"categories" yaml:"categories"`
	MinRent    *float64   `json:"min_rent,omitempty" yaml:"min_rent"`
	MaxRent    *float64   `json:"max_rent,omitempty" yaml:"max_rent"`
	MinRooms   *float64   `json:"min_rooms,omitempty" yaml:"min_rooms"`
	MaxRooms   *float64   `json:"max_rooms,omitempty" yaml:"max_rooms"`
	MinSize    *float64   `json:"min_size,omitempty" yaml:"min_size"`
	Districts  []string   `json:"districts,omitempty" yaml:"districts"`
	Page       int        `json:"page,omitempty" yaml:"page"`
}

// RunError describes one isolated failure inside a crawl run.
type RunError struct {
	Kind    string `json:"kind"`
	URL     string `json:"url,omitempty"`
	Message string `json:"message"`
}

// RunSummary is produced by every crawl run, successful or not.
type RunSummary struct {
	RunID           string     `json:"run_id"`
	Platform        Platform   `json:"platform"`
	Search          string     `json:"search"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      time.Time  `json:"finished_at"`
	PagesFetched    int        `json:"pages_fetched"`
	Found           int        `json:"found"`
	Saved           int        `json:"saved"`
	Created         int        `json:"created"`
	Updated         int        `json:"updated"`
	Unchanged       int        `json:"unchanged"`
	Partial         int        `json:"partial"`
	Failed          int        `json:"failed"`
	Gone            int        `json:"gone"`
	Skipped         int        `json:"skipped"`
	MatchesCreated  int        `json:"matches_created"`
	Deactivated     int        `json:"deactivated"`
	Blocked         bool       `json:"blocked"`
	StructureBroken bool       `json:"structure_broken"`
	LoginOK         bool       `json:"login_ok"`
	Errors          []RunError `json:"errors,omitempty"`
}

// Complete reports whether the search phase finished without a block or
// template change, i.e. whether unseen listings may be counted as missed.
func (r *RunSummary) Complete() bool {
	return !r.Blocked && !r.StructureBroken
}

// AddError records an isolated failure.
func (r *RunSummary) AddError(kind, url, msg string) {
	r.Errors = append(r.Errors, RunError{Kind: kind, URL: url, Message: msg})
}
