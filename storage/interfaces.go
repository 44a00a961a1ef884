package storage

import (
	"context"
	"errors"
	"time"

	"rental-crawler/models"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("storage: not found")

// UpsertResult reports what an upsert did to the stored row.
type UpsertResult string

const (
	Created   UpsertResult = "created"
	Updated   UpsertResult = "updated"
	Unchanged UpsertResult = "unchanged"
)

// SweepPolicy decides which active listings the sweeper deactivates.
// Zero durations and thresholds disable the corresponding rule.
type SweepPolicy struct {
	Platform          models.Platform
	MissedPasses      int
	StaleAfter        time.Duration
	AvailabilityGrace time.Duration
	StartedLongAgo    time.Duration
	Now               time.Time
}

// ListingQuery filters List. Empty fields do not constrain.
type ListingQuery struct {
	Platform   models.Platform
	ActiveOnly bool
	MaxRent    *float64
	District   string
	Limit      int
}

// ListingStore is the interface any listing backend must satisfy.
type ListingStore interface {
	// Upsert merges rec into the row keyed by (platform, external_id) and
	// sets rec.ID.
	Upsert(ctx context.Context, rec *models.ListingRecord) (UpsertResult, error)
	Get(ctx context.Context, key models.ListingKey) (*models.ListingRecord, error)
	GetByID(ctx context.Context, id int64) (*models.ListingRecord, error)
	List(ctx context.Context, q ListingQuery) ([]models.ListingRecord, error)
	// MarkMissed increments missed_passes of active listings last seen
	// before the given instant.
	MarkMissed(ctx context.Context, platform models.Platform, seenBefore time.Time) (int64, error)
	// Sweep deactivates the listings selected by policy and returns their ids.
	Sweep(ctx context.Context, policy SweepPolicy) ([]int64, error)
	FlagRecrawl(ctx context.Context, stub models.ListingStub, reason string) error
	// ClearRecrawl forgets a queued candidate, e.g. once it is known gone.
	ClearRecrawl(ctx context.Context, key models.ListingKey) error
	ListRecrawl(ctx context.Context, platform models.Platform, limit int) ([]models.ListingStub, error)
}

// MatchStore persists search preferences and append-only match records.
type MatchStore interface {
	SavePreference(ctx context.Context, p models.UserSearchPreference) error
	ListPreferences(ctx context.Context, activeOnly bool) ([]models.UserSearchPreference, error)
	// InsertMatch stores m unless the (user, listing) pair already exists.
	// It reports whether a row was created.
	InsertMatch(ctx context.Context, m *models.MatchRecord) (bool, error)
	ListMatches(ctx context.Context, userID string) ([]models.MatchRecord, error)
	// RecordEvent sets the event timestamp once; later calls leave it unchanged.
	RecordEvent(ctx context.Context, userID string, listingID int64, event models.MatchEvent, at time.Time) (*models.MatchRecord, error)
}

// SessionStore persists marketplace sessions across runs.
type SessionStore interface {
	LoadSession(ctx context.Context, platform models.Platform) (*models.SessionState, error)
	SaveSession(ctx context.Context, s *models.SessionState) error
}

// RunStore keeps run summaries.
type RunStore interface {
	SaveRun(ctx context.Context, r *models.RunSummary) error
	// LatestRun returns the newest run of search; "" matches any search.
	LatestRun(ctx context.Context, platform models.Platform, search string) (*models.RunSummary, error)
}

// Store bundles every persistence concern of the pipeline.
type Store interface {
	ListingStore
	MatchStore
	SessionStore
	RunStore
	Close() error
}

// ListingExporter is the interface for file exports of stored listings.
type ListingExporter interface {
	Export(listings []models.ListingRecord) error
	Close() error
}
