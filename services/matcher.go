package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"rental-crawler/models"
	"rental-crawler/storage"
	"rental-crawler/utils"
)

// Weights are the points each component contributes to a perfect score.
type Weights struct {
	Rent, Rooms, Size, District, Type float64
}

// DefaultWeights sum to 100.
var DefaultWeights = Weights{Rent: 40, Rooms: 20, Size: 15, District: 15, Type: 10}

const (
	// rentTolerance is the relative overshoot at which rent credit reaches
	// zero; rents beyond it are excluded outright.
	rentTolerance  = 0.25
	roomsTolerance = 0.50
	sizeTolerance  = 0.30
	// missingCredit applies when the preference constrains a field the
	// listing does not state.
	missingCredit = 0.5
)

// Matcher scores listings against saved searches and records matches.
type Matcher struct {
	store     storage.MatchStore
	districts *DistrictIndex
	weights   Weights
	threshold int
	logger    *utils.Logger
	now       func() time.Time
}

// NewMatcher creates a Matcher. Scores below threshold are not recorded.
func NewMatcher(store storage.MatchStore, districts *DistrictIndex, threshold int, logger *utils.Logger) *Matcher {
	if districts == nil {
		districts = DefaultDistricts()
	}
	return &Matcher{
		store:     store,
		districts: districts,
		weights:   DefaultWeights,
		threshold: threshold,
		logger:    logger,
		now:       time.Now,
	}
}

// Score rates l against p on a 0–100 scale. The second result is false when
// the rent exceeds the preference maximum by more than the tolerance.
func (m *Matcher) Score(l models.ListingRecord, p models.UserSearchPreference) (int, bool) {
	rent := rentOf(l)
	if rent != nil && p.MaxRent != nil && *rent > *p.MaxRent*(1+rentTolerance) {
		return 0, false
	}

	w := m.weights
	total := w.Rent + w.Rooms + w.Size + w.District + w.Type
	if total <= 0 {
		return 0, true
	}
	points := w.Rent*rangeCredit(rent, p.MinRent, p.MaxRent, rentTolerance) +
		w.Rooms*rangeCredit(l.Rooms, p.MinRooms, p.MaxRooms, roomsTolerance) +
		w.Size*rangeCredit(l.SizeSqm, p.MinSize, p.MaxSize, sizeTolerance) +
		w.District*m.districtCredit(l.District, p.Districts) +
		w.Type*typeCredit(l.PropertyType, p.PropertyTypes)

	score := int(math.Round(points * 100 / total))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, true
}

// MatchListing records a match for every active preference owner whose best
// score for l reaches the threshold. Existing matches are left untouched.
func (m *Matcher) MatchListing(ctx context.Context, l models.ListingRecord, prefs []models.UserSearchPreference) (int, error) {
	if !l.IsActive || l.ID == 0 {
		return 0, nil
	}

	best := map[string]*models.MatchRecord{}
	var order []string
	for _, p := range prefs {
		if !p.Active {
			continue
		}
		score, ok := m.Score(l, p)
		if !ok || score < m.threshold {
			continue
		}
		cur, seen := best[p.UserID]
		if !seen {
			order = append(order, p.UserID)
		}
		if !seen || score > cur.MatchScore {
			best[p.UserID] = &models.MatchRecord{
				UserID:       p.UserID,
				ListingID:    l.ID,
				PreferenceID: p.ID,
				MatchScore:   score,
				MatchedAt:    m.now(),
			}
		}
	}

	var (
		created int
		errs    []error
	)
	for _, user := range order {
		rec := best[user]
		ok, err := m.store.InsertMatch(ctx, rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("match %s/%d: %w", user, l.ID, err))
			continue
		}
		if ok {
			created++
			m.logger.Debug("[matcher] %s matched listing %d (score %d)", user, l.ID, rec.MatchScore)
		}
	}
	return created, errors.Join(errs...)
}

// MatchAll runs MatchListing over every listing and returns the number of
// new matches. Per-listing failures are joined, not fatal.
func (m *Matcher) MatchAll(ctx context.Context, listings []models.ListingRecord, prefs []models.UserSearchPreference) (int, error) {
	var (
		created int
		errs    []error
	)
	for _, l := range listings {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		n, err := m.MatchListing(ctx, l, prefs)
		created += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return created, errors.Join(errs...)
}

// rentOf prefers the all-inclusive rent.
func rentOf(l models.ListingRecord) *float64 {
	if l.WarmRent != nil {
		return l.WarmRent
	}
	return l.Price
}

// rangeCredit is 1 inside [lo, hi] and decays linearly with the relative
// distance outside it, reaching 0 at tolerance.
func rangeCredit(v, lo, hi *float64, tolerance float64) float64 {
	if lo == nil && hi == nil {
		return 1
	}
	if v == nil {
		return missingCredit
	}
	var miss float64
	switch {
	case hi != nil && *v > *hi && *hi > 0:
		miss = (*v - *hi) / *hi
	case lo != nil && *v < *lo && *lo > 0:
		miss = (*lo - *v) / *lo
	default:
		return 1
	}
	return math.Max(0, 1-miss/tolerance)
}

func (m *Matcher) districtCredit(district string, wanted []string) float64 {
	if len(wanted) == 0 {
		return 1
	}
	if district == "" {
		return missingCredit
	}
	for _, w := range wanted {
		if c, ok := m.districts.Canonical(w); ok {
			w = c
		}
		if strings.EqualFold(strings.TrimSpace(w), district) {
			return 1
		}
	}
	return 0
}

func typeCredit(t models.PropertyType, wanted []models.PropertyType) float64 {
	if len(wanted) == 0 {
		return 1
	}
	if t == "" {
		return missingCredit
	}
	for _, w := range wanted {
		if w == t {
			return 1
		}
	}
	return 0
}
