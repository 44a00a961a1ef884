package storage

import (
	"reflect"
	"time"

	"dario.cat/mergo"

	"rental-crawler/models"
)

// presentOverrides makes mergo replace optional fields only when the incoming
// value is present. mergo would otherwise dereference pointers and treat a
// zero floor as absent, or overwrite timestamps with the zero time.
type presentOverrides struct{}

var (
	floatPtrType = reflect.TypeOf((*float64)(nil))
	intPtrType   = reflect.TypeOf((*int)(nil))
	timePtrType  = reflect.TypeOf((*time.Time)(nil))
	timeType     = reflect.TypeOf(time.Time{})
)

func (presentOverrides) Transformer(typ reflect.Type) func(dst, src reflect.Value) error {
	switch typ {
	case floatPtrType, intPtrType, timePtrType:
		return func(dst, src reflect.Value) error {
			if dst.CanSet() && !src.IsNil() {
				dst.Set(src)
			}
			return nil
		}
	case timeType:
		return func(dst, src reflect.Value) error {
			if dst.CanSet() && !src.Interface().(time.Time).IsZero() {
				dst.Set(src)
			}
			return nil
		}
	}
	return nil
}

// MergeListing applies an observation to the stored record: present incoming
// scalars win, images are replaced only by a non-empty list, amenities merge
// key-wise, and the listing is marked seen and active.
func MergeListing(existing, incoming models.ListingRecord, now time.Time) (models.ListingRecord, error) {
	merged := existing
	merged.Amenities = nil
	merged.Images = append([]string(nil), existing.Images...)

	src := incoming
	src.ID = 0
	src.CreatedAt = time.Time{}
	src.UpdatedAt = time.Time{}
	src.Images = nil
	src.Amenities = nil

	if err := mergo.Merge(&merged, src, mergo.WithOverride, mergo.WithTransformers(presentOverrides{})); err != nil {
		return existing, err
	}

	if len(incoming.Images) > 0 {
		merged.Images = append([]string(nil), incoming.Images...)
	}
	if len(existing.Amenities)+len(incoming.Amenities) > 0 {
		merged.Amenities = make(map[string]bool, len(existing.Amenities)+len(incoming.Amenities))
		for k, v := range existing.Amenities {
			merged.Amenities[k] = v
		}
		for k, v := range incoming.Amenities {
			merged.Amenities[k] = v
		}
	}

	merged.AllowsAutoApply = incoming.AllowsAutoApply
	merged.NeedsRecrawl = incoming.NeedsRecrawl
	merged.RecrawlReason = incoming.RecrawlReason
	merged.IsActive = true
	merged.MissedPasses = 0
	merged.LastSeenAt = now
	merged.ID = existing.ID
	merged.CreatedAt = existing.CreatedAt
	return merged, nil
}

// sameContent compares two records ignoring the bookkeeping timestamps that
// every observation refreshes.
func sameContent(a, b models.ListingRecord) bool {
	for _, r := range []*models.ListingRecord{&a, &b} {
		r.ScrapedAt = time.Time{}
		r.LastSeenAt = time.Time{}
		r.UpdatedAt = time.Time{}
		if len(r.Amenities) == 0 {
			r.Amenities = nil
		}
		if len(r.Images) == 0 {
			r.Images = nil
		}
	}
	return reflect.DeepEqual(a, b)
}
