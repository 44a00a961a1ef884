package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rental-crawler/models"
	"rental-crawler/scraper"
	"rental-crawler/scraper/wggesucht"
	"rental-crawler/storage"
)

// scriptedCrawler replays fixed outcomes and records the requests it got.
type scriptedCrawler struct {
	outcomes []wggesucht.Outcome
	blocked  bool
	requests []wggesucht.CrawlRequest
}

func (c *scriptedCrawler) Crawl(ctx context.Context, req wggesucht.CrawlRequest, summary *models.RunSummary, handle wggesucht.Handler) {
	c.requests = append(c.requests, req)
	if c.blocked {
		summary.Blocked = true
		return
	}
	summary.Found = len(c.outcomes)
	for _, o := range c.outcomes {
		if o.Err != nil && o.Raw == nil {
			summary.Failed++
		}
		handle(ctx, o)
	}
}

// searchCrawler serves outcomes per search name and takes a little time per
// search, so consecutive searches start at distinct instants.
type searchCrawler struct {
	outcomes map[string][]wggesucht.Outcome
	blocked  map[string]bool
	requests []wggesucht.CrawlRequest
}

func (c *searchCrawler) Crawl(ctx context.Context, req wggesucht.CrawlRequest, summary *models.RunSummary, handle wggesucht.Handler) {
	c.requests = append(c.requests, req)
	time.Sleep(3 * time.Millisecond)
	if c.blocked[req.Filter.Name] {
		summary.Blocked = true
		return
	}
	for _, o := range c.outcomes[req.Filter.Name] {
		summary.Found++
		handle(ctx, o)
	}
}

func stub(id string) models.ListingStub {
	return models.ListingStub{
		Platform:   models.PlatformWGGesucht,
		ExternalID: id,
		URL:        "https://www.wg-gesucht.de/wg-zimmer-in-Berlin-Kreuzberg." + id + ".html",
	}
}

func rawListing(id string) *models.RawListing {
	st := stub(id)
	return &models.RawListing{
		Platform:   models.PlatformWGGesucht,
		ExternalID: id,
		URL:        st.URL,
		Title:      "Helles WG-Zimmer mit Balkon",
		RawPrice:   "550,00€",
		RawExtras:  "80,00€;20,00€",
		RawSize:    "18 m²",
		RawRooms:   "3 Zimmer",
		District:   "Kreuzberg",
		Images:     []string{"https://img.wg-gesucht.de/media/up/" + id + ".large.jpg"},
		ScrapedAt:  time.Now(),
	}
}

func scriptedRun() []wggesucht.Outcome {
	partial := rawListing("9000002")
	partial.RawSize = ""
	invalid := rawListing("9000004")
	invalid.ExternalID = ""
	invalid.URL = ""

	return []wggesucht.Outcome{
		{Stub: stub("9000001"), Raw: rawListing("9000001")},
		{Stub: stub("9000002"), Raw: partial, Err: &scraper.PartialExtractionWarning{URL: partial.URL, Fields: []string{"size"}}},
		{Stub: stub("9000003"), Err: &scraper.TransientNetworkError{URL: stub("9000003").URL, Err: context.DeadlineExceeded}},
		{Stub: stub("9000004"), Raw: invalid},
	}
}

func newTestPipeline(t *testing.T, crawler Crawler) (*Pipeline, *storage.SQLStore) {
	t.Helper()
	store := newTestStore(t)
	matcher := NewMatcher(store, nil, 60, newTestLogger())
	return NewPipeline(crawler, NewNormalizer(nil, newTestLogger()), store, matcher, newTestLogger()), store
}

func TestPipelineRun(t *testing.T) {
	crawler := &scriptedCrawler{outcomes: scriptedRun()}
	p, store := newTestPipeline(t, crawler)
	ctx := context.Background()

	prefs := []models.UserSearchPreference{{ID: "p1", UserID: "u1", MaxRent: models.Float(700), Active: true}}
	summary, err := p.Run(ctx, berlinRoomsFilter, prefs)
	require.NoError(t, err)

	require.NotEmpty(t, summary.RunID)
	require.Equal(t, "berlin-rooms", summary.Search)
	require.Equal(t, 4, summary.Found)
	require.Equal(t, 2, summary.Saved)
	require.Equal(t, 2, summary.Created)
	require.Equal(t, 1, summary.Partial)
	require.Equal(t, 2, summary.Failed)
	require.Equal(t, 2, summary.MatchesCreated)
	require.False(t, summary.FinishedAt.Before(summary.StartedAt))

	rec, err := store.Get(ctx, models.ListingKey{Platform: models.PlatformWGGesucht, ExternalID: "9000001"})
	require.NoError(t, err)
	require.Equal(t, 650.0, *rec.WarmRent)
	require.Equal(t, models.PropertySharedRoom, rec.PropertyType)
	require.False(t, rec.NeedsRecrawl)

	partial, err := store.Get(ctx, models.ListingKey{Platform: models.PlatformWGGesucht, ExternalID: "9000002"})
	require.NoError(t, err)
	require.True(t, partial.NeedsRecrawl)
	require.Equal(t, "partial", partial.RecrawlReason)

	latest, err := store.LatestRun(ctx, models.PlatformWGGesucht, "berlin-rooms")
	require.NoError(t, err)
	require.Equal(t, summary.RunID, latest.RunID)

	// the second pass feeds back the failed and partial listings and the
	// previous card count, and leaves stored rows unchanged
	summary, err = p.Run(ctx, berlinRoomsFilter, prefs)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Unchanged)
	require.Zero(t, summary.MatchesCreated)

	second := crawler.requests[1]
	require.Equal(t, 4, second.PreviousFound)
	var ids []string
	for _, st := range second.Recrawl {
		ids = append(ids, st.ExternalID)
	}
	require.ElementsMatch(t, []string{"9000003", "9000002"}, ids)
}

func TestPipelineCountsMissedOnlyOnCompleteRuns(t *testing.T) {
	crawler := &scriptedCrawler{outcomes: scriptedRun()[:1]}
	p, store := newTestPipeline(t, crawler)
	ctx := context.Background()
	key := models.ListingKey{Platform: models.PlatformWGGesucht, ExternalID: "9000001"}

	_, err := p.Run(ctx, berlinRoomsFilter, nil)
	require.NoError(t, err)

	later := time.Now().Add(time.Hour)
	p.now = func() time.Time { return later }

	crawler.blocked = true
	summary, err := p.Run(ctx, berlinRoomsFilter, nil)
	require.NoError(t, err)
	require.True(t, summary.Blocked)
	rec, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.Zero(t, rec.MissedPasses)

	crawler.blocked = false
	crawler.outcomes = nil
	_, err = p.Run(ctx, berlinRoomsFilter, nil)
	require.NoError(t, err)
	rec, err = store.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 1, rec.MissedPasses)
	require.True(t, rec.IsActive)
}

func TestPipelineCountsMissedOncePerCrawl(t *testing.T) {
	crawler := &searchCrawler{outcomes: map[string][]wggesucht.Outcome{
		"a": {{Stub: stub("9000001"), Raw: rawListing("9000001")}, {Stub: stub("9000009"), Raw: rawListing("9000009")}},
	}}
	p, store := newTestPipeline(t, crawler)
	ctx := context.Background()
	searches := []models.SearchFilter{{Name: "a", City: "Berlin"}}

	_, err := p.RunSearches(ctx, searches, nil, true)
	require.NoError(t, err)
	time.Sleep(3 * time.Millisecond)

	// a still lists 9000001, b, c and d list nothing and 9000009 is gone
	crawler.outcomes["a"] = crawler.outcomes["a"][:1]
	for _, name := range []string{"b", "c", "d"} {
		searches = append(searches, models.SearchFilter{Name: name, City: "Berlin"})
	}
	summaries, err := p.RunSearches(ctx, searches, nil, true)
	require.NoError(t, err)
	require.Len(t, summaries, 4)

	missed := func(id string) int {
		rec, err := store.Get(ctx, models.ListingKey{Platform: models.PlatformWGGesucht, ExternalID: id})
		require.NoError(t, err)
		return rec.MissedPasses
	}
	require.Zero(t, missed("9000001"))
	require.Equal(t, 1, missed("9000009"))

	// repeated crawls never push a listing one search still sees over the
	// sweep threshold
	for i := 0; i < 3; i++ {
		_, err := p.RunSearches(ctx, searches, nil, true)
		require.NoError(t, err)
	}
	require.Zero(t, missed("9000001"))
	require.Equal(t, 4, missed("9000009"))

	ids, err := store.Sweep(ctx, storage.SweepPolicy{Platform: models.PlatformWGGesucht, MissedPasses: 3})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	rec, err := store.Get(ctx, models.ListingKey{Platform: models.PlatformWGGesucht, ExternalID: "9000001"})
	require.NoError(t, err)
	require.True(t, rec.IsActive)
}

func TestPipelineSkipsMissedOnIncompleteCrawl(t *testing.T) {
	crawler := &searchCrawler{outcomes: map[string][]wggesucht.Outcome{
		"a": {{Stub: stub("9000009"), Raw: rawListing("9000009")}},
	}}
	p, store := newTestPipeline(t, crawler)
	ctx := context.Background()
	key := models.ListingKey{Platform: models.PlatformWGGesucht, ExternalID: "9000009"}

	_, err := p.RunSearches(ctx, []models.SearchFilter{{Name: "a"}}, nil, true)
	require.NoError(t, err)
	time.Sleep(3 * time.Millisecond)
	crawler.outcomes = nil

	crawler.blocked = map[string]bool{"c": true}
	summaries, err := p.RunSearches(ctx, []models.SearchFilter{{Name: "b"}, {Name: "c"}}, nil, true)
	require.NoError(t, err)
	require.False(t, summaries[0].Blocked)
	require.True(t, summaries[1].Blocked)
	rec, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.Zero(t, rec.MissedPasses)

	crawler.blocked = nil
	_, err = p.RunSearches(ctx, []models.SearchFilter{{Name: "b"}}, nil, false)
	require.NoError(t, err)
	rec, err = store.Get(ctx, key)
	require.NoError(t, err)
	require.Zero(t, rec.MissedPasses)
}

func TestPipelinePreviousFoundPerSearch(t *testing.T) {
	crawler := &searchCrawler{outcomes: map[string][]wggesucht.Outcome{
		"a": {{Stub: stub("9000001"), Raw: rawListing("9000001")}, {Stub: stub("9000002"), Raw: rawListing("9000002")}},
		"b": {{Stub: stub("9000003"), Raw: rawListing("9000003")}},
	}}
	p, _ := newTestPipeline(t, crawler)
	ctx := context.Background()
	searches := []models.SearchFilter{{Name: "a"}, {Name: "b"}}

	_, err := p.RunSearches(ctx, searches, nil, true)
	require.NoError(t, err)
	_, err = p.RunSearches(ctx, searches, nil, true)
	require.NoError(t, err)

	require.Len(t, crawler.requests, 4)
	require.Zero(t, crawler.requests[0].PreviousFound)
	require.Zero(t, crawler.requests[1].PreviousFound)
	require.Equal(t, 2, crawler.requests[2].PreviousFound)
	require.Equal(t, 1, crawler.requests[3].PreviousFound)
}

func TestPipelineRoutesGoneAndSkipped(t *testing.T) {
	crawler := &scriptedCrawler{}
	p, store := newTestPipeline(t, crawler)
	ctx := context.Background()

	gone := rawListing("9000007")
	crawler.outcomes = []wggesucht.Outcome{{Stub: stub("9000007"), Raw: gone}}
	_, err := p.Run(ctx, berlinRoomsFilter, nil)
	require.NoError(t, err)
	require.NoError(t, store.FlagRecrawl(ctx, stub("9000007"), "transient"))

	crawler.outcomes = []wggesucht.Outcome{
		{Stub: stub("9000007"), Err: &scraper.GoneError{URL: gone.URL, Reason: "http 410"}},
		{Stub: stub("9000008"), Err: fmt.Errorf("%w: %s", scraper.ErrSkipped, stub("9000008").URL)},
		{Stub: stub("9000010"), Err: &scraper.BlockedError{URL: stub("9000010").URL, Reason: "captcha"}},
	}
	summary, err := p.Run(ctx, berlinRoomsFilter, nil)
	require.NoError(t, err)
	require.Zero(t, summary.Saved)

	rec, err := store.Get(ctx, models.ListingKey{Platform: models.PlatformWGGesucht, ExternalID: "9000007"})
	require.NoError(t, err)
	require.False(t, rec.NeedsRecrawl)
	require.Empty(t, rec.RecrawlReason)

	stubs, err := store.ListRecrawl(ctx, models.PlatformWGGesucht, 10)
	require.NoError(t, err)
	var ids []string
	for _, st := range stubs {
		ids = append(ids, st.ExternalID)
	}
	require.ElementsMatch(t, []string{"9000008", "9000010"}, ids)
}

var berlinRoomsFilter = models.SearchFilter{
	Name:       "berlin-rooms",
	City:       "Berlin",
	Categories: []models.Category{models.CategorySharedRoom},
}
