package wggesucht

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rental-crawler/models"
	"rental-crawler/scraper"
	"rental-crawler/utils"
)

var detailID = regexp.MustCompile(`\.(\d{5,})\.html$`)

// marketplace serves search page 0 from searchFixture, an empty page after
// it, and detail pages from details (falling back to the no-images page).
type marketplace struct {
	t             *testing.T
	searchStatus  int
	searchFixture string
	detailStatus  map[string]int
	details       map[string]string
	// slow delays the detail answer of an id until the client gives up or
	// the delay passes.
	slow map[string]time.Duration

	mu      sync.Mutex
	visited []string
}

func (m *marketplace) start() *httptest.Server {
	pages := map[string]string{}
	for _, name := range []string{m.searchFixture, "search_empty.html", "detail_no_images.html"} {
		pages[name] = fixture(m.t, name)
	}
	for _, name := range m.details {
		pages[name] = fixture(m.t, name)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		switch {
		case strings.HasSuffix(r.URL.Path, ".8.0.1.0.html"):
			if m.searchStatus != 0 {
				w.WriteHeader(m.searchStatus)
			}
			_, _ = w.Write([]byte(pages[m.searchFixture]))
		case strings.Contains(r.URL.Path, ".8.0.1."):
			_, _ = w.Write([]byte(pages["search_empty.html"]))
		default:
			id := ""
			if mm := detailID.FindStringSubmatch(r.URL.Path); mm != nil {
				id = mm[1]
			}
			m.mu.Lock()
			m.visited = append(m.visited, id)
			m.mu.Unlock()
			if d, ok := m.slow[id]; ok {
				select {
				case <-time.After(d):
				case <-r.Context().Done():
					return
				}
			}
			if status, ok := m.detailStatus[id]; ok {
				w.WriteHeader(status)
				return
			}
			name, ok := m.details[id]
			if !ok {
				name = "detail_no_images.html"
			}
			_, _ = w.Write([]byte(pages[name]))
		}
	}))
	m.t.Cleanup(srv.Close)
	return srv
}

func newTestScraper(t *testing.T, baseURL string, concurrency int) *Scraper {
	t.Helper()
	client, err := scraper.NewHTTPClient(5 * time.Second)
	require.NoError(t, err)
	return New(Options{
		BaseURL:       baseURL,
		Pages:         3,
		Concurrency:   concurrency,
		DetailTimeout: 5 * time.Second,
		MaxRetries:    1,
		ZeroThreshold: 5,
	}, client, nil, nil, utils.NewTestLogger())
}

var berlinRooms = models.SearchFilter{
	Name:       "berlin-rooms",
	City:       "Berlin",
	Categories: []models.Category{models.CategorySharedRoom},
}

func TestCrawlHTTPOnly(t *testing.T) {
	m := &marketplace{
		t:             t,
		searchFixture: "search_page.html",
		details:       map[string]string{"9000001": "detail_modern.html", "9000002": "detail_legacy.html"},
		detailStatus:  map[string]int{"9000003": http.StatusServiceUnavailable},
	}
	srv := m.start()
	s := newTestScraper(t, srv.URL, 4)

	var (
		inFlight, maxInFlight atomic.Int32
		outcomes              = map[string]Outcome{}
	)
	summary := &models.RunSummary{}
	req := CrawlRequest{
		Filter: berlinRooms,
		Recrawl: []models.ListingStub{
			{Platform: models.PlatformWGGesucht, ExternalID: "9000001", URL: srv.URL + "/dup.9000001.html"},
			{Platform: models.PlatformWGGesucht, ExternalID: "9500000", URL: srv.URL + "/wg-zimmer-in-Berlin-Mitte.9500000.html"},
		},
	}

	s.Crawl(context.Background(), req, summary, func(_ context.Context, o Outcome) {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		outcomes[o.Stub.ExternalID] = o
		inFlight.Add(-1)
	})

	require.Equal(t, int32(1), maxInFlight.Load(), "handler calls must be serialized")
	require.Equal(t, 2, summary.PagesFetched)
	require.Equal(t, 18, summary.Found)
	require.Len(t, outcomes, 19)
	require.Equal(t, 1, summary.Failed)
	require.True(t, summary.Complete())
	require.False(t, summary.LoginOK)

	modern := outcomes["9000001"]
	require.NoError(t, modern.Err)
	require.NotNil(t, modern.Raw)
	require.Equal(t, "Helles WG-Zimmer mit Balkon", modern.Raw.Title)
	require.False(t, modern.Raw.ScrapedAt.IsZero())
	require.Len(t, modern.Raw.Images, 4)

	failed := outcomes["9000003"]
	require.Nil(t, failed.Raw)
	require.Equal(t, scraper.KindTransient, scraper.Kind(failed.Err))

	recrawl := outcomes["9500000"]
	require.NotNil(t, recrawl.Raw)
	require.Equal(t, "9500000", recrawl.Raw.ExternalID)

	var transient int
	for _, e := range summary.Errors {
		if e.Kind == string(scraper.KindTransient) {
			transient++
		}
	}
	require.Equal(t, 1, transient)
}

func TestCrawlSearchBlocked(t *testing.T) {
	m := &marketplace{t: t, searchFixture: "blocked.html"}
	srv := m.start()

	summary := &models.RunSummary{}
	var calls int
	newTestScraper(t, srv.URL, 2).Crawl(context.Background(), CrawlRequest{Filter: berlinRooms}, summary,
		func(context.Context, Outcome) { calls++ })

	require.True(t, summary.Blocked)
	require.False(t, summary.Complete())
	require.Zero(t, summary.PagesFetched)
	require.Zero(t, calls)
	require.Empty(t, m.visited)
}

func TestCrawlTemplateChange(t *testing.T) {
	m := &marketplace{t: t, searchFixture: "search_changed.html"}
	srv := m.start()

	summary := &models.RunSummary{}
	newTestScraper(t, srv.URL, 2).Crawl(context.Background(), CrawlRequest{Filter: berlinRooms}, summary,
		func(context.Context, Outcome) {})

	require.True(t, summary.StructureBroken)
	require.False(t, summary.Complete())
	require.Len(t, summary.Errors, 1)
	require.Equal(t, string(scraper.KindStructural), summary.Errors[0].Kind)
}

func TestCrawlDetailBlockStopsRemainingDetails(t *testing.T) {
	m := &marketplace{
		t:             t,
		searchFixture: "search_page.html",
		detailStatus:  map[string]int{},
	}
	for i := 1; i <= 18; i++ {
		m.detailStatus[strconv.Itoa(9000000+i)] = http.StatusForbidden
	}
	srv := m.start()

	summary := &models.RunSummary{}
	kinds := map[scraper.ErrorKind]int{}
	newTestScraper(t, srv.URL, 1).Crawl(context.Background(), CrawlRequest{Filter: berlinRooms}, summary,
		func(_ context.Context, o Outcome) {
			require.Nil(t, o.Raw)
			kinds[scraper.Kind(o.Err)]++
		})

	require.Equal(t, map[scraper.ErrorKind]int{scraper.KindBlocked: 1, scraper.KindSkipped: 17}, kinds)
	require.True(t, summary.Blocked)
	require.Len(t, m.visited, 1)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 17, summary.Skipped)
	require.Equal(t, summary.Found, summary.Failed+summary.Skipped)
	require.Len(t, summary.Errors, 1)
}

func TestCrawlGoneListing(t *testing.T) {
	m := &marketplace{
		t:             t,
		searchFixture: "search_empty.html",
		detailStatus:  map[string]int{"9500000": http.StatusNotFound, "9500001": http.StatusGone},
	}
	srv := m.start()

	summary := &models.RunSummary{}
	outcomes := map[string]Outcome{}
	req := CrawlRequest{
		Filter: berlinRooms,
		Recrawl: []models.ListingStub{
			{Platform: models.PlatformWGGesucht, ExternalID: "9500000", URL: srv.URL + "/wg-zimmer-in-Berlin-Mitte.9500000.html"},
			{Platform: models.PlatformWGGesucht, ExternalID: "9500001", URL: srv.URL + "/wg-zimmer-in-Berlin-Mitte.9500001.html"},
		},
	}
	newTestScraper(t, srv.URL, 2).Crawl(context.Background(), req, summary,
		func(_ context.Context, o Outcome) { outcomes[o.Stub.ExternalID] = o })

	require.Len(t, outcomes, 2)
	for id, o := range outcomes {
		require.Nil(t, o.Raw, id)
		require.Equal(t, scraper.KindGone, scraper.Kind(o.Err), id)
	}
	require.Equal(t, 2, summary.Gone)
	require.Zero(t, summary.Failed)
	require.Empty(t, summary.Errors)
	require.True(t, summary.Complete())
}

func TestCrawlDetailTimeout(t *testing.T) {
	m := &marketplace{
		t:             t,
		searchFixture: "search_page.html",
		details:       map[string]string{"9000001": "detail_modern.html"},
		slow:          map[string]time.Duration{"9000005": 10 * time.Second},
	}
	srv := m.start()

	client, err := scraper.NewHTTPClient(5 * time.Second)
	require.NoError(t, err)
	s := New(Options{
		BaseURL:       srv.URL,
		Pages:         1,
		Concurrency:   4,
		DetailTimeout: 300 * time.Millisecond,
		MaxRetries:    1,
		ZeroThreshold: 5,
	}, client, nil, nil, utils.NewTestLogger())

	summary := &models.RunSummary{}
	outcomes := map[string]Outcome{}
	started := time.Now()
	s.Crawl(context.Background(), CrawlRequest{Filter: berlinRooms}, summary,
		func(_ context.Context, o Outcome) { outcomes[o.Stub.ExternalID] = o })

	require.Less(t, time.Since(started), 5*time.Second, "the slow page must be abandoned")
	require.Len(t, outcomes, 18)

	slow := outcomes["9000005"]
	require.Nil(t, slow.Raw)
	require.Equal(t, scraper.KindTransient, scraper.Kind(slow.Err))
	require.True(t, scraper.IsRetryable(slow.Err))

	var completed int
	for id, o := range outcomes {
		if id != "9000005" && o.Raw != nil {
			completed++
		}
	}
	require.Equal(t, 17, completed)
	require.Equal(t, 1, summary.Failed)
	require.True(t, summary.Complete())
}

func TestDetectGone(t *testing.T) {
	tests := []struct {
		name string
		html string
		want bool
	}{
		{"not found page", `<html><head><title>Seite nicht gefunden - WG-Gesucht.de</title></head><body></body></html>`, true},
		{"deactivated alert", `<html><body><div id="main_column"><div class="alert alert-warning">Diese Anzeige ist nicht mehr aktiv.</div></div></body></html>`, true},
		{"deactivated marker", `<html><body><div id="deactivated_ad"></div></body></html>`, true},
		{"regular listing", fixture(t, "detail_modern.html"), false},
		{"foreign deactivated card", `<html><body><h1>Zimmer frei</h1><div class="similar_offers"><div class="alert">Anzeige wurde deaktiviert</div></div></body></html>`, false},
	}
	for _, tt := range tests {
		if _, got := DetectGone(htmlDoc(t, tt.html)); got != tt.want {
			t.Errorf("%s: DetectGone = %v; want %v", tt.name, got, tt.want)
		}
	}
}

func TestCrawlRecoversPanickingHandler(t *testing.T) {
	m := &marketplace{t: t, searchFixture: "search_page.html"}
	srv := m.start()

	summary := &models.RunSummary{}
	var calls atomic.Int32
	newTestScraper(t, srv.URL, 3).Crawl(context.Background(), CrawlRequest{Filter: berlinRooms}, summary,
		func(_ context.Context, o Outcome) {
			calls.Add(1)
			if o.Err == nil && o.Stub.ExternalID == "9000004" {
				panic("boom")
			}
		})

	// 18 regular outcomes plus the recovered panic of the one listing
	require.Equal(t, int32(19), calls.Load())
	var internal int
	for _, e := range summary.Errors {
		if e.Kind == string(scraper.KindInternal) {
			internal++
		}
	}
	require.Equal(t, 1, internal)
}

func TestApplyStubHints(t *testing.T) {
	price, size := 480.0, 20.5
	raw := models.RawListing{
		Strategies: map[string]string{FieldTitle: "main_h1"},
		Title:      "Zimmer",
		Unresolved: []string{FieldDistrict, FieldPrice, FieldSize},
	}
	applyStubHints(&raw, models.ListingStub{
		ExternalID:   "9000009",
		Title:        "ignored",
		RoughPrice:   &price,
		RoughSize:    &size,
		DistrictHint: "Wedding",
	})

	require.Equal(t, "9000009", raw.ExternalID)
	require.Equal(t, "Zimmer", raw.Title)
	require.Equal(t, "480 €", raw.RawPrice)
	require.Equal(t, "20.5 m²", raw.RawSize)
	require.Equal(t, "Wedding", raw.District)
	require.Equal(t, "search_card", raw.Strategies[FieldPrice])
	require.Empty(t, raw.Unresolved)
	require.Empty(t, missingCore(raw))
}
