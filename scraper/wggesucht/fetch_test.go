package wggesucht

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rental-crawler/scraper"
	"rental-crawler/utils"
)

func newTestFetcher(t *testing.T, browser scraper.PageSource, zeroThreshold int) *SearchFetcher {
	t.Helper()
	client, err := scraper.NewHTTPClient(5 * time.Second)
	require.NoError(t, err)
	retry := &utils.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Retryable: scraper.IsRetryable}
	return NewSearchFetcher(client, browser, utils.NewHostLimiter(0), retry, zeroThreshold, utils.NewTestLogger())
}

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchSearchPage(t *testing.T) {
	srv := serve(t, http.StatusOK, fixture(t, "search_page.html"))
	page, err := newTestFetcher(t, nil, 0).Fetch(context.Background(), srv.URL+"/wg-zimmer-in-Berlin.8.0.1.0.html", 0)
	require.NoError(t, err)
	require.Len(t, page.Stubs, 18)
	require.False(t, page.Rendered)
	require.False(t, page.Empty)
}

func TestFetchEmptySearch(t *testing.T) {
	srv := serve(t, http.StatusOK, fixture(t, "search_empty.html"))
	page, err := newTestFetcher(t, nil, 5).Fetch(context.Background(), srv.URL+"/x.0.html", 0)
	require.NoError(t, err)
	require.True(t, page.Empty)
	require.Empty(t, page.Stubs)
}

func TestFetchBlockedWithoutBrowser(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"forbidden", http.StatusForbidden, "nope"},
		{"rate limited", http.StatusTooManyRequests, ""},
		{"challenge page", http.StatusOK, fixture(t, "blocked.html")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, tt.status, tt.body)
			_, err := newTestFetcher(t, nil, 0).Fetch(context.Background(), srv.URL+"/x.0.html", 0)
			var be *scraper.BlockedError
			require.True(t, errors.As(err, &be), "want BlockedError, got %v", err)
		})
	}
}

func TestFetchEscalatesToBrowser(t *testing.T) {
	srv := serve(t, http.StatusOK, fixture(t, "blocked.html"))

	rendered := newFakePage("body")
	rendered.html = fixture(t, "search_page.html")
	browser := &fakeSource{pages: []*fakePage{rendered}}

	page, err := newTestFetcher(t, browser, 0).Fetch(context.Background(), srv.URL+"/x.0.html", 0)
	require.NoError(t, err)
	require.True(t, page.Rendered)
	require.Len(t, page.Stubs, 18)
	require.Equal(t, 1, browser.count())
}

func TestFetchStillBlockedAfterRendering(t *testing.T) {
	srv := serve(t, http.StatusForbidden, "")

	rendered := newFakePage("body")
	rendered.html = fixture(t, "blocked.html")

	_, err := newTestFetcher(t, &fakeSource{pages: []*fakePage{rendered}}, 0).
		Fetch(context.Background(), srv.URL+"/x.0.html", 0)
	var be *scraper.BlockedError
	require.True(t, errors.As(err, &be), "want BlockedError, got %v", err)
	require.Contains(t, be.Reason, "after rendering")
}

func TestFetchTemplateChange(t *testing.T) {
	srv := serve(t, http.StatusOK, fixture(t, "search_changed.html"))
	_, err := newTestFetcher(t, nil, 0).Fetch(context.Background(), srv.URL+"/x.0.html", 0)
	require.Equal(t, scraper.KindStructural, scraper.Kind(err))
}

func TestFetchZeroCardsAfterFullRunIsSuspicious(t *testing.T) {
	srv := serve(t, http.StatusOK, fixture(t, "search_empty.html"))
	_, err := newTestFetcher(t, nil, 5).Fetch(context.Background(), srv.URL+"/x.0.html", 20)
	require.Equal(t, scraper.KindBlocked, scraper.Kind(err))
}

func TestFetchRetriesServerErrors(t *testing.T) {
	body := fixture(t, "search_page.html")
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	page, err := newTestFetcher(t, nil, 0).Fetch(context.Background(), srv.URL+"/x.0.html", 0)
	require.NoError(t, err)
	require.Len(t, page.Stubs, 18)
	require.Equal(t, int32(3), calls.Load())
}

func TestFetchDoesNotRetryBlocks(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestFetcher(t, nil, 0).Fetch(context.Background(), srv.URL+"/x.0.html", 0)
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}
