package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rental-crawler/models"
	"rental-crawler/storage"
	"rental-crawler/utils"
)

func newTestServer(t *testing.T) (*httptest.Server, *storage.SQLStore, int64) {
	t.Helper()
	ctx := context.Background()
	store, err := storage.OpenSQLite(ctx, ":memory:", utils.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	rent := 620.0
	l := &models.ListingRecord{
		Platform:   models.PlatformWGGesucht,
		ExternalID: "9000001",
		URL:        "https://www.wg-gesucht.de/wg-zimmer-in-Berlin-Kreuzberg.9000001.html",
		Title:      "Zimmer in Kreuzberg",
		WarmRent:   &rent,
		District:   "Kreuzberg",
		Images:     []string{"https://img.wg-gesucht.de/media/up/1.large.jpg"},
		ScrapedAt:  time.Now(),
	}
	_, err = store.Upsert(ctx, l)
	require.NoError(t, err)

	_, err = store.InsertMatch(ctx, &models.MatchRecord{UserID: "u1", ListingID: l.ID, PreferenceID: "p1", MatchScore: 92})
	require.NoError(t, err)

	require.NoError(t, store.SaveRun(ctx, &models.RunSummary{
		RunID: "run-1", Platform: models.PlatformWGGesucht, Search: "berlin-rooms",
		StartedAt: time.Now().Add(-time.Minute), FinishedAt: time.Now(), Found: 20, Saved: 18,
	}))

	srv := httptest.NewServer(NewRouter(store, utils.NewTestLogger()))
	t.Cleanup(srv.Close)
	return srv, store, l.ID
}

func getJSON(t *testing.T, method, url string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestListingRoutes(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var l models.ListingRecord
	require.Equal(t, http.StatusOK, getJSON(t, http.MethodGet, srv.URL+"/listings/wg_gesucht/9000001", &l))
	require.Equal(t, "Kreuzberg", l.District)
	require.Len(t, l.Images, 1)

	require.Equal(t, http.StatusNotFound, getJSON(t, http.MethodGet, srv.URL+"/listings/wg_gesucht/404", nil))
	require.Equal(t, http.StatusBadRequest, getJSON(t, http.MethodGet, srv.URL+"/listings/ebay/1", nil))

	tests := []struct {
		query  string
		status int
		count  int
	}{
		{"", http.StatusOK, 1},
		{"?active=true&max_rent=650", http.StatusOK, 1},
		{"?max_rent=500", http.StatusOK, 0},
		{"?district=Mitte", http.StatusOK, 0},
		{"?max_rent=cheap", http.StatusBadRequest, 0},
		{"?active=maybe", http.StatusBadRequest, 0},
		{"?limit=0", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		var got []models.ListingRecord
		status := getJSON(t, http.MethodGet, srv.URL+"/listings"+tt.query, &got)
		if status != tt.status || len(got) != tt.count {
			t.Errorf("GET /listings%s = %d with %d listings; want %d with %d", tt.query, status, len(got), tt.status, tt.count)
		}
	}
}

func TestMatchEventsAreSetOnce(t *testing.T) {
	srv, _, id := newTestServer(t)
	base := srv.URL + "/users/u1/matches/"

	var first models.MatchRecord
	require.Equal(t, http.StatusOK, getJSON(t, http.MethodPost, base+itoa(id)+"/viewed", &first))
	require.NotNil(t, first.ViewedAt)
	require.Nil(t, first.SavedAt)

	time.Sleep(5 * time.Millisecond)
	var second models.MatchRecord
	require.Equal(t, http.StatusOK, getJSON(t, http.MethodPost, base+itoa(id)+"/viewed", &second))
	require.True(t, first.ViewedAt.Equal(*second.ViewedAt))

	require.Equal(t, http.StatusBadRequest, getJSON(t, http.MethodPost, base+itoa(id)+"/applied", nil))
	require.Equal(t, http.StatusNotFound, getJSON(t, http.MethodPost, base+"999/saved", nil))
	require.Equal(t, http.StatusMethodNotAllowed, getJSON(t, http.MethodGet, base+itoa(id)+"/saved", nil))

	var matches []models.MatchRecord
	require.Equal(t, http.StatusOK, getJSON(t, http.MethodGet, srv.URL+"/users/u1/matches", &matches))
	require.Len(t, matches, 1)
	require.Equal(t, 92, matches[0].MatchScore)
	require.NotNil(t, matches[0].ViewedAt)

	matches = nil
	require.Equal(t, http.StatusOK, getJSON(t, http.MethodGet, srv.URL+"/users/nobody/matches", &matches))
	require.Empty(t, matches)
}

func TestHealthAndLatestRun(t *testing.T) {
	srv, _, _ := newTestServer(t)

	require.Equal(t, http.StatusOK, getJSON(t, http.MethodGet, srv.URL+"/healthz", nil))

	var run models.RunSummary
	require.Equal(t, http.StatusOK, getJSON(t, http.MethodGet, srv.URL+"/runs/latest", &run))
	require.Equal(t, "run-1", run.RunID)
	require.Equal(t, 18, run.Saved)

	require.Equal(t, http.StatusOK, getJSON(t, http.MethodGet, srv.URL+"/runs/latest?search=berlin-rooms", &run))
	require.Equal(t, "run-1", run.RunID)
	require.Equal(t, http.StatusNotFound, getJSON(t, http.MethodGet, srv.URL+"/runs/latest?search=hamburg", nil))
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
