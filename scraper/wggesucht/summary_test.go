package wggesucht

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"rental-crawler/scraper"
)

const searchURL = "https://www.wg-gesucht.de/wg-zimmer-in-Berlin.8.0.1.0.html"

func TestParseSearchPageDropsRequests(t *testing.T) {
	stubs, err := ParseSearchPage(fixtureDoc(t, "search_page.html"), searchURL)
	require.NoError(t, err)
	require.Len(t, stubs, 18)

	for _, s := range stubs {
		if s.ExternalID == "8000001" || s.ExternalID == "8000002" {
			t.Errorf("request card %s was returned as an offer", s.ExternalID)
		}
	}

	first := stubs[0]
	require.Equal(t, "9000001", first.ExternalID)
	require.Equal(t, "https://www.wg-gesucht.de/wg-zimmer-in-Berlin-Neukoelln.9000001.html", first.URL)
	require.Equal(t, "Zimmer Nummer 1 in Neukölln", first.Title)
	require.Equal(t, "Neukölln", first.DistrictHint)
	require.Equal(t, "01.11.2026", first.AvailableHint)
	require.NotNil(t, first.RoughPrice)
	require.Equal(t, 410.0, *first.RoughPrice)
	require.NotNil(t, first.RoughSize)
	require.Equal(t, 13.0, *first.RoughSize)
	require.Nil(t, first.RoughRooms)
}

func TestParseSearchPageEmpty(t *testing.T) {
	doc := fixtureDoc(t, "search_empty.html")
	stubs, err := ParseSearchPage(doc, searchURL)
	require.NoError(t, err)
	require.Empty(t, stubs)
	require.True(t, IsEmptyResults(doc))
}

func TestParseSearchPageTemplateChange(t *testing.T) {
	_, err := ParseSearchPage(fixtureDoc(t, "search_changed.html"), searchURL)

	var sc *scraper.StructuralChangeError
	require.True(t, errors.As(err, &sc), "want StructuralChangeError, got %v", err)
	require.Equal(t, searchURL, sc.URL)
	require.NotEmpty(t, sc.Selectors)
}

func TestParseSearchPageDeduplicates(t *testing.T) {
	html := `<html><body>
<div class="offer_list_item" data-id="12345"><h3><a href="/wg-zimmer-in-Berlin-Mitte.12345.html">A</a></h3></div>
<div class="offer_list_item"><h3><a href="/wg-zimmer-in-Berlin-Mitte.12345.html">A again</a></h3></div>
<div class="offer_list_item"><h3><a href="/wg-zimmer-in-Berlin-Mitte.67890.html">B</a></h3></div>
<div class="offer_list_item"><p>no link</p></div>
</body></html>`
	stubs, err := ParseSearchPage(htmlDoc(t, html), searchURL)
	require.NoError(t, err)
	require.Len(t, stubs, 2)
	require.Equal(t, "12345", stubs[0].ExternalID)
	require.Equal(t, "67890", stubs[1].ExternalID)
}
