package storage

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rental-crawler/models"
)

func TestCSVWriterExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "listings.csv")
	w, err := NewCSVWriter(path)
	require.NoError(t, err)

	rec := models.ListingRecord{
		Platform:   models.PlatformWGGesucht,
		ExternalID: "9000001",
		Title:      "Zimmer, hell",
		Price:      models.Float(550.5),
		Rooms:      models.Float(2.5),
		District:   "Neukölln",
		Images:     []string{"a.jpg", "b.jpg"},
		IsActive:   true,
		URL:        "https://x/9000001.html",
		LastSeenAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, w.Export([]models.ListingRecord{rec}))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 2)
	require.Equal(t, csvHeader, rows[0])
	require.Equal(t, []string{
		"wg_gesucht", "9000001", "Zimmer, hell", "550.5", "", "", "2.5", "Neukölln",
		"", "a.jpg|b.jpg", "true", "https://x/9000001.html", "2026-10-01T12:00:00Z",
	}, rows[1])
}
