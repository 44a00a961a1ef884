package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"rental-crawler/models"
)

var csvHeader = []string{
	"platform", "external_id", "title", "price", "warm_rent", "size_sqm", "rooms", "district",
	"property_type", "images", "is_active", "url", "last_seen_at",
}

// CSVWriter exports normalized listings to a CSV file.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w}, nil
}

// Export appends one row per listing. Unset numbers are empty cells and
// image URLs are joined with "|".
func (c *CSVWriter) Export(listings []models.ListingRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, l := range listings {
		row := []string{
			string(l.Platform),
			l.ExternalID,
			l.Title,
			formatOptional(l.Price),
			formatOptional(l.WarmRent),
			formatOptional(l.SizeSqm),
			formatOptional(l.Rooms),
			l.District,
			string(l.PropertyType),
			strings.Join(l.Images, "|"),
			strconv.FormatBool(l.IsActive),
			l.URL,
			l.LastSeenAt.Format(time.RFC3339),
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}
