package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"

	"rental-crawler/utils"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS listings (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		platform          TEXT    NOT NULL,
		external_id       TEXT    NOT NULL,
		url               TEXT    NOT NULL,
		title             TEXT    NOT NULL DEFAULT '',
		description       TEXT    NOT NULL DEFAULT '',
		price             REAL,
		warm_rent         REAL,
		size_sqm          REAL,
		rooms             REAL CHECK (rooms IS NULL OR rooms > 0),
		floor             INTEGER,
		total_floors      INTEGER,
		district          TEXT    NOT NULL DEFAULT '',
		address           TEXT    NOT NULL DEFAULT '',
		lat               REAL,
		lng               REAL,
		property_type     TEXT    NOT NULL DEFAULT '',
		images            TEXT    NOT NULL DEFAULT '[]',
		amenities         TEXT,
		contact_name      TEXT    NOT NULL DEFAULT '',
		contact_phone     TEXT    NOT NULL DEFAULT '',
		contact_email     TEXT    NOT NULL DEFAULT '',
		allows_auto_apply BOOLEAN NOT NULL DEFAULT 0,
		available_from    INTEGER,
		available_until   INTEGER,
		missed_passes     INTEGER NOT NULL DEFAULT 0,
		needs_recrawl     BOOLEAN NOT NULL DEFAULT 0,
		recrawl_reason    TEXT    NOT NULL DEFAULT '',
		scraped_at        INTEGER NOT NULL DEFAULT 0,
		last_seen_at      INTEGER NOT NULL DEFAULT 0,
		is_active         BOOLEAN NOT NULL DEFAULT 1,
		created_at        INTEGER NOT NULL DEFAULT 0,
		updated_at        INTEGER NOT NULL DEFAULT 0,
		UNIQUE (platform, external_id)
	);

	CREATE INDEX IF NOT EXISTS idx_listings_active    ON listings(platform, is_active);
	CREATE INDEX IF NOT EXISTS idx_listings_last_seen ON listings(last_seen_at);

	CREATE TABLE IF NOT EXISTS recrawl_queue (
		platform    TEXT    NOT NULL,
		external_id TEXT    NOT NULL,
		url         TEXT    NOT NULL,
		reason      TEXT    NOT NULL DEFAULT '',
		flagged_at  INTEGER NOT NULL,
		PRIMARY KEY (platform, external_id)
	);

	CREATE TABLE IF NOT EXISTS preferences (
		id      TEXT PRIMARY KEY,
		user_id TEXT    NOT NULL,
		active  BOOLEAN NOT NULL DEFAULT 1,
		body    TEXT    NOT NULL
	);

	CREATE TABLE IF NOT EXISTS matches (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id       TEXT    NOT NULL,
		listing_id    INTEGER NOT NULL REFERENCES listings(id),
		preference_id TEXT    NOT NULL DEFAULT '',
		match_score   INTEGER NOT NULL CHECK (match_score BETWEEN 0 AND 100),
		matched_at    INTEGER NOT NULL,
		notified_at   INTEGER,
		viewed_at     INTEGER,
		dismissed_at  INTEGER,
		saved_at      INTEGER,
		UNIQUE (user_id, listing_id)
	);

	CREATE TABLE IF NOT EXISTS sessions (
		platform TEXT PRIMARY KEY,
		state    TEXT    NOT NULL,
		saved_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		run_id     TEXT PRIMARY KEY,
		platform   TEXT    NOT NULL,
		search     TEXT    NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		summary    TEXT    NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_search ON runs (platform, search, started_at);
`

// jsonStrings scans a JSON array column into a string slice.
type jsonStrings struct{ dst *[]string }

func (j jsonStrings) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*j.dst = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("sqlite: images: unsupported type %T", src)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	if len(out) == 0 {
		out = nil
	}
	*j.dst = out
	return nil
}

var sqliteDialect = dialect{
	name:   "sqlite",
	schema: sqliteSchema,
	encodeImages: func(images []string) (any, error) {
		if images == nil {
			images = []string{}
		}
		b, err := json.Marshal(images)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	},
	imageScanner: func(dst *[]string) any { return jsonStrings{dst: dst} },
}

// remoteSchemes are served by the libsql client instead of the embedded
// SQLite engine.
var remoteSchemes = []string{"libsql://", "http://", "https://", "ws://", "wss://"}

// OpenSQLite opens an embedded SQLite database (a file path or ":memory:")
// or a remote libsql database (libsql://, https://, wss:// URLs) and runs
// schema migrations.
func OpenSQLite(ctx context.Context, path string, logger *utils.Logger) (*SQLStore, error) {
	driverName, dsn := "sqlite", path
	for _, scheme := range remoteSchemes {
		if strings.HasPrefix(path, scheme) {
			driverName = "libsql"
			break
		}
	}
	if driverName == "sqlite" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(strings.TrimPrefix(path, "file:")), 0755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
		dsn = "file:" + strings.TrimPrefix(path, "file:") + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if driverName == "sqlite" {
		// an in-memory database exists per connection
		db.SetMaxOpenConns(1)
	}

	d := sqliteDialect
	if driverName == "libsql" {
		d.name = "libsql"
	}
	s := newSQLStore(db, d, logger)
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Debug("[%s] opened %s", d.name, path)
	return s, nil
}
