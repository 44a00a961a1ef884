package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"rental-crawler/utils"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS listings (
		id                BIGSERIAL PRIMARY KEY,
		platform          VARCHAR(50)      NOT NULL,
		external_id       TEXT             NOT NULL,
		url               TEXT             NOT NULL,
		title             TEXT             NOT NULL DEFAULT '',
		description       TEXT             NOT NULL DEFAULT '',
		price             DOUBLE PRECISION,
		warm_rent         DOUBLE PRECISION,
		size_sqm          DOUBLE PRECISION,
		rooms             DOUBLE PRECISION CHECK (rooms IS NULL OR rooms > 0),
		floor             INTEGER,
		total_floors      INTEGER,
		district          TEXT             NOT NULL DEFAULT '',
		address           TEXT             NOT NULL DEFAULT '',
		lat               DOUBLE PRECISION,
		lng               DOUBLE PRECISION,
		property_type     VARCHAR(20)      NOT NULL DEFAULT '',
		images            TEXT[]           NOT NULL DEFAULT '{}',
		amenities         TEXT,
		contact_name      TEXT             NOT NULL DEFAULT '',
		contact_phone     TEXT             NOT NULL DEFAULT '',
		contact_email     TEXT             NOT NULL DEFAULT '',
		allows_auto_apply BOOLEAN          NOT NULL DEFAULT FALSE,
		available_from    BIGINT,
		available_until   BIGINT,
		missed_passes     INTEGER          NOT NULL DEFAULT 0,
		needs_recrawl     BOOLEAN          NOT NULL DEFAULT FALSE,
		recrawl_reason    TEXT             NOT NULL DEFAULT '',
		scraped_at        BIGINT           NOT NULL DEFAULT 0,
		last_seen_at      BIGINT           NOT NULL DEFAULT 0,
		is_active         BOOLEAN          NOT NULL DEFAULT TRUE,
		created_at        BIGINT           NOT NULL DEFAULT 0,
		updated_at        BIGINT           NOT NULL DEFAULT 0,
		UNIQUE (platform, external_id)
	);

	CREATE INDEX IF NOT EXISTS idx_listings_active    ON listings(platform, is_active);
	CREATE INDEX IF NOT EXISTS idx_listings_price     ON listings(price);
	CREATE INDEX IF NOT EXISTS idx_listings_district  ON listings(district);
	CREATE INDEX IF NOT EXISTS idx_listings_last_seen ON listings(last_seen_at);

	CREATE TABLE IF NOT EXISTS recrawl_queue (
		platform    VARCHAR(50) NOT NULL,
		external_id TEXT        NOT NULL,
		url         TEXT        NOT NULL,
		reason      TEXT        NOT NULL DEFAULT '',
		flagged_at  BIGINT      NOT NULL,
		PRIMARY KEY (platform, external_id)
	);

	CREATE TABLE IF NOT EXISTS preferences (
		id      TEXT PRIMARY KEY,
		user_id TEXT    NOT NULL,
		active  BOOLEAN NOT NULL DEFAULT TRUE,
		body    TEXT    NOT NULL
	);

	CREATE TABLE IF NOT EXISTS matches (
		id            BIGSERIAL PRIMARY KEY,
		user_id       TEXT    NOT NULL,
		listing_id    BIGINT  NOT NULL REFERENCES listings(id),
		preference_id TEXT    NOT NULL DEFAULT '',
		match_score   INTEGER NOT NULL CHECK (match_score BETWEEN 0 AND 100),
		matched_at    BIGINT  NOT NULL,
		notified_at   BIGINT,
		viewed_at     BIGINT,
		dismissed_at  BIGINT,
		saved_at      BIGINT,
		UNIQUE (user_id, listing_id)
	);

	CREATE TABLE IF NOT EXISTS sessions (
		platform VARCHAR(50) PRIMARY KEY,
		state    TEXT   NOT NULL,
		saved_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		run_id     TEXT PRIMARY KEY,
		platform   VARCHAR(50) NOT NULL,
		search     TEXT        NOT NULL DEFAULT '',
		started_at BIGINT      NOT NULL,
		summary    TEXT        NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_search ON runs (platform, search, started_at);
`

var postgresDialect = dialect{
	name:      "postgres",
	numbered:  true,
	forUpdate: " FOR UPDATE",
	schema:    postgresSchema,
	encodeImages: func(images []string) (any, error) {
		if images == nil {
			images = []string{}
		}
		return pq.Array(images), nil
	},
	imageScanner: func(dst *[]string) any { return pq.Array(dst) },
}

// OpenPostgres connects to PostgreSQL, waits for the server to accept
// connections, runs schema migrations and returns a ready-to-use store.
func OpenPostgres(ctx context.Context, dsn string, logger *utils.Logger) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		logger.Warn("[postgres] ping failed (attempt %d/10): %v", i+1, err)
		if serr := utils.Sleep(ctx, 2*time.Second); serr != nil {
			break
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	s := newSQLStore(db, postgresDialect, logger)
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
