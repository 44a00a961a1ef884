package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"rental-crawler/models"
	"rental-crawler/utils"
)

// dialect isolates the few places where Postgres and SQLite differ.
type dialect struct {
	name         string
	numbered     bool   // $1 placeholders instead of ?
	forUpdate    string // row lock suffix for SELECT inside a transaction
	schema       string
	encodeImages func(images []string) (any, error)
	imageScanner func(dst *[]string) any
}

// SQLStore implements Store on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *utils.Logger
	now     func() time.Time
}

func newSQLStore(db *sql.DB, d dialect, logger *utils.Logger) *SQLStore {
	return &SQLStore{db: db, dialect: d, logger: logger, now: time.Now}
}

// migrate creates the schema statement by statement; some drivers reject
// multi-statement Exec.
func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(s.dialect.schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: migrate: %w", s.dialect.name, err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders for dialects with numbered parameters.
func (s *SQLStore) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var (
		b strings.Builder
		n int
	)
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) errorf(op string, err error) error {
	return fmt.Errorf("%s: %s: %w", s.dialect.name, op, err)
}

const listingColumns = `id, platform, external_id, url, title, description, price, warm_rent,
	size_sqm, rooms, floor, total_floors, district, address, lat, lng, property_type,
	images, amenities, contact_name, contact_phone, contact_email, allows_auto_apply,
	available_from, available_until, missed_passes, needs_recrawl, recrawl_reason,
	scraped_at, last_seen_at, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) scanListing(row rowScanner) (*models.ListingRecord, error) {
	var (
		l                               models.ListingRecord
		platform, propertyType          string
		price, warm, size, rooms        sql.NullFloat64
		lat, lng                        sql.NullFloat64
		floor, totalFloors              sql.NullInt64
		availFrom, availUntil           sql.NullInt64
		amenities                       sql.NullString
		scraped, seen, created, updated int64
	)
	err := row.Scan(
		&l.ID, &platform, &l.ExternalID, &l.URL, &l.Title, &l.Description, &price, &warm,
		&size, &rooms, &floor, &totalFloors, &l.District, &l.Address, &lat, &lng, &propertyType,
		s.dialect.imageScanner(&l.Images), &amenities, &l.ContactName, &l.ContactPhone, &l.ContactEmail, &l.AllowsAutoApply,
		&availFrom, &availUntil, &l.MissedPasses, &l.NeedsRecrawl, &l.RecrawlReason,
		&scraped, &seen, &l.IsActive, &created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.errorf("scan listing", err)
	}

	l.Platform = models.Platform(platform)
	l.PropertyType = models.PropertyType(propertyType)
	l.Price, l.WarmRent = nullFloat(price), nullFloat(warm)
	l.SizeSqm, l.Rooms = nullFloat(size), nullFloat(rooms)
	l.Lat, l.Lng = nullFloat(lat), nullFloat(lng)
	l.Floor, l.TotalFloors = nullInt(floor), nullInt(totalFloors)
	l.AvailableFrom, l.AvailableUntil = nullTime(availFrom), nullTime(availUntil)
	l.ScrapedAt, l.LastSeenAt = fromMillis(scraped), fromMillis(seen)
	l.CreatedAt, l.UpdatedAt = fromMillis(created), fromMillis(updated)
	if amenities.Valid && amenities.String != "" {
		if err := json.Unmarshal([]byte(amenities.String), &l.Amenities); err != nil {
			return nil, s.errorf("decode amenities", err)
		}
	}
	return &l, nil
}

// Upsert reads the existing row, merges the observation into it and writes
// the result in one transaction.
func (s *SQLStore) Upsert(ctx context.Context, rec *models.ListingRecord) (UpsertResult, error) {
	now := s.now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", s.errorf("begin upsert", err)
	}
	defer tx.Rollback()

	existing, err := s.scanListing(tx.QueryRowContext(ctx, s.rebind(
		`SELECT `+listingColumns+` FROM listings WHERE platform = ? AND external_id = ?`+s.dialect.forUpdate),
		string(rec.Platform), rec.ExternalID))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}

	var result UpsertResult
	if existing == nil {
		fresh := *rec
		fresh.IsActive = true
		fresh.MissedPasses = 0
		fresh.CreatedAt = now
		fresh.UpdatedAt = now
		fresh.LastSeenAt = now
		if err := s.insertListing(ctx, tx, &fresh); err != nil {
			return "", err
		}
		*rec = fresh
		result = Created
	} else {
		merged, err := MergeListing(*existing, *rec, now)
		if err != nil {
			return "", s.errorf("merge listing", err)
		}
		result = Updated
		if sameContent(merged, *existing) {
			result = Unchanged
			merged.UpdatedAt = existing.UpdatedAt
		} else {
			merged.UpdatedAt = now
		}
		if err := s.updateListing(ctx, tx, &merged); err != nil {
			return "", err
		}
		*rec = merged
	}

	if !rec.NeedsRecrawl {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM recrawl_queue WHERE platform = ? AND external_id = ?`),
			string(rec.Platform), rec.ExternalID); err != nil {
			return "", s.errorf("clear recrawl", err)
		}
	}
	if err := s.commit(tx, "upsert"); err != nil {
		return "", err
	}
	return result, nil
}

func (s *SQLStore) listingArgs(l *models.ListingRecord) ([]any, error) {
	images, err := s.dialect.encodeImages(l.Images)
	if err != nil {
		return nil, s.errorf("encode images", err)
	}
	var amenities any
	if len(l.Amenities) > 0 {
		b, err := json.Marshal(l.Amenities)
		if err != nil {
			return nil, s.errorf("encode amenities", err)
		}
		amenities = string(b)
	}
	return []any{
		string(l.Platform), l.ExternalID, l.URL, l.Title, l.Description, l.Price, l.WarmRent,
		l.SizeSqm, l.Rooms, l.Floor, l.TotalFloors, l.District, l.Address, l.Lat, l.Lng, string(l.PropertyType),
		images, amenities, l.ContactName, l.ContactPhone, l.ContactEmail, l.AllowsAutoApply,
		optMillis(l.AvailableFrom), optMillis(l.AvailableUntil), l.MissedPasses, l.NeedsRecrawl, l.RecrawlReason,
		millis(l.ScrapedAt), millis(l.LastSeenAt), l.IsActive, millis(l.CreatedAt), millis(l.UpdatedAt),
	}, nil
}

func (s *SQLStore) insertListing(ctx context.Context, tx *sql.Tx, l *models.ListingRecord) error {
	args, err := s.listingArgs(l)
	if err != nil {
		return err
	}
	query := s.rebind(`INSERT INTO listings (` + strings.TrimPrefix(listingColumns, "id, ") + `)
		VALUES (` + strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ") + `)
		RETURNING id`)
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&l.ID); err != nil {
		return s.errorf("insert listing", err)
	}
	return nil
}

func (s *SQLStore) updateListing(ctx context.Context, tx *sql.Tx, l *models.ListingRecord) error {
	args, err := s.listingArgs(l)
	if err != nil {
		return err
	}
	cols := strings.Split(strings.TrimPrefix(listingColumns, "id, "), ",")
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = strings.TrimSpace(c) + " = ?"
	}
	query := s.rebind(`UPDATE listings SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, query, append(args, l.ID)...); err != nil {
		return s.errorf("update listing", err)
	}
	return nil
}

// Get loads a listing by its composite key.
func (s *SQLStore) Get(ctx context.Context, key models.ListingKey) (*models.ListingRecord, error) {
	return s.scanListing(s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+listingColumns+` FROM listings WHERE platform = ? AND external_id = ?`),
		string(key.Platform), key.ExternalID))
}

// GetByID loads a listing by its row id.
func (s *SQLStore) GetByID(ctx context.Context, id int64) (*models.ListingRecord, error) {
	return s.scanListing(s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+listingColumns+` FROM listings WHERE id = ?`), id))
}

// List returns listings matching q ordered by id.
func (s *SQLStore) List(ctx context.Context, q ListingQuery) ([]models.ListingRecord, error) {
	var (
		where []string
		args  []any
	)
	if q.Platform != "" {
		where = append(where, "platform = ?")
		args = append(args, string(q.Platform))
	}
	if q.ActiveOnly {
		where = append(where, "is_active = ?")
		args = append(args, true)
	}
	if q.MaxRent != nil {
		where = append(where, "COALESCE(warm_rent, price) <= ?")
		args = append(args, *q.MaxRent)
	}
	if q.District != "" {
		where = append(where, "district = ?")
		args = append(args, q.District)
	}

	query := `SELECT ` + listingColumns + ` FROM listings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if q.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, s.errorf("list listings", err)
	}
	defer rows.Close()

	var listings []models.ListingRecord
	for rows.Next() {
		l, err := s.scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

// MarkMissed counts one missed pass for every active listing not seen since
// seenBefore.
func (s *SQLStore) MarkMissed(ctx context.Context, platform models.Platform, seenBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE listings SET missed_passes = missed_passes + 1
		WHERE platform = ? AND is_active = ? AND last_seen_at < ?`),
		string(platform), true, millis(seenBefore))
	if err != nil {
		return 0, s.errorf("mark missed", err)
	}
	return res.RowsAffected()
}

// Sweep flips is_active on the selected rows in a single statement, so a
// listing transitions at most once per deactivation.
func (s *SQLStore) Sweep(ctx context.Context, p SweepPolicy) ([]int64, error) {
	now := p.Now
	if now.IsZero() {
		now = s.now()
	}

	var (
		rules []string
		args  = []any{false, millis(now), true}
	)
	if p.MissedPasses > 0 {
		rules = append(rules, "missed_passes >= ?")
		args = append(args, p.MissedPasses)
	}
	if p.StaleAfter > 0 {
		rules = append(rules, "last_seen_at < ?")
		args = append(args, millis(now.Add(-p.StaleAfter)))
	}
	if p.AvailabilityGrace > 0 {
		rules = append(rules, "(available_until IS NOT NULL AND available_until < ?)")
		args = append(args, millis(now.Add(-p.AvailabilityGrace)))
	}
	if p.StartedLongAgo > 0 {
		rules = append(rules, "(available_from IS NOT NULL AND available_from < ?)")
		args = append(args, millis(now.Add(-p.StartedLongAgo)))
	}
	if len(rules) == 0 {
		return nil, nil
	}

	query := `UPDATE listings SET is_active = ?, updated_at = ? WHERE is_active = ? AND (` + strings.Join(rules, " OR ") + `)`
	if p.Platform != "" {
		query += " AND platform = ?"
		args = append(args, string(p.Platform))
	}
	query += " RETURNING id"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, s.errorf("sweep", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, s.errorf("sweep: scan id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FlagRecrawl queues a candidate for the next pass and flags the stored
// listing, if any.
func (s *SQLStore) FlagRecrawl(ctx context.Context, stub models.ListingStub, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.errorf("begin flag recrawl", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO recrawl_queue (platform, external_id, url, reason, flagged_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (platform, external_id) DO UPDATE SET url = excluded.url, reason = excluded.reason, flagged_at = excluded.flagged_at`),
		string(stub.Platform), stub.ExternalID, stub.URL, reason, millis(s.now())); err != nil {
		return s.errorf("queue recrawl", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE listings SET needs_recrawl = ?, recrawl_reason = ? WHERE platform = ? AND external_id = ?`),
		true, reason, string(stub.Platform), stub.ExternalID); err != nil {
		return s.errorf("flag listing", err)
	}
	return s.commit(tx, "flag recrawl")
}

// ClearRecrawl drops a candidate from the queue and clears the flag on the
// stored listing.
func (s *SQLStore) ClearRecrawl(ctx context.Context, key models.ListingKey) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.errorf("begin clear recrawl", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(
		`DELETE FROM recrawl_queue WHERE platform = ? AND external_id = ?`),
		string(key.Platform), key.ExternalID); err != nil {
		return s.errorf("dequeue recrawl", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE listings SET needs_recrawl = ?, recrawl_reason = ? WHERE platform = ? AND external_id = ?`),
		false, "", string(key.Platform), key.ExternalID); err != nil {
		return s.errorf("unflag listing", err)
	}
	return s.commit(tx, "clear recrawl")
}

func (s *SQLStore) commit(tx *sql.Tx, op string) error {
	if err := tx.Commit(); err != nil {
		return s.errorf("commit "+op, err)
	}
	return nil
}

// ListRecrawl returns queued candidates followed by active listings flagged
// during normalization, oldest first, de-duplicated by external id.
func (s *SQLStore) ListRecrawl(ctx context.Context, platform models.Platform, limit int) ([]models.ListingStub, error) {
	if limit <= 0 {
		limit = 100
	}
	queries := []string{
		`SELECT external_id, url FROM recrawl_queue WHERE platform = ? ORDER BY flagged_at LIMIT ` + strconv.Itoa(limit),
		`SELECT external_id, url FROM listings WHERE platform = ? AND is_active = ? AND needs_recrawl = ? ORDER BY last_seen_at LIMIT ` + strconv.Itoa(limit),
	}
	argSets := [][]any{{string(platform)}, {string(platform), true, true}}

	seen := map[string]bool{}
	var stubs []models.ListingStub
	for i, q := range queries {
		rows, err := s.db.QueryContext(ctx, s.rebind(q), argSets[i]...)
		if err != nil {
			return nil, s.errorf("list recrawl", err)
		}
		for rows.Next() {
			st := models.ListingStub{Platform: platform}
			if err := rows.Scan(&st.ExternalID, &st.URL); err != nil {
				rows.Close()
				return nil, s.errorf("list recrawl: scan", err)
			}
			if !seen[st.ExternalID] && len(stubs) < limit {
				seen[st.ExternalID] = true
				stubs = append(stubs, st)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, s.errorf("list recrawl", err)
		}
	}
	return stubs, nil
}

// SavePreference inserts or replaces a search preference.
func (s *SQLStore) SavePreference(ctx context.Context, p models.UserSearchPreference) error {
	body, err := json.Marshal(p)
	if err != nil {
		return s.errorf("encode preference", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO preferences (id, user_id, active, body) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET user_id = excluded.user_id, active = excluded.active, body = excluded.body`),
		p.ID, p.UserID, p.Active, string(body))
	if err != nil {
		return s.errorf("save preference", err)
	}
	return nil
}

// ListPreferences returns stored preferences ordered by id.
func (s *SQLStore) ListPreferences(ctx context.Context, activeOnly bool) ([]models.UserSearchPreference, error) {
	query, args := `SELECT body FROM preferences`, []any{}
	if activeOnly {
		query += ` WHERE active = ?`
		args = append(args, true)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query+` ORDER BY id`), args...)
	if err != nil {
		return nil, s.errorf("list preferences", err)
	}
	defer rows.Close()

	var prefs []models.UserSearchPreference
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, s.errorf("list preferences: scan", err)
		}
		var p models.UserSearchPreference
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			return nil, s.errorf("decode preference", err)
		}
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

const matchColumns = `id, user_id, listing_id, preference_id, match_score, matched_at,
	notified_at, viewed_at, dismissed_at, saved_at`

// eventColumns whitelists the lifecycle columns RecordEvent may touch.
var eventColumns = map[models.MatchEvent]string{
	models.MatchNotified:  "notified_at",
	models.MatchViewed:    "viewed_at",
	models.MatchDismissed: "dismissed_at",
	models.MatchSaved:     "saved_at",
}

func (s *SQLStore) scanMatch(row rowScanner) (*models.MatchRecord, error) {
	var (
		m                                  models.MatchRecord
		matched                            int64
		notified, viewed, dismissed, saved sql.NullInt64
	)
	err := row.Scan(&m.ID, &m.UserID, &m.ListingID, &m.PreferenceID, &m.MatchScore, &matched,
		&notified, &viewed, &dismissed, &saved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.errorf("scan match", err)
	}
	m.MatchedAt = fromMillis(matched)
	m.NotifiedAt, m.ViewedAt = nullTime(notified), nullTime(viewed)
	m.DismissedAt, m.SavedAt = nullTime(dismissed), nullTime(saved)
	return &m, nil
}

// InsertMatch stores m if the (user, listing) pair is new.
func (s *SQLStore) InsertMatch(ctx context.Context, m *models.MatchRecord) (bool, error) {
	if m.MatchedAt.IsZero() {
		m.MatchedAt = s.now()
	}
	err := s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO matches (user_id, listing_id, preference_id, match_score, matched_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, listing_id) DO NOTHING RETURNING id`),
		m.UserID, m.ListingID, m.PreferenceID, m.MatchScore, millis(m.MatchedAt)).Scan(&m.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, s.errorf("insert match", err)
	}
	return true, nil
}

// ListMatches returns a user's matches, best score first.
func (s *SQLStore) ListMatches(ctx context.Context, userID string) ([]models.MatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+matchColumns+` FROM matches WHERE user_id = ? ORDER BY match_score DESC, id`), userID)
	if err != nil {
		return nil, s.errorf("list matches", err)
	}
	defer rows.Close()

	var matches []models.MatchRecord
	for rows.Next() {
		m, err := s.scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, *m)
	}
	return matches, rows.Err()
}

// RecordEvent sets the lifecycle timestamp for event unless it is already set.
func (s *SQLStore) RecordEvent(ctx context.Context, userID string, listingID int64, event models.MatchEvent, at time.Time) (*models.MatchRecord, error) {
	col, ok := eventColumns[event]
	if !ok {
		return nil, fmt.Errorf("%s: unknown match event %q", s.dialect.name, event)
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE matches SET `+col+` = ? WHERE user_id = ? AND listing_id = ? AND `+col+` IS NULL`),
		millis(at), userID, listingID); err != nil {
		return nil, s.errorf("record "+string(event), err)
	}
	return s.scanMatch(s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+matchColumns+` FROM matches WHERE user_id = ? AND listing_id = ?`), userID, listingID))
}

// LoadSession returns the persisted session or nil when none was saved.
func (s *SQLStore) LoadSession(ctx context.Context, platform models.Platform) (*models.SessionState, error) {
	var body string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT state FROM sessions WHERE platform = ?`), string(platform)).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.errorf("load session", err)
	}
	var st models.SessionState
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		return nil, s.errorf("decode session", err)
	}
	return &st, nil
}

// SaveSession replaces the persisted session of st.Platform.
func (s *SQLStore) SaveSession(ctx context.Context, st *models.SessionState) error {
	body, err := json.Marshal(st)
	if err != nil {
		return s.errorf("encode session", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO sessions (platform, state, saved_at) VALUES (?, ?, ?)
		ON CONFLICT (platform) DO UPDATE SET state = excluded.state, saved_at = excluded.saved_at`),
		string(st.Platform), string(body), millis(s.now()))
	if err != nil {
		return s.errorf("save session", err)
	}
	return nil
}

// SaveRun stores or replaces a run summary.
func (s *SQLStore) SaveRun(ctx context.Context, r *models.RunSummary) error {
	body, err := json.Marshal(r)
	if err != nil {
		return s.errorf("encode run", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO runs (run_id, platform, search, started_at, summary) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET summary = excluded.summary`),
		r.RunID, string(r.Platform), r.Search, millis(r.StartedAt), string(body))
	if err != nil {
		return s.errorf("save run", err)
	}
	return nil
}

// LatestRun returns the most recently started run of search on platform.
// An empty search matches runs of any search.
func (s *SQLStore) LatestRun(ctx context.Context, platform models.Platform, search string) (*models.RunSummary, error) {
	query, args := `SELECT summary FROM runs WHERE platform = ?`, []any{string(platform)}
	if search != "" {
		query += ` AND search = ?`
		args = append(args, search)
	}
	var body string
	err := s.db.QueryRowContext(ctx, s.rebind(query+` ORDER BY started_at DESC LIMIT 1`), args...).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.errorf("latest run", err)
	}
	var r models.RunSummary
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, s.errorf("decode run", err)
	}
	return &r, nil
}

// Timestamps are stored as Unix milliseconds so range predicates compare
// the same way in every dialect.
func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func optMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
