package cache

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const duckSchema = `
CREATE TABLE IF NOT EXISTS url_metadata_cache (
	url_hash          VARCHAR PRIMARY KEY,
	url               VARCHAR NOT NULL,
	normalized_url    VARCHAR NOT NULL,
	title             VARCHAR,
	description       VARCHAR,
	image_url         VARCHAR,
	price             DOUBLE,
	currency          VARCHAR,
	platform          VARCHAR,
	extraction_method VARCHAR,
	metadata          VARCHAR,
	hit_count         BIGINT NOT NULL DEFAULT 0,
	extracted_at      TIMESTAMP,
	last_accessed_at  TIMESTAMP,
	expires_at        TIMESTAMP NOT NULL,
	created_at        TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL
)`

const entryColumns = `url_hash, url, normalized_url, title, description, image_url,
	price, currency, platform, extraction_method, metadata,
	hit_count, extracted_at, last_accessed_at, expires_at, created_at, updated_at`

// NewDuckStore opens (or creates) a DuckDB backed store at path.
// An empty path opens an in-memory database.
func NewDuckStore(path string) (*DuckStore, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if _, err := db.Exec(duckSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize cache schema")
	}

	return &DuckStore{db: db}, nil
}

// DuckStore persists the entry table in a DuckDB database. Concurrent
// writers for the same hash are resolved by the upsert conflict clause,
// never surfaced as an error.
type DuckStore struct {
	db *sql.DB
}

// Get implements Store
func (s *DuckStore) Get(hash string) (*Entry, error) {
	row := s.db.QueryRow(
		`SELECT `+entryColumns+` FROM url_metadata_cache WHERE url_hash = ?`, hash)

	return scanEntry(row)
}

// Upsert implements Store
func (s *DuckStore) Upsert(e *Entry) (*Entry, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	blob, err := marshalMetadata(e.Metadata)
	if err != nil {
		return nil, err
	}

	// hit_count, created_at and last_accessed_at deliberately survive the
	// conflict update
	_, err = s.db.Exec(`
		INSERT INTO url_metadata_cache (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (url_hash) DO UPDATE SET
			url = excluded.url,
			normalized_url = excluded.normalized_url,
			title = excluded.title,
			description = excluded.description,
			image_url = excluded.image_url,
			price = excluded.price,
			currency = excluded.currency,
			platform = excluded.platform,
			extraction_method = excluded.extraction_method,
			metadata = excluded.metadata,
			extracted_at = excluded.extracted_at,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		e.URLHash, e.URL, e.NormalizedURL,
		nullString(e.Title), nullString(e.Description), nullString(e.ImageURL),
		nullFloat(e.Price), nullString(e.Currency), nullString(e.Platform),
		nullString(e.ExtractionMethod), nullString(blob),
		e.HitCount, e.ExtractedAt, nullTime(e.LastAccessedAt),
		e.ExpiresAt, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert cache entry")
	}

	return s.Get(e.URLHash)
}

// Touch implements Store
func (s *DuckStore) Touch(hash string, access time.Time, expires time.Time) (*Entry, error) {
	var err error
	var res sql.Result
	if expires.IsZero() {
		res, err = s.db.Exec(`
			UPDATE url_metadata_cache
			SET hit_count = hit_count + 1, last_accessed_at = ?, updated_at = ?
			WHERE url_hash = ?`, access, access, hash)
	} else {
		res, err = s.db.Exec(`
			UPDATE url_metadata_cache
			SET hit_count = hit_count + 1, last_accessed_at = ?, updated_at = ?, expires_at = ?
			WHERE url_hash = ?`, access, access, expires, hash)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to touch cache entry")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrEntryNotFound
	}

	return s.Get(hash)
}

// Delete implements Store
func (s *DuckStore) Delete(hash string) error {
	res, err := s.db.Exec(`DELETE FROM url_metadata_cache WHERE url_hash = ?`, hash)
	if err != nil {
		return errors.Wrap(err, "failed to delete cache entry")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrEntryNotFound
	}

	return nil
}

// DeleteExpired implements Store
func (s *DuckStore) DeleteExpired(now time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM url_metadata_cache WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete expired cache entries")
	}

	return rowsAffected(res), nil
}

// EvictOverCap implements Store
func (s *DuckStore) EvictOverCap(cap int) (int, error) {
	if cap <= 0 {
		return 0, nil
	}
	total, err := s.Count()
	if err != nil {
		return 0, err
	}
	excess := total - cap
	if excess <= 0 {
		return 0, nil
	}

	res, err := s.db.Exec(fmt.Sprintf(`
		DELETE FROM url_metadata_cache WHERE url_hash IN (
			SELECT url_hash FROM url_metadata_cache
			ORDER BY hit_count ASC, last_accessed_at ASC
			LIMIT %d
		)`, excess))
	if err != nil {
		return 0, errors.Wrap(err, "failed to evict cache entries over cap")
	}

	return rowsAffected(res), nil
}

// PopularExpired implements Store
func (s *DuckStore) PopularExpired(now time.Time, threshold int64) ([]*Entry, error) {
	rows, err := s.db.Query(`
		SELECT `+entryColumns+` FROM url_metadata_cache
		WHERE expires_at <= ? AND hit_count >= ?`, now, threshold)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list popular expired entries")
	}
	defer rows.Close()

	return scanEntries(rows)
}

// List implements Store
func (s *DuckStore) List(f ListFilter, now time.Time, threshold int64) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM url_metadata_cache WHERE 1 = 1`
	args := []interface{}{}
	if f.Platform != "" {
		query += ` AND platform = ?`
		args = append(args, f.Platform)
	}
	if f.PopularOnly {
		query += ` AND hit_count >= ?`
		args = append(args, threshold)
	}
	if f.ExpiredOnly {
		query += ` AND expires_at <= ?`
		args = append(args, now)
	}

	switch f.Sort {
	case "hits":
		query += ` ORDER BY hit_count DESC`
	case "recent":
		query += ` ORDER BY last_accessed_at DESC NULLS LAST`
	case "expiry":
		query += ` ORDER BY expires_at ASC`
	default:
		query += ` ORDER BY created_at DESC`
	}

	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list cache entries")
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Clear implements Store
func (s *DuckStore) Clear() (int, error) {
	total, err := s.Count()
	if err != nil {
		return 0, err
	}
	if _, err := s.db.Exec(`DELETE FROM url_metadata_cache`); err != nil {
		return 0, errors.Wrap(err, "failed to clear cache entries")
	}

	return total, nil
}

// Count implements Store
func (s *DuckStore) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM url_metadata_cache`).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count cache entries")
	}

	return n, nil
}

// Stats implements Store
func (s *DuckStore) Stats(now time.Time, threshold int64) (*Stats, error) {
	st := &Stats{ByPlatform: make(map[string]int)}

	var oldest, newest sql.NullTime
	var totalHits sql.NullInt64
	err := s.db.QueryRow(`
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE expires_at > ?),
			COUNT(*) FILTER (WHERE expires_at <= ?),
			COUNT(*) FILTER (WHERE hit_count >= ?),
			SUM(hit_count),
			MIN(created_at),
			MAX(created_at)
		FROM url_metadata_cache`, now, now, threshold).
		Scan(&st.Total, &st.Valid, &st.Expired, &st.Popular, &totalHits, &oldest, &newest)
	if err != nil {
		return nil, errors.Wrap(err, "failed to aggregate cache statistics")
	}
	st.TotalHits = totalHits.Int64
	if oldest.Valid {
		st.OldestCreatedAt = oldest.Time
	}
	if newest.Valid {
		st.NewestCreatedAt = newest.Time
	}
	if st.Total > 0 {
		st.AverageHits = float64(st.TotalHits) / float64(st.Total)
	}

	// blob size is best effort, the report must not fail on it
	var blobBytes sql.NullInt64
	err = s.db.QueryRow(
		`SELECT SUM(LENGTH(metadata)) FROM url_metadata_cache WHERE metadata IS NOT NULL`).
		Scan(&blobBytes)
	if err != nil {
		log.Debugf("metadata size estimate unavailable: %s", err)
	} else {
		st.MetadataBytes = blobBytes.Int64
	}

	rows, err := s.db.Query(`
		SELECT platform, COUNT(*) FROM url_metadata_cache
		WHERE platform IS NOT NULL GROUP BY platform`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to aggregate platform counts")
	}
	defer rows.Close()
	for rows.Next() {
		var platform string
		var count int
		if err := rows.Scan(&platform, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan platform count")
		}
		st.ByPlatform[platform] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read platform counts")
	}

	topRows, err := s.db.Query(fmt.Sprintf(`
		SELECT normalized_url, hit_count FROM url_metadata_cache
		ORDER BY hit_count DESC LIMIT %d`, topEntryCount))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list top entries")
	}
	defer topRows.Close()
	for topRows.Next() {
		var top TopEntry
		if err := topRows.Scan(&top.NormalizedURL, &top.HitCount); err != nil {
			return nil, errors.Wrap(err, "failed to scan top entry")
		}
		st.TopEntries = append(st.TopEntries, top)
	}
	if err := topRows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read top entries")
	}

	return st, nil
}

// Close implements Store
func (s *DuckStore) Close() error {
	return s.db.Close()
}

func rowsAffected(res sql.Result) int {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var title, description, imageURL, currency, platform, method, blob sql.NullString
	var price sql.NullFloat64
	var extractedAt, lastAccessedAt sql.NullTime

	err := row.Scan(&e.URLHash, &e.URL, &e.NormalizedURL,
		&title, &description, &imageURL,
		&price, &currency, &platform, &method, &blob,
		&e.HitCount, &extractedAt, &lastAccessedAt,
		&e.ExpiresAt, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan cache entry")
	}

	e.Title = title.String
	e.Description = description.String
	e.ImageURL = imageURL.String
	e.Currency = currency.String
	e.Platform = platform.String
	e.ExtractionMethod = method.String
	if price.Valid {
		p := price.Float64
		e.Price = &p
	}
	if extractedAt.Valid {
		e.ExtractedAt = extractedAt.Time
	}
	if lastAccessedAt.Valid {
		e.LastAccessedAt = lastAccessedAt.Time
	}
	if blob.Valid && blob.String != "" {
		if err := json.Unmarshal([]byte(blob.String), &e.Metadata); err != nil {
			return nil, errors.Wrap(err, "failed to parse metadata blob")
		}
	}

	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read cache entries")
	}

	return out, nil
}

func marshalMetadata(m map[string]interface{}) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	blob, err := json.Marshal(m)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal metadata blob")
	}

	return string(blob), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
