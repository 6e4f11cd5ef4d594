package storage

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/spider-crawler/crawlengine/internal/model"
)

// Database wraps a SQLite connection holding both the Blob Store and the
// Crawl Record Store, using the same WAL/busy-timeout tuning and
// single-writer connection pool as a crawler's own SQLite-backed stores.
type Database struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewDatabase opens (creating if necessary) the SQLite database at path.
func NewDatabase(path string) (*Database, error) {
	dsn := fmt.Sprintf("%s?_journal=WAL&_synchronous=NORMAL&_cache_size=10000&_busy_timeout=5000", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	return &Database{db: db}, nil
}

// Initialize creates the raw_bodies and crawl_records tables.
func (d *Database) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// --- Blob Store operations ---

// PutRawBody stores a fetched response body under rawID, overwriting any
// existing body for the same id.
func (d *Database) PutRawBody(body *RawBody) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`
		INSERT INTO raw_bodies (raw_id, url, content_type, body, size_bytes, truncated, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(raw_id) DO UPDATE SET
			url = excluded.url,
			content_type = excluded.content_type,
			body = excluded.body,
			size_bytes = excluded.size_bytes,
			truncated = excluded.truncated,
			stored_at = excluded.stored_at
	`, body.RawID, body.URL, body.ContentType, body.Body, body.SizeBytes, body.Truncated, body.StoredAt)
	return err
}

// GetRawBody loads a stored body by raw_id, returning nil with no error
// if it doesn't exist.
func (d *Database) GetRawBody(rawID string) (*RawBody, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var rb RawBody
	err := d.db.QueryRow(`
		SELECT raw_id, url, content_type, body, size_bytes, truncated, stored_at
		FROM raw_bodies WHERE raw_id = ?
	`, rawID).Scan(&rb.RawID, &rb.URL, &rb.ContentType, &rb.Body, &rb.SizeBytes, &rb.Truncated, &rb.StoredAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rb, nil
}

// --- Crawl Record Store operations ---

// UpsertCrawlRecord inserts a new crawl record or updates the existing
// one keyed by url_hash, using an ON CONFLICT upsert.
func (d *Database) UpsertCrawlRecord(rec *model.CrawlRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`
		INSERT INTO crawl_records (
			url_hash, url, domain, first_crawled_at, last_crawled_at, crawl_count,
			status, last_status_code, recrawl_interval_hours, next_crawl_at,
			content_size, requires_js, is_dynamic, link_depth, last_modified, etag
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url_hash) DO UPDATE SET
			last_crawled_at = excluded.last_crawled_at,
			crawl_count = excluded.crawl_count,
			status = excluded.status,
			last_status_code = excluded.last_status_code,
			recrawl_interval_hours = excluded.recrawl_interval_hours,
			next_crawl_at = excluded.next_crawl_at,
			content_size = excluded.content_size,
			requires_js = excluded.requires_js,
			is_dynamic = excluded.is_dynamic,
			link_depth = excluded.link_depth,
			last_modified = excluded.last_modified,
			etag = excluded.etag
	`, rec.URLHash, rec.URL, rec.Domain, rec.FirstCrawledAt, rec.LastCrawledAt, rec.CrawlCount,
		rec.Status, rec.LastStatusCode, rec.RecrawlIntervalHours, rec.NextCrawlAt,
		rec.ContentSize, rec.RequiresJS, rec.IsDynamic, rec.LinkDepth, rec.LastModified, rec.ETag)
	return err
}

// GetCrawlRecord retrieves the crawl record for a URL hash, returning nil
// with no error if the URL has never been crawled.
func (d *Database) GetCrawlRecord(urlHash string) (*model.CrawlRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var rec model.CrawlRecord
	err := d.db.QueryRow(`
		SELECT url_hash, url, domain, first_crawled_at, last_crawled_at, crawl_count,
			status, last_status_code, recrawl_interval_hours, next_crawl_at,
			content_size, requires_js, is_dynamic, link_depth, last_modified, etag
		FROM crawl_records WHERE url_hash = ?
	`, urlHash).Scan(
		&rec.URLHash, &rec.URL, &rec.Domain, &rec.FirstCrawledAt, &rec.LastCrawledAt, &rec.CrawlCount,
		&rec.Status, &rec.LastStatusCode, &rec.RecrawlIntervalHours, &rec.NextCrawlAt,
		&rec.ContentSize, &rec.RequiresJS, &rec.IsDynamic, &rec.LinkDepth, &rec.LastModified, &rec.ETag,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// DueForRecrawl returns every crawl record whose next_crawl_at has
// elapsed, up to limit rows.
func (d *Database) DueForRecrawl(limit int) ([]*model.CrawlRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`
		SELECT url_hash, url, domain, first_crawled_at, last_crawled_at, crawl_count,
			status, last_status_code, recrawl_interval_hours, next_crawl_at,
			content_size, requires_js, is_dynamic, link_depth, last_modified, etag
		FROM crawl_records
		WHERE next_crawl_at <= CURRENT_TIMESTAMP
		ORDER BY next_crawl_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.CrawlRecord
	for rows.Next() {
		var rec model.CrawlRecord
		if err := rows.Scan(
			&rec.URLHash, &rec.URL, &rec.Domain, &rec.FirstCrawledAt, &rec.LastCrawledAt, &rec.CrawlCount,
			&rec.Status, &rec.LastStatusCode, &rec.RecrawlIntervalHours, &rec.NextCrawlAt,
			&rec.ContentSize, &rec.RequiresJS, &rec.IsDynamic, &rec.LinkDepth, &rec.LastModified, &rec.ETag,
		); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
