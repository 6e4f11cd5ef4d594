package storage

// Schema contains the SQL statements that create the engine's two
// tables: raw_bodies (the Blob Store) and crawl_records (the Crawl
// Record Store): the two tables this crawl engine actually needs.
const Schema = `
-- raw_bodies is the Blob Store: every fetched response body, keyed by a
-- generated raw_id, independent of whether it was ever parsed.
CREATE TABLE IF NOT EXISTS raw_bodies (
    raw_id TEXT PRIMARY KEY,
    url TEXT NOT NULL,
    content_type TEXT,
    body BLOB NOT NULL,
    size_bytes INTEGER NOT NULL,
    truncated BOOLEAN DEFAULT 0,
    stored_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_raw_bodies_url ON raw_bodies(url);
CREATE INDEX IF NOT EXISTS idx_raw_bodies_stored_at ON raw_bodies(stored_at);

-- crawl_records is the Crawl Record Store: one row per URL ever crawled,
-- tracking recrawl scheduling and conditional-request caching headers.
CREATE TABLE IF NOT EXISTS crawl_records (
    url_hash TEXT PRIMARY KEY,
    url TEXT NOT NULL,
    domain TEXT NOT NULL,
    first_crawled_at DATETIME NOT NULL,
    last_crawled_at DATETIME NOT NULL,
    crawl_count INTEGER DEFAULT 1,
    status TEXT DEFAULT 'ok',
    last_status_code INTEGER,
    recrawl_interval_hours INTEGER DEFAULT 24,
    next_crawl_at DATETIME,
    content_size INTEGER DEFAULT 0,
    requires_js BOOLEAN DEFAULT 0,
    is_dynamic BOOLEAN DEFAULT 0,
    link_depth INTEGER DEFAULT 0,
    last_modified TEXT,
    etag TEXT
);

CREATE INDEX IF NOT EXISTS idx_crawl_records_domain ON crawl_records(domain);
CREATE INDEX IF NOT EXISTS idx_crawl_records_next_crawl_at ON crawl_records(next_crawl_at);
`
