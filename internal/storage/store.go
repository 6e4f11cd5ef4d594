package storage

import (
	"time"

	"github.com/google/uuid"

	"github.com/spider-crawler/crawlengine/internal/model"
)

// BlobStore is the Blob Store adapter: store(raw_record) -> raw_id,
// retrieve(raw_id) -> raw_record or none. It wraps Database so
// CrawlWorker and ParseWorker depend on this narrower contract instead
// of the full SQL surface.
type BlobStore struct {
	db *Database
}

func NewBlobStore(db *Database) *BlobStore {
	return &BlobStore{db: db}
}

// Store persists body under a freshly generated raw_id and returns it.
func (s *BlobStore) Store(url, contentType string, body []byte, truncated bool) (string, error) {
	rawID := uuid.NewString()
	rb := &RawBody{
		RawID:       rawID,
		URL:         url,
		ContentType: contentType,
		Body:        body,
		SizeBytes:   int64(len(body)),
		Truncated:   truncated,
		StoredAt:    time.Now(),
	}
	if err := s.db.PutRawBody(rb); err != nil {
		return "", err
	}
	return rawID, nil
}

// Retrieve loads a previously stored body, or nil if raw_id is unknown.
func (s *BlobStore) Retrieve(rawID string) (*RawBody, error) {
	return s.db.GetRawBody(rawID)
}

// CrawlRecordStore is the Crawl Record Store adapter:
// get_by_url_hash(sha256(url)) -> CrawlRecord or none; upsert(CrawlRecord).
type CrawlRecordStore struct {
	db *Database
}

func NewCrawlRecordStore(db *Database) *CrawlRecordStore {
	return &CrawlRecordStore{db: db}
}

// GetByURL looks up the crawl record for rawURL, hashing it with
// model.URLHash the way every caller is expected to key records.
func (s *CrawlRecordStore) GetByURL(rawURL string) (*model.CrawlRecord, error) {
	return s.db.GetCrawlRecord(model.URLHash(rawURL))
}

// Upsert writes rec, keyed by rec.URLHash (which callers must have set
// via model.URLHash before calling).
func (s *CrawlRecordStore) Upsert(rec *model.CrawlRecord) error {
	return s.db.UpsertCrawlRecord(rec)
}

// DueForRecrawl returns up to limit crawl records whose next_crawl_at has
// elapsed, used by seed/recrawl bookkeeping and diagnostics.
func (s *CrawlRecordStore) DueForRecrawl(limit int) ([]*model.CrawlRecord, error) {
	return s.db.DueForRecrawl(limit)
}
