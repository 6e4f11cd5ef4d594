package storage_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spider-crawler/crawlengine/internal/model"
	"github.com/spider-crawler/crawlengine/internal/storage"
)

func newTestDatabase(t *testing.T) *storage.Database {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := storage.NewDatabase(path)
	if err != nil {
		t.Fatalf("NewDatabase: %v", err)
	}
	if err := db.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBlobStore_StoreAndRetrieveRoundTrip(t *testing.T) {
	db := newTestDatabase(t)
	blobs := storage.NewBlobStore(db)

	rawID, err := blobs.Store("https://example.com/page", "text/html", []byte("<html></html>"), false)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if rawID == "" {
		t.Fatal("expected a non-empty raw_id")
	}

	got, err := blobs.Retrieve(rawID)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got == nil {
		t.Fatal("expected a stored body, got nil")
	}
	if got.URL != "https://example.com/page" || string(got.Body) != "<html></html>" {
		t.Errorf("retrieved body mismatch: %+v", got)
	}
	if got.SizeBytes != int64(len("<html></html>")) {
		t.Errorf("SizeBytes = %d, want %d", got.SizeBytes, len("<html></html>"))
	}
}

func TestBlobStore_Retrieve_UnknownIDReturnsNilNoError(t *testing.T) {
	db := newTestDatabase(t)
	blobs := storage.NewBlobStore(db)

	got, err := blobs.Retrieve("does-not-exist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for an unknown raw_id, got %+v", got)
	}
}

func TestCrawlRecordStore_UpsertAndGetByURL(t *testing.T) {
	db := newTestDatabase(t)
	crs := storage.NewCrawlRecordStore(db)

	now := time.Now().Truncate(time.Second)
	rawURL := "https://example.com/article"
	rec := &model.CrawlRecord{
		URL:                  rawURL,
		URLHash:              model.URLHash(rawURL),
		Domain:               "example.com",
		FirstCrawledAt:       now,
		LastCrawledAt:        now,
		CrawlCount:           1,
		Status:               "ok",
		LastStatusCode:       200,
		RecrawlIntervalHours: 24,
		NextCrawlAt:          now.Add(24 * time.Hour),
		ContentSize:          1024,
		ETag:                 `"abc"`,
	}

	if err := crs.Upsert(rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := crs.GetByURL(rawURL)
	if err != nil {
		t.Fatalf("GetByURL: %v", err)
	}
	if got == nil {
		t.Fatal("expected a crawl record, got nil")
	}
	if got.Domain != "example.com" || got.CrawlCount != 1 || got.ETag != `"abc"` {
		t.Errorf("unexpected record: %+v", got)
	}

	rec.CrawlCount = 2
	rec.LastStatusCode = 304
	if err := crs.Upsert(rec); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	got, err = crs.GetByURL(rawURL)
	if err != nil {
		t.Fatalf("GetByURL after update: %v", err)
	}
	if got.CrawlCount != 2 || got.LastStatusCode != 304 {
		t.Errorf("expected upsert to update the existing row, got %+v", got)
	}
}

func TestCrawlRecordStore_GetByURL_UnknownReturnsNilNoError(t *testing.T) {
	db := newTestDatabase(t)
	crs := storage.NewCrawlRecordStore(db)

	got, err := crs.GetByURL("https://never-crawled.example.com/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for a never-crawled URL, got %+v", got)
	}
}

func TestCrawlRecordStore_DueForRecrawl_FiltersByNextCrawlAt(t *testing.T) {
	db := newTestDatabase(t)
	crs := storage.NewCrawlRecordStore(db)

	now := time.Now().Truncate(time.Second)

	overdue := &model.CrawlRecord{
		URL: "https://example.com/overdue", URLHash: model.URLHash("https://example.com/overdue"),
		Domain: "example.com", FirstCrawledAt: now.Add(-48 * time.Hour), LastCrawledAt: now.Add(-48 * time.Hour),
		CrawlCount: 1, Status: "ok", RecrawlIntervalHours: 24, NextCrawlAt: now.Add(-time.Hour),
	}
	notDue := &model.CrawlRecord{
		URL: "https://example.com/fresh", URLHash: model.URLHash("https://example.com/fresh"),
		Domain: "example.com", FirstCrawledAt: now, LastCrawledAt: now,
		CrawlCount: 1, Status: "ok", RecrawlIntervalHours: 24, NextCrawlAt: now.Add(24 * time.Hour),
	}

	if err := crs.Upsert(overdue); err != nil {
		t.Fatalf("Upsert overdue: %v", err)
	}
	if err := crs.Upsert(notDue); err != nil {
		t.Fatalf("Upsert notDue: %v", err)
	}

	due, err := crs.DueForRecrawl(10)
	if err != nil {
		t.Fatalf("DueForRecrawl: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("got %d due records, want 1: %+v", len(due), due)
	}
	if due[0].URL != overdue.URL {
		t.Errorf("due record = %q, want %q", due[0].URL, overdue.URL)
	}
}
