package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// CrawlRecord is the per-URL bookkeeping row the Crawl Record Store holds:
// last fetch time, conditional-request validators, and the recrawl gate.
type CrawlRecord struct {
	URL            string
	URLHash        string // sha256(url), 64 hex chars
	Domain         string
	FirstCrawledAt time.Time
	LastCrawledAt  time.Time
	CrawlCount     int
	Status         string
	LastStatusCode int
	RecrawlIntervalHours int
	NextCrawlAt    time.Time
	ContentSize    int64
	RequiresJS     bool
	IsDynamic      bool
	LinkDepth      int
	LastModified   string
	ETag           string
}

// URLHash computes the sha256 hex digest used as the CrawlRecord lookup
// key.
func URLHash(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}

// RecrawlIntervalHours chooses the recrawl window: 6h for dynamic
// content, 12h for JS-rendered pages, else 24h.
func RecrawlIntervalHours(isDynamic, renderedWithJS bool) int {
	switch {
	case isDynamic:
		return 6
	case renderedWithJS:
		return 12
	default:
		return 24
	}
}

// NextCrawlAt computes next_crawl_at = last_crawled_at + recrawl_interval.
func NextCrawlAt(lastCrawledAt time.Time, recrawlIntervalHours int) time.Time {
	return lastCrawledAt.Add(time.Duration(recrawlIntervalHours) * time.Hour)
}

// DueForRecrawl reports whether now has passed next_crawl_at; a record
// missing entirely (rec == nil) is always due.
func DueForRecrawl(rec *CrawlRecord, now time.Time) bool {
	if rec == nil {
		return true
	}
	return !now.Before(rec.NextCrawlAt) // next_crawl_at <= now
}
