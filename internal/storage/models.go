// Package storage provides SQLite-backed persistence for the Blob
// Store and Crawl Record Store.
package storage

import "time"

// RawBody is a stored fetch response as held in the Blob Store, keyed by
// a generated raw_id independent of whether it was ever parsed.
type RawBody struct {
	RawID       string
	URL         string
	ContentType string
	Body        []byte
	SizeBytes   int64
	Truncated   bool
	StoredAt    time.Time
}
