// Package model defines the records that flow through the crawl and parse
// queues: frontier URLs, parse tasks, crawl records, and the retry/dead
// letter envelopes built around a FrontierURL.
package model

import (
	"fmt"
	"strings"
)

// Tags is an ordered set of "key:value" or bare-flag strings carried
// alongside a frontier URL or parse task. Each entry follows a "key:value" convention
// (last_crawled:<iso>, link_depth:<n>, discovered_from:<url>, job_id:<id>);
// entries with no colon are treated as bare flags such as "seed_url".
type Tags []string

// With returns a copy of t with key:value appended.
func (t Tags) With(key, value string) Tags {
	out := make(Tags, len(t), len(t)+1)
	copy(out, t)
	return append(out, fmt.Sprintf("%s:%s", key, value))
}

// WithFlag returns a copy of t with a bare flag appended.
func (t Tags) WithFlag(flag string) Tags {
	out := make(Tags, len(t), len(t)+1)
	copy(out, t)
	return append(out, flag)
}

// Get returns the value for the first tag whose key matches, and whether
// it was found.
func (t Tags) Get(key string) (string, bool) {
	prefix := key + ":"
	for _, tag := range t {
		if strings.HasPrefix(tag, prefix) {
			return strings.TrimPrefix(tag, prefix), true
		}
	}
	return "", false
}

// Has reports whether t contains the given bare flag.
func (t Tags) Has(flag string) bool {
	for _, tag := range t {
		if tag == flag {
			return true
		}
	}
	return false
}

// Metadata is the free-form side-channel carried by FrontierURL and
// ParseTask. Job bookkeeping (job_id, link_depth, discovered_from, the
// rendering/dynamic hints CW attaches before emitting a ParseTask) lives
// here rather than as ad hoc struct fields, keeping the hot-path fields
// on the record itself typed.
type Metadata struct {
	Tags Tags

	// Set by CW when a ParseTask is emitted; not present on seed metadata.
	FinalURL      string
	IsDynamic     bool
	RenderedWithJS bool
	WorkerID      string
}

// JobID reads the job_id tag, the one value every record in this engine
// carries from seed to final dead-letter/CRS write.
func (m Metadata) JobID() string {
	v, _ := m.Tags.Get("job_id")
	return v
}

// LinkDepth reads the link_depth tag, defaulting to 0 when absent (seeds).
func (m Metadata) LinkDepth() int {
	v, ok := m.Tags.Get("link_depth")
	if !ok {
		return 0
	}
	var depth int
	if _, err := fmt.Sscanf(v, "%d", &depth); err != nil {
		return 0
	}
	return depth
}
