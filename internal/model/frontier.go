package model

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// FrontierURL is a URL scheduled for crawling, carrying the job/priority/
// metadata bookkeeping the engine's source format requires (job grouping,
// link-depth distinct from redirect depth, requires_js/is_dynamic hints
// carried from discovery time).
type FrontierURL struct {
	URL        string
	SourceURL  string
	JobID      string
	Priority   int // 1-10; >= 8 routes to the priority lane
	Depth      int // hops from the original request (redirects)
	LinkDepth  int // hops along the extracted-link chain from the seed
	RetryCount int
	MaxRetries int
	ScheduledAt time.Time
	CreatedAt   time.Time
	RequiresJS  bool
	IsDynamic   bool
	ContentSizeEstimate int64
	Domain     string
	Metadata   Metadata
}

const (
	minPriority     = 1
	maxPriority     = 10
	priorityLaneMin = 8
)

// NewFrontierURL builds a FrontierURL, deriving Domain from URL and
// clamping Priority into [1,10] per the invariant in the data model.
func NewFrontierURL(rawURL, sourceURL, jobID string, priority, depth, linkDepth, maxRetries int, requiresJS, isDynamic bool, tags Tags) (*FrontierURL, error) {
	domain, err := domainOf(rawURL)
	if err != nil {
		return nil, fmt.Errorf("frontier url: %w", err)
	}

	if priority < minPriority {
		priority = minPriority
	} else if priority > maxPriority {
		priority = maxPriority
	}

	now := time.Now()
	return &FrontierURL{
		URL:         rawURL,
		SourceURL:   sourceURL,
		JobID:       jobID,
		Priority:    priority,
		Depth:       depth,
		LinkDepth:   linkDepth,
		MaxRetries:  maxRetries,
		ScheduledAt: now,
		CreatedAt:   now,
		RequiresJS:  requiresJS,
		IsDynamic:   isDynamic,
		Domain:      domain,
		Metadata:    Metadata{Tags: tags},
	}, nil
}

func domainOf(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return strings.ToLower(u.Hostname()), nil
}

// IsPriority reports whether u belongs in the priority lane.
func (u *FrontierURL) IsPriority() bool {
	return u.Priority >= priorityLaneMin
}

// Ready reports whether ScheduledAt has elapsed.
func (u *FrontierURL) Ready() bool {
	return !time.Now().Before(u.ScheduledAt)
}

// DedupKey is the in-flight uniqueness key: (url, job_id). The engine does
// not deduplicate across time, only among entries currently in flight.
func (u *FrontierURL) DedupKey() string {
	return u.JobID + "|" + u.URL
}

// WithRetry returns a copy of u with RetryCount incremented and
// ScheduledAt pushed out by delay, for re-enqueueing onto the retry queue.
func (u *FrontierURL) WithRetry(delay time.Duration) *FrontierURL {
	next := *u
	next.RetryCount++
	next.ScheduledAt = time.Now().Add(delay)
	return &next
}

// ExceedsRetries reports whether u has exhausted its retry budget.
func (u *FrontierURL) ExceedsRetries() bool {
	return u.RetryCount > u.MaxRetries
}
