// Package fetcher performs the Crawl Worker's HTTP-path fetch: conditional
// headers, streamed reads in 8 KiB chunks, and size-cap truncation, trimmed
// of the SEO-only TLS/redirect-chain reporting this engine has no use for.
package fetcher

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Response is the result of an HTTP-path fetch.
type Response struct {
	RequestURL string
	FinalURL   string

	StatusCode int
	Status     string
	Headers    http.Header

	ContentType   string
	ContentLength int64
	BodySize      int64
	Body          []byte
	Truncated     bool

	NotModified bool
	LargeSkip   bool

	ResponseTime time.Duration

	Error     error
	Retryable bool
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// GetHeader returns a header value case-insensitively, or "" if unset.
func (r *Response) GetHeader(name string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get(name)
}

// FailureKind is the typed outcome of a failed fetch attempt: the
// retry/dead-letter decision is a pure function of (kind, retry_count),
// generalizing categorizeError/isRetryableError's boolean pair into an
// explicit enum.
type FailureKind int

const (
	// FailureNone marks a fetch that is not a failure: Classify returns it
	// for a response with no error, no size-cap skip and a status below 400.
	FailureNone FailureKind = iota
	// FailureTransient covers connection timeouts, TLS handshake errors,
	// 5xx responses, and other conditions expected to clear on retry.
	FailureTransient
	// FailurePermanent covers 4xx (except 429), DNS not-found, and invalid
	// scheme: retrying will not help, so the URL escalates straight to
	// dead-letter without consuming the retry budget.
	FailurePermanent
	// FailureRateLimited is a 429 response; the retry delay floor is the
	// Retry-After header when present, else the standard backoff.
	FailureRateLimited
	// FailureOversize marks a size-cap violation (Content-Length or
	// streamed-body truncation past max_content_size).
	FailureOversize
	// FailureCancelled marks a context cancellation; not a real failure,
	// the task simply exits without emitting a parse task.
	FailureCancelled
)

// Classify maps a completed fetch attempt to its FailureKind. A size-cap
// skip is FailureOversize whatever its status; a response with no error
// and a status below 400 is FailureNone.
func Classify(resp *Response) FailureKind {
	if resp == nil {
		return FailureTransient
	}
	if resp.LargeSkip {
		return FailureOversize
	}
	if resp.Error != nil {
		if isCancellation(resp.Error) {
			return FailureCancelled
		}
		if resp.Retryable {
			return FailureTransient
		}
		return FailurePermanent
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return FailureRateLimited
	case resp.StatusCode >= 500:
		return FailureTransient
	case resp.StatusCode >= 400:
		return FailurePermanent
	default:
		return FailureNone
	}
}

func isCancellation(err error) bool {
	return strings.Contains(err.Error(), "context canceled") || strings.Contains(err.Error(), "context deadline exceeded")
}

// RetryAfterDelay parses the response's Retry-After header (either a
// delay-seconds integer or an HTTP-date), returning the wait duration and
// whether a header was present. A 429's retry delay floor is this value
// when present, else the standard exponential backoff.
func RetryAfterDelay(resp *Response) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	raw := resp.GetHeader("Retry-After")
	if raw == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, true
	}
	if when, err := http.ParseTime(raw); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			delay = 0
		}
		return delay, true
	}
	return 0, false
}
