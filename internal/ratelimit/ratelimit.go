// Package ratelimit implements a token-bucket throttler: a per-host
// bucket built on golang.org/x/time/rate.Limiter instead of a hand-rolled
// token bucket, with uniform jitter layered on top of each acquire.
package ratelimit

import (
	"context"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter throttles CW fetches to a configured rate, optionally
// partitioned per host, with uniform jitter added after each acquire.
type Limiter struct {
	requestsPerSecond float64
	burst             int
	jitterFactor      float64
	perDomain         bool

	mu      sync.Mutex
	global  *rate.Limiter
	buckets map[string]*rate.Limiter
}

// New creates a Limiter. When perDomain is false, every Acquire call draws
// from a single shared bucket regardless of host.
func New(requestsPerSecond float64, burst int, jitterFactor float64, perDomain bool) *Limiter {
	l := &Limiter{
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
		jitterFactor:      jitterFactor,
		perDomain:         perDomain,
		buckets:           make(map[string]*rate.Limiter),
	}
	if !perDomain {
		l.global = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return l
}

// Acquire blocks until a token is available for rawURL's host (or the
// global bucket in non-per-domain mode), then sleeps an additional
// uniform random delay in [0, jitterFactor] seconds.
func (l *Limiter) Acquire(ctx context.Context, rawURL string) error {
	bucket := l.global
	if l.perDomain {
		host := hostOf(rawURL)
		bucket = l.bucketFor(host)
	}

	if err := bucket.Wait(ctx); err != nil {
		return err
	}

	if l.jitterFactor > 0 {
		jitter := time.Duration(rand.Float64() * l.jitterFactor * float64(time.Second))
		select {
		case <-time.After(jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// bucketFor lazily creates the per-host bucket under a lock; once created
// it is read without further locking contention on the hot path beyond
// the map lookup itself.
func (l *Limiter) bucketFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[host]
	if !ok {
		b = rate.NewLimiter(rate.Limit(l.requestsPerSecond), l.burst)
		l.buckets[host] = b
	}
	return b
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return strings.ToLower(u.Hostname())
}

// BucketCount reports how many per-host buckets currently exist, for
// stats/diagnostics.
func (l *Limiter) BucketCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
