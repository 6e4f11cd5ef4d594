// Package dnscache implements a shared, TTL-bounded hostname resolution
// cache: a single sync.Mutex around a map of (ip, expiry) pairs.
package dnscache

import (
	"context"
	"net"
	"sync"
	"time"
)

type entry struct {
	ip     string
	expiry time.Time
}

// Cache resolves hostnames to their first A-record IPv4 address, caching
// successful resolutions for a fixed TTL. Failures are never cached.
// Concurrent callers for the same host serialize on the single mutex
// rather than deduplicating in-flight lookups.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	resolve func(ctx context.Context, host string) (string, error)
}

// New creates a DNS cache with the given default TTL.
func New(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		resolve: defaultResolve,
	}
}

func defaultResolve(ctx context.Context, host string) (string, error) {
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", &net.DNSError{Err: "no A records", Name: host}
	}
	return ips[0].String(), nil
}

// Resolve returns the cached IP for host if unexpired, otherwise performs
// a lookup, caches it with now+ttl, and returns it. A failed lookup
// returns an error and caches nothing. The whole check-resolve-store
// sequence runs under the single map lock: concurrent callers for the
// same (or different) host are serialized rather than deduplicated.
func (c *Cache) Resolve(ctx context.Context, host string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[host]; ok && time.Now().Before(e.expiry) {
		return e.ip, nil
	}

	ip, err := c.resolve(ctx, host)
	if err != nil {
		return "", err
	}

	c.entries[host] = entry{ip: ip, expiry: time.Now().Add(c.ttl)}
	return ip, nil
}

// ClearExpired removes all stale entries from the cache.
func (c *Cache) ClearExpired() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for host, e := range c.entries {
		if now.After(e.expiry) {
			delete(c.entries, host)
			removed++
		}
	}
	return removed
}

// Size returns the number of entries currently cached (including any not
// yet swept by ClearExpired).
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
