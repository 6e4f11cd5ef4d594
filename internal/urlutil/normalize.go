// Package urlutil provides URL normalization and the JS-heuristic checks
// the crawl and parse workers use to decide whether a page likely needs a
// headless render.
package urlutil

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Normalizer handles URL normalization for frontier dedup purposes.
type Normalizer struct {
	IgnoreParams        map[string]struct{}
	RemoveTrailingSlash bool
	RemoveDefaultPort   bool
	RemoveFragment      bool
	LowercaseSchemeHost bool
	SortQueryParams     bool
	RemoveWWW           bool
}

// DefaultNormalizer returns a normalizer with the engine's default settings.
func DefaultNormalizer(ignoreParams []string) *Normalizer {
	params := make(map[string]struct{})
	for _, p := range ignoreParams {
		params[strings.ToLower(p)] = struct{}{}
	}

	return &Normalizer{
		IgnoreParams:        params,
		RemoveTrailingSlash: true,
		RemoveDefaultPort:   true,
		RemoveFragment:      true,
		LowercaseSchemeHost: true,
		SortQueryParams:     true,
	}
}

// Normalize normalizes a URL string.
func (n *Normalizer) Normalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}

	if n.LowercaseSchemeHost {
		u.Scheme = strings.ToLower(u.Scheme)
		u.Host = strings.ToLower(u.Host)
	}

	if n.RemoveDefaultPort {
		host := u.Host
		if u.Scheme == "http" && strings.HasSuffix(host, ":80") {
			u.Host = strings.TrimSuffix(host, ":80")
		} else if u.Scheme == "https" && strings.HasSuffix(host, ":443") {
			u.Host = strings.TrimSuffix(host, ":443")
		}
	}

	if n.RemoveWWW {
		u.Host = strings.TrimPrefix(u.Host, "www.")
	}

	if n.RemoveFragment {
		u.Fragment = ""
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	if n.RemoveTrailingSlash && len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}
	u.Path = normalizePath(path)

	if u.RawQuery != "" {
		query := u.Query()
		newQuery := url.Values{}
		for key, values := range query {
			if _, ignore := n.IgnoreParams[strings.ToLower(key)]; ignore {
				continue
			}
			for _, v := range values {
				if v != "" || len(values) == 1 {
					newQuery.Add(key, v)
				}
			}
		}
		if n.SortQueryParams {
			u.RawQuery = sortedQueryString(newQuery)
		} else {
			u.RawQuery = newQuery.Encode()
		}
	}

	return u.String(), nil
}

func normalizePath(path string) string {
	re := regexp.MustCompile(`/+`)
	path = re.ReplaceAllString(path, "/")

	parts := strings.Split(path, "/")
	var result []string
	for _, part := range parts {
		switch part {
		case ".":
		case "..":
			if len(result) > 0 && result[len(result)-1] != "" {
				result = result[:len(result)-1]
			}
		default:
			result = append(result, part)
		}
	}

	normalized := strings.Join(result, "/")
	if normalized == "" {
		return "/"
	}
	return normalized
}

func sortedQueryString(query url.Values) string {
	if len(query) == 0 {
		return ""
	}

	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		values := query[k]
		sort.Strings(values)
		for _, v := range values {
			if v == "" {
				parts = append(parts, url.QueryEscape(k))
			} else {
				parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
	}

	return strings.Join(parts, "&")
}

// ExtractHost extracts the lowercased host (with port) from a URL.
func ExtractHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return strings.ToLower(u.Host), nil
}

// ResolveURL resolves a possibly relative URL against a base URL.
func ResolveURL(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// crawlJSKeywords is the fixed keyword list used for the crawl-time JS
// heuristic.
var crawlJSKeywords = []string{
	"spa", "react", "angular", "vue", "app", "dashboard", "admin", "portal", "ajax", "api", "json",
}

// RequiresJSAtCrawlTime implements the crawl-worker JS heuristic: a
// substring test against a fixed keyword list.
func RequiresJSAtCrawlTime(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, kw := range crawlJSKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// discoveredJSKeywords is the richer keyword set the parse worker applies
// to freshly-discovered links, extending the crawl-time list with
// fragment-routing and API/JSON path signals.
var discoveredJSKeywords = append(append([]string{}, crawlJSKeywords...),
	"ajax-", "async", "#!", "/api/", ".json",
)

// RequiresJSForDiscovered implements the parse-worker JS heuristic applied
// to newly discovered links, a superset of the crawl-time heuristic.
func RequiresJSForDiscovered(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, kw := range discoveredJSKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// waitSelectors maps a handful of well-known hosts to a CSS selector worth
// waiting for before considering a headless render complete.
var waitSelectors = map[string]string{
	"linkedin.com":  "main",
	"facebook.com":  "[role=main]",
	"twitter.com":   "[data-testid=primaryColumn]",
	"x.com":         "[data-testid=primaryColumn]",
}

// WaitSelectorFor returns the configured wait selector for host, or "" if
// none is configured (the caller should skip the selector wait).
func WaitSelectorFor(host string) string {
	host = strings.ToLower(strings.TrimPrefix(host, "www."))
	if sel, ok := waitSelectors[host]; ok {
		return sel
	}
	if strings.Contains(host, "directory") || strings.Contains(host, "search") {
		return "[data-testid=search-results], .search-results, #results"
	}
	return ""
}
