package fetcher

import (
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// ConditionalHeaders carries the CRS-derived cache-validation headers CW
// sets before issuing a GET.
type ConditionalHeaders struct {
	IfNoneMatch     string
	IfModifiedSince string
}

// Fetcher performs HTTP-path fetches with connect/read/total timeouts,
// gzip transparent decompression, and the engine's 8 KiB streamed-read
// size cap, built on a connection-pooled transport.
type Fetcher struct {
	client      *http.Client
	transport   *http.Transport
	userAgent   string
	maxBodySize int64
	readTimeout time.Duration
}

// New creates a Fetcher. connectTimeout bounds dial+TLS handshake,
// readTimeout bounds the body stream, totalTimeout bounds the whole
// request including redirects.
func New(userAgent string, maxBodySize int64, connectTimeout, readTimeout, totalTimeout time.Duration) *Fetcher {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   connectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: false},
	}

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   totalTimeout,
		},
		transport:   transport,
		userAgent:   userAgent,
		maxBodySize: maxBodySize,
		readTimeout: readTimeout,
	}
}

// Fetch issues a single GET to rawURL with the given conditional
// headers and returns the streamed, size-capped response.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, cond ConditionalHeaders) *Response {
	start := time.Now()
	resp := &Response{RequestURL: rawURL, FinalURL: rawURL}

	reqCtx, cancelReq := context.WithCancel(ctx)
	defer cancelReq()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		resp.Error = fmt.Errorf("build request: %w", err)
		return resp
	}
	f.setRequestHeaders(req, cond)

	httpResp, err := f.client.Do(req)
	if err != nil {
		resp.Error = categorizeError(err)
		resp.Retryable = isRetryableError(err)
		return resp
	}
	defer httpResp.Body.Close()

	resp.FinalURL = httpResp.Request.URL.String()
	resp.StatusCode = httpResp.StatusCode
	resp.Status = httpResp.Status
	resp.Headers = httpResp.Header
	resp.ContentType = extractContentType(httpResp.Header.Get("Content-Type"))
	resp.ContentLength = httpResp.ContentLength

	if httpResp.StatusCode == http.StatusNotModified {
		resp.NotModified = true
		resp.ResponseTime = time.Since(start)
		return resp
	}

	if httpResp.ContentLength > 0 && httpResp.ContentLength > f.maxBodySize {
		resp.LargeSkip = true
		resp.ResponseTime = time.Since(start)
		return resp
	}

	if f.readTimeout > 0 {
		readTimer := time.AfterFunc(f.readTimeout, cancelReq)
		defer readTimer.Stop()
	}

	body, bodySize, truncated, err := f.readBodyChunked(httpResp)
	if err != nil {
		resp.Error = fmt.Errorf("read body: %w", err)
		resp.Retryable = true
		return resp
	}

	resp.Body = body
	resp.BodySize = bodySize
	resp.Truncated = truncated
	resp.ResponseTime = time.Since(start)
	return resp
}

func (f *Fetcher) setRequestHeaders(req *http.Request, cond ConditionalHeaders) {
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Connection", "keep-alive")

	if cond.IfNoneMatch != "" {
		req.Header.Set("If-None-Match", cond.IfNoneMatch)
	} else if cond.IfModifiedSince != "" {
		req.Header.Set("If-Modified-Since", cond.IfModifiedSince)
	}
}

// readBodyChunked streams the body in 8 KiB chunks, stopping and marking
// truncated once cumulative bytes exceed maxBodySize rather than reading
// the whole body first.
func (f *Fetcher) readBodyChunked(resp *http.Response) ([]byte, int64, bool, error) {
	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gzReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, 0, false, fmt.Errorf("gzip decode: %w", err)
		}
		defer gzReader.Close()
		reader = gzReader
	}

	const chunkSize = 8192
	chunk := make([]byte, chunkSize)
	var buf []byte
	var total int64
	truncated := false

	for {
		n, err := reader.Read(chunk)
		if n > 0 {
			total += int64(n)
			if total > f.maxBodySize {
				truncated = true
				remaining := f.maxBodySize - (total - int64(n))
				if remaining > 0 {
					buf = append(buf, chunk[:remaining]...)
				}
				break
			}
			buf = append(buf, chunk[:n]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, false, err
		}
	}

	return buf, int64(len(buf)), truncated, nil
}

// Close releases idle connections held by the fetcher's transport.
func (f *Fetcher) Close() {
	f.transport.CloseIdleConnections()
}

func extractContentType(contentType string) string {
	if idx := strings.Index(contentType, ";"); idx != -1 {
		return strings.TrimSpace(contentType[:idx])
	}
	return strings.TrimSpace(contentType)
}

func categorizeError(err error) error {
	if err == nil {
		return nil
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return fmt.Errorf("timeout: %w", err)
	}
	if _, ok := err.(*net.DNSError); ok {
		return fmt.Errorf("DNS error: %w", err)
	}
	if opErr, ok := err.(*net.OpError); ok && opErr.Op == "dial" {
		return fmt.Errorf("connection failed: %w", err)
	}
	if strings.Contains(err.Error(), "tls:") || strings.Contains(err.Error(), "certificate") {
		return fmt.Errorf("TLS error: %w", err)
	}
	return err
}

// isRetryableError reports whether err is the transient kind: DNS
// not-found is deliberately excluded — a name that doesn't resolve
// now won't resolve on the next attempt, so it escalates as permanent.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection reset", "connection refused", "eof", "broken pipe"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// IsDynamicContent implements the dynamic-detection heuristic: a
// Cache-Control signal OR ≥2 of a fixed keyword set appearing in the body.
func IsDynamicContent(headers http.Header, body []byte) bool {
	cacheControl := strings.ToLower(headers.Get("Cache-Control"))
	if strings.Contains(cacheControl, "no-cache") || strings.Contains(cacheControl, "max-age=0") {
		return true
	}

	content := strings.ToLower(string(body))
	indicators := []string{"csrf", "nonce", "timestamp", "session", "real-time", "live", "updated", "current", "now"}
	count := 0
	for _, ind := range indicators {
		if strings.Contains(content, ind) {
			count++
		}
	}
	return count >= 2
}
