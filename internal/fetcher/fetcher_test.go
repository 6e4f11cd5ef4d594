package fetcher_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spider-crawler/crawlengine/internal/fetcher"
)

func TestFetcher_Fetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	f := fetcher.New("crawlengine-test/1.0", 1<<20, time.Second, time.Second, 5*time.Second)
	defer f.Close()

	resp := f.Fetch(context.Background(), srv.URL, fetcher.ConditionalHeaders{})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if resp.ContentType != "text/html" {
		t.Errorf("ContentType = %q, want %q", resp.ContentType, "text/html")
	}
	if !strings.Contains(string(resp.Body), "hello") {
		t.Errorf("body = %q, missing expected content", resp.Body)
	}
}

func TestFetcher_Fetch_NotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"etag-1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Write([]byte("body"))
	}))
	defer srv.Close()

	f := fetcher.New("crawlengine-test/1.0", 1<<20, time.Second, time.Second, 5*time.Second)
	defer f.Close()

	resp := f.Fetch(context.Background(), srv.URL, fetcher.ConditionalHeaders{IfNoneMatch: `"etag-1"`})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if !resp.NotModified {
		t.Error("expected NotModified to be true")
	}
}

func TestFetcher_Fetch_LargeSkipByContentLength(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "4096")
		w.Write(payload)
	}))
	defer srv.Close()

	f := fetcher.New("crawlengine-test/1.0", 1024, time.Second, time.Second, 5*time.Second)
	defer f.Close()

	resp := f.Fetch(context.Background(), srv.URL, fetcher.ConditionalHeaders{})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if !resp.LargeSkip {
		t.Error("expected LargeSkip for a response exceeding maxBodySize via Content-Length")
	}
}

func TestFetcher_Fetch_TruncatesStreamedBodyWithoutContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Transfer-Encoding", "chunked")
		flusher, _ := w.(http.Flusher)
		for i := 0; i < 4; i++ {
			w.Write(bytes.Repeat([]byte("b"), 4096))
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer srv.Close()

	f := fetcher.New("crawlengine-test/1.0", 8192, time.Second, time.Second, 5*time.Second)
	defer f.Close()

	resp := f.Fetch(context.Background(), srv.URL, fetcher.ConditionalHeaders{})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if !resp.Truncated {
		t.Error("expected the streamed body to be marked truncated")
	}
	if int64(len(resp.Body)) > 8192 {
		t.Errorf("body len %d exceeds maxBodySize 8192", len(resp.Body))
	}
}

func TestFetcher_Fetch_GzipDecompressed(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte("decompressed content"))
	gz.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	f := fetcher.New("crawlengine-test/1.0", 1<<20, time.Second, time.Second, 5*time.Second)
	defer f.Close()

	resp := f.Fetch(context.Background(), srv.URL, fetcher.ConditionalHeaders{})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if string(resp.Body) != "decompressed content" {
		t.Errorf("body = %q, want decompressed content", resp.Body)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		resp *fetcher.Response
		want fetcher.FailureKind
	}{
		{"404 is permanent", &fetcher.Response{StatusCode: http.StatusNotFound}, fetcher.FailurePermanent},
		{"429 is rate limited", &fetcher.Response{StatusCode: http.StatusTooManyRequests}, fetcher.FailureRateLimited},
		{"500 is transient", &fetcher.Response{StatusCode: http.StatusInternalServerError}, fetcher.FailureTransient},
		{"200 is not a failure", &fetcher.Response{StatusCode: http.StatusOK}, fetcher.FailureNone},
		{"oversize wins regardless of status", &fetcher.Response{StatusCode: http.StatusOK, LargeSkip: true}, fetcher.FailureOversize},
	}

	for _, c := range cases {
		if got := fetcher.Classify(c.resp); got != c.want {
			t.Errorf("%s: Classify = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestRetryAfterDelay(t *testing.T) {
	resp := &fetcher.Response{StatusCode: http.StatusTooManyRequests, Headers: http.Header{"Retry-After": []string{"120"}}}
	delay, ok := fetcher.RetryAfterDelay(resp)
	if !ok {
		t.Fatal("expected Retry-After to be parsed")
	}
	if delay != 120*time.Second {
		t.Errorf("delay = %v, want 120s", delay)
	}

	noHeader := &fetcher.Response{StatusCode: http.StatusTooManyRequests}
	if _, ok := fetcher.RetryAfterDelay(noHeader); ok {
		t.Error("expected no Retry-After when header is absent")
	}
}

func TestIsDynamicContent(t *testing.T) {
	cases := []struct {
		name    string
		headers http.Header
		body    string
		want    bool
	}{
		{"cache-control no-cache", http.Header{"Cache-Control": []string{"no-cache"}}, "static page", true},
		{"two keyword hits", http.Header{}, "your session is live and updated now", true},
		{"one keyword hit", http.Header{}, "session expired", false},
		{"plain static page", http.Header{}, "about our company", false},
	}

	for _, c := range cases {
		if got := fetcher.IsDynamicContent(c.headers, []byte(c.body)); got != c.want {
			t.Errorf("%s: IsDynamicContent = %v, want %v", c.name, got, c.want)
		}
	}
}
