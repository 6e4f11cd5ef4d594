package model_test

import (
	"testing"
	"time"

	"github.com/spider-crawler/crawlengine/internal/model"
)

func TestNewFrontierURL_ClampsPriority(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{0, 1},
		{1, 1},
		{10, 10},
		{15, 10},
	}

	for _, c := range cases {
		u, err := model.NewFrontierURL("https://example.com/", "", "job-1", c.in, 0, 0, 3, false, false, nil)
		if err != nil {
			t.Fatalf("NewFrontierURL priority %d: unexpected error: %v", c.in, err)
		}
		if u.Priority != c.want {
			t.Errorf("priority %d clamped to %d, want %d", c.in, u.Priority, c.want)
		}
	}
}

func TestNewFrontierURL_RejectsNonHTTPScheme(t *testing.T) {
	if _, err := model.NewFrontierURL("ftp://example.com/", "", "job-1", 5, 0, 0, 3, false, false, nil); err == nil {
		t.Error("expected error for ftp scheme, got nil")
	}
}

func TestNewFrontierURL_DerivesLowercaseDomain(t *testing.T) {
	u, err := model.NewFrontierURL("https://EXAMPLE.com/path", "", "job-1", 5, 0, 0, 3, false, false, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Domain != "example.com" {
		t.Errorf("Domain = %q, want %q", u.Domain, "example.com")
	}
}

func TestFrontierURL_IsPriority(t *testing.T) {
	low, _ := model.NewFrontierURL("https://example.com/", "", "job-1", 5, 0, 0, 3, false, false, nil)
	high, _ := model.NewFrontierURL("https://example.com/", "", "job-1", 8, 0, 0, 3, false, false, nil)

	if low.IsPriority() {
		t.Error("priority 5 should not route to the priority lane")
	}
	if !high.IsPriority() {
		t.Error("priority 8 should route to the priority lane")
	}
}

func TestFrontierURL_WithRetry(t *testing.T) {
	u, _ := model.NewFrontierURL("https://example.com/", "", "job-1", 5, 0, 0, 3, false, false, nil)

	next := u.WithRetry(90 * time.Second)
	if next.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", next.RetryCount)
	}
	if u.RetryCount != 0 {
		t.Error("WithRetry mutated the original FrontierURL")
	}
	if !next.ScheduledAt.After(time.Now()) {
		t.Error("expected ScheduledAt to be pushed into the future")
	}
}

func TestFrontierURL_ExceedsRetries(t *testing.T) {
	u, _ := model.NewFrontierURL("https://example.com/", "", "job-1", 5, 0, 0, 2, false, false, nil)

	for i := 0; i < 2; i++ {
		u = u.WithRetry(time.Second)
		if u.ExceedsRetries() {
			t.Fatalf("retry %d should not yet exceed max_retries=2", i+1)
		}
	}
	u = u.WithRetry(time.Second)
	if !u.ExceedsRetries() {
		t.Error("expected retry 3 to exceed max_retries=2")
	}
}
