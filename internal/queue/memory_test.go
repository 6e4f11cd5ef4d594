package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/spider-crawler/crawlengine/internal/model"
	"github.com/spider-crawler/crawlengine/internal/queue"
)

func newURL(t *testing.T, rawURL string, priority int) *model.FrontierURL {
	t.Helper()
	u, err := model.NewFrontierURL(rawURL, "", "job-1", priority, 0, 0, 3, false, false, nil)
	if err != nil {
		t.Fatalf("NewFrontierURL(%q): %v", rawURL, err)
	}
	return u
}

func TestMemoryBroker_PriorityLaneDequeuesFirst(t *testing.T) {
	ctx := context.Background()
	b := queue.NewMemoryBroker()

	normal := newURL(t, "https://example.com/normal", 3)
	priority := newURL(t, "https://example.com/priority", 9)

	b.EnqueueFrontier(ctx, normal)
	b.EnqueueFrontier(ctx, priority)

	got, ok := b.DequeueFrontier(ctx)
	if !ok {
		t.Fatal("expected a dequeued entry")
	}
	if got.URL != priority.URL {
		t.Errorf("expected priority entry first, got %q", got.URL)
	}

	got, ok = b.DequeueFrontier(ctx)
	if !ok || got.URL != normal.URL {
		t.Errorf("expected normal entry second, got %q, ok=%v", got, ok)
	}
}

func TestMemoryBroker_DequeueFrontier_EmptyReturnsFalse(t *testing.T) {
	b := queue.NewMemoryBroker()
	if _, ok := b.DequeueFrontier(context.Background()); ok {
		t.Error("expected DequeueFrontier on an empty broker to return false")
	}
}

func TestMemoryBroker_ProcessRetry_OnlyPromotesElapsedEntries(t *testing.T) {
	ctx := context.Background()
	b := queue.NewMemoryBroker()

	notYet := newURL(t, "https://example.com/later", 5)
	ready := newURL(t, "https://example.com/now", 5)

	b.EnqueueRetry(ctx, notYet, 3600)
	b.EnqueueRetry(ctx, ready, 0)

	time.Sleep(10 * time.Millisecond)

	moved := b.ProcessRetry(ctx)
	if moved != 1 {
		t.Fatalf("ProcessRetry moved %d entries, want 1", moved)
	}

	stats := b.Stats(ctx)
	if stats.RetryPending != 1 {
		t.Errorf("RetryPending = %d, want 1 (the not-yet-elapsed entry)", stats.RetryPending)
	}
	if stats.FrontierNormal != 1 {
		t.Errorf("FrontierNormal = %d, want 1 (the promoted entry)", stats.FrontierNormal)
	}
}

func TestMemoryBroker_EnqueueDead_RejectsNil(t *testing.T) {
	b := queue.NewMemoryBroker()
	if b.EnqueueDead(context.Background(), nil, "bad") {
		t.Error("expected EnqueueDead(nil) to report failure")
	}
	if b.Stats(context.Background()).EnqueueErrors != 1 {
		t.Error("expected the nil enqueue to count as an enqueue error")
	}
}

func TestMemoryBroker_Stats_CountsAllQueues(t *testing.T) {
	ctx := context.Background()
	b := queue.NewMemoryBroker()

	b.EnqueueFrontier(ctx, newURL(t, "https://a.example.com/", 9))
	b.EnqueueFrontier(ctx, newURL(t, "https://b.example.com/", 2))
	b.EnqueueParse(ctx, &model.ParseTask{TaskID: "t1", URL: "https://a.example.com/", Priority: 9})
	b.EnqueueDead(ctx, newURL(t, "https://c.example.com/", 2), "gave up")

	stats := b.Stats(ctx)
	if stats.FrontierPriority != 1 || stats.FrontierNormal != 1 {
		t.Errorf("unexpected frontier split: %+v", stats)
	}
	if stats.ParsePriority != 1 {
		t.Errorf("ParsePriority = %d, want 1", stats.ParsePriority)
	}
	if stats.DeadLetterTotal != 1 {
		t.Errorf("DeadLetterTotal = %d, want 1", stats.DeadLetterTotal)
	}
}
