package retryscheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/spider-crawler/crawlengine/internal/model"
	"github.com/spider-crawler/crawlengine/internal/queue"
	"github.com/spider-crawler/crawlengine/internal/retryscheduler"
)

func TestScheduler_PromotesElapsedRetriesOnEachTick(t *testing.T) {
	broker := queue.NewMemoryBroker()
	ctx := context.Background()

	u, err := model.NewFrontierURL("https://example.com/retry-me", "", "job-1", 5, 0, 0, 3, false, false, nil)
	if err != nil {
		t.Fatalf("NewFrontierURL: %v", err)
	}
	broker.EnqueueRetry(ctx, u, 0)

	s := retryscheduler.New(broker, 10*time.Millisecond)
	s.Start(ctx)
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for {
		if s.TotalMoved() >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the scheduler to promote the retry entry")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if stats := broker.Stats(ctx); stats.FrontierNormal != 1 {
		t.Errorf("FrontierNormal = %d, want 1 after promotion", stats.FrontierNormal)
	}
}

func TestScheduler_StopHaltsTheLoop(t *testing.T) {
	broker := queue.NewMemoryBroker()
	s := retryscheduler.New(broker, 5*time.Millisecond)
	s.Start(context.Background())

	time.Sleep(20 * time.Millisecond)
	s.Stop()

	moved := s.TotalMoved()
	time.Sleep(30 * time.Millisecond)
	if s.TotalMoved() != moved {
		t.Error("expected TotalMoved to stop changing after Stop returns")
	}
}
