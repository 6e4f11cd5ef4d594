package perf_test

import (
	"context"
	"testing"
	"time"

	"github.com/spider-crawler/crawlengine/internal/perf"
)

func TestBackpressureController_AcquireStartsARequestAfterDelay(t *testing.T) {
	cfg := perf.DefaultBackpressureConfig()
	cfg.MaxRate = 1000
	cfg.MinRate = 1000
	b := perf.NewBackpressureController(cfg)

	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	b.RequestCompleted(true, time.Millisecond)
}

func TestBackpressureController_Acquire_ContextCanceledDuringDelay(t *testing.T) {
	cfg := perf.DefaultBackpressureConfig()
	cfg.MaxRate = 0.5 // starts at MaxRate/2: ~4s between requests, long enough to cancel first
	cfg.MinRate = 0.5
	b := perf.NewBackpressureController(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := b.Acquire(ctx); err == nil {
		t.Error("expected Acquire to return an error once its context expired during the pacing delay")
	}
}

func TestBackpressureController_RequestCompleted_HighLatencyTriggersSlowdown(t *testing.T) {
	cfg := perf.DefaultBackpressureConfig()
	cfg.ResponseTimeThreshold = 10 * time.Millisecond
	cfg.MaxRate = 10
	cfg.MinRate = 0.5
	cfg.DecreaseFactor = 0.5
	b := perf.NewBackpressureController(cfg)

	before := b.GetRate()
	b.RequestStarted()
	b.RequestCompleted(true, 50*time.Millisecond)

	b.Start(context.Background())
	time.Sleep(50 * time.Millisecond)

	if b.GetRate() >= before {
		t.Errorf("expected rate to decrease after a slow request signal, before=%v after=%v", before, b.GetRate())
	}
}

func TestBackpressureController_GetDelay_ZeroRateFallsBackToOneSecond(t *testing.T) {
	cfg := perf.DefaultBackpressureConfig()
	cfg.MinRate = 0
	cfg.MaxRate = 0
	b := perf.NewBackpressureController(cfg)

	if delay := b.GetDelay(); delay != time.Second {
		t.Errorf("GetDelay() = %v, want 1s when rate is 0", delay)
	}
}
