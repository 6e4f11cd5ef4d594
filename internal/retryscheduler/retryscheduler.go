// Package retryscheduler implements the Retry Scheduler: a single
// goroutine that periodically asks the broker to promote elapsed retry
// entries back onto the frontier queue.
package retryscheduler

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spider-crawler/crawlengine/internal/queue"
)

// Scheduler polls Broker.ProcessRetry on a fixed interval.
type Scheduler struct {
	broker   queue.Broker
	interval time.Duration

	totalMoved atomic.Int64
	totalRuns  atomic.Int64

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New creates a Scheduler polling broker every interval (the engine
// configuration's default is 30s).
func New(broker queue.Broker, interval time.Duration) *Scheduler {
	return &Scheduler{
		broker:   broker,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the poll loop until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			moved := s.broker.ProcessRetry(ctx)
			s.totalRuns.Add(1)
			if moved > 0 {
				s.totalMoved.Add(int64(moved))
				log.Printf("retryscheduler: moved %d entries back to frontier", moved)
			}
		}
	}
}

// Stop halts the poll loop and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// TotalMoved reports the cumulative number of entries promoted back onto
// the frontier since this scheduler started.
func (s *Scheduler) TotalMoved() int64 {
	return s.totalMoved.Load()
}
