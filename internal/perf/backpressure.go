// Package perf provides the adaptive backpressure governor CrawlWorker
// uses to pace fetches beyond the static Rate Limiter: it watches error
// rate and in-flight request count and nudges a target crawl rate up or
// down, and reacts immediately to a slow response via a buffered signal
// channel rather than waiting for the next adjustment tick.
package perf

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// BackpressureController paces CrawlWorker's fetches on top of the
// per-host token-bucket Rate Limiter, backing off when errors or
// response latency climb and easing back up once the pipeline recovers.
type BackpressureController struct {
	mu sync.RWMutex

	config *BackpressureConfig

	currentRate    float64
	lastAdjustment time.Time

	pendingRequests int64
	errorCount      int64
	successCount    int64

	slowDown chan struct{}
}

// BackpressureConfig bounds and paces the controller's rate adjustments.
type BackpressureConfig struct {
	MinRate float64 // Minimum requests per second
	MaxRate float64 // Maximum requests per second

	PendingThreshold      int64         // Max pending requests before slowing
	ErrorRateThreshold    float64       // Error rate threshold (0-1)
	ResponseTimeThreshold time.Duration // Response time threshold that triggers an immediate slowdown

	AdjustInterval   time.Duration // How often the periodic adjustment runs
	IncreaseFactor   float64       // Rate increase multiplier
	DecreaseFactor   float64       // Rate decrease multiplier
	CooldownDuration time.Duration // Minimum time between periodic adjustments
}

// DefaultBackpressureConfig returns the default pacing configuration.
func DefaultBackpressureConfig() *BackpressureConfig {
	return &BackpressureConfig{
		MinRate:               0.5,
		MaxRate:               50.0,
		PendingThreshold:      1000,
		ErrorRateThreshold:    0.1,
		ResponseTimeThreshold: 5 * time.Second,
		AdjustInterval:        time.Second,
		IncreaseFactor:        1.1,
		DecreaseFactor:        0.7,
		CooldownDuration:      5 * time.Second,
	}
}

// NewBackpressureController creates a new backpressure controller.
func NewBackpressureController(config *BackpressureConfig) *BackpressureController {
	if config == nil {
		config = DefaultBackpressureConfig()
	}

	return &BackpressureController{
		config:      config,
		currentRate: config.MaxRate / 2, // Start at half max
		slowDown:    make(chan struct{}, 100),
	}
}

// Start runs the periodic adjustment loop until ctx is cancelled.
func (b *BackpressureController) Start(ctx context.Context) {
	go b.adjustmentLoop(ctx)
}

// adjustmentLoop periodically re-evaluates the rate and reacts to
// slowdown signals raised by RequestCompleted in between ticks.
func (b *BackpressureController) adjustmentLoop(ctx context.Context) {
	ticker := time.NewTicker(b.config.AdjustInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.adjustRate()
		case <-b.slowDown:
			b.decreaseRate()
		}
	}
}

// adjustRate re-evaluates the error rate and pending-request count and
// nudges currentRate accordingly, subject to the cooldown.
func (b *BackpressureController) adjustRate() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if time.Since(b.lastAdjustment) < b.config.CooldownDuration {
		return
	}

	total := atomic.LoadInt64(&b.successCount) + atomic.LoadInt64(&b.errorCount)
	errorRate := 0.0
	if total > 0 {
		errorRate = float64(atomic.LoadInt64(&b.errorCount)) / float64(total)
	}

	pending := atomic.LoadInt64(&b.pendingRequests)

	switch {
	case errorRate > b.config.ErrorRateThreshold || pending > b.config.PendingThreshold:
		b.currentRate *= b.config.DecreaseFactor
		if b.currentRate < b.config.MinRate {
			b.currentRate = b.config.MinRate
		}
	case errorRate < b.config.ErrorRateThreshold/2 && pending < b.config.PendingThreshold/2:
		b.currentRate *= b.config.IncreaseFactor
		if b.currentRate > b.config.MaxRate {
			b.currentRate = b.config.MaxRate
		}
	}

	b.lastAdjustment = time.Now()
}

// decreaseRate forcefully decreases the rate outside the cooldown, used
// when RequestCompleted observes a response slower than
// ResponseTimeThreshold.
func (b *BackpressureController) decreaseRate() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.currentRate *= b.config.DecreaseFactor
	if b.currentRate < b.config.MinRate {
		b.currentRate = b.config.MinRate
	}
	b.lastAdjustment = time.Now()
}

// GetRate returns the current target rate in requests per second.
func (b *BackpressureController) GetRate() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.currentRate
}

// GetDelay returns the pacing delay between requests implied by the
// current rate.
func (b *BackpressureController) GetDelay() time.Duration {
	rate := b.GetRate()
	if rate <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / rate)
}

// RequestStarted records that a fetch has begun.
func (b *BackpressureController) RequestStarted() {
	atomic.AddInt64(&b.pendingRequests, 1)
}

// RequestCompleted records a fetch's outcome and duration, and raises an
// immediate slowdown signal when the response was slower than
// ResponseTimeThreshold rather than waiting for the next adjustment tick.
func (b *BackpressureController) RequestCompleted(success bool, duration time.Duration) {
	atomic.AddInt64(&b.pendingRequests, -1)

	if success {
		atomic.AddInt64(&b.successCount, 1)
	} else {
		atomic.AddInt64(&b.errorCount, 1)
	}

	if duration > b.config.ResponseTimeThreshold {
		select {
		case b.slowDown <- struct{}{}:
		default:
		}
	}
}

// Acquire blocks until the current pacing delay has elapsed, then
// records the request as started.
func (b *BackpressureController) Acquire(ctx context.Context) error {
	delay := b.GetDelay()
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		b.RequestStarted()
		return nil
	}
}
