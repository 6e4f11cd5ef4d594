// Package queue implements the Queue Broker abstraction: a single
// interface with one concrete variant per backend, generalized from one
// traversal queue into the six logical queues (frontier-normal,
// frontier-priority, parse-normal, parse-priority, retry, dead-letter)
// the engine's broker contract requires.
package queue

import (
	"context"

	"github.com/spider-crawler/crawlengine/internal/model"
)

// Stats reports approximate per-queue depths and the counters every
// backend must expose.
type Stats struct {
	FrontierNormal   int
	FrontierPriority int
	ParseNormal      int
	ParsePriority    int
	RetryPending     int
	DeadLetterTotal  int
	EnqueueErrors    int64
}

// Broker is the six-operation contract every backend satisfies. Priority
// routing (priority >= 8 goes to the priority lane) and best-effort
// ordering guarantees must hold for every implementation, not just the
// in-process one.
type Broker interface {
	EnqueueFrontier(ctx context.Context, u *model.FrontierURL) bool
	DequeueFrontier(ctx context.Context) (*model.FrontierURL, bool)

	EnqueueParse(ctx context.Context, t *model.ParseTask) bool
	DequeueParse(ctx context.Context) (*model.ParseTask, bool)

	EnqueueRetry(ctx context.Context, u *model.FrontierURL, delaySeconds int) bool
	EnqueueDead(ctx context.Context, u *model.FrontierURL, reason string) bool

	// ProcessRetry promotes every entry whose retry_after has elapsed back
	// onto the frontier queue and returns how many were moved.
	ProcessRetry(ctx context.Context) int

	Stats(ctx context.Context) Stats

	// Close releases broker-held resources (connections, goroutines).
	Close() error
}

// IsPriority reports whether priority routes to the priority lane, per
// the >= 8 rule shared by every backend.
func IsPriority(priority int) bool {
	return priority >= 8
}
