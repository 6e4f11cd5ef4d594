package queue

import (
	"container/list"
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spider-crawler/crawlengine/internal/model"
)

// MemoryBroker is the in-process backend: two concurrent FIFO sequences
// per logical queue (priority + normal), a retry list kept sorted by
// retry_after, and an append-only dead list. The four frontier/parse lanes
// are container/list lists; the retry and dead queues are slices. Priority
// is a routing decision
// made at enqueue time, not a sort, so no heap is needed.
type MemoryBroker struct {
	mu sync.Mutex

	frontierNormal   *list.List
	frontierPriority *list.List
	parseNormal      *list.List
	parsePriority    *list.List

	retry []model.RetryEntry
	dead  []model.DeadLetterEntry

	enqueueErrors atomic.Int64
}

// NewMemoryBroker constructs an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		frontierNormal:   list.New(),
		frontierPriority: list.New(),
		parseNormal:      list.New(),
		parsePriority:    list.New(),
	}
}

func (b *MemoryBroker) EnqueueFrontier(_ context.Context, u *model.FrontierURL) bool {
	if u == nil {
		b.enqueueErrors.Add(1)
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if IsPriority(u.Priority) {
		b.frontierPriority.PushBack(u)
	} else {
		b.frontierNormal.PushBack(u)
	}
	return true
}

func (b *MemoryBroker) DequeueFrontier(_ context.Context) (*model.FrontierURL, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if elem := b.frontierPriority.Front(); elem != nil {
		b.frontierPriority.Remove(elem)
		return elem.Value.(*model.FrontierURL), true
	}
	if elem := b.frontierNormal.Front(); elem != nil {
		b.frontierNormal.Remove(elem)
		return elem.Value.(*model.FrontierURL), true
	}
	return nil, false
}

func (b *MemoryBroker) EnqueueParse(_ context.Context, t *model.ParseTask) bool {
	if t == nil {
		b.enqueueErrors.Add(1)
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if IsPriority(t.Priority) {
		b.parsePriority.PushBack(t)
	} else {
		b.parseNormal.PushBack(t)
	}
	return true
}

func (b *MemoryBroker) DequeueParse(_ context.Context) (*model.ParseTask, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if elem := b.parsePriority.Front(); elem != nil {
		b.parsePriority.Remove(elem)
		return elem.Value.(*model.ParseTask), true
	}
	if elem := b.parseNormal.Front(); elem != nil {
		b.parseNormal.Remove(elem)
		return elem.Value.(*model.ParseTask), true
	}
	return nil, false
}

func (b *MemoryBroker) EnqueueRetry(_ context.Context, u *model.FrontierURL, delaySeconds int) bool {
	if u == nil {
		b.enqueueErrors.Add(1)
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.retry = append(b.retry, model.RetryEntry{
		URL:        u,
		RetryAfter: time.Now().Add(time.Duration(delaySeconds) * time.Second),
	})
	sort.Slice(b.retry, func(i, j int) bool {
		return b.retry[i].RetryAfter.Before(b.retry[j].RetryAfter)
	})
	return true
}

func (b *MemoryBroker) EnqueueDead(_ context.Context, u *model.FrontierURL, reason string) bool {
	if u == nil {
		b.enqueueErrors.Add(1)
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dead = append(b.dead, model.DeadLetterEntry{
		URL:    u,
		DiedAt: time.Now(),
		Reason: reason,
	})
	return true
}

// ProcessRetry promotes every retry entry whose retry_after has elapsed
// back onto the frontier queue. The scan and the promotion happen under
// the same lock used by EnqueueRetry, so the step is atomic with respect
// to concurrent retry enqueues.
func (b *MemoryBroker) ProcessRetry(_ context.Context) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	moved := 0
	remaining := b.retry[:0]
	for _, e := range b.retry {
		if now.Before(e.RetryAfter) {
			remaining = append(remaining, e)
			continue
		}
		if IsPriority(e.URL.Priority) {
			b.frontierPriority.PushBack(e.URL)
		} else {
			b.frontierNormal.PushBack(e.URL)
		}
		moved++
	}
	b.retry = remaining
	return moved
}

func (b *MemoryBroker) Stats(_ context.Context) Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		FrontierNormal:   b.frontierNormal.Len(),
		FrontierPriority: b.frontierPriority.Len(),
		ParseNormal:      b.parseNormal.Len(),
		ParsePriority:    b.parsePriority.Len(),
		RetryPending:     len(b.retry),
		DeadLetterTotal:  len(b.dead),
		EnqueueErrors:    b.enqueueErrors.Load(),
	}
}

func (b *MemoryBroker) Close() error { return nil }

var _ Broker = (*MemoryBroker)(nil)
