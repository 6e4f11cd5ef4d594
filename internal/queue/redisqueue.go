package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spider-crawler/crawlengine/internal/model"
)

// RedisBroker is the "external broker with lists and sorted sets" variant:
// normal/priority lists, BRPop dequeue without a processing list, a
// ZADD/ZRANGEBYSCORE sorted set keyed by retry_after for delayed retries,
// and an append-only dead list.
type RedisBroker struct {
	client *redis.Client

	frontierNormalKey   string
	frontierPriorityKey string
	parseNormalKey      string
	parsePriorityKey    string
	retryZSetKey        string
	deadListKey         string

	dequeueTimeout time.Duration
	enqueueErrors  atomic.Int64
}

// NewRedisBroker connects to a Redis-compatible server at addr and returns
// a broker scoped by keyPrefix (so multiple engines can share a server).
func NewRedisBroker(addr, password string, db int, keyPrefix string) *RedisBroker {
	client := redis.NewClient(&redis.Options{
		Addr:                  addr,
		Password:              password,
		DB:                    db,
		PoolSize:              50,
		MinIdleConns:          5,
		ContextTimeoutEnabled: true,
	})

	return &RedisBroker{
		client:               client,
		frontierNormalKey:    keyPrefix + ":frontier:normal",
		frontierPriorityKey:  keyPrefix + ":frontier:priority",
		parseNormalKey:       keyPrefix + ":parse:normal",
		parsePriorityKey:     keyPrefix + ":parse:priority",
		retryZSetKey:         keyPrefix + ":retry",
		deadListKey:          keyPrefix + ":dead",
		dequeueTimeout:       500 * time.Millisecond,
	}
}

func (b *RedisBroker) EnqueueFrontier(ctx context.Context, u *model.FrontierURL) bool {
	data, err := json.Marshal(u)
	if err != nil {
		b.enqueueErrors.Add(1)
		return false
	}
	key := b.frontierNormalKey
	if IsPriority(u.Priority) {
		key = b.frontierPriorityKey
	}
	if err := b.client.LPush(ctx, key, data).Err(); err != nil {
		b.enqueueErrors.Add(1)
		return false
	}
	return true
}

func (b *RedisBroker) DequeueFrontier(ctx context.Context) (*model.FrontierURL, bool) {
	if raw, ok := b.popOne(ctx, b.frontierPriorityKey); ok {
		return decodeFrontier(raw)
	}
	if raw, ok := b.popOne(ctx, b.frontierNormalKey); ok {
		return decodeFrontier(raw)
	}
	return nil, false
}

func (b *RedisBroker) EnqueueParse(ctx context.Context, t *model.ParseTask) bool {
	data, err := json.Marshal(t)
	if err != nil {
		b.enqueueErrors.Add(1)
		return false
	}
	key := b.parseNormalKey
	if IsPriority(t.Priority) {
		key = b.parsePriorityKey
	}
	if err := b.client.LPush(ctx, key, data).Err(); err != nil {
		b.enqueueErrors.Add(1)
		return false
	}
	return true
}

func (b *RedisBroker) DequeueParse(ctx context.Context) (*model.ParseTask, bool) {
	if raw, ok := b.popOne(ctx, b.parsePriorityKey); ok {
		return decodeParseTask(raw)
	}
	if raw, ok := b.popOne(ctx, b.parseNormalKey); ok {
		return decodeParseTask(raw)
	}
	return nil, false
}

// popOne performs a short-timeout BRPop on key. There is no processing-list
// hop or visibility timeout: the entry leaves Redis when it is popped, and
// an entry popped by a worker that then crashes is not redelivered.
func (b *RedisBroker) popOne(ctx context.Context, key string) (string, bool) {
	res, err := b.client.BRPop(ctx, b.dequeueTimeout, key).Result()
	if err != nil {
		return "", false
	}
	if len(res) != 2 {
		return "", false
	}
	return res[1], true
}

func decodeFrontier(raw string) (*model.FrontierURL, bool) {
	var u model.FrontierURL
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, false
	}
	return &u, true
}

func decodeParseTask(raw string) (*model.ParseTask, bool) {
	var t model.ParseTask
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, false
	}
	return &t, true
}

func (b *RedisBroker) EnqueueRetry(ctx context.Context, u *model.FrontierURL, delaySeconds int) bool {
	data, err := json.Marshal(u)
	if err != nil {
		b.enqueueErrors.Add(1)
		return false
	}
	retryAfter := time.Now().Add(time.Duration(delaySeconds) * time.Second)
	if err := b.client.ZAdd(ctx, b.retryZSetKey, redis.Z{
		Score:  float64(retryAfter.Unix()),
		Member: data,
	}).Err(); err != nil {
		b.enqueueErrors.Add(1)
		return false
	}
	return true
}

func (b *RedisBroker) EnqueueDead(ctx context.Context, u *model.FrontierURL, reason string) bool {
	entry := model.DeadLetterEntry{URL: u, DiedAt: time.Now(), Reason: reason}
	data, err := json.Marshal(entry)
	if err != nil {
		b.enqueueErrors.Add(1)
		return false
	}
	if err := b.client.LPush(ctx, b.deadListKey, data).Err(); err != nil {
		b.enqueueErrors.Add(1)
		return false
	}
	return true
}

// ProcessRetry scans the retry sorted set for entries scored at or before
// now, and moves each into the frontier. A per-entry ZRem ensures a
// concurrent EnqueueRetry for the same member can't be silently dropped:
// the member is only considered moved if the ZRem actually removed it.
func (b *RedisBroker) ProcessRetry(ctx context.Context) int {
	now := float64(time.Now().Unix())
	members, err := b.client.ZRangeByScore(ctx, b.retryZSetKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return 0
	}

	moved := 0
	for _, member := range members {
		removed, err := b.client.ZRem(ctx, b.retryZSetKey, member).Result()
		if err != nil || removed == 0 {
			continue
		}
		u, ok := decodeFrontier(member)
		if !ok {
			continue
		}
		if b.EnqueueFrontier(ctx, u) {
			moved++
		}
	}
	return moved
}

func (b *RedisBroker) Stats(ctx context.Context) Stats {
	fn, _ := b.client.LLen(ctx, b.frontierNormalKey).Result()
	fp, _ := b.client.LLen(ctx, b.frontierPriorityKey).Result()
	pn, _ := b.client.LLen(ctx, b.parseNormalKey).Result()
	pp, _ := b.client.LLen(ctx, b.parsePriorityKey).Result()
	retry, _ := b.client.ZCard(ctx, b.retryZSetKey).Result()
	dead, _ := b.client.LLen(ctx, b.deadListKey).Result()

	return Stats{
		FrontierNormal:   int(fn),
		FrontierPriority: int(fp),
		ParseNormal:      int(pn),
		ParsePriority:    int(pp),
		RetryPending:     int(retry),
		DeadLetterTotal:  int(dead),
		EnqueueErrors:    b.enqueueErrors.Load(),
	}
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}

var _ Broker = (*RedisBroker)(nil)
