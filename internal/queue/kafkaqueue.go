package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/spider-crawler/crawlengine/internal/model"
	"github.com/spider-crawler/crawlengine/internal/urlutil"
)

// streamingTopics names the six logical queues as Kafka topics, one topic
// per queue.
type streamingTopics struct {
	frontierNormal   string
	frontierPriority string
	parseNormal      string
	parsePriority    string
	retry            string
	dead             string
}

// StreamingBroker is the Kafka-like broker variant: one topic per logical
// queue, partition key = domain, with a dedicated retry-topic consumer
// that buffers retry entries in memory and re-emits the ones whose delay
// has elapsed. A producer with keyed records, a kadm admin client for
// topic bookkeeping, and consumer-group polling give at-least-once
// delivery.
type StreamingBroker struct {
	topics streamingTopics

	producer *kgo.Client

	frontierConsumer *kgo.Client
	parseConsumer    *kgo.Client
	retryConsumer    *kgo.Client

	admin *kadm.Client

	// pendingRetry is the bounded in-memory staging buffer the retry
	// consumer appends to: when full, newly consumed retry records are
	// dropped and logged rather than blocking the consumer loop.
	mu           sync.Mutex
	pendingRetry []model.RetryEntry
	maxPending   int
	dropped      atomic.Int64

	enqueueErrors atomic.Int64

	closeOnce sync.Once
	stopCh    chan struct{}
}

// NewStreamingBroker connects to the given Kafka-compatible brokers,
// ensures the six topics exist, and starts the retry-topic consumer loop.
func NewStreamingBroker(ctx context.Context, brokers []string, consumerGroupID, topicPrefix string) (*StreamingBroker, error) {
	topics := streamingTopics{
		frontierNormal:   topicPrefix + "-frontier-normal",
		frontierPriority: topicPrefix + "-frontier-priority",
		parseNormal:      topicPrefix + "-parse-normal",
		parsePriority:    topicPrefix + "-parse-priority",
		retry:            topicPrefix + "-retry",
		dead:             topicPrefix + "-dead",
	}

	producer, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.GzipCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("streaming broker: producer: %w", err)
	}

	admin := kadm.NewClient(producer)
	_, _ = admin.CreateTopics(ctx, 3, 1, nil,
		topics.frontierNormal, topics.frontierPriority,
		topics.parseNormal, topics.parsePriority,
		topics.retry, topics.dead,
	)

	frontierConsumer, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(consumerGroupID+"-frontier"),
		kgo.ConsumeTopics(topics.frontierPriority, topics.frontierNormal),
	)
	if err != nil {
		return nil, fmt.Errorf("streaming broker: frontier consumer: %w", err)
	}

	parseConsumer, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(consumerGroupID+"-parse"),
		kgo.ConsumeTopics(topics.parsePriority, topics.parseNormal),
	)
	if err != nil {
		return nil, fmt.Errorf("streaming broker: parse consumer: %w", err)
	}

	retryConsumer, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(consumerGroupID+"-retry"),
		kgo.ConsumeTopics(topics.retry),
	)
	if err != nil {
		return nil, fmt.Errorf("streaming broker: retry consumer: %w", err)
	}

	b := &StreamingBroker{
		topics:           topics,
		producer:         producer,
		frontierConsumer: frontierConsumer,
		parseConsumer:    parseConsumer,
		retryConsumer:    retryConsumer,
		admin:            admin,
		maxPending:       10000,
		stopCh:           make(chan struct{}),
	}

	go b.retryConsumeLoop()

	return b, nil
}

// retryConsumeLoop continuously drains the retry topic into the bounded
// in-memory buffer; ProcessRetry later scans that buffer for due entries.
func (b *StreamingBroker) retryConsumeLoop() {
	ctx := context.Background()
	for {
		select {
		case <-b.stopCh:
			return
		default:
		}

		fetches := b.retryConsumer.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return
		}
		fetches.EachRecord(func(rec *kgo.Record) {
			var entry model.RetryEntry
			if err := json.Unmarshal(rec.Value, &entry); err != nil {
				return
			}

			b.mu.Lock()
			if len(b.pendingRetry) >= b.maxPending {
				b.dropped.Add(1)
				b.mu.Unlock()
				log.Printf("streaming broker: retry buffer full (%d entries), dropping retry record", b.maxPending)
				return
			}
			b.pendingRetry = append(b.pendingRetry, entry)
			b.mu.Unlock()
		})
	}
}

func (b *StreamingBroker) produce(ctx context.Context, topic, partitionKey string, value []byte) bool {
	record := &kgo.Record{Topic: topic, Key: []byte(partitionKey), Value: value}
	results := b.producer.ProduceSync(ctx, record)
	if err := results.FirstErr(); err != nil {
		b.enqueueErrors.Add(1)
		return false
	}
	return true
}

func (b *StreamingBroker) EnqueueFrontier(ctx context.Context, u *model.FrontierURL) bool {
	data, err := json.Marshal(u)
	if err != nil {
		b.enqueueErrors.Add(1)
		return false
	}
	topic := b.topics.frontierNormal
	if IsPriority(u.Priority) {
		topic = b.topics.frontierPriority
	}
	return b.produce(ctx, topic, u.Domain, data)
}

func (b *StreamingBroker) DequeueFrontier(ctx context.Context) (*model.FrontierURL, bool) {
	fetches := b.frontierConsumer.PollRecords(ctx, 1)
	var found *model.FrontierURL
	fetches.EachRecord(func(rec *kgo.Record) {
		if found != nil {
			return
		}
		var u model.FrontierURL
		if err := json.Unmarshal(rec.Value, &u); err == nil {
			found = &u
		}
	})
	return found, found != nil
}

func (b *StreamingBroker) EnqueueParse(ctx context.Context, t *model.ParseTask) bool {
	data, err := json.Marshal(t)
	if err != nil {
		b.enqueueErrors.Add(1)
		return false
	}
	topic := b.topics.parseNormal
	if IsPriority(t.Priority) {
		topic = b.topics.parsePriority
	}
	domain, err := urlutil.ExtractHost(t.URL)
	if err != nil {
		domain = t.TaskID
	}
	return b.produce(ctx, topic, domain, data)
}

func (b *StreamingBroker) DequeueParse(ctx context.Context) (*model.ParseTask, bool) {
	fetches := b.parseConsumer.PollRecords(ctx, 1)
	var found *model.ParseTask
	fetches.EachRecord(func(rec *kgo.Record) {
		if found != nil {
			return
		}
		var t model.ParseTask
		if err := json.Unmarshal(rec.Value, &t); err == nil {
			found = &t
		}
	})
	return found, found != nil
}

func (b *StreamingBroker) EnqueueRetry(ctx context.Context, u *model.FrontierURL, delaySeconds int) bool {
	entry := model.RetryEntry{URL: u, RetryAfter: time.Now().Add(time.Duration(delaySeconds) * time.Second)}
	data, err := json.Marshal(entry)
	if err != nil {
		b.enqueueErrors.Add(1)
		return false
	}
	return b.produce(ctx, b.topics.retry, u.Domain, data)
}

func (b *StreamingBroker) EnqueueDead(ctx context.Context, u *model.FrontierURL, reason string) bool {
	entry := model.DeadLetterEntry{URL: u, DiedAt: time.Now(), Reason: reason}
	data, err := json.Marshal(entry)
	if err != nil {
		b.enqueueErrors.Add(1)
		return false
	}
	return b.produce(ctx, b.topics.dead, u.Domain, data)
}

// ProcessRetry scans the in-memory retry buffer (fed continuously by
// retryConsumeLoop) for entries whose delay has elapsed and re-produces
// them onto the frontier topics.
func (b *StreamingBroker) ProcessRetry(ctx context.Context) int {
	now := time.Now()

	b.mu.Lock()
	var ready []model.RetryEntry
	remaining := b.pendingRetry[:0]
	for _, e := range b.pendingRetry {
		if now.Before(e.RetryAfter) {
			remaining = append(remaining, e)
		} else {
			ready = append(ready, e)
		}
	}
	b.pendingRetry = remaining
	b.mu.Unlock()

	moved := 0
	for _, e := range ready {
		if b.EnqueueFrontier(ctx, e.URL) {
			moved++
		}
	}
	return moved
}

func (b *StreamingBroker) Stats(_ context.Context) Stats {
	b.mu.Lock()
	pending := len(b.pendingRetry)
	b.mu.Unlock()

	return Stats{
		RetryPending:  pending,
		EnqueueErrors: b.enqueueErrors.Load() + b.dropped.Load(),
	}
}

func (b *StreamingBroker) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		b.frontierConsumer.Close()
		b.parseConsumer.Close()
		b.retryConsumer.Close()
		b.producer.Close()
	})
	return nil
}

var _ Broker = (*StreamingBroker)(nil)
