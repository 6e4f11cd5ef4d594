// Package supervisor implements the Crawl System Supervisor: it
// constructs every collaborator (broker, stores, DNS cache, rate
// limiter, renderer pool), starts the crawl/parse worker pools and the
// retry scheduler, accepts seed URLs, and aggregates stats. Widened from
// one worker pool into the engine's crawl/parse pair plus broker
// selection.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spider-crawler/crawlengine/internal/config"
	"github.com/spider-crawler/crawlengine/internal/dnscache"
	"github.com/spider-crawler/crawlengine/internal/fetcher"
	"github.com/spider-crawler/crawlengine/internal/model"
	"github.com/spider-crawler/crawlengine/internal/parser"
	"github.com/spider-crawler/crawlengine/internal/perf"
	"github.com/spider-crawler/crawlengine/internal/queue"
	"github.com/spider-crawler/crawlengine/internal/ratelimit"
	"github.com/spider-crawler/crawlengine/internal/renderer"
	"github.com/spider-crawler/crawlengine/internal/retryscheduler"
	"github.com/spider-crawler/crawlengine/internal/storage"
	"github.com/spider-crawler/crawlengine/internal/worker"
)

// Stats aggregates every collaborator's counters into one snapshot,
// covering both worker pools
// and the broker.
type Stats struct {
	Crawl   worker.CrawlWorkerStats
	Parse   worker.ParseWorkerStats
	Queue   queue.Stats
	Retried int64
	Elapsed time.Duration
}

// Supervisor owns every long-lived collaborator of a running crawl
// engine and the goroutines built on top of them.
type Supervisor struct {
	cfg *config.EngineConfig

	broker queue.Broker
	db     *storage.Database
	blobs  *storage.BlobStore
	crs    *storage.CrawlRecordStore
	dns    *dnscache.Cache
	limit  *ratelimit.Limiter
	render *renderer.Pool // nil when JS rendering is disabled
	fetch  *fetcher.Fetcher
	ocr    parser.TextExtractor
	ocrs   *parser.OCRPool
	bp     *perf.BackpressureController

	crawlWorkers []*worker.CrawlWorker
	parseWorkers []*worker.ParseWorker
	retry        *retryscheduler.Scheduler

	startTime time.Time
}

// New wires every collaborator for cfg. dbPath is the SQLite file backing
// the Blob Store and Crawl Record Store; ocr may be nil, in which case
// parser.NoOCR{} is used.
func New(ctx context.Context, cfg *config.EngineConfig, dbPath string, ocr parser.TextExtractor) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	broker, err := newBroker(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("construct broker: %w", err)
	}

	db, err := storage.NewDatabase(dbPath)
	if err != nil {
		broker.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Initialize(); err != nil {
		db.Close()
		broker.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	var renderPool *renderer.Pool
	if cfg.EnableJSRendering {
		renderPool, err = renderer.New(cfg.RateLimit.MaxBrowsers, cfg.UserAgent, "", cfg.RateLimit.PageTimeout, cfg.SelectorWait)
		if err != nil {
			db.Close()
			broker.Close()
			return nil, fmt.Errorf("construct renderer pool: %w", err)
		}
	}

	if ocr == nil {
		ocr = parser.NoOCR{}
	}

	s := &Supervisor{
		cfg:    cfg,
		broker: broker,
		db:     db,
		blobs:  storage.NewBlobStore(db),
		crs:    storage.NewCrawlRecordStore(db),
		dns:    dnscache.New(cfg.DNSCacheTTL),
		limit:  ratelimit.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.BurstSize, cfg.RateLimit.JitterFactor, cfg.RateLimit.PerDomain),
		render: renderPool,
		fetch:  fetcher.New(cfg.UserAgent, cfg.MaxContentSize, cfg.ConnectTimeout, cfg.ReadTimeout, cfg.TotalTimeout),
		ocr:    ocr,
		ocrs:   parser.NewOCRPool(cfg.NumParseWorkers),
		bp:     perf.NewBackpressureController(nil),
	}

	for i := 0; i < cfg.NumCrawlWorkers; i++ {
		id := fmt.Sprintf("crawl-%d", i)
		s.crawlWorkers = append(s.crawlWorkers, worker.NewCrawlWorker(
			id, s.broker, s.crs, s.blobs, s.dns, s.limit, s.render, s.fetch, s.bp, cfg.MaxConcurrent,
		))
	}
	for i := 0; i < cfg.NumParseWorkers; i++ {
		id := fmt.Sprintf("parse-%d", i)
		s.parseWorkers = append(s.parseWorkers, worker.NewParseWorker(
			id, s.broker, s.blobs, s.ocr, s.ocrs, cfg.MaxConcurrent,
		))
	}
	s.retry = retryscheduler.New(s.broker, cfg.RetryPollInterval)

	return s, nil
}

func newBroker(ctx context.Context, cfg *config.EngineConfig) (queue.Broker, error) {
	switch cfg.BrokerBackend {
	case config.BrokerInProcess, "":
		return queue.NewMemoryBroker(), nil
	case config.BrokerListStore:
		return queue.NewRedisBroker(cfg.ListStore.Addr, cfg.ListStore.Password, cfg.ListStore.DB, "crawlengine"), nil
	case config.BrokerStreaming:
		return queue.NewStreamingBroker(ctx, cfg.Streaming.BootstrapServers, cfg.Streaming.ConsumerGroupID, cfg.Streaming.TopicPrefix)
	case config.BrokerCloudQueue:
		return queue.NewCloudQueueBroker(ctx, cfg.CloudQueue.Region, cfg.CloudQueue.QueueURLPrefix, cfg.CloudQueue.DeadLetterTarget)
	default:
		return nil, fmt.Errorf("unknown broker backend %q", cfg.BrokerBackend)
	}
}

// Start launches every worker and the retry scheduler.
func (s *Supervisor) Start(ctx context.Context) {
	s.startTime = time.Now()
	s.bp.Start(ctx)
	for _, w := range s.crawlWorkers {
		w.Start(ctx)
	}
	for _, w := range s.parseWorkers {
		w.Start(ctx)
	}
	s.retry.Start(ctx)
}

// Stop halts every worker and the retry scheduler, then releases the
// broker and database.
func (s *Supervisor) Stop() {
	for _, w := range s.crawlWorkers {
		w.Stop()
	}
	for _, w := range s.parseWorkers {
		w.Stop()
	}
	s.retry.Stop()

	if s.render != nil {
		s.render.Close()
	}
	s.fetch.Close()
	s.broker.Close()
	s.db.Close()
}

// AddSeedURLs enqueues rawURLs as job-seeded frontier entries at
// link_depth 0, tagged [seed_url, link_depth:0, job_id:<jobID>,
// priority:<priority>].
func (s *Supervisor) AddSeedURLs(ctx context.Context, rawURLs []string, jobID string, priority int, requiresJS, isDynamic bool) error {
	if jobID == "" {
		jobID = uuid.NewString()
	}

	tags := model.Tags{}.
		WithFlag("seed_url").
		With("link_depth", "0").
		With("job_id", jobID).
		With("priority", fmt.Sprintf("%d", priority))

	for _, rawURL := range rawURLs {
		u, err := model.NewFrontierURL(rawURL, "", jobID, priority, 0, 0, s.cfg.MaxRetries, requiresJS, isDynamic, tags)
		if err != nil {
			return fmt.Errorf("seed url %q: %w", rawURL, err)
		}
		s.broker.EnqueueFrontier(ctx, u)
	}
	return nil
}

// Stats aggregates every worker's and the broker's counters.
func (s *Supervisor) Stats(ctx context.Context) Stats {
	var agg Stats
	var totalResponseNanos, respondingWorkers int64
	for _, w := range s.crawlWorkers {
		cs := w.Stats()
		agg.Crawl.URLsCrawled += cs.URLsCrawled
		agg.Crawl.URLsFailed += cs.URLsFailed
		agg.Crawl.ConditionalRequests += cs.ConditionalRequests
		agg.Crawl.NotModifiedResponses += cs.NotModifiedResponses
		agg.Crawl.LargePagesSkipped += cs.LargePagesSkipped
		agg.Crawl.JSRenderedPages += cs.JSRenderedPages
		agg.Crawl.BytesDownloaded += cs.BytesDownloaded
		if cs.AvgResponseTime > 0 {
			totalResponseNanos += int64(cs.AvgResponseTime)
			respondingWorkers++
		}
	}
	if respondingWorkers > 0 {
		agg.Crawl.AvgResponseTime = time.Duration(totalResponseNanos / respondingWorkers)
	}
	for _, w := range s.parseWorkers {
		ps := w.Stats()
		agg.Parse.TasksProcessed += ps.TasksProcessed
		agg.Parse.TasksFailed += ps.TasksFailed
		agg.Parse.LinksDiscovered += ps.LinksDiscovered
		agg.Parse.LinksEnqueued += ps.LinksEnqueued
		agg.Parse.OCRInvocations += ps.OCRInvocations
	}
	agg.Queue = s.broker.Stats(ctx)
	agg.Retried = s.retry.TotalMoved()
	agg.Elapsed = time.Since(s.startTime)
	return agg
}

// DueForRecrawl exposes the Crawl Record Store's recrawl query for
// operator tooling and tests.
func (s *Supervisor) DueForRecrawl(limit int) ([]*model.CrawlRecord, error) {
	return s.crs.DueForRecrawl(limit)
}
