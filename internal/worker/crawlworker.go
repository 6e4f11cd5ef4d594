// Package worker implements the Crawl Worker and Parse Worker (spec
// 4.5, 4.6): one goroutine draining a queue and spawning up to
// max_concurrent independent tasks, each removed from the active set
// on completion.
package worker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/spider-crawler/crawlengine/internal/dnscache"
	"github.com/spider-crawler/crawlengine/internal/fetcher"
	"github.com/spider-crawler/crawlengine/internal/model"
	"github.com/spider-crawler/crawlengine/internal/perf"
	"github.com/spider-crawler/crawlengine/internal/queue"
	"github.com/spider-crawler/crawlengine/internal/ratelimit"
	"github.com/spider-crawler/crawlengine/internal/renderer"
	"github.com/spider-crawler/crawlengine/internal/storage"
	"github.com/spider-crawler/crawlengine/internal/urlutil"
)

// CrawlWorkerStats are the counters CSS.Stats() aggregates from every
// CrawlWorker.
type CrawlWorkerStats struct {
	URLsCrawled          int64
	URLsFailed           int64
	ConditionalRequests  int64
	NotModifiedResponses int64
	LargePagesSkipped    int64
	JSRenderedPages      int64
	BytesDownloaded      int64
	AvgResponseTime      time.Duration
}

// CrawlWorker consumes frontier URLs, fetches content (HTTP or
// rendered), persists it to the Blob Store, emits a ParseTask, and
// updates the Crawl Record Store.
type CrawlWorker struct {
	id string

	broker  queue.Broker
	crs     *storage.CrawlRecordStore
	blobs   *storage.BlobStore
	dns     *dnscache.Cache
	limiter *ratelimit.Limiter
	render  *renderer.Pool // nil disables JS rendering
	fetch   *fetcher.Fetcher
	bp      *perf.BackpressureController // nil disables adaptive pacing

	maxConcurrent int

	stats         CrawlWorkerStats
	responseNanos int64
	responseCount int64

	wg        sync.WaitGroup
	activeSem chan struct{}
	stopCh    chan struct{}
}

// NewCrawlWorker constructs a CrawlWorker sharing the given collaborators.
func NewCrawlWorker(
	id string,
	broker queue.Broker,
	crs *storage.CrawlRecordStore,
	blobs *storage.BlobStore,
	dns *dnscache.Cache,
	limiter *ratelimit.Limiter,
	render *renderer.Pool,
	fetch *fetcher.Fetcher,
	bp *perf.BackpressureController,
	maxConcurrent int,
) *CrawlWorker {
	return &CrawlWorker{
		id:            id,
		broker:        broker,
		crs:           crs,
		blobs:         blobs,
		dns:           dns,
		limiter:       limiter,
		render:        render,
		fetch:         fetch,
		bp:            bp,
		maxConcurrent: maxConcurrent,
		activeSem:     make(chan struct{}, maxConcurrent),
		stopCh:        make(chan struct{}),
	}
}

// Start runs the poll loop until Stop is called or ctx is cancelled.
func (w *CrawlWorker) Start(ctx context.Context) {
	go w.pollLoop(ctx)
}

// Stop ends the poll loop and waits, with no time bound, for in-flight
// fetches to return. Stop does not cancel them; they end early only when
// the context passed to Start is cancelled.
func (w *CrawlWorker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *CrawlWorker) pollLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		u, ok := w.broker.DequeueFrontier(ctx)
		if !ok {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		select {
		case w.activeSem <- struct{}{}:
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		}

		w.wg.Add(1)
		go func(u *model.FrontierURL) {
			defer w.wg.Done()
			defer func() { <-w.activeSem }()
			w.process(ctx, u)
		}(u)
	}
}

// process implements the per-URL recrawl-gate/fetch/persist/emit algorithm.
func (w *CrawlWorker) process(ctx context.Context, u *model.FrontierURL) {
	rec, err := w.crs.GetByURL(u.URL)
	if err == nil && rec != nil && !model.DueForRecrawl(rec, time.Now()) {
		return
	}

	if err := w.limiter.Acquire(ctx, u.URL); err != nil {
		return
	}
	if w.bp != nil {
		if err := w.bp.Acquire(ctx); err != nil {
			return
		}
	}
	fetchStart := time.Now()

	if host, hostErr := urlutil.ExtractHost(u.URL); hostErr == nil && host != "" {
		_, _ = w.dns.Resolve(ctx, host)
	}

	cond := fetcher.ConditionalHeaders{}
	if rec != nil {
		if rec.ETag != "" {
			cond.IfNoneMatch = rec.ETag
			atomic.AddInt64(&w.stats.ConditionalRequests, 1)
		} else if rec.LastModified != "" {
			cond.IfModifiedSince = rec.LastModified
			atomic.AddInt64(&w.stats.ConditionalRequests, 1)
		}
	}

	useRender := w.render != nil && (u.RequiresJS || urlutil.RequiresJSAtCrawlTime(u.URL))

	var (
		body        []byte
		contentType string
		statusCode  int
		finalURL    = u.URL
		headers     http.Header
		notModified bool
		largeSkip   bool
		renderedJS  bool
		fetchErr    error
		fetchKind   fetcher.FailureKind
		retryAfter  time.Duration
	)

	if useRender {
		host, _ := urlutil.ExtractHost(u.URL)
		result := w.render.Render(ctx, u.URL, urlutil.WaitSelectorFor(host))
		if result.Error != nil {
			fetchErr = result.Error
			fetchKind = fetcher.FailureTransient
		} else {
			body = []byte(result.Content)
			contentType = "text/html"
			statusCode = result.StatusCode
			finalURL = result.FinalURL
			renderedJS = true
			atomic.AddInt64(&w.stats.JSRenderedPages, 1)
		}
	} else {
		resp := w.fetch.Fetch(ctx, u.URL, cond)
		switch {
		case resp.Error != nil:
			fetchErr = resp.Error
			fetchKind = fetcher.Classify(resp)
		case resp.NotModified:
			notModified = true
			atomic.AddInt64(&w.stats.NotModifiedResponses, 1)
		case resp.LargeSkip:
			largeSkip = true
			atomic.AddInt64(&w.stats.LargePagesSkipped, 1)
		case !resp.IsSuccess():
			fetchErr = fmt.Errorf("unexpected status %s", resp.Status)
			fetchKind = fetcher.Classify(resp)
			retryAfter, _ = fetcher.RetryAfterDelay(resp)
		default:
			body = resp.Body
			contentType = resp.ContentType
			statusCode = resp.StatusCode
			finalURL = resp.FinalURL
			headers = resp.Headers
			if resp.Truncated {
				atomic.AddInt64(&w.stats.LargePagesSkipped, 1)
			}
		}
	}

	if w.bp != nil {
		w.bp.RequestCompleted(fetchErr == nil, time.Since(fetchStart))
	}

	switch {
	case notModified:
		if rec != nil {
			rec.LastCrawledAt = time.Now()
			rec.CrawlCount++
			rec.LastStatusCode = http.StatusNotModified
			if err := w.crs.Upsert(rec); err != nil {
				log.Printf("crawlworker %s: upsert after 304 for %s: %v", w.id, u.URL, err)
			}
		}
		return
	case largeSkip:
		return
	case fetchErr != nil:
		w.fail(ctx, u, fetchErr, fetchKind, retryAfter)
		return
	}

	isDynamic := headers != nil && fetcher.IsDynamicContent(headers, body)

	rawID, err := w.blobs.Store(u.URL, contentType, body, false)
	if err != nil {
		w.fail(ctx, u, err, fetcher.FailureTransient, 0)
		return
	}
	storageLocation := fmt.Sprintf("%s/%s/%s.html", u.Domain, u.JobID, uuid.NewString())

	meta := u.Metadata
	meta.FinalURL = finalURL
	meta.IsDynamic = isDynamic
	meta.RenderedWithJS = renderedJS
	meta.WorkerID = w.id

	task := &model.ParseTask{
		TaskID:          uuid.NewString(),
		URL:             u.URL,
		RawID:           rawID,
		StorageLocation: storageLocation,
		ContentType:     contentType,
		Priority:        u.Priority,
		MaxRetries:      u.MaxRetries,
		RequiresOCR:     model.RequiresOCR(contentType),
		Metadata:        meta,
	}
	if !w.broker.EnqueueParse(ctx, task) {
		log.Printf("crawlworker %s: enqueue parse task for %s dropped", w.id, u.URL)
	}

	w.updateCrawlRecord(u, statusCode, int64(len(body)), isDynamic, renderedJS, headers)

	atomic.AddInt64(&w.stats.URLsCrawled, 1)
	atomic.AddInt64(&w.stats.BytesDownloaded, int64(len(body)))
	atomic.AddInt64(&w.responseNanos, int64(time.Since(fetchStart)))
	atomic.AddInt64(&w.responseCount, 1)
}

func (w *CrawlWorker) updateCrawlRecord(u *model.FrontierURL, statusCode int, contentSize int64, isDynamic, renderedJS bool, headers http.Header) {
	now := time.Now()
	rec, _ := w.crs.GetByURL(u.URL)
	if rec == nil {
		rec = &model.CrawlRecord{
			URLHash:        model.URLHash(u.URL),
			URL:            u.URL,
			Domain:         u.Domain,
			FirstCrawledAt: now,
		}
	}
	rec.LastCrawledAt = now
	rec.CrawlCount++
	rec.Status = "ok"
	rec.LastStatusCode = statusCode
	rec.ContentSize = contentSize
	rec.RequiresJS = renderedJS
	rec.IsDynamic = isDynamic
	rec.LinkDepth = u.LinkDepth

	if headers != nil {
		if etag := headers.Get("ETag"); etag != "" {
			rec.ETag = etag
		}
		if lm := headers.Get("Last-Modified"); lm != "" {
			rec.LastModified = lm
		}
	}

	rec.RecrawlIntervalHours = model.RecrawlIntervalHours(isDynamic, renderedJS)
	rec.NextCrawlAt = model.NextCrawlAt(now, rec.RecrawlIntervalHours)

	if err := w.crs.Upsert(rec); err != nil {
		log.Printf("crawlworker %s: upsert crawl record for %s: %v", w.id, u.URL, err)
	}
}

// fail implements the retry/dead-letter failure path: the CRS is
// deliberately left untouched on failure. A permanent failure (4xx
// other than 429, DNS not-found, invalid scheme, oversize) escalates
// straight to dead-letter without consuming the retry budget, since
// retrying cannot change the outcome. A rate-limited (429) failure uses
// the Retry-After header as the delay floor when the server sent one,
// otherwise every kind falls back to the standard exponential backoff.
func (w *CrawlWorker) fail(ctx context.Context, u *model.FrontierURL, cause error, kind fetcher.FailureKind, retryAfter time.Duration) {
	atomic.AddInt64(&w.stats.URLsFailed, 1)

	if kind == fetcher.FailurePermanent || kind == fetcher.FailureOversize {
		dead := u.WithRetry(0)
		w.broker.EnqueueDead(ctx, dead, fmt.Sprintf("permanent fetch failure: %v", cause))
		return
	}

	delay := model.BackoffDelay(u.RetryCount + 1)
	if kind == fetcher.FailureRateLimited && retryAfter > delay {
		delay = retryAfter
	}
	next := u.WithRetry(delay)
	if next.ExceedsRetries() {
		w.broker.EnqueueDead(ctx, next, fmt.Sprintf("Max retries exceeded: %v", cause))
		return
	}
	w.broker.EnqueueRetry(ctx, next, int(delay.Seconds()))
}

// Stats returns a snapshot of this worker's counters, including the
// running average response time across every completed fetch.
func (w *CrawlWorker) Stats() CrawlWorkerStats {
	var avg time.Duration
	if count := atomic.LoadInt64(&w.responseCount); count > 0 {
		avg = time.Duration(atomic.LoadInt64(&w.responseNanos) / count)
	}
	return CrawlWorkerStats{
		URLsCrawled:          atomic.LoadInt64(&w.stats.URLsCrawled),
		URLsFailed:           atomic.LoadInt64(&w.stats.URLsFailed),
		ConditionalRequests:  atomic.LoadInt64(&w.stats.ConditionalRequests),
		NotModifiedResponses: atomic.LoadInt64(&w.stats.NotModifiedResponses),
		LargePagesSkipped:    atomic.LoadInt64(&w.stats.LargePagesSkipped),
		JSRenderedPages:      atomic.LoadInt64(&w.stats.JSRenderedPages),
		BytesDownloaded:      atomic.LoadInt64(&w.stats.BytesDownloaded),
		AvgResponseTime:      avg,
	}
}
