package worker

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spider-crawler/crawlengine/internal/model"
	"github.com/spider-crawler/crawlengine/internal/parser"
	"github.com/spider-crawler/crawlengine/internal/queue"
	"github.com/spider-crawler/crawlengine/internal/storage"
	"github.com/spider-crawler/crawlengine/internal/urlutil"
)

// ParseWorkerStats are the per-worker counters Supervisor.Stats()
// aggregates from every ParseWorker.
type ParseWorkerStats struct {
	TasksProcessed  int64
	TasksFailed     int64
	LinksDiscovered int64
	LinksEnqueued   int64
	OCRInvocations  int64
}

// ParseWorker consumes ParseTasks, extracts outbound links (HTML DOM
// walk or OCR text scan), filters and dedupes them, and enqueues the
// survivors back onto the frontier at link_depth+1.
type ParseWorker struct {
	id string

	broker queue.Broker
	blobs  *storage.BlobStore
	ocr    parser.TextExtractor
	ocrs   *parser.OCRPool

	maxConcurrent int

	stats ParseWorkerStats

	wg        sync.WaitGroup
	activeSem chan struct{}
	stopCh    chan struct{}
}

// NewParseWorker constructs a ParseWorker. ocr may be parser.NoOCR{}
// when the deployment has no OCR backend configured.
func NewParseWorker(
	id string,
	broker queue.Broker,
	blobs *storage.BlobStore,
	ocr parser.TextExtractor,
	ocrs *parser.OCRPool,
	maxConcurrent int,
) *ParseWorker {
	return &ParseWorker{
		id:            id,
		broker:        broker,
		blobs:         blobs,
		ocr:           ocr,
		ocrs:          ocrs,
		maxConcurrent: maxConcurrent,
		activeSem:     make(chan struct{}, maxConcurrent),
		stopCh:        make(chan struct{}),
	}
}

// Start runs the poll loop until Stop is called or ctx is cancelled.
func (w *ParseWorker) Start(ctx context.Context) {
	go w.pollLoop(ctx)
}

// Stop cancels the poll loop and waits for in-flight tasks to finish.
func (w *ParseWorker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *ParseWorker) pollLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		t, ok := w.broker.DequeueParse(ctx)
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
		go func(t *model.ParseTask) {
			defer w.wg.Done()
			defer func() { <-w.activeSem }()
			w.process(ctx, t)
		}(t)
	}
}

// process implements the retrieve/extract/filter/dedupe/enqueue algorithm
// for a single parse task.
func (w *ParseWorker) process(ctx context.Context, t *model.ParseTask) {
	raw, err := w.blobs.Retrieve(t.RawID)
	if err != nil {
		w.fail(ctx, t, fmt.Errorf("retrieve raw body %s: %w", t.RawID, err))
		return
	}
	if raw == nil {
		w.fail(ctx, t, fmt.Errorf("raw body %s not found", t.RawID))
		return
	}

	var (
		links []parser.DiscoveredLink
		extractErr error
	)
	if t.RequiresOCR {
		atomic.AddInt64(&w.stats.OCRInvocations, 1)
		text, err := w.ocrs.Run(ctx, func() (string, error) {
			return w.ocr.ExtractText(ctx, raw.Body, raw.ContentType)
		})
		if err != nil {
			extractErr = fmt.Errorf("ocr extract: %w", err)
		} else {
			links = parser.ExtractURLsFromText(text)
		}
	} else {
		links, extractErr = parser.ExtractHTMLLinks(raw.Body, t.URL)
	}

	if extractErr != nil {
		w.fail(ctx, t, extractErr)
		return
	}

	atomic.AddInt64(&w.stats.LinksDiscovered, int64(len(links)))

	linkDepth := t.Metadata.LinkDepth() + 1
	priority := t.Priority - 1
	if priority < 1 {
		priority = 1
	}

	excluded := model.ExcludedExtensions()
	seen := make(map[string]struct{}, len(links))
	enqueued := 0

	for _, link := range links {
		if hasExcludedExtension(link.URL, excluded) {
			continue
		}
		if _, dup := seen[link.URL]; dup {
			continue
		}
		seen[link.URL] = struct{}{}

		tags := model.Tags{}.
			With("discovered_from", t.URL).
			With("job_id", t.Metadata.JobID()).
			With("link_depth", fmt.Sprintf("%d", linkDepth))

		discovered, err := model.NewFrontierURL(
			link.URL, t.URL, t.Metadata.JobID(),
			priority, 0, linkDepth, t.MaxRetries,
			urlutil.RequiresJSForDiscovered(link.URL), false,
			tags,
		)
		if err != nil {
			continue
		}

		if w.broker.EnqueueFrontier(ctx, discovered) {
			enqueued++
		}
	}

	atomic.AddInt64(&w.stats.LinksEnqueued, int64(enqueued))
	atomic.AddInt64(&w.stats.TasksProcessed, 1)
}

// fail implements the parse-task retry/dead-letter path: exhausted parse
// tasks are escalated to the dead-letter queue so a structurally broken
// body does not retry forever.
func (w *ParseWorker) fail(ctx context.Context, t *model.ParseTask, cause error) {
	atomic.AddInt64(&w.stats.TasksFailed, 1)

	t.RetryCount++
	if t.RetryCount > t.MaxRetries {
		placeholder, err := model.NewFrontierURL(t.URL, t.URL, t.Metadata.JobID(), t.Priority, 0, t.Metadata.LinkDepth(), t.MaxRetries, false, false, model.Tags{})
		if err != nil {
			log.Printf("parseworker %s: cannot build dead-letter record for %s: %v", w.id, t.URL, err)
			return
		}
		placeholder.RetryCount = t.RetryCount
		w.broker.EnqueueDead(ctx, placeholder, fmt.Sprintf("parse failed: %v", cause))
		return
	}

	log.Printf("parseworker %s: retrying parse of %s after error: %v", w.id, t.URL, cause)
	if !w.broker.EnqueueParse(ctx, t) {
		log.Printf("parseworker %s: retry re-enqueue of %s dropped", w.id, t.URL)
	}
}

func hasExcludedExtension(rawURL string, excluded map[string]struct{}) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	_, ok := excluded[ext]
	return ok
}

// Stats returns a snapshot of this worker's counters.
func (w *ParseWorker) Stats() ParseWorkerStats {
	return ParseWorkerStats{
		TasksProcessed:  atomic.LoadInt64(&w.stats.TasksProcessed),
		TasksFailed:     atomic.LoadInt64(&w.stats.TasksFailed),
		LinksDiscovered: atomic.LoadInt64(&w.stats.LinksDiscovered),
		LinksEnqueued:   atomic.LoadInt64(&w.stats.LinksEnqueued),
		OCRInvocations:  atomic.LoadInt64(&w.stats.OCRInvocations),
	}
}
