// Package renderer implements the Headless Renderer Pool: a bounded pool
// of Chromium instances, checked out via a semaphore channel, used by
// CrawlWorker when a page is believed to require JavaScript. Built on
// chromedp, trimmed of the screenshot/PDF-export/mobile-friendliness/
// arbitrary-script-execution extras that have no place in a crawl/parse
// pipeline.
package renderer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// RenderResult is the render(...) return value: content, title, status,
// final_url, and the links discovered in the rendered DOM (anchor hrefs
// plus form actions).
type RenderResult struct {
	Content    string
	Title      string
	StatusCode int
	FinalURL   string
	Links      []string
	RenderTime time.Duration
	Error      error
}

// ErrPoolExhausted is returned when no browser instance became
// available within the pool's checkout wait.
var ErrPoolExhausted = fmt.Errorf("renderer: pool exhausted")

// Pool is a bounded set of browser contexts guarded by a buffered
// channel semaphore.
type Pool struct {
	mu sync.Mutex

	allocator context.Context
	cancel    context.CancelFunc

	browsers chan context.Context
	size     int

	renderTimeout time.Duration
	selectorWait  time.Duration
	checkoutWait  time.Duration
}

// New creates a Pool of size headless Chromium instances. renderTimeout
// bounds navigation (configured by rate_limit.page_timeout);
// selectorWait bounds the optional post-navigation selector wait.
func New(size int, userAgent, chromiumPath string, renderTimeout, selectorWait time.Duration) (*Pool, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("safebrowsing-disable-auto-update", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-features", "TranslateUI"),
		chromedp.Flag("window-size", "1920,1080"),
		chromedp.UserAgent(userAgent),
	)
	if chromiumPath != "" {
		opts = append(opts, chromedp.ExecPath(chromiumPath))
	}

	allocator, cancel := chromedp.NewExecAllocator(context.Background(), opts...)

	p := &Pool{
		allocator:     allocator,
		cancel:        cancel,
		browsers:      make(chan context.Context, size),
		size:          size,
		renderTimeout: renderTimeout,
		selectorWait:  selectorWait,
		checkoutWait:  10 * time.Second,
	}
	for i := 0; i < size; i++ {
		ctx, _ := chromedp.NewContext(p.allocator)
		p.browsers <- ctx
	}
	return p, nil
}

// Render checks out a browser instance, navigates to urlStr, optionally
// waits for waitSelector (warn-only on timeout), and returns the
// rendered content, title, status, final URL, and discovered links. The
// instance is always returned to the pool, including on error paths.
func (p *Pool) Render(ctx context.Context, urlStr, waitSelector string) *RenderResult {
	result := &RenderResult{}
	start := time.Now()

	browserCtx, ok := p.checkout(ctx)
	if !ok {
		result.Error = ErrPoolExhausted
		return result
	}
	defer func() { p.browsers <- browserCtx }()

	timeoutCtx, cancel := context.WithTimeout(browserCtx, p.renderTimeout)
	defer cancel()

	var statusCode int
	var headersMu sync.Mutex
	chromedp.ListenTarget(timeoutCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			if e.Type == network.ResourceTypeDocument {
				headersMu.Lock()
				statusCode = int(e.Response.Status)
				headersMu.Unlock()
			}
		case *page.EventJavascriptDialogOpening:
			go chromedp.Run(timeoutCtx, page.HandleJavaScriptDialog(true))
		}
	})

	if err := chromedp.Run(timeoutCtx, network.Enable()); err != nil {
		result.Error = fmt.Errorf("enable network: %w", err)
		return result
	}

	if err := chromedp.Run(timeoutCtx, chromedp.Navigate(urlStr), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		result.Error = fmt.Errorf("navigate: %w", err)
		return result
	}

	if waitSelector != "" {
		selectorCtx, selectorCancel := context.WithTimeout(timeoutCtx, p.selectorWait)
		// Warn-only: proceed with whatever rendered regardless of the
		// selector timing out.
		_ = chromedp.Run(selectorCtx, chromedp.WaitVisible(waitSelector, chromedp.ByQuery))
		selectorCancel()
	}

	var html, title, finalURL string
	var links []string
	err := chromedp.Run(timeoutCtx,
		chromedp.Location(&finalURL),
		chromedp.Title(&title),
		chromedp.Evaluate(linkExtractionScript, &links),
		chromedp.ActionFunc(func(ctx context.Context) error {
			node, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
			return err
		}),
	)
	if err != nil {
		result.Error = fmt.Errorf("render: %w", err)
		return result
	}

	result.Content = html
	result.Title = title
	result.FinalURL = finalURL
	result.Links = links
	result.StatusCode = statusCode
	result.RenderTime = time.Since(start)
	return result
}

// linkExtractionScript collects both anchor hrefs and form actions, the
// same pair the parse worker's HTML path extracts.
const linkExtractionScript = `
(function() {
	const urls = new Set();
	document.querySelectorAll('a[href]').forEach(a => urls.add(a.href));
	document.querySelectorAll('form[action]').forEach(f => urls.add(f.action));
	return Array.from(urls);
})()
`

func (p *Pool) checkout(ctx context.Context) (context.Context, bool) {
	select {
	case b := <-p.browsers:
		return b, true
	default:
	}

	timer := time.NewTimer(p.checkoutWait)
	defer timer.Stop()
	select {
	case b := <-p.browsers:
		return b, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// Close shuts down every browser instance and the shared allocator.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	close(p.browsers)
	for ctx := range p.browsers {
		chromedp.Cancel(ctx)
	}
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}
