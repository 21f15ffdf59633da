package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

// BrowserPool keeps a fixed set of headless Chrome instances alive for
// rendering pages that serve their content through JavaScript. Instances
// are handed out round-robin.
type BrowserPool struct {
	mu               sync.Mutex
	browsers         []context.Context
	browserCancels   []context.CancelFunc
	allocatorCancels []context.CancelFunc
	next             int
	renderWait       time.Duration
	logger           arbor.ILogger
}

// NewBrowserPool starts size headless browsers. Instances that fail to
// start are skipped; at least one must survive.
func NewBrowserPool(size int, userAgent string, logger arbor.ILogger) (*BrowserPool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("browser pool size must be positive, got %d", size)
	}

	pool := &BrowserPool{
		renderWait: 3 * time.Second,
		logger:     logger,
	}

	var lastErr error
	for i := 0; i < size; i++ {
		if err := pool.addInstance(userAgent); err != nil {
			lastErr = err
			logger.Warn().Err(err).Int("index", i).Msg("Failed to start browser instance")
		}
	}

	if len(pool.browsers) == 0 {
		return nil, fmt.Errorf("failed to start any browser instance: %w", lastErr)
	}

	logger.Info().
		Int("browsers", len(pool.browsers)).
		Int("requested", size).
		Msg("Browser pool initialized")

	return pool, nil
}

func (p *BrowserPool) addInstance(userAgent string) error {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(userAgent),
	)

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	// Startup probe: a browser that cannot reach about:blank is dead.
	probeCtx, probeCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer probeCancel()
	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocatorCancel()
		return fmt.Errorf("browser startup probe failed: %w", err)
	}

	p.browsers = append(p.browsers, browserCtx)
	p.browserCancels = append(p.browserCancels, browserCancel)
	p.allocatorCancels = append(p.allocatorCancels, allocatorCancel)
	return nil
}

func (p *BrowserPool) acquire() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	ctx := p.browsers[p.next%len(p.browsers)]
	p.next++
	return ctx
}

// Render navigates to url in a pooled browser, waits for JavaScript to
// settle and returns the rendered HTML.
func (p *BrowserPool) Render(ctx context.Context, url string, timeout time.Duration) (string, error) {
	browserCtx := p.acquire()

	// Tab context so one bad page cannot poison the shared browser.
	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()

	runCtx, runCancel := context.WithTimeout(tabCtx, timeout)
	defer runCancel()

	// Propagate caller cancellation into the chromedp run.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			runCancel()
		case <-done:
		}
	}()

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(p.renderWait),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("browser render failed for %s: %w", url, err)
	}
	return html, nil
}

// Close tears down every browser instance.
func (p *BrowserPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, cancel := range p.browserCancels {
		cancel()
	}
	for _, cancel := range p.allocatorCancels {
		cancel()
	}
	p.browsers = nil
	p.browserCancels = nil
	p.allocatorCancels = nil

	p.logger.Info().Msg("Browser pool closed")
}
