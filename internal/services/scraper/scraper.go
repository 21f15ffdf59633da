package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/ternarybob/arbor"

	"github.com/datalupa/perfilador/internal/common"
	"github.com/datalupa/perfilador/internal/models"
)

const subpageParallelism = 10

// jsSuspectHTMLBytes flags pages whose HTML is substantial but whose
// extracted text is near empty, the signature of client-side rendering.
const jsSuspectHTMLBytes = 5000

// Service crawls a company website: seed page first, then the most
// promising same-host subpages, returning markdown per page.
type Service struct {
	cfg     common.ScraperConfig
	browser *BrowserPool
	logger  arbor.ILogger
}

// NewService builds the scraper. The browser pool is only started when
// scraper.browser_enabled is set; without it JS-rendered pages are
// simply skipped.
func NewService(cfg common.ScraperConfig, logger arbor.ILogger) (*Service, error) {
	svc := &Service{cfg: cfg, logger: logger}

	if cfg.BrowserEnabled {
		pool, err := NewBrowserPool(cfg.BrowserPoolSize, cfg.UserAgent, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to start browser pool: %w", err)
		}
		svc.browser = pool
	}

	return svc, nil
}

// Close releases the browser pool, if any.
func (s *Service) Close() {
	if s.browser != nil {
		s.browser.Close()
	}
}

type fetchedPage struct {
	url     string
	content string
	rawLen  int
	links   []string
	err     error
}

// Scrape crawls seedURL and up to cfg.MaxPages of its subpages. The
// seed page is mandatory: if it yields no usable content (after trying
// the www/non-www variant and, when available, a browser render) the
// scrape fails.
func (s *Service) Scrape(ctx context.Context, seedURL string) ([]models.ScrapedPage, error) {
	start := time.Now()

	main := s.fetchWithFallback(ctx, seedURL)
	if !isUsable(main.content) {
		if alt := toggleWWW(seedURL); alt != "" {
			s.logger.Warn().
				Str("url", seedURL).
				Str("variant", alt).
				Msg("Seed page unusable, trying host variant")
			if variant := s.fetchWithFallback(ctx, alt); isUsable(variant.content) {
				main = variant
			}
		}
	}
	if !isUsable(main.content) {
		if main.err != nil {
			return nil, fmt.Errorf("failed to scrape %s: %w", seedURL, main.err)
		}
		return nil, fmt.Errorf("no usable content at %s", seedURL)
	}

	pages := []models.ScrapedPage{{URL: main.url, Content: main.content, Success: true}}

	base, err := url.Parse(main.url)
	if err != nil {
		return pages, nil
	}

	candidates := prioritizeLinks(filterLinks(main.links, base), s.cfg.MaxPages)
	if len(candidates) > 0 {
		s.logger.Info().
			Str("url", main.url).
			Int("candidates", len(candidates)).
			Msg("Scraping subpages")
		pages = append(pages, s.scrapeSubpages(ctx, candidates)...)
	}

	s.logger.Info().
		Str("url", seedURL).
		Int("pages", len(pages)).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("Scrape completed")

	return pages, nil
}

// fetchWithFallback fetches one page over HTTP and, when the result
// looks JS-rendered and a browser pool is available, re-renders it
// through headless Chrome.
func (s *Service) fetchWithFallback(ctx context.Context, pageURL string) fetchedPage {
	page := s.fetchPage(ctx, pageURL)

	if s.browser != nil && !isUsable(page.content) && page.rawLen >= jsSuspectHTMLBytes {
		s.logger.Debug().
			Str("url", pageURL).
			Int("text_chars", len(page.content)).
			Int("html_bytes", page.rawLen).
			Msg("Thin extraction from heavy HTML, rendering in browser")

		html, err := s.browser.Render(ctx, pageURL, time.Duration(s.cfg.TimeoutSecs)*time.Second)
		if err != nil {
			s.logger.Warn().Err(err).Str("url", pageURL).Msg("Browser render failed")
			return page
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			return page
		}
		content, links := extractContent(doc, pageURL)
		if len(content) > len(page.content) {
			page.content = content
			page.links = links
			page.rawLen = len(html)
		}
	}

	return page
}

// fetchPage retrieves one URL with a single-shot colly collector.
func (s *Service) fetchPage(ctx context.Context, pageURL string) fetchedPage {
	page := fetchedPage{url: pageURL}

	c := s.newCollector()
	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})
	c.OnResponse(func(r *colly.Response) {
		page.url = r.Request.URL.String()
		page.rawLen = len(r.Body)

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
		if err != nil {
			page.err = fmt.Errorf("failed to parse HTML from %s: %w", page.url, err)
			return
		}
		page.content, page.links = extractContent(doc, page.url)
	})
	c.OnError(func(r *colly.Response, err error) {
		page.err = err
	})

	if err := c.Visit(pageURL); err != nil && page.err == nil {
		page.err = err
	}
	c.Wait()

	if ctx.Err() != nil && page.err == nil {
		page.err = ctx.Err()
	}
	return page
}

// scrapeSubpages fetches the candidate URLs through one shared async
// collector so colly's limit rule enforces parallelism and politeness
// delay across the whole batch.
func (s *Service) scrapeSubpages(ctx context.Context, candidates []string) []models.ScrapedPage {
	var mu sync.Mutex
	pages := make([]models.ScrapedPage, 0, len(candidates))
	var thin []string

	c := s.newCollector(colly.Async(true))
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: subpageParallelism,
		Delay:       time.Duration(s.cfg.DelayMs) * time.Millisecond,
	}); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to set collector limit rule")
	}

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})
	c.OnResponse(func(r *colly.Response) {
		pageURL := r.Request.URL.String()
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
		if err != nil {
			return
		}
		content, _ := extractContent(doc, pageURL)

		mu.Lock()
		defer mu.Unlock()
		if isUsable(content) {
			pages = append(pages, models.ScrapedPage{URL: pageURL, Content: content, Success: true})
		} else if len(r.Body) >= jsSuspectHTMLBytes {
			thin = append(thin, pageURL)
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		s.logger.Debug().
			Err(err).
			Str("url", r.Request.URL.String()).
			Msg("Subpage fetch failed")
	})

	for _, link := range candidates {
		if err := c.Visit(link); err != nil {
			s.logger.Debug().Err(err).Str("url", link).Msg("Subpage visit rejected")
		}
	}
	c.Wait()

	// Second pass through the browser for pages that looked JS-rendered.
	if s.browser != nil {
		for _, pageURL := range thin {
			if ctx.Err() != nil {
				break
			}
			html, err := s.browser.Render(ctx, pageURL, time.Duration(s.cfg.TimeoutSecs)*time.Second)
			if err != nil {
				continue
			}
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
			if err != nil {
				continue
			}
			if content, _ := extractContent(doc, pageURL); isUsable(content) {
				pages = append(pages, models.ScrapedPage{URL: pageURL, Content: content, Success: true})
			}
		}
	}

	return pages
}

func (s *Service) newCollector(opts ...colly.CollectorOption) *colly.Collector {
	opts = append(opts,
		colly.UserAgent(s.cfg.UserAgent),
		colly.MaxDepth(s.cfg.MaxDepth),
		colly.IgnoreRobotsTxt(),
	)
	c := colly.NewCollector(opts...)
	c.SetRequestTimeout(time.Duration(s.cfg.TimeoutSecs) * time.Second)
	return c
}
