package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/datalupa/perfilador/internal/models"
	"github.com/datalupa/perfilador/internal/services/profile"
	"github.com/datalupa/perfilador/internal/storage/postgres"
)

// maxChunkPageURLs caps the per-chunk source URL list persisted with each
// chunk.
const maxChunkPageURLs = 5

// SiteScraper crawls one website starting from its seed URL.
type SiteScraper interface {
	Scrape(ctx context.Context, seedURL string) ([]models.ScrapedPage, error)
}

// DiscoveryReader resolves the stage-2 row chunks get linked to.
type DiscoveryReader interface {
	Get(ctx context.Context, cnpjBasico string) (*models.Discovery, error)
}

// ChunkWriter persists one company's chunks in a single transaction.
type ChunkWriter interface {
	SaveBatch(ctx context.Context, cnpjBasico, websiteURL string, discoveryID *int64, chunks []models.Chunk) (int, error)
}

// Result summarizes one stage-3 run.
type Result struct {
	Success      bool          `json:"success"`
	ChunksSaved  int           `json:"chunks_saved"`
	TotalTokens  int           `json:"total_tokens"`
	PagesScraped int           `json:"pages_scraped"`
	Duration     time.Duration `json:"-"`
}

// Runner executes stage 3 for one company: crawl the site, aggregate the
// page texts, chunk them and persist the batch. A site that yields nothing
// usable is a clean no-data outcome, not an error.
type Runner struct {
	scraper     SiteScraper
	chunker     *profile.Chunker
	discoveries DiscoveryReader
	chunks      ChunkWriter
	logger      arbor.ILogger
}

func NewRunner(scraper SiteScraper, chunker *profile.Chunker, discoveries DiscoveryReader, chunks ChunkWriter, logger arbor.ILogger) *Runner {
	return &Runner{
		scraper:     scraper,
		chunker:     chunker,
		discoveries: discoveries,
		chunks:      chunks,
		logger:      logger,
	}
}

// Run scrapes websiteURL and stores the resulting chunks for cnpjBasico.
// Only persistence failures return an error.
func (r *Runner) Run(ctx context.Context, cnpjBasico, websiteURL string) (*Result, error) {
	start := time.Now()

	pages, err := r.scraper.Scrape(ctx, websiteURL)
	if err != nil {
		r.logger.Warn().
			Str("cnpj_basico", cnpjBasico).
			Str("url", websiteURL).
			Err(err).
			Msg("Scrape yielded nothing usable")
		return &Result{Duration: time.Since(start)}, nil
	}

	var parts []string
	var visited []string
	for _, page := range pages {
		if !page.Success {
			continue
		}
		parts = append(parts, fmt.Sprintf("--- PAGE START: %s ---\n%s\n--- PAGE END ---", page.URL, page.Content))
		visited = append(visited, page.URL)
	}
	if len(parts) == 0 {
		r.logger.Warn().
			Str("cnpj_basico", cnpjBasico).
			Str("url", websiteURL).
			Msg("No pages with usable content")
		return &Result{Duration: time.Since(start)}, nil
	}

	aggregated := strings.Join(parts, "\n\n")
	if len(strings.TrimSpace(aggregated)) < minPageChars {
		r.logger.Warn().
			Str("cnpj_basico", cnpjBasico).
			Int("chars", len(aggregated)).
			Msg("Aggregated content too small to chunk")
		return &Result{PagesScraped: len(visited), Duration: time.Since(start)}, nil
	}

	chunks := r.chunker.Chunk(aggregated)
	if len(chunks) == 0 {
		return &Result{PagesScraped: len(visited), Duration: time.Since(start)}, nil
	}
	for i := range chunks {
		if len(chunks[i].PagesIncluded) == 0 {
			fallback := visited
			if len(fallback) > maxChunkPageURLs {
				fallback = fallback[:maxChunkPageURLs]
			}
			chunks[i].PagesIncluded = fallback
		}
	}

	// The discovery link is informational; its absence never blocks a save.
	var discoveryID *int64
	if discovery, err := r.discoveries.Get(ctx, cnpjBasico); err == nil {
		discoveryID = &discovery.ID
	} else if !errors.Is(err, postgres.ErrNotFound) {
		r.logger.Warn().
			Str("cnpj_basico", cnpjBasico).
			Err(err).
			Msg("Discovery lookup failed, saving chunks without link")
	}

	saved, err := r.chunks.SaveBatch(ctx, cnpjBasico, websiteURL, discoveryID, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to save chunks for %s: %w", cnpjBasico, err)
	}

	var totalTokens int
	for _, chunk := range chunks {
		totalTokens += chunk.Tokens
	}

	result := &Result{
		Success:      true,
		ChunksSaved:  saved,
		TotalTokens:  totalTokens,
		PagesScraped: len(visited),
		Duration:     time.Since(start),
	}

	r.logger.Info().
		Str("cnpj_basico", cnpjBasico).
		Str("url", websiteURL).
		Int("pages", result.PagesScraped).
		Int("chunks", result.ChunksSaved).
		Int("tokens", result.TotalTokens).
		Int64("duration_ms", result.Duration.Milliseconds()).
		Msg("Scrape and chunking completed")

	return result, nil
}
