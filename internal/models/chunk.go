package models

import "time"

// Chunk is a bounded slice of aggregated scraped text, sized to fit one LLM
// call. Produced by the chunker, consumed by stage 4.
type Chunk struct {
	Index         int      `json:"index"`
	TotalChunks   int      `json:"total_chunks"`
	Content       string   `json:"content"`
	Tokens        int      `json:"tokens"`
	PagesIncluded []string `json:"pages_included,omitempty"`
}

// StoredChunk is a chunk as persisted by stage 3.
type StoredChunk struct {
	ID           int64     `json:"id"`
	CNPJBasico   string    `json:"cnpj_basico"`
	DiscoveryID  *int64    `json:"discovery_id,omitempty"`
	WebsiteURL   string    `json:"website_url"`
	ChunkIndex   int       `json:"chunk_index"`
	TotalChunks  int       `json:"total_chunks"`
	ChunkContent string    `json:"chunk_content"`
	TokenCount   int       `json:"token_count"`
	PageSource   *string   `json:"page_source,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ScrapedPage is one page fetched by the scraper.
type ScrapedPage struct {
	URL     string `json:"url"`
	Content string `json:"content"`
	Success bool   `json:"success"`
}
