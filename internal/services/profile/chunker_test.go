package profile

import (
	"strings"
	"testing"

	"github.com/datalupa/perfilador/internal/common"
)

func page(url, body string) string {
	return "--- PAGE START: " + url + " ---\n" + body + "\n--- PAGE END ---"
}

func TestEstimateTokens(t *testing.T) {
	text := strings.Repeat("a", 400)
	if got := EstimateTokens(text, false); got != 100 {
		t.Fatalf("EstimateTokens without overhead = %d, want 100", got)
	}
	if got := EstimateTokens(text, true); got != 100+systemPromptOverhead {
		t.Fatalf("EstimateTokens with overhead = %d, want %d", got, 100+systemPromptOverhead)
	}
}

func TestChunkEmptyText(t *testing.T) {
	c := NewChunker(common.ChunkerConfig{MaxTokens: 500000, GroupTargetTokens: 100000})
	if got := c.Chunk("   \n  "); got != nil {
		t.Fatalf("Chunk on blank text = %v, want nil", got)
	}
}

func TestChunkSinglePage(t *testing.T) {
	c := NewChunker(common.ChunkerConfig{MaxTokens: 500000, GroupTargetTokens: 100000})
	text := page("https://acme.com.br", "Fabricante de cabos elétricos desde 1985.")

	chunks := c.Chunk(text)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	got := chunks[0]
	if got.Index != 0 || got.TotalChunks != 1 {
		t.Errorf("index/total = %d/%d, want 0/1", got.Index, got.TotalChunks)
	}
	if got.Tokens != EstimateTokens(got.Content, true) {
		t.Errorf("tokens = %d, want %d", got.Tokens, EstimateTokens(got.Content, true))
	}
	if len(got.PagesIncluded) != 1 || got.PagesIncluded[0] != "https://acme.com.br" {
		t.Errorf("pagesIncluded = %v", got.PagesIncluded)
	}
}

func TestChunkGroupsSmallPages(t *testing.T) {
	// Marker line is 30 chars; each page is exactly 200 chars = 50 tokens.
	// Target 100 tokens fits two pages per chunk.
	c := NewChunker(common.ChunkerConfig{MaxTokens: 500000, GroupTargetTokens: 100})

	mkPage := func(host string) string {
		return "--- PAGE START: https://" + host + " ---\n" + strings.Repeat("x", 200-30-len(host))
	}
	text := mkPage("a") + mkPage("b") + mkPage("c")

	chunks := c.Chunk(text)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if got := chunks[0].PagesIncluded; len(got) != 2 {
		t.Errorf("first chunk pages = %v, want 2 entries", got)
	}
	if got := chunks[1].PagesIncluded; len(got) != 1 || got[0] != "https://c" {
		t.Errorf("second chunk pages = %v, want [https://c]", got)
	}
	for _, ch := range chunks {
		if ch.TotalChunks != 2 {
			t.Errorf("chunk %d total = %d, want 2", ch.Index, ch.TotalChunks)
		}
	}
}

func TestChunkSplitsOversizedPage(t *testing.T) {
	c := NewChunker(common.ChunkerConfig{MaxTokens: 20000, GroupTargetTokens: 5000})

	paragraphs := make([]string, 20)
	for i := range paragraphs {
		paragraphs[i] = strings.Repeat("p", 4000)
	}
	text := "--- PAGE START: https://big.example ---\n" + strings.Join(paragraphs, "\n\n")

	chunks := c.Chunk(text)
	if len(chunks) < 2 {
		t.Fatalf("oversized page produced %d chunks, want several", len(chunks))
	}
	var total int
	for _, ch := range chunks {
		if ch.Tokens > 20000 {
			t.Errorf("chunk %d has %d tokens, over the limit", ch.Index, ch.Tokens)
		}
		total += len(ch.Content)
	}
	// Splitting adds separators but must not lose the body.
	if total < len(text)-1000 {
		t.Errorf("chunks carry %d chars, source had %d", total, len(text))
	}
}

func TestChunkIndexesAreSequential(t *testing.T) {
	c := NewChunker(common.ChunkerConfig{MaxTokens: 500000, GroupTargetTokens: 100})
	text := page("https://a", strings.Repeat("x", 300)) +
		page("https://b", strings.Repeat("y", 300)) +
		page("https://c", strings.Repeat("z", 300))

	chunks := c.Chunk(text)
	for i, ch := range chunks {
		if ch.Index != i {
			t.Errorf("chunk at position %d has index %d", i, ch.Index)
		}
		if ch.TotalChunks != len(chunks) {
			t.Errorf("chunk %d total = %d, want %d", i, ch.TotalChunks, len(chunks))
		}
	}
}
