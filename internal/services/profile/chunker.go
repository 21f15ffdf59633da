package profile

import (
	"regexp"
	"strings"

	"github.com/datalupa/perfilador/internal/common"
	"github.com/datalupa/perfilador/internal/models"
)

const (
	pageStartMarker = "--- PAGE START:"

	// Token estimate is chars/4, plus a flat allowance for the extraction
	// system prompt that rides along with every chunk.
	charsPerToken        = 4
	systemPromptOverhead = 2500

	// When a single page has to be split, aim below the hard limit so the
	// per-part estimate has slack for marker lines and joins.
	splitSafetyFactor = 0.8
)

var pageURLPattern = regexp.MustCompile(`--- PAGE START: (.+?) ---`)

// EstimateTokens approximates the token count of text. The ratio is tuned
// for Portuguese prose mixed with markdown.
func EstimateTokens(text string, includeOverhead bool) int {
	tokens := len(text) / charsPerToken
	if includeOverhead {
		tokens += systemPromptOverhead
	}
	return tokens
}

// Chunker splits aggregated page text into LLM-sized chunks. Pages are the
// atomic unit: small pages are grouped toward the target size, and a page is
// only cut apart when it alone exceeds the hard token limit.
type Chunker struct {
	maxTokens         int
	groupTargetTokens int
}

func NewChunker(cfg common.ChunkerConfig) *Chunker {
	return &Chunker{
		maxTokens:         cfg.MaxTokens,
		groupTargetTokens: cfg.GroupTargetTokens,
	}
}

// Chunk splits text into ordered chunks. Each chunk carries its index, the
// final total, a token estimate and the page URLs it includes.
func (c *Chunker) Chunk(text string) []models.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	pages := c.splitPages(text)
	grouped := c.groupPages(pages)

	chunks := make([]models.Chunk, 0, len(grouped))
	for i, content := range grouped {
		chunks = append(chunks, models.Chunk{
			Index:         i,
			TotalChunks:   len(grouped),
			Content:       content,
			Tokens:        EstimateTokens(content, true),
			PagesIncluded: pageURLs(content),
		})
	}
	return chunks
}

// splitPages cuts the aggregate on page markers, splitting any page that by
// itself exceeds the hard limit.
func (c *Chunker) splitPages(text string) []string {
	parts := strings.Split(text, pageStartMarker)

	var pages []string
	for i, part := range parts {
		if i == 0 && strings.TrimSpace(part) == "" {
			continue
		}
		page := part
		if i > 0 {
			page = pageStartMarker + part
		}
		if EstimateTokens(page, true) > c.maxTokens {
			pages = append(pages, c.splitLargePage(page)...)
		} else {
			pages = append(pages, page)
		}
	}
	return pages
}

// groupPages packs pages greedily toward the group target. A page that would
// push the running group over the target starts a new one.
func (c *Chunker) groupPages(pages []string) []string {
	var groups []string
	var current strings.Builder
	currentTokens := 0

	for _, page := range pages {
		pageTokens := EstimateTokens(page, false)
		if currentTokens+pageTokens > c.groupTargetTokens && current.Len() > 0 {
			groups = append(groups, current.String())
			current.Reset()
			currentTokens = 0
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(page)
		currentTokens += pageTokens
	}
	if current.Len() > 0 {
		groups = append(groups, current.String())
	}
	return groups
}

// splitLargePage breaks an oversized page on paragraph boundaries, falling
// back to line boundaries and finally to truncation.
func (c *Chunker) splitLargePage(page string) []string {
	safeMax := int(float64(c.maxTokens) * splitSafetyFactor)

	sep := "\n\n"
	paragraphs := strings.Split(page, sep)
	if len(paragraphs) == 1 {
		sep = "\n"
		paragraphs = strings.Split(page, sep)
	}

	var chunks []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentTokens = 0
		}
	}

	for _, para := range paragraphs {
		piece := para + sep
		pieceTokens := EstimateTokens(piece, true)

		if pieceTokens > safeMax {
			for _, line := range strings.Split(para, "\n") {
				linePiece := line + "\n"
				lineTokens := EstimateTokens(linePiece, true)
				if lineTokens > safeMax {
					flush()
					chunks = append(chunks, truncateToTokens(line, safeMax))
					continue
				}
				if currentTokens+lineTokens > safeMax {
					flush()
				}
				current.WriteString(linePiece)
				currentTokens += lineTokens
			}
			continue
		}

		if currentTokens+pieceTokens > safeMax {
			flush()
		}
		current.WriteString(piece)
		currentTokens += pieceTokens
	}
	flush()

	for i, chunk := range chunks {
		if EstimateTokens(chunk, true) > c.maxTokens {
			chunks[i] = truncateToTokens(chunk, c.maxTokens)
		}
	}
	return chunks
}

func truncateToTokens(text string, maxTokens int) string {
	maxChars := (maxTokens - systemPromptOverhead) * charsPerToken
	if maxChars < 0 {
		maxChars = 0
	}
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars]
}

// pageURLs extracts the source URLs embedded in a chunk's page markers.
func pageURLs(content string) []string {
	matches := pageURLPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		urls = append(urls, strings.TrimSpace(m[1]))
	}
	return urls
}
