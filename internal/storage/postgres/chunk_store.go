package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/datalupa/perfilador/internal/models"
)

// ChunkStore persists stage-3 scraped content chunks.
type ChunkStore struct {
	db     *sql.DB
	logger arbor.ILogger
}

func NewChunkStore(db *sql.DB, logger arbor.ILogger) *ChunkStore {
	return &ChunkStore{db: db, logger: logger}
}

// SaveBatch inserts all chunks for a company in one transaction. Any prior
// chunks for the company are replaced so a re-scrape never mixes runs.
func (s *ChunkStore) SaveBatch(ctx context.Context, cnpjBasico, websiteURL string, discoveryID *int64, chunks []models.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin chunk transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM busca_fornecedor.scraped_chunks WHERE cnpj_basico = $1`, cnpjBasico); err != nil {
		return 0, fmt.Errorf("failed to clear prior chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO busca_fornecedor.scraped_chunks
			(cnpj_basico, discovery_id, website_url, chunk_index,
			 total_chunks, chunk_content, token_count, page_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		var pageSource *string
		if len(chunk.PagesIncluded) > 0 {
			pages := chunk.PagesIncluded
			if len(pages) > 5 {
				pages = pages[:5]
			}
			joined := strings.Join(pages, ",")
			pageSource = &joined
		}

		if _, err := stmt.ExecContext(ctx,
			cnpjBasico, discoveryID, websiteURL, chunk.Index,
			chunk.TotalChunks, chunk.Content, chunk.Tokens, pageSource); err != nil {
			return 0, fmt.Errorf("failed to insert chunk %d: %w", chunk.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit chunks: %w", err)
	}

	s.logger.Debug().
		Str("cnpj_basico", cnpjBasico).
		Int("chunks", len(chunks)).
		Msg("Chunks saved")

	return len(chunks), nil
}

// GetByCompany returns all chunks for a company ordered by chunk index.
func (s *ChunkStore) GetByCompany(ctx context.Context, cnpjBasico string) ([]models.StoredChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cnpj_basico, discovery_id, website_url, chunk_index,
		       total_chunks, chunk_content, token_count, page_source, created_at
		FROM busca_fornecedor.scraped_chunks
		WHERE cnpj_basico = $1
		ORDER BY chunk_index ASC`, cnpjBasico)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.StoredChunk
	for rows.Next() {
		var c models.StoredChunk
		if err := rows.Scan(&c.ID, &c.CNPJBasico, &c.DiscoveryID, &c.WebsiteURL, &c.ChunkIndex,
			&c.TotalChunks, &c.ChunkContent, &c.TokenCount, &c.PageSource, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}

	return chunks, nil
}
