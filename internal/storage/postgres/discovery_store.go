package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/datalupa/perfilador/internal/models"
)

// DiscoveryStore persists stage-2 website discovery artifacts.
// One row per company; re-running stage 2 replaces the prior row.
type DiscoveryStore struct {
	db     *sql.DB
	logger arbor.ILogger
}

func NewDiscoveryStore(db *sql.DB, logger arbor.ILogger) *DiscoveryStore {
	return &DiscoveryStore{db: db, logger: logger}
}

// Upsert writes the discovery result for a company, replacing any prior row.
func (s *DiscoveryStore) Upsert(ctx context.Context, d *models.Discovery) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO busca_fornecedor.website_discovery
			(cnpj_basico, website_url, status, serper_result_id, confidence, reasoning)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (cnpj_basico) DO UPDATE SET
			website_url      = EXCLUDED.website_url,
			status           = EXCLUDED.status,
			serper_result_id = EXCLUDED.serper_result_id,
			confidence       = EXCLUDED.confidence,
			reasoning        = EXCLUDED.reasoning
		RETURNING id`,
		d.CNPJBasico, d.WebsiteURL, d.Status, d.SerperResultID, d.Confidence, d.Reasoning,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert discovery: %w", err)
	}

	s.logger.Debug().
		Str("cnpj_basico", d.CNPJBasico).
		Str("status", string(d.Status)).
		Int64("id", id).
		Msg("Discovery saved")

	return id, nil
}

// Get returns the discovery row for a company, or ErrNotFound.
func (s *DiscoveryStore) Get(ctx context.Context, cnpjBasico string) (*models.Discovery, error) {
	var d models.Discovery
	err := s.db.QueryRowContext(ctx, `
		SELECT id, cnpj_basico, website_url, status, serper_result_id,
		       confidence, reasoning, created_at, updated_at
		FROM busca_fornecedor.website_discovery
		WHERE cnpj_basico = $1`, cnpjBasico,
	).Scan(&d.ID, &d.CNPJBasico, &d.WebsiteURL, &d.Status, &d.SerperResultID,
		&d.Confidence, &d.Reasoning, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load discovery: %w", err)
	}
	return &d, nil
}
