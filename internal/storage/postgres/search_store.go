package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/datalupa/perfilador/internal/models"
)

// ErrNotFound is returned by artifact lookups that match no row.
var ErrNotFound = errors.New("record not found")

// SearchStore persists stage-1 SERP artifacts.
type SearchStore struct {
	db     *sql.DB
	logger arbor.ILogger
}

func NewSearchStore(db *sql.DB, logger arbor.ILogger) *SearchStore {
	return &SearchStore{db: db, logger: logger}
}

// Save writes one search artifact row. An empty rows slice is still written:
// it records the attempt and keeps the company from being re-searched.
func (s *SearchStore) Save(ctx context.Context, result *models.SearchResult) (int64, error) {
	resultsJSON, err := json.Marshal(result.Results)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal SERP rows: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO busca_fornecedor.serper_results
			(cnpj_basico, razao_social, nome_fantasia, municipio, results_json, results_count, query_used)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
		RETURNING id`,
		result.CNPJBasico, result.RazaoSocial, result.NomeFantasia, result.Municipio,
		string(resultsJSON), len(result.Results), result.QueryUsed,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to save search result: %w", err)
	}

	s.logger.Debug().
		Str("cnpj_basico", result.CNPJBasico).
		Int64("id", id).
		Int("results", len(result.Results)).
		Msg("Search result saved")

	return id, nil
}

// GetLatest returns the most recent search artifact for a company, or
// ErrNotFound.
func (s *SearchStore) GetLatest(ctx context.Context, cnpjBasico string) (*models.SearchResult, error) {
	var r models.SearchResult
	var resultsJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, cnpj_basico, razao_social, nome_fantasia, municipio,
		       results_json, results_count, query_used, created_at
		FROM busca_fornecedor.serper_results
		WHERE cnpj_basico = $1
		ORDER BY id DESC
		LIMIT 1`, cnpjBasico,
	).Scan(&r.ID, &r.CNPJBasico, &r.RazaoSocial, &r.NomeFantasia, &r.Municipio,
		&resultsJSON, &r.ResultsCount, &r.QueryUsed, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load search result: %w", err)
	}

	if err := json.Unmarshal(resultsJSON, &r.Results); err != nil {
		return nil, fmt.Errorf("failed to decode SERP rows: %w", err)
	}

	return &r, nil
}
