package discovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/datalupa/perfilador/internal/models"
	"github.com/datalupa/perfilador/internal/storage/postgres"
)

// SearchReader loads the stage-1 artifact for a company.
type SearchReader interface {
	GetLatest(ctx context.Context, cnpjBasico string) (*models.SearchResult, error)
}

// DiscoveryWriter persists the stage-2 verdict.
type DiscoveryWriter interface {
	Upsert(ctx context.Context, d *models.Discovery) (int64, error)
}

// WebsiteChooser picks the official site from filtered search results.
type WebsiteChooser interface {
	Choose(ctx context.Context, company Company, results []models.SerpRow) (*Choice, error)
}

const foundConfidence = 0.9

// Runner processes one discovery job: load the latest search results,
// filter them, ask the chooser and persist the verdict. A company with
// no usable results still gets a not_found row so stage 3 has an
// answer to report.
type Runner struct {
	searches    SearchReader
	discoveries DiscoveryWriter
	chooser     WebsiteChooser
	logger      arbor.ILogger
}

func NewRunner(searches SearchReader, discoveries DiscoveryWriter, chooser WebsiteChooser, logger arbor.ILogger) *Runner {
	return &Runner{
		searches:    searches,
		discoveries: discoveries,
		chooser:     chooser,
		logger:      logger,
	}
}

// Run executes discovery for one company. Chooser failures are
// recorded as not_found with the error as reasoning; only persistence
// failures propagate (and leave an error row behind for diagnosis).
func (r *Runner) Run(ctx context.Context, cnpjBasico string) error {
	r.logger.Info().Str("cnpj_basico", cnpjBasico).Msg("Discovery job started")

	search, err := r.searches.GetLatest(ctx, cnpjBasico)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return r.saveNotFound(ctx, cnpjBasico, nil, "Nenhum resultado Serper encontrado")
		}
		return r.failWithErrorRow(ctx, cnpjBasico, fmt.Errorf("failed to load search results: %w", err))
	}

	if len(search.Results) == 0 {
		return r.saveNotFound(ctx, cnpjBasico, &search.ID, "Nenhum resultado de busca disponível")
	}

	filtered := FilterResults(search.Results)
	if len(filtered) == 0 {
		return r.saveNotFound(ctx, cnpjBasico, &search.ID, "Todos os resultados foram filtrados (blacklist)")
	}

	company := Company{
		CNPJBasico:   cnpjBasico,
		RazaoSocial:  deref(search.RazaoSocial),
		NomeFantasia: deref(search.NomeFantasia),
		Municipio:    deref(search.Municipio),
	}

	choice, err := r.chooser.Choose(ctx, company, filtered)
	if err != nil {
		r.logger.Error().Str("cnpj_basico", cnpjBasico).Err(err).Msg("Website chooser failed")
		return r.saveNotFound(ctx, cnpjBasico, &search.ID, fmt.Sprintf("Erro na análise LLM: %v", err))
	}

	discovery := &models.Discovery{
		CNPJBasico:     cnpjBasico,
		WebsiteURL:     choice.WebsiteURL,
		Status:         models.DiscoveryStatusNotFound,
		SerperResultID: &search.ID,
	}
	if choice.Reasoning != "" {
		discovery.Reasoning = &choice.Reasoning
	}
	if choice.WebsiteURL != nil {
		discovery.Status = models.DiscoveryStatusFound
		confidence := foundConfidence
		discovery.Confidence = &confidence
	}

	id, err := r.discoveries.Upsert(ctx, discovery)
	if err != nil {
		return r.failWithErrorRow(ctx, cnpjBasico, fmt.Errorf("failed to save discovery: %w", err))
	}

	r.logger.Info().
		Str("cnpj_basico", cnpjBasico).
		Str("status", string(discovery.Status)).
		Int64("discovery_id", id).
		Msg("Discovery job completed")

	return nil
}

func (r *Runner) saveNotFound(ctx context.Context, cnpjBasico string, serperID *int64, reasoning string) error {
	r.logger.Warn().Str("cnpj_basico", cnpjBasico).Str("reason", reasoning).Msg("Discovery found no website")

	_, err := r.discoveries.Upsert(ctx, &models.Discovery{
		CNPJBasico:     cnpjBasico,
		Status:         models.DiscoveryStatusNotFound,
		SerperResultID: serperID,
		Reasoning:      &reasoning,
	})
	if err != nil {
		return r.failWithErrorRow(ctx, cnpjBasico, fmt.Errorf("failed to save discovery: %w", err))
	}
	return nil
}

// failWithErrorRow records an error row best effort and propagates the
// original failure so the queue retries the job.
func (r *Runner) failWithErrorRow(ctx context.Context, cnpjBasico string, cause error) error {
	reasoning := fmt.Sprintf("Erro: %v", cause)
	if _, err := r.discoveries.Upsert(ctx, &models.Discovery{
		CNPJBasico: cnpjBasico,
		Status:     models.DiscoveryStatusError,
		Reasoning:  &reasoning,
	}); err != nil {
		r.logger.Error().Str("cnpj_basico", cnpjBasico).Err(err).Msg("Failed to record discovery error row")
	}
	return cause
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
