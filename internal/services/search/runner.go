package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/datalupa/perfilador/internal/models"
)

// corporateSuffixes are legal-form suffixes stripped from razão social
// before it goes into a search query.
var corporateSuffixes = []string{" LTDA", " S.A.", " EIRELI", " ME", " EPP", " S/A"}

// CompanyQuery is the registry data a stage-1 request carries.
type CompanyQuery struct {
	CNPJBasico   string
	RazaoSocial  string
	NomeFantasia string
	Municipio    string
}

// BuildQuery assembles the SERP query for a company. Trade name beats
// corporate name; the corporate name loses its legal-form suffixes first.
func BuildQuery(q CompanyQuery) string {
	city := strings.TrimSpace(q.Municipio)

	if nf := strings.TrimSpace(q.NomeFantasia); nf != "" {
		return strings.TrimSpace(nf + " " + city + " site oficial")
	}

	rs := strings.TrimSpace(q.RazaoSocial)
	for _, suffix := range corporateSuffixes {
		rs = strings.ReplaceAll(rs, suffix, "")
	}
	if rs = strings.TrimSpace(rs); rs != "" {
		return strings.TrimSpace(rs + " " + city + " site oficial")
	}

	if city != "" {
		return "site oficial " + city
	}
	return "site oficial"
}

// Submitter hands one query to the batching layer and blocks for its rows.
type Submitter interface {
	Submit(ctx context.Context, query string) (SubmitResult, error)
}

// ResultWriter persists one search artifact.
type ResultWriter interface {
	Save(ctx context.Context, result *models.SearchResult) (int64, error)
}

// Runner executes stage 1 for one company: build the query, run it through
// the aggregator and persist whatever came back. Zero rows still produce a
// row, so stage 2 can tell "searched, found nothing" from "never searched".
type Runner struct {
	submitter Submitter
	results   ResultWriter
	logger    arbor.ILogger
}

func NewRunner(submitter Submitter, results ResultWriter, logger arbor.ILogger) *Runner {
	return &Runner{submitter: submitter, results: results, logger: logger}
}

// Run performs the search and returns the persisted artifact.
func (r *Runner) Run(ctx context.Context, q CompanyQuery) (*models.SearchResult, error) {
	query := BuildQuery(q)

	res, err := r.submitter.Submit(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search submit failed for %s: %w", q.CNPJBasico, err)
	}
	if res.Err != nil {
		return nil, fmt.Errorf("search failed for %s: %w", q.CNPJBasico, res.Err)
	}

	result := &models.SearchResult{
		CNPJBasico:   q.CNPJBasico,
		RazaoSocial:  optional(q.RazaoSocial),
		NomeFantasia: optional(q.NomeFantasia),
		Municipio:    optional(q.Municipio),
		Results:      res.Rows,
		ResultsCount: len(res.Rows),
		QueryUsed:    query,
	}

	id, err := r.results.Save(ctx, result)
	if err != nil {
		return nil, fmt.Errorf("failed to save search result for %s: %w", q.CNPJBasico, err)
	}
	result.ID = id

	r.logger.Info().
		Str("cnpj_basico", q.CNPJBasico).
		Str("query", query).
		Int("results", result.ResultsCount).
		Int("retries", res.Retries).
		Msg("Search completed")

	return result, nil
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
