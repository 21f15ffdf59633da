package profile

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/datalupa/perfilador/internal/models"
)

// minChunkChars is the smallest trimmed chunk worth an LLM call.
const minChunkChars = 100

// ChunkReader loads the persisted chunks for one company.
type ChunkReader interface {
	GetByCompany(ctx context.Context, cnpjBasico string) ([]models.StoredChunk, error)
}

// ProfileWriter persists the merged profile.
type ProfileWriter interface {
	Save(ctx context.Context, cnpjBasico string, profile *models.CompanyProfile) (int64, error)
}

// ChunkExtractor produces a partial profile per chunk. Assignments spreads
// the chunks across providers up front.
type ChunkExtractor interface {
	Assignments(n int) []string
	ExtractWithRetry(ctx context.Context, chunk models.StoredChunk, preferred string) *models.CompanyProfile
}

// Runner assembles one company profile: all chunks extracted in parallel,
// partials merged, result saved. One job covers one company end to end.
// Both the synchronous endpoint and the queue worker run jobs through it.
type Runner struct {
	chunks    ChunkReader
	profiles  ProfileWriter
	extractor ChunkExtractor
	logger    arbor.ILogger
}

func NewRunner(chunks ChunkReader, profiles ProfileWriter, extractor ChunkExtractor, logger arbor.ILogger) *Runner {
	return &Runner{chunks: chunks, profiles: profiles, extractor: extractor, logger: logger}
}

// Run processes every chunk of cnpjBasico and saves the merged profile.
// A company with no chunks or no extractable content is acknowledged, not
// failed: re-running it would produce the same nothing. Only store errors
// propagate, so the queue retries what a retry can actually fix.
func (r *Runner) Run(ctx context.Context, cnpjBasico string) error {
	chunks, err := r.chunks.GetByCompany(ctx, cnpjBasico)
	if err != nil {
		return fmt.Errorf("failed to load chunks for %s: %w", cnpjBasico, err)
	}
	if len(chunks) == 0 {
		r.logger.Warn().Str("cnpj_basico", cnpjBasico).Msg("No chunks to profile")
		return nil
	}

	r.logger.Info().
		Str("cnpj_basico", cnpjBasico).
		Int("chunks", len(chunks)).
		Msg("Profile assembly started")

	assignments := r.extractor.Assignments(len(chunks))

	partials := make([]*models.CompanyProfile, len(chunks))
	var wg sync.WaitGroup
	for i, chunk := range chunks {
		if len(strings.TrimSpace(chunk.ChunkContent)) < minChunkChars {
			continue
		}
		preferred := ""
		if i < len(assignments) {
			preferred = assignments[i]
		}
		wg.Add(1)
		go func(i int, chunk models.StoredChunk, preferred string) {
			defer wg.Done()
			partials[i] = r.extractor.ExtractWithRetry(ctx, chunk, preferred)
		}(i, chunk, preferred)
	}
	wg.Wait()

	valid := make([]*models.CompanyProfile, 0, len(partials))
	for _, p := range partials {
		if p != nil && !p.IsEmpty() {
			valid = append(valid, p)
		}
	}
	if len(valid) == 0 {
		r.logger.Warn().
			Str("cnpj_basico", cnpjBasico).
			Int("chunks", len(chunks)).
			Msg("No usable partial profiles")
		return nil
	}

	merged := MergeProfiles(valid)

	companyID, err := r.profiles.Save(ctx, cnpjBasico, merged)
	if err != nil {
		return fmt.Errorf("failed to save profile for %s: %w", cnpjBasico, err)
	}

	r.logger.Info().
		Str("cnpj_basico", cnpjBasico).
		Int64("company_id", companyID).
		Int("partials", len(valid)).
		Int("chunks", len(chunks)).
		Msg("Profile assembly completed")

	return nil
}
