package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/datalupa/perfilador/internal/common"
	"github.com/datalupa/perfilador/internal/models"
	"github.com/datalupa/perfilador/internal/services/scraper"
	"github.com/datalupa/perfilador/internal/services/search"
)

// searchTimeout bounds the detached stage-1 run kicked off by the serper
// endpoint; it has no request context to inherit.
const searchTimeout = 2 * time.Minute

// SearchRunner executes stage 1 for one company.
type SearchRunner interface {
	Run(ctx context.Context, q search.CompanyQuery) (*models.SearchResult, error)
}

// ScrapeRunner executes stage 3 for one company.
type ScrapeRunner interface {
	Run(ctx context.Context, cnpjBasico, websiteURL string) (*scraper.Result, error)
}

// ProfileRunner executes stage 4 for one company.
type ProfileRunner interface {
	Run(ctx context.Context, cnpjBasico string) error
}

// Enqueuer admits one company into a queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, cnpjBasico string) (bool, error)
}

// SerperRequest carries the registry data for a stage-1 search.
type SerperRequest struct {
	CNPJBasico   string `json:"cnpj_basico" validate:"required"`
	RazaoSocial  string `json:"razao_social"`
	NomeFantasia string `json:"nome_fantasia"`
	Municipio    string `json:"municipio"`
}

// ScrapeRequest carries the inputs for a stage-3 run.
type ScrapeRequest struct {
	CNPJBasico string `json:"cnpj_basico" validate:"required"`
	WebsiteURL string `json:"website_url" validate:"required,url"`
}

// CompanyRequest identifies one company.
type CompanyRequest struct {
	CNPJBasico string `json:"cnpj_basico" validate:"required"`
}

type acceptedResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	CNPJBasico string `json:"cnpj_basico"`
	Status     string `json:"status"`
}

// PipelineHandler serves the four stage endpoints under /v2.
type PipelineHandler struct {
	search         SearchRunner
	scrape         ScrapeRunner
	profile        ProfileRunner
	discoveryQueue Enqueuer
	logger         arbor.ILogger
}

func NewPipelineHandler(searchRunner SearchRunner, scrapeRunner ScrapeRunner, profileRunner ProfileRunner, discoveryQueue Enqueuer, logger arbor.ILogger) *PipelineHandler {
	return &PipelineHandler{
		search:         searchRunner,
		scrape:         scrapeRunner,
		profile:        profileRunner,
		discoveryQueue: discoveryQueue,
		logger:         logger,
	}
}

// Serper accepts a stage-1 search and runs it detached. The batching layer
// coalesces concurrent requests, so the handler only confirms admission.
func (h *PipelineHandler) Serper(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req SerperRequest
	if !DecodeBody(w, r, &req) {
		return
	}

	h.logger.Info().Str("cnpj_basico", req.CNPJBasico).Msg("Search request received")

	common.SafeGo(h.logger, "searchRun", func() {
		ctx, cancel := context.WithTimeout(context.Background(), searchTimeout)
		defer cancel()
		if _, err := h.search.Run(ctx, search.CompanyQuery{
			CNPJBasico:   req.CNPJBasico,
			RazaoSocial:  req.RazaoSocial,
			NomeFantasia: req.NomeFantasia,
			Municipio:    req.Municipio,
		}); err != nil {
			h.logger.Error().Str("cnpj_basico", req.CNPJBasico).Err(err).Msg("Background search failed")
		}
	})

	WriteJSON(w, http.StatusOK, acceptedResponse{
		Success:    true,
		Message:    fmt.Sprintf("Requisição de busca aceita para CNPJ %s. Processamento em background.", req.CNPJBasico),
		CNPJBasico: req.CNPJBasico,
		Status:     "accepted",
	})
}

// EncontrarSite admits a stage-2 discovery job; the queue worker does the
// actual work. An already-active job is still an accepted outcome.
func (h *PipelineHandler) EncontrarSite(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req CompanyRequest
	if !DecodeBody(w, r, &req) {
		return
	}

	enqueued, err := h.discoveryQueue.Enqueue(r.Context(), req.CNPJBasico)
	if err != nil {
		h.logger.Error().Str("cnpj_basico", req.CNPJBasico).Err(err).Msg("Discovery enqueue failed")
		WriteError(w, http.StatusInternalServerError, "Erro ao enfileirar: "+err.Error())
		return
	}

	message := fmt.Sprintf("Requisição de descoberta de site aceita para CNPJ %s. Processamento pela fila.", req.CNPJBasico)
	if !enqueued {
		message = fmt.Sprintf("CNPJ %s já está na fila ou em processamento.", req.CNPJBasico)
	}
	WriteJSON(w, http.StatusOK, acceptedResponse{
		Success:    true,
		Message:    message,
		CNPJBasico: req.CNPJBasico,
		Status:     "accepted",
	})
}

type scrapeResponse struct {
	Success          bool    `json:"success"`
	ChunksSaved      int     `json:"chunks_saved"`
	TotalTokens      int     `json:"total_tokens"`
	PagesScraped     int     `json:"pages_scraped"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

// Scrape runs stage 3 synchronously and reports the totals. A site that
// yields nothing usable returns 200 with success=false.
func (h *PipelineHandler) Scrape(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req ScrapeRequest
	if !DecodeBody(w, r, &req) {
		return
	}

	h.logger.Info().
		Str("cnpj_basico", req.CNPJBasico).
		Str("url", req.WebsiteURL).
		Msg("Scrape request received")

	result, err := h.scrape.Run(r.Context(), req.CNPJBasico, req.WebsiteURL)
	if err != nil {
		h.logger.Error().Str("cnpj_basico", req.CNPJBasico).Err(err).Msg("Scrape failed")
		WriteError(w, http.StatusInternalServerError, "Erro ao salvar chunks no banco de dados: "+err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, scrapeResponse{
		Success:          result.Success,
		ChunksSaved:      result.ChunksSaved,
		TotalTokens:      result.TotalTokens,
		PagesScraped:     result.PagesScraped,
		ProcessingTimeMs: float64(result.Duration.Milliseconds()),
	})
}

// MontagemPerfil runs stage 4 synchronously through the same runner the
// queue worker uses.
func (h *PipelineHandler) MontagemPerfil(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req CompanyRequest
	if !DecodeBody(w, r, &req) {
		return
	}

	h.logger.Info().Str("cnpj_basico", req.CNPJBasico).Msg("Profile request received")

	if err := h.profile.Run(r.Context(), req.CNPJBasico); err != nil {
		h.logger.Error().Str("cnpj_basico", req.CNPJBasico).Err(err).Msg("Profile assembly failed")
		WriteError(w, http.StatusInternalServerError, "Erro na montagem de perfil: "+err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, acceptedResponse{
		Success:    true,
		Message:    fmt.Sprintf("Montagem de perfil concluída para CNPJ %s.", req.CNPJBasico),
		CNPJBasico: req.CNPJBasico,
		Status:     "completed",
	})
}
