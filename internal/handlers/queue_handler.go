package handlers

import (
	"context"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/datalupa/perfilador/internal/models"
)

// Queue is the subset of the job queue a handler needs: enqueueing and
// metrics. Claiming and acking belong to the workers.
type Queue interface {
	Enqueue(ctx context.Context, cnpjBasico string) (bool, error)
	Metrics(ctx context.Context) (*models.QueueMetrics, error)
}

// EligibleLister returns companies that already have scraped chunks but no
// stored profile, used when an enqueue_batch request arrives with no body.
type EligibleLister interface {
	ListEligibleForProfile(ctx context.Context, limit int) ([]string, error)
}

// QueueHandler serves the enqueue and metrics endpoints for a single job
// queue. One instance is mounted per queue (discovery and profile).
type QueueHandler struct {
	queue    Queue
	eligible EligibleLister
	logger   arbor.ILogger
}

// NewQueueHandler creates a queue handler. eligible may be nil for queues
// that have no batch fallback (the discovery queue).
func NewQueueHandler(queue Queue, eligible EligibleLister, logger arbor.ILogger) *QueueHandler {
	return &QueueHandler{
		queue:    queue,
		eligible: eligible,
		logger:   logger,
	}
}

// EnqueueRequest enqueues a single company.
type EnqueueRequest struct {
	CNPJBasico string `json:"cnpj_basico" validate:"required,len=8"`
}

// EnqueueBatchRequest enqueues a list of companies. An empty list falls back
// to every eligible company when the handler has an eligible lister.
type EnqueueBatchRequest struct {
	CNPJBasicos []string `json:"cnpj_basicos"`
}

type enqueueResponse struct {
	Enqueued   bool    `json:"enqueued"`
	CNPJBasico string  `json:"cnpj_basico"`
	Message    *string `json:"message"`
}

type enqueueBatchResponse struct {
	Enqueued int `json:"enqueued"`
	Skipped  int `json:"skipped"`
}

type metricsResponse struct {
	QueuedCount         int      `json:"queued_count"`
	ProcessingCount     int      `json:"processing_count"`
	FailedCount         int      `json:"failed_count"`
	OldestJobAgeSeconds *float64 `json:"oldest_job_age_seconds"`
}

// Enqueue inserts one job. Returns 201 when a fresh job was created and 200
// with enqueued=false when an active job already exists for the company.
func (h *QueueHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req EnqueueRequest
	if !DecodeBody(w, r, &req) {
		return
	}

	enqueued, err := h.queue.Enqueue(r.Context(), req.CNPJBasico)
	if err != nil {
		h.logger.Error().Str("cnpj_basico", req.CNPJBasico).Err(err).Msg("Failed to enqueue job")
		WriteError(w, http.StatusInternalServerError, "Erro ao enfileirar job: "+err.Error())
		return
	}

	resp := enqueueResponse{Enqueued: enqueued, CNPJBasico: req.CNPJBasico}
	status := http.StatusCreated
	if !enqueued {
		status = http.StatusOK
		msg := "Job ativo já existe para este CNPJ"
		resp.Message = &msg
	}
	WriteJSON(w, status, resp)
}

// EnqueueBatch inserts jobs for a list of companies. When the body is absent
// or lists no companies, every company with chunks but no profile is
// enqueued instead.
func (h *QueueHandler) EnqueueBatch(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req EnqueueBatchRequest
	if !DecodeOptionalBody(w, r, &req) {
		return
	}

	cnpjs := req.CNPJBasicos
	if len(cnpjs) == 0 && h.eligible != nil {
		eligible, err := h.eligible.ListEligibleForProfile(r.Context(), 0)
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to list eligible companies")
			WriteError(w, http.StatusInternalServerError, "Erro ao listar empresas elegíveis: "+err.Error())
			return
		}
		cnpjs = eligible
	}

	var resp enqueueBatchResponse
	for _, cnpj := range cnpjs {
		enqueued, err := h.queue.Enqueue(r.Context(), cnpj)
		if err != nil {
			h.logger.Error().Str("cnpj_basico", cnpj).Err(err).Msg("Failed to enqueue job in batch")
			WriteError(w, http.StatusInternalServerError, "Erro ao enfileirar job: "+err.Error())
			return
		}
		if enqueued {
			resp.Enqueued++
		} else {
			resp.Skipped++
		}
	}

	h.logger.Info().Int("enqueued", resp.Enqueued).Int("skipped", resp.Skipped).Msg("Batch enqueue completed")
	WriteJSON(w, http.StatusOK, resp)
}

// Metrics reports queue depth by status plus the age of the oldest waiting
// job.
func (h *QueueHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	m, err := h.queue.Metrics(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read queue metrics")
		WriteError(w, http.StatusInternalServerError, "Erro ao consultar métricas da fila: "+err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, metricsResponse{
		QueuedCount:         m.Queued,
		ProcessingCount:     m.Processing,
		FailedCount:         m.Failed,
		OldestJobAgeSeconds: m.OldestQueuedAgeSecs,
	})
}
