package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/datalupa/perfilador/internal/models"
	"github.com/datalupa/perfilador/internal/services/scraper"
	"github.com/datalupa/perfilador/internal/services/search"
)

type mockSearchRunner struct {
	mu      sync.Mutex
	queries []search.CompanyQuery
	done    chan struct{}
}

func (m *mockSearchRunner) Run(ctx context.Context, q search.CompanyQuery) (*models.SearchResult, error) {
	m.mu.Lock()
	m.queries = append(m.queries, q)
	m.mu.Unlock()
	if m.done != nil {
		close(m.done)
	}
	return &models.SearchResult{ID: 1}, nil
}

type mockScrapeRunner struct {
	result *scraper.Result
	err    error
}

func (m *mockScrapeRunner) Run(ctx context.Context, cnpjBasico, websiteURL string) (*scraper.Result, error) {
	return m.result, m.err
}

type mockProfileRunner struct {
	err  error
	runs []string
}

func (m *mockProfileRunner) Run(ctx context.Context, cnpjBasico string) error {
	m.runs = append(m.runs, cnpjBasico)
	return m.err
}

func newTestPipelineHandler(searchRunner SearchRunner, scrapeRunner ScrapeRunner, profileRunner ProfileRunner, queue Enqueuer) *PipelineHandler {
	return NewPipelineHandler(searchRunner, scrapeRunner, profileRunner, queue, arbor.NewLogger())
}

func TestSerperAcceptsAndRunsInBackground(t *testing.T) {
	sr := &mockSearchRunner{done: make(chan struct{})}
	h := newTestPipelineHandler(sr, &mockScrapeRunner{}, &mockProfileRunner{}, &mockQueue{})

	rec := postJSON(t, h.Serper, "/v2/serper", SerperRequest{
		CNPJBasico:   "12345678",
		RazaoSocial:  "ACME COMERCIO LTDA",
		NomeFantasia: "ACME",
		Municipio:    "SAO PAULO",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp acceptedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Status != "accepted" || resp.CNPJBasico != "12345678" {
		t.Errorf("unexpected response: %+v", resp)
	}

	select {
	case <-sr.done:
	case <-time.After(2 * time.Second):
		t.Fatal("background search never ran")
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if len(sr.queries) != 1 || sr.queries[0].NomeFantasia != "ACME" {
		t.Errorf("unexpected queries: %+v", sr.queries)
	}
}

func TestSerperRequiresCNPJ(t *testing.T) {
	h := newTestPipelineHandler(&mockSearchRunner{}, &mockScrapeRunner{}, &mockProfileRunner{}, &mockQueue{})

	rec := postJSON(t, h.Serper, "/v2/serper", SerperRequest{RazaoSocial: "ACME LTDA"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestEncontrarSiteEnqueues(t *testing.T) {
	queue := &mockQueue{}
	h := newTestPipelineHandler(&mockSearchRunner{}, &mockScrapeRunner{}, &mockProfileRunner{}, queue)

	rec := postJSON(t, h.EncontrarSite, "/v2/encontrar_site", CompanyRequest{CNPJBasico: "12345678"})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(queue.enqueued) != 1 || queue.enqueued[0] != "12345678" {
		t.Errorf("unexpected enqueues: %v", queue.enqueued)
	}
}

func TestEncontrarSiteActiveJobStillAccepted(t *testing.T) {
	queue := &mockQueue{
		enqueueFunc: func(ctx context.Context, cnpjBasico string) (bool, error) {
			return false, nil
		},
	}
	h := newTestPipelineHandler(&mockSearchRunner{}, &mockScrapeRunner{}, &mockProfileRunner{}, queue)

	rec := postJSON(t, h.EncontrarSite, "/v2/encontrar_site", CompanyRequest{CNPJBasico: "12345678"})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp acceptedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Status != "accepted" {
		t.Errorf("duplicate job should still be accepted: %+v", resp)
	}
}

func TestScrapeReturnsTotals(t *testing.T) {
	sc := &mockScrapeRunner{result: &scraper.Result{
		Success:      true,
		ChunksSaved:  3,
		TotalTokens:  4200,
		PagesScraped: 7,
		Duration:     1500 * time.Millisecond,
	}}
	h := newTestPipelineHandler(&mockSearchRunner{}, sc, &mockProfileRunner{}, &mockQueue{})

	rec := postJSON(t, h.Scrape, "/v2/scrape", ScrapeRequest{
		CNPJBasico: "12345678",
		WebsiteURL: "https://acme.com.br",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp scrapeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.ChunksSaved != 3 || resp.TotalTokens != 4200 || resp.PagesScraped != 7 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.ProcessingTimeMs != 1500 {
		t.Errorf("expected 1500ms, got %v", resp.ProcessingTimeMs)
	}
}

func TestScrapeNoDataIsNotAnError(t *testing.T) {
	sc := &mockScrapeRunner{result: &scraper.Result{Success: false}}
	h := newTestPipelineHandler(&mockSearchRunner{}, sc, &mockProfileRunner{}, &mockQueue{})

	rec := postJSON(t, h.Scrape, "/v2/scrape", ScrapeRequest{
		CNPJBasico: "12345678",
		WebsiteURL: "https://acme.com.br",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for clean no-data, got %d", rec.Code)
	}
	var resp scrapeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Success {
		t.Error("expected success=false")
	}
}

func TestScrapeStoreErrorIs500(t *testing.T) {
	sc := &mockScrapeRunner{err: errors.New("pq: connection reset")}
	h := newTestPipelineHandler(&mockSearchRunner{}, sc, &mockProfileRunner{}, &mockQueue{})

	rec := postJSON(t, h.Scrape, "/v2/scrape", ScrapeRequest{
		CNPJBasico: "12345678",
		WebsiteURL: "https://acme.com.br",
	})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestScrapeValidatesURL(t *testing.T) {
	h := newTestPipelineHandler(&mockSearchRunner{}, &mockScrapeRunner{}, &mockProfileRunner{}, &mockQueue{})

	rec := postJSON(t, h.Scrape, "/v2/scrape", ScrapeRequest{
		CNPJBasico: "12345678",
		WebsiteURL: "not-a-url",
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMontagemPerfilRunsSynchronously(t *testing.T) {
	pr := &mockProfileRunner{}
	h := newTestPipelineHandler(&mockSearchRunner{}, &mockScrapeRunner{}, pr, &mockQueue{})

	rec := postJSON(t, h.MontagemPerfil, "/v2/montagem_perfil", CompanyRequest{CNPJBasico: "12345678"})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(pr.runs) != 1 || pr.runs[0] != "12345678" {
		t.Errorf("unexpected runs: %v", pr.runs)
	}
	var resp acceptedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "completed" {
		t.Errorf("expected completed status, got %q", resp.Status)
	}
}

func TestMontagemPerfilErrorIs500(t *testing.T) {
	pr := &mockProfileRunner{err: errors.New("pq: deadlock detected")}
	h := newTestPipelineHandler(&mockSearchRunner{}, &mockScrapeRunner{}, pr, &mockQueue{})

	rec := postJSON(t, h.MontagemPerfil, "/v2/montagem_perfil", CompanyRequest{CNPJBasico: "12345678"})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
