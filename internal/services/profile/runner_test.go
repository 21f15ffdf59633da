package profile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/datalupa/perfilador/internal/models"
)

type fakeChunkReader struct {
	chunks []models.StoredChunk
	err    error
}

func (f *fakeChunkReader) GetByCompany(ctx context.Context, cnpjBasico string) ([]models.StoredChunk, error) {
	return f.chunks, f.err
}

type fakeProfileWriter struct {
	mu    sync.Mutex
	calls int
	cnpj  string
	saved *models.CompanyProfile
	err   error
}

func (f *fakeProfileWriter) Save(ctx context.Context, cnpjBasico string, profile *models.CompanyProfile) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.cnpj = cnpjBasico
	f.saved = profile
	if f.err != nil {
		return 0, f.err
	}
	return 7, nil
}

type fakeExtractor struct {
	mu        sync.Mutex
	byIndex   map[int]*models.CompanyProfile
	extracted []int
	preferred []string
}

func (f *fakeExtractor) Assignments(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "provider-a"
	}
	return out
}

func (f *fakeExtractor) ExtractWithRetry(ctx context.Context, chunk models.StoredChunk, preferred string) *models.CompanyProfile {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extracted = append(f.extracted, chunk.ChunkIndex)
	f.preferred = append(f.preferred, preferred)
	return f.byIndex[chunk.ChunkIndex]
}

func longChunk(index int) models.StoredChunk {
	return models.StoredChunk{
		CNPJBasico:   "12345678",
		ChunkIndex:   index,
		ChunkContent: strings.Repeat("conteúdo institucional da empresa ", 10),
	}
}

func newTestRunner(chunks *fakeChunkReader, writer *fakeProfileWriter, extractor *fakeExtractor) *Runner {
	return NewRunner(chunks, writer, extractor, arbor.NewLogger())
}

func TestRunSavesMergedProfile(t *testing.T) {
	extractor := &fakeExtractor{byIndex: map[int]*models.CompanyProfile{
		0: {Identidade: models.Identity{NomeEmpresa: "Acme Cabos"}},
		1: {Contato: models.Contact{Emails: []string{"vendas@acme.com.br"}}},
	}}
	writer := &fakeProfileWriter{}
	runner := newTestRunner(&fakeChunkReader{chunks: []models.StoredChunk{longChunk(0), longChunk(1)}}, writer, extractor)

	if err := runner.Run(context.Background(), "12345678"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if writer.calls != 1 {
		t.Fatalf("Save called %d times, want 1", writer.calls)
	}
	if writer.cnpj != "12345678" {
		t.Errorf("saved cnpj = %q", writer.cnpj)
	}
	if writer.saved.Identidade.NomeEmpresa != "Acme Cabos" {
		t.Errorf("merged nome_empresa = %q", writer.saved.Identidade.NomeEmpresa)
	}
	if len(writer.saved.Contato.Emails) != 1 {
		t.Errorf("merged emails = %v, partials not merged", writer.saved.Contato.Emails)
	}
	for _, p := range extractor.preferred {
		if p != "provider-a" {
			t.Errorf("preferred provider = %q, assignment not passed through", p)
		}
	}
}

func TestRunNoChunksAcknowledges(t *testing.T) {
	writer := &fakeProfileWriter{}
	runner := newTestRunner(&fakeChunkReader{}, writer, &fakeExtractor{})

	if err := runner.Run(context.Background(), "12345678"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if writer.calls != 0 {
		t.Errorf("Save called %d times on empty company", writer.calls)
	}
}

func TestRunChunkLoadErrorPropagates(t *testing.T) {
	runner := newTestRunner(&fakeChunkReader{err: errors.New("db down")}, &fakeProfileWriter{}, &fakeExtractor{})

	if err := runner.Run(context.Background(), "12345678"); err == nil {
		t.Fatal("expected error when chunks cannot be loaded")
	}
}

func TestRunSkipsShortChunks(t *testing.T) {
	extractor := &fakeExtractor{byIndex: map[int]*models.CompanyProfile{
		1: {Identidade: models.Identity{NomeEmpresa: "Acme"}},
	}}
	short := models.StoredChunk{CNPJBasico: "12345678", ChunkIndex: 0, ChunkContent: "quase nada"}
	writer := &fakeProfileWriter{}
	runner := newTestRunner(&fakeChunkReader{chunks: []models.StoredChunk{short, longChunk(1)}}, writer, extractor)

	if err := runner.Run(context.Background(), "12345678"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(extractor.extracted) != 1 || extractor.extracted[0] != 1 {
		t.Errorf("extracted chunks = %v, short chunk should be skipped", extractor.extracted)
	}
	if writer.calls != 1 {
		t.Errorf("Save called %d times, want 1", writer.calls)
	}
}

func TestRunNoUsablePartialsAcknowledges(t *testing.T) {
	// Extractor yields nil (failed) and empty (unparseable) partials only.
	extractor := &fakeExtractor{byIndex: map[int]*models.CompanyProfile{
		1: {},
	}}
	writer := &fakeProfileWriter{}
	runner := newTestRunner(&fakeChunkReader{chunks: []models.StoredChunk{longChunk(0), longChunk(1)}}, writer, extractor)

	if err := runner.Run(context.Background(), "12345678"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if writer.calls != 0 {
		t.Errorf("Save called %d times with no usable partials", writer.calls)
	}
}

func TestRunSaveErrorPropagates(t *testing.T) {
	extractor := &fakeExtractor{byIndex: map[int]*models.CompanyProfile{
		0: {Identidade: models.Identity{NomeEmpresa: "Acme"}},
	}}
	writer := &fakeProfileWriter{err: errors.New("constraint violation")}
	runner := newTestRunner(&fakeChunkReader{chunks: []models.StoredChunk{longChunk(0)}}, writer, extractor)

	if err := runner.Run(context.Background(), "12345678"); err == nil {
		t.Fatal("expected save failure to propagate")
	}
}
