package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/datalupa/perfilador/internal/common"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	svc, err := NewService(common.ScraperConfig{
		MaxPages:    10,
		MaxDepth:    2,
		UserAgent:   "perfilador-test",
		DelayMs:     0,
		TimeoutSecs: 5,
	}, arbor.NewLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func longText(label string) string {
	return strings.Repeat(fmt.Sprintf("Conteúdo institucional sobre %s. ", label), 10)
}

func TestScrapeSeedAndSubpages(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `<html><body>
			<h1>Acme</h1><p>%s</p>
			<a href="/sobre">Sobre</a>
			<a href="/produtos">Produtos</a>
			<a href="/logo.png">Logo</a>
			<a href="https://externo.com/x">Externo</a>
		</body></html>`, longText("a empresa"))
	})
	mux.HandleFunc("/sobre", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<html><body><p>%s</p></body></html>", longText("quem somos"))
	})
	mux.HandleFunc("/produtos", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<html><body><p>%s</p></body></html>", longText("tubos e conexões"))
	})

	svc := newTestService(t)
	pages, err := svc.Scrape(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}

	if len(pages) != 3 {
		urls := make([]string, len(pages))
		for i, p := range pages {
			urls[i] = p.URL
		}
		t.Fatalf("expected 3 pages, got %d: %v", len(pages), urls)
	}
	if !strings.Contains(pages[0].Content, "a empresa") {
		t.Errorf("seed page content wrong: %q", pages[0].Content)
	}
	for _, page := range pages {
		if !page.Success {
			t.Errorf("page %s not marked successful", page.URL)
		}
		if strings.Contains(page.URL, "externo.com") || strings.Contains(page.URL, "logo.png") {
			t.Errorf("filtered link was scraped: %s", page.URL)
		}
	}
}

func TestScrapeFailsOnUnusableSeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body><p>404 not found</p></body></html>")
	}))
	defer server.Close()

	svc := newTestService(t)
	if _, err := svc.Scrape(context.Background(), server.URL); err == nil {
		t.Fatal("expected error for soft-404 seed")
	}
}

func TestScrapeFailsOnUnreachableSeed(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Scrape(context.Background(), "http://127.0.0.1:1/"); err == nil {
		t.Fatal("expected error for unreachable seed")
	}
}

func TestScrapeSkipsBrokenSubpages(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `<html><body><p>%s</p>
			<a href="/servicos">Serviços</a>
			<a href="/quebrado">Quebrado</a>
		</body></html>`, longText("raiz"))
	})
	mux.HandleFunc("/servicos", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<html><body><p>%s</p></body></html>", longText("serviços"))
	})
	mux.HandleFunc("/quebrado", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	svc := newTestService(t)
	pages, err := svc.Scrape(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected seed + 1 subpage, got %d", len(pages))
	}
	for _, page := range pages {
		if strings.Contains(page.URL, "quebrado") {
			t.Error("failed subpage must not be returned")
		}
	}
}
