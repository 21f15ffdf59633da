package scraper

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func docFromHTML(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("failed to build document: %v", err)
	}
	return doc
}

func TestExtractContentStripsBoilerplate(t *testing.T) {
	doc := docFromHTML(t, `<html><head><style>body{}</style></head><body>
		<nav><a href="/nav-link">menu</a></nav>
		<script>alert(1)</script>
		<h1>Acme Tubos</h1>
		<p>Fabricante de tubos de aço desde 1985.</p>
		<a href="/sobre">Sobre</a>
		<footer>rodapé</footer>
	</body></html>`)

	content, links := extractContent(doc, "https://acme.com.br")

	if !strings.Contains(content, "Acme Tubos") {
		t.Errorf("content missing heading: %q", content)
	}
	if strings.Contains(content, "alert(1)") || strings.Contains(content, "rodapé") {
		t.Errorf("boilerplate not stripped: %q", content)
	}

	foundSobre := false
	for _, link := range links {
		if link == "/nav-link" {
			t.Error("nav links must be removed before extraction")
		}
		if link == "/sobre" {
			foundSobre = true
		}
	}
	if !foundSobre {
		t.Errorf("expected /sobre in links, got %v", links)
	}
}

func TestCleanTextCollapsesBlankRuns(t *testing.T) {
	in := "  linha um  \n\n\n\n   linha dois\n\n"
	want := "linha um\n\nlinha dois"
	if got := cleanText(in); got != want {
		t.Errorf("cleanText = %q, want %q", got, want)
	}
}

func TestIsSoftNotFound(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"portuguese 404", "Ops! Página não encontrada", true},
		{"english 404", "404 Not Found", true},
		{"real content", "A Acme fabrica tubos de aço carbono para a indústria.", false},
		{"long page with 404 mention", strings.Repeat("conteúdo real ", 100) + "error 404", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isSoftNotFound(tt.text); got != tt.want {
				t.Errorf("isSoftNotFound = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsUsable(t *testing.T) {
	if isUsable("curto") {
		t.Error("short content must not be usable")
	}
	long := strings.Repeat("tubos de aço ", 20)
	if !isUsable(long) {
		t.Error("long real content must be usable")
	}
}
