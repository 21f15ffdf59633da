package scraper

import (
	"net/url"
	"testing"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse %s: %v", raw, err)
	}
	return u
}

func TestFilterLinksKeepsSameHostHTML(t *testing.T) {
	base := mustParse(t, "https://www.acme.com.br")

	links := []string{
		"/sobre",
		"https://www.acme.com.br/produtos",
		"https://acme.com.br/contato", // bare host counts as same site
		"https://other.com/page",
		"/logo.png",
		"/catalogo.pdf",
		"javascript:void(0)",
		"#section",
		"/sobre", // duplicate
		"https://www.acme.com.br/", // the seed itself
	}

	got := filterLinks(links, base)

	want := map[string]bool{
		"https://www.acme.com.br/sobre":    true,
		"https://www.acme.com.br/produtos": true,
		"https://acme.com.br/contato":      true,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d links, got %d: %v", len(want), len(got), got)
	}
	for _, link := range got {
		if !want[link] {
			t.Errorf("unexpected link %s", link)
		}
	}
}

func TestFilterLinksStripsFragmentsAndCommas(t *testing.T) {
	base := mustParse(t, "https://acme.com.br")

	got := filterLinks([]string{"/equipe#lideres", "/unidades,"}, base)
	for _, link := range got {
		if link != "https://acme.com.br/equipe" && link != "https://acme.com.br/unidades" {
			t.Errorf("link not normalized: %s", link)
		}
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 links, got %v", got)
	}
}

func TestPrioritizeLinksOrdering(t *testing.T) {
	links := []string{
		"https://acme.com.br/blog/post-antigo",
		"https://acme.com.br/quem-somos",
		"https://acme.com.br/x/y/z/deep/page/path",
		"https://acme.com.br/produtos",
	}

	got := prioritizeLinks(links, 10)
	if len(got) == 0 {
		t.Fatal("expected results")
	}
	if got[0] != "https://acme.com.br/quem-somos" && got[0] != "https://acme.com.br/produtos" {
		t.Errorf("expected institutional page first, got %s", got[0])
	}
	for _, link := range got {
		if link == "https://acme.com.br/blog/post-antigo" {
			t.Error("low-value blog link must be dropped")
		}
	}
}

func TestPrioritizeLinksRespectsMax(t *testing.T) {
	links := []string{
		"https://acme.com.br/a",
		"https://acme.com.br/b",
		"https://acme.com.br/c",
	}
	if got := prioritizeLinks(links, 2); len(got) != 2 {
		t.Errorf("expected 2 links, got %d", len(got))
	}
}

func TestToggleWWW(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.acme.com.br/path", "https://acme.com.br/path"},
		{"https://acme.com.br", "https://www.acme.com.br"},
		{"/relative/only", ""},
	}
	for _, tt := range tests {
		if got := toggleWWW(tt.in); got != tt.want {
			t.Errorf("toggleWWW(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
