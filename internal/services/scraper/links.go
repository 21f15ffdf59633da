package scraper

import (
	"net/url"
	"sort"
	"strings"
)

// Link extensions that never lead to profileable HTML content.
var excludedExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true,
	".webp": true, ".ico": true, ".bmp": true, ".tiff": true,
	".zip": true, ".rar": true, ".tar": true, ".gz": true,
	".xls": true, ".xlsx": true, ".csv": true, ".txt": true, ".xml": true,
	".json": true, ".js": true, ".css": true,
	".mp4": true, ".mp3": true, ".avi": true, ".mov": true, ".wmv": true,
	".flv": true, ".webm": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true, ".otf": true,
	".pdf": true, ".doc": true, ".docx": true, ".ppt": true, ".pptx": true,
}

// Path fragments that indicate the most valuable institutional pages.
var highValueKeywords = []string{
	"quem-somos", "sobre", "institucional",
	"portfolio", "produto", "servico", "solucoes", "atuacao", "tecnologia",
	"catalogo", "produtos", "servicos",
	"clientes", "cases", "projetos", "obras", "certificacoes", "premios",
	"parceiros", "equipe", "time", "lideranca", "contato", "fale-conosco",
	"unidades",
}

var lowValueKeywords = []string{
	"login", "signin", "cart", "policy", "blog", "news",
	"politica-privacidade", "termos",
}

// normalizeLink trims whitespace, stray trailing commas and fragments.
func normalizeLink(link string) string {
	link = strings.TrimSpace(link)
	link = strings.TrimRight(link, ",")
	if idx := strings.Index(link, "#"); idx >= 0 {
		link = link[:idx]
	}
	return link
}

// filterLinks keeps same-host HTML links, dropping files, fragments and
// the seed page itself.
func filterLinks(links []string, base *url.URL) []string {
	seen := make(map[string]bool, len(links))
	filtered := make([]string, 0, len(links))

	baseHost := strings.TrimPrefix(base.Host, "www.")
	baseNorm := strings.TrimRight(base.String(), "/")

	for _, raw := range links {
		link := normalizeLink(raw)
		if link == "" || strings.HasPrefix(strings.ToLower(link), "javascript:") {
			continue
		}

		resolved, err := base.Parse(link)
		if err != nil {
			continue
		}
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			continue
		}
		if strings.TrimPrefix(resolved.Host, "www.") != baseHost {
			continue
		}

		pathLower := strings.ToLower(resolved.Path)
		if ext := pathExtension(pathLower); ext != "" && excludedExtensions[ext] {
			continue
		}

		full := strings.TrimRight(resolved.String(), "/")
		if full == "" || full == baseNorm || seen[full] {
			continue
		}
		seen[full] = true
		filtered = append(filtered, full)
	}

	return filtered
}

func pathExtension(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 || strings.Contains(path[idx:], "/") {
		return ""
	}
	return path[idx:]
}

// prioritizeLinks scores links by how likely they are to describe the
// company (about/products/contact pages first) and drops the obviously
// useless ones.
func prioritizeLinks(links []string, max int) []string {
	type scoredLink struct {
		link  string
		score int
	}

	scored := make([]scoredLink, 0, len(links))
	for _, link := range links {
		lower := strings.ToLower(link)
		score := 0

		lowValue := false
		for _, k := range lowValueKeywords {
			if strings.Contains(lower, k) {
				score -= 100
				lowValue = true
				break
			}
		}
		for _, k := range highValueKeywords {
			if strings.Contains(lower, k) {
				score += 50
				break
			}
		}

		if u, err := url.Parse(link); err == nil {
			score -= len(strings.Split(u.Path, "/"))
		}

		if !lowValue && (strings.Contains(lower, "page") || strings.Contains(lower, "pagina")) {
			score += 30
		}

		if score > -80 {
			scored = append(scored, scoredLink{link: link, score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	if max > 0 && len(scored) > max {
		scored = scored[:max]
	}

	out := make([]string, len(scored))
	for i, s := range scored {
		out[i] = s.link
	}
	return out
}

// toggleWWW flips between the www and bare-host form of a URL, the
// common fix when a seed URL resolves but serves nothing.
func toggleWWW(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	if strings.HasPrefix(u.Host, "www.") {
		u.Host = strings.TrimPrefix(u.Host, "www.")
	} else {
		u.Host = "www." + u.Host
	}
	return u.String()
}
