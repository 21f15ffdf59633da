package scraper

import (
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

const minPageChars = 100

var softNotFoundMarkers = []string{
	"404 not found", "page not found", "página não encontrada",
	"erro 404", "não encontramos a página", "página inexistente",
	"error 404", "file not found",
}

// extractContent strips boilerplate from the document and converts the
// remaining HTML to markdown. It also collects every anchor href.
func extractContent(doc *goquery.Document, pageURL string) (string, []string) {
	doc.Find("script, style, noscript, iframe, svg, nav, header, footer, aside").Remove()

	links := make([]string, 0, 32)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			links = append(links, href)
		}
	})

	body := doc.Find("body")
	html, err := body.Html()
	if err != nil || strings.TrimSpace(html) == "" {
		return "", links
	}

	converter := md.NewConverter(pageURL, true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		// Markdown conversion is best effort. Fall back to plain text.
		markdown = body.Text()
	}

	return cleanText(markdown), links
}

// cleanText collapses blank-line runs and trims each line.
func cleanText(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, trimmed)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// isSoftNotFound detects error pages served with HTTP 200. Long pages
// are assumed to be real content.
func isSoftNotFound(text string) bool {
	if len(text) > 1000 {
		return false
	}
	lower := strings.ToLower(text)
	for _, marker := range softNotFoundMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// isUsable reports whether a scraped page carries enough real content
// to feed the profile pipeline.
func isUsable(text string) bool {
	return len(text) >= minPageChars && !isSoftNotFound(text)
}
