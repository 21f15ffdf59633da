package discovery

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/datalupa/perfilador/internal/models"
)

// Domains that can never be a company's official website: business-data
// aggregators, social networks, marketplaces and Google proxies.
var blacklistedDomains = map[string]bool{
	// Business-data aggregators
	"econodata.com.br": true, "cnpj.biz": true, "cnpja.com": true,
	"cnpj.info": true, "cnpjs.rocks": true, "casadosdados.com.br": true,
	"empresascnpj.com": true, "consultacnpj.com": true,
	"informecadastral.com.br": true, "cadastroempresa.com.br": true,
	"transparencia.cc": true, "listamais.com.br": true,
	"solutudo.com.br": true, "telelistas.net": true, "apontador.com.br": true,
	"guiamais.com.br": true, "construtora.net.br": true, "b2bleads.com.br": true,
	"empresas.serasaexperian.com.br": true, "jusbrasil.com.br": true,
	"jusdados.com": true,
	// Social networks
	"facebook.com": true, "instagram.com": true, "linkedin.com": true,
	"youtube.com": true, "twitter.com": true, "x.com": true,
	"tiktok.com": true, "pinterest.com": true, "threads.net": true,
	// Marketplaces
	"mercadolivre.com.br": true, "shopee.com.br": true, "olx.com.br": true,
	"amazon.com.br": true, "magazineluiza.com.br": true, "americanas.com.br": true,
	// Google proxies
	"translate.google.com": true, "webcache.googleusercontent.com": true,
}

// LoadExtraBlacklist merges domains from a YAML file (a plain list of
// domain names) into the built-in blacklist. Must be called during
// startup, before any discovery job runs.
func LoadExtraBlacklist(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read blacklist file: %w", err)
	}

	var domains []string
	if err := yaml.Unmarshal(data, &domains); err != nil {
		return 0, fmt.Errorf("failed to parse blacklist file: %w", err)
	}

	added := 0
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" || blacklistedDomains[d] {
			continue
		}
		blacklistedDomains[d] = true
		added++
	}
	return added, nil
}

// IsBlacklisted reports whether the URL's domain (or any parent domain)
// is on the blacklist. Mobile and www prefixes are ignored.
func IsBlacklisted(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	domain := strings.ToLower(parsed.Hostname())
	for _, prefix := range []string{"www.", "m.", "mobile."} {
		domain = strings.TrimPrefix(domain, prefix)
	}

	if blacklistedDomains[domain] {
		return true
	}
	for blocked := range blacklistedDomains {
		if strings.HasSuffix(domain, "."+blocked) {
			return true
		}
	}
	return false
}

// FilterResults deduplicates rows by link and removes blacklisted
// domains, preserving order.
func FilterResults(rows []models.SerpRow) []models.SerpRow {
	seen := make(map[string]bool, len(rows))
	filtered := make([]models.SerpRow, 0, len(rows))

	for _, row := range rows {
		if row.Link == "" || seen[row.Link] {
			continue
		}
		seen[row.Link] = true

		if IsBlacklisted(row.Link) {
			continue
		}
		filtered = append(filtered, row)
	}

	return filtered
}
