package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/datalupa/perfilador/internal/models"
	"github.com/datalupa/perfilador/internal/services/llm"
)

const chooserSystemPrompt = `Você é um analista que identifica o site oficial de empresas brasileiras.
Receberá dados cadastrais de uma empresa e resultados de busca do Google.
Escolha o resultado que é o site institucional OFICIAL da empresa, se houver.

Regras:
- O site deve pertencer à própria empresa, não a diretórios, notícias ou terceiros.
- Compare nome fantasia e razão social com título, domínio e descrição.
- Na dúvida, prefira não indicar site algum.

Responda APENAS com um objeto JSON:
{"website_url": "https://..." ou null, "reasoning": "explicação curta em português"}`

// Company carries the registry fields the chooser uses to match a
// search result against the company.
type Company struct {
	CNPJBasico   string
	RazaoSocial  string
	NomeFantasia string
	Municipio    string
}

// Choice is the chooser verdict for one company.
type Choice struct {
	WebsiteURL *string
	Reasoning  string
}

// Chooser asks the LLM pool which search result, if any, is the
// company's official website. Calls run at high priority: discovery
// feeds the scraper, which is the pipeline's real bottleneck.
type Chooser struct {
	pool   *llm.Pool
	logger arbor.ILogger
}

func NewChooser(pool *llm.Pool, logger arbor.ILogger) *Chooser {
	return &Chooser{pool: pool, logger: logger}
}

type chooserResponse struct {
	WebsiteURL *string `json:"website_url"`
	Reasoning  string  `json:"reasoning"`
}

// Choose returns the chosen URL (nil when none of the results is the
// official site) and the model's reasoning.
func (c *Chooser) Choose(ctx context.Context, company Company, results []models.SerpRow) (*Choice, error) {
	if len(results) == 0 {
		return &Choice{Reasoning: "Nenhum resultado de busca disponível"}, nil
	}

	content, provider, _, err := c.pool.CallWithFallback(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: chooserSystemPrompt},
			{Role: "user", Content: buildChooserPrompt(company, results)},
		},
		ResponseFormat: "json_object",
	}, llm.PriorityHigh, "")
	if err != nil {
		return nil, fmt.Errorf("website chooser call failed: %w", err)
	}

	parsed, err := parseChooserResponse(content)
	if err != nil {
		c.logger.Warn().
			Str("cnpj_basico", company.CNPJBasico).
			Str("provider", provider).
			Err(err).
			Msg("Unparseable chooser response")
		return nil, fmt.Errorf("failed to parse chooser response: %w", err)
	}

	choice := &Choice{Reasoning: parsed.Reasoning}
	if parsed.WebsiteURL != nil {
		if url := strings.TrimSpace(*parsed.WebsiteURL); url != "" && !IsBlacklisted(url) {
			choice.WebsiteURL = &url
		}
	}

	c.logger.Info().
		Str("cnpj_basico", company.CNPJBasico).
		Str("provider", provider).
		Bool("found", choice.WebsiteURL != nil).
		Msg("Website choice completed")

	return choice, nil
}

func buildChooserPrompt(company Company, results []models.SerpRow) string {
	var b strings.Builder

	b.WriteString("Empresa:\n")
	fmt.Fprintf(&b, "- CNPJ básico: %s\n", company.CNPJBasico)
	if company.RazaoSocial != "" {
		fmt.Fprintf(&b, "- Razão social: %s\n", company.RazaoSocial)
	}
	if company.NomeFantasia != "" {
		fmt.Fprintf(&b, "- Nome fantasia: %s\n", company.NomeFantasia)
	}
	if company.Municipio != "" {
		fmt.Fprintf(&b, "- Município: %s\n", company.Municipio)
	}

	b.WriteString("\nResultados da busca:\n")
	for i, row := range results {
		fmt.Fprintf(&b, "%d. %s\n   URL: %s\n", i+1, row.Title, row.Link)
		if row.Snippet != "" {
			fmt.Fprintf(&b, "   Descrição: %s\n", row.Snippet)
		}
	}

	return b.String()
}

// parseChooserResponse tolerates markdown fences around the JSON body.
func parseChooserResponse(content string) (*chooserResponse, error) {
	cleaned := strings.TrimSpace(content)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var parsed chooserResponse
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}
