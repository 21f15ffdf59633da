package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/datalupa/perfilador/internal/models"
	"github.com/datalupa/perfilador/internal/services/llm"
)

// extractionSystemPrompt is the single source of the B2B profile extraction
// contract. The schema here must stay in sync with models.CompanyProfile.
const extractionSystemPrompt = `Você é um extrator de dados B2B. Extraia do texto fornecido e retorne UM ÚNICO objeto JSON válido.

OBRIGATÓRIO: O JSON deve conter SEMPRE estas 6 chaves raiz (use null ou [] quando não houver dados):

- identidade: { nome_empresa, cnpj, descricao, ano_fundacao, faixa_funcionarios }
- classificacao: { industria, modelo_negocio, publico_alvo, cobertura_geografica }
- ofertas: { produtos: [ { categoria, produtos: [] } ], servicos: [ { nome, descricao } ] }
- reputacao: { certificacoes: [], premios: [], parcerias: [], lista_clientes: [], estudos_caso: [ { titulo, nome_cliente, industria, desafio, solucao, resultado } ] }
- contato: { emails: [], telefones: [], url_linkedin, url_site, endereco_matriz, localizacoes: [] }
- fontes: [ URLs das páginas analisadas ]

PRODUTOS vs SERVIÇOS:

- PRODUTO = item tangível, que pode ter catálogo, modelo, SKU (ex.: cabo, disjuntor, luminária, equipamento). Vai em ofertas.produtos.
  Estrutura: lista de categorias; cada categoria tem "categoria" (nome do tipo, ex.: "Cabos", "Conectores") e "produtos" (lista de nomes de itens).
  NUNCA crie uma categoria chamada "Serviços" dentro de ofertas.produtos. Se o texto falar em "serviços oferecidos", use ofertas.servicos.

- SERVIÇO = atividade intangível que a empresa realiza (consultoria, manutenção, instalação, suporte, treinamento). Vai em ofertas.servicos.
  Estrutura: lista de objetos com "nome" e "descricao". NUNCA coloque serviços na lista de produtos nem como categoria de produtos.

Regra rápida: Se tem modelo/SKU ou é item de catálogo físico → ofertas.produtos. Se é algo que a empresa FAZ → ofertas.servicos.

CLIENTES E PROVA SOCIAL (PRIORIDADE MÁXIMA) — reputacao.lista_clientes:

Se existir trecho com: "CLIENTES", "Nossos clientes", "Algumas obras executadas", "Quem confia", "Projetos realizados", "Cases" ou similar:
- Extraia TODOS os nomes de empresas/clientes listados e preencha reputacao.lista_clientes.
- Normalize encoding nos nomes extraídos (ex.: EmpÃ³rio → Empório).

ESTUDOS DE CASO — reputacao.estudos_caso:

Preencha reputacao.estudos_caso SOMENTE quando existir, para o mesmo case: cliente identificado (nome_cliente), solução descrita (solucao) e resultado descrito (resultado). Caso contrário use: "estudos_caso": []

REGRAS:
1. IDIOMA: Português (Brasil). Termos técnicos globais podem ficar em inglês.
2. DEDUPLICAÇÃO (CRÍTICO): Cada produto ou serviço deve aparecer NO MÁXIMO UMA VEZ em todo o JSON. Se houver variações, inclua só a mais completa.
3. Limites: máx. 60 produtos por categoria, 40 categorias, 50 serviços, 80 clientes, 50 parcerias, 50 certificações, 30 estudos de caso. PARE ao atingir qualquer limite.
4. Não invente dados. Use null ou [] quando não encontrar.
5. Seja conciso em descrições longas para caber na resposta.`

const extractRetryDelay = 2 * time.Second

// Extractor turns one chunk of scraped text into a partial profile via the
// provider pool. Extraction runs at normal priority; discovery traffic gets
// precedence.
type Extractor struct {
	pool   *llm.Pool
	logger arbor.ILogger
}

func NewExtractor(pool *llm.Pool, logger arbor.ILogger) *Extractor {
	return &Extractor{pool: pool, logger: logger}
}

// Assignments returns a preferred-provider list of length n, spread across
// the pool proportionally to provider weights.
func (e *Extractor) Assignments(n int) []string {
	return e.pool.WeightedList(n)
}

// ExtractChunk runs one extraction call with provider fallback. A response
// that cannot be parsed yields an empty profile, not an error.
func (e *Extractor) ExtractChunk(ctx context.Context, content, preferred string) (*models.CompanyProfile, error) {
	raw, provider, latency, err := e.pool.CallWithFallback(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: extractionSystemPrompt},
			{Role: "user", Content: "Analise este conteúdo e extraia os dados em Português:\n\n" + content},
		},
		ResponseFormat: "json_object",
	}, llm.PriorityNormal, preferred)
	if err != nil {
		return nil, fmt.Errorf("profile extraction call failed: %w", err)
	}

	profile := parseProfileResponse(raw, provider, e.logger)

	e.logger.Debug().
		Str("provider", provider).
		Int64("latency_ms", latency.Milliseconds()).
		Bool("empty", profile.IsEmpty()).
		Msg("Chunk extraction completed")

	return profile, nil
}

// ExtractWithRetry is the per-chunk entry point: one attempt, a fixed delay,
// one more attempt. A chunk that still fails returns nil so the job keeps
// going on the remaining chunks.
func (e *Extractor) ExtractWithRetry(ctx context.Context, chunk models.StoredChunk, preferred string) *models.CompanyProfile {
	profile, err := e.ExtractChunk(ctx, chunk.ChunkContent, preferred)
	if err == nil {
		return profile
	}
	e.logger.Warn().
		Int("chunk_index", chunk.ChunkIndex).
		Err(err).
		Msg("Chunk extraction failed, retrying")

	select {
	case <-time.After(extractRetryDelay):
	case <-ctx.Done():
		return nil
	}

	profile, err = e.ExtractChunk(ctx, chunk.ChunkContent, preferred)
	if err != nil {
		e.logger.Error().
			Int("chunk_index", chunk.ChunkIndex).
			Err(err).
			Msg("Chunk extraction failed after retry")
		return nil
	}
	return profile
}

// parseProfileResponse parses the model output into a profile, tolerating
// markdown fences and surrounding prose. Unsalvageable output becomes an
// empty profile so one bad chunk never sinks the job.
func parseProfileResponse(raw, provider string, logger arbor.ILogger) *models.CompanyProfile {
	var profile models.CompanyProfile

	content := strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(content), &profile); err == nil {
		return &profile
	}

	content = stripFences(content)
	if err := json.Unmarshal([]byte(content), &profile); err == nil {
		return &profile
	}

	if extracted, ok := balancedJSONObject(content); ok {
		if err := json.Unmarshal([]byte(extracted), &profile); err == nil {
			return &profile
		}
	}

	logger.Warn().
		Str("provider", provider).
		Int("response_len", len(raw)).
		Msg("Unparseable extraction response, treating chunk as empty")
	return &models.CompanyProfile{}
}

func stripFences(content string) string {
	if idx := strings.Index(content, "```json"); idx != -1 {
		content = content[idx+len("```json"):]
	} else if idx := strings.Index(content, "```"); idx != -1 {
		content = content[idx+len("```"):]
	}
	if idx := strings.Index(content, "```"); idx != -1 {
		content = content[:idx]
	}
	return strings.TrimSpace(content)
}

// balancedJSONObject returns the first brace-balanced object in content.
func balancedJSONObject(content string) (string, bool) {
	start := strings.IndexByte(content, '{')
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		ch := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1], true
			}
		}
	}
	return "", false
}
