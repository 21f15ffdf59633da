package profile

import (
	"strings"

	"github.com/datalupa/perfilador/internal/models"
)

const (
	// Two texts with word overlap below this ratio are treated as
	// complementary and concatenated instead of replaced.
	similarityThreshold = 0.3

	// Free-text fields contribute length/divisor points to completeness.
	textScoreDivisor = 10
)

// Category names the model sometimes invents that carry no information.
var invalidCategoryNames = map[string]struct{}{
	"outras categorias": {}, "outras": {}, "marcas": {}, "marca": {},
	"geral": {}, "diversos": {}, "outros": {}, "categorias": {},
	"categoria": {}, "produtos": {}, "produto": {},
}

// MergeProfiles consolidates partial profiles from the per-chunk extractions
// into one. The most complete partial becomes the base; the others fill gaps,
// extend lists and upgrade shorter text fields.
func MergeProfiles(profiles []*models.CompanyProfile) *models.CompanyProfile {
	valid := make([]*models.CompanyProfile, 0, len(profiles))
	for _, p := range profiles {
		if p != nil {
			valid = append(valid, p)
		}
	}
	if len(valid) == 0 {
		return &models.CompanyProfile{}
	}
	if len(valid) == 1 {
		merged := *valid[0]
		cleanProfile(&merged)
		return &merged
	}

	baseIdx := 0
	baseScore := completenessScore(valid[0])
	for i := 1; i < len(valid); i++ {
		if score := completenessScore(valid[i]); score > baseScore {
			baseIdx, baseScore = i, score
		}
	}

	merged := *valid[baseIdx]
	for i, p := range valid {
		if i == baseIdx {
			continue
		}
		mergeIdentity(&merged.Identidade, &p.Identidade)
		mergeClassification(&merged.Classificacao, &p.Classificacao)
		mergeContact(&merged.Contato, &p.Contato)
		mergeOfferings(&merged.Ofertas, &p.Ofertas)
		mergeReputation(&merged.Reputacao, &p.Reputacao)
		merged.Fontes = appendUnique(merged.Fontes, p.Fontes)
	}

	cleanProfile(&merged)
	return &merged
}

// completenessScore ranks a partial: one point per list item, text length
// over the divisor per filled free-text field.
func completenessScore(p *models.CompanyProfile) int {
	score := 0
	for _, s := range []string{
		p.Identidade.NomeEmpresa, p.Identidade.CNPJ, p.Identidade.Slogan,
		p.Identidade.Descricao, p.Identidade.AnoFundacao, p.Identidade.FaixaFuncionarios,
		p.Classificacao.Industria, p.Classificacao.ModeloNegocio,
		p.Classificacao.PublicoAlvo, p.Classificacao.CoberturaGeografica,
		p.Contato.URLLinkedin, p.Contato.URLSite, p.Contato.EnderecoMatriz,
	} {
		if s != "" {
			score += len(s)/textScoreDivisor + 1
		}
	}
	score += len(p.Contato.Emails) + len(p.Contato.Telefones) + len(p.Contato.Localizacoes)
	score += len(p.Ofertas.Servicos) + len(p.Ofertas.Diferenciais)
	for _, cat := range p.Ofertas.Produtos {
		score += 1 + len(cat.Produtos)
	}
	score += len(p.Reputacao.Certificacoes) + len(p.Reputacao.Premios) +
		len(p.Reputacao.Parcerias) + len(p.Reputacao.ListaClientes) +
		len(p.Reputacao.EstudosCaso)
	score += len(p.Fontes)
	return score
}

// areComplementary reports whether two texts say different things, so that
// concatenating them adds information instead of repeating it.
func areComplementary(a, b string) bool {
	t1 := strings.ToLower(strings.TrimSpace(a))
	t2 := strings.ToLower(strings.TrimSpace(b))
	if t1 == "" || t2 == "" {
		return false
	}
	if strings.Contains(t1, t2) || strings.Contains(t2, t1) {
		return false
	}
	w1 := wordSet(t1)
	w2 := wordSet(t2)
	if len(w1) == 0 || len(w2) == 0 {
		return false
	}
	common := 0
	for w := range w1 {
		if _, ok := w2[w]; ok {
			common++
		}
	}
	larger := len(w1)
	if len(w2) > larger {
		larger = len(w2)
	}
	return float64(common)/float64(larger) < similarityThreshold
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}

// mergeText keeps the longer of two texts. When concatenable is set and the
// texts complement each other, they are joined instead.
func mergeText(current, incoming string, concatenable bool) string {
	if incoming == "" {
		return current
	}
	if current == "" {
		return incoming
	}
	if concatenable && areComplementary(current, incoming) {
		return strings.TrimSpace(current) + ". " + strings.TrimSpace(incoming)
	}
	if len(incoming) > len(current) {
		return incoming
	}
	return current
}

func mergeIdentity(dst, src *models.Identity) {
	dst.NomeEmpresa = mergeText(dst.NomeEmpresa, src.NomeEmpresa, false)
	dst.CNPJ = mergeText(dst.CNPJ, src.CNPJ, false)
	dst.Slogan = mergeText(dst.Slogan, src.Slogan, false)
	dst.Descricao = mergeText(dst.Descricao, src.Descricao, true)
	dst.AnoFundacao = mergeText(dst.AnoFundacao, src.AnoFundacao, false)
	dst.FaixaFuncionarios = mergeText(dst.FaixaFuncionarios, src.FaixaFuncionarios, false)
}

func mergeClassification(dst, src *models.Classification) {
	dst.Industria = mergeText(dst.Industria, src.Industria, false)
	dst.ModeloNegocio = mergeText(dst.ModeloNegocio, src.ModeloNegocio, false)
	dst.PublicoAlvo = mergeText(dst.PublicoAlvo, src.PublicoAlvo, false)
	dst.CoberturaGeografica = mergeText(dst.CoberturaGeografica, src.CoberturaGeografica, false)
}

func mergeContact(dst, src *models.Contact) {
	dst.Emails = appendUnique(dst.Emails, src.Emails)
	dst.Telefones = appendUnique(dst.Telefones, src.Telefones)
	dst.URLLinkedin = mergeText(dst.URLLinkedin, src.URLLinkedin, false)
	dst.URLSite = mergeText(dst.URLSite, src.URLSite, false)
	dst.EnderecoMatriz = mergeText(dst.EnderecoMatriz, src.EnderecoMatriz, false)
	dst.Localizacoes = appendUnique(dst.Localizacoes, src.Localizacoes)
}

// mergeOfferings keys services on name and product categories on category
// name, merging duplicates instead of repeating them.
func mergeOfferings(dst, src *models.Offerings) {
	for _, svc := range src.Servicos {
		nome := strings.TrimSpace(svc.Nome)
		if nome == "" {
			continue
		}
		found := false
		for i := range dst.Servicos {
			if strings.EqualFold(strings.TrimSpace(dst.Servicos[i].Nome), nome) {
				dst.Servicos[i].Descricao = mergeText(dst.Servicos[i].Descricao, svc.Descricao, true)
				found = true
				break
			}
		}
		if !found {
			dst.Servicos = append(dst.Servicos, svc)
		}
	}

	for _, cat := range src.Produtos {
		categoria := strings.TrimSpace(cat.Categoria)
		if categoria == "" {
			continue
		}
		found := false
		for i := range dst.Produtos {
			if strings.EqualFold(strings.TrimSpace(dst.Produtos[i].Categoria), categoria) {
				dst.Produtos[i].Produtos = appendUnique(dst.Produtos[i].Produtos, cat.Produtos)
				found = true
				break
			}
		}
		if !found {
			dst.Produtos = append(dst.Produtos, cat)
		}
	}

	dst.Diferenciais = appendUnique(dst.Diferenciais, src.Diferenciais)
}

func mergeReputation(dst, src *models.Reputation) {
	dst.Certificacoes = appendUnique(dst.Certificacoes, src.Certificacoes)
	dst.Premios = appendUnique(dst.Premios, src.Premios)
	dst.Parcerias = appendUnique(dst.Parcerias, src.Parcerias)
	dst.ListaClientes = appendUnique(dst.ListaClientes, src.ListaClientes)

	for _, cs := range src.EstudosCaso {
		titulo := strings.TrimSpace(cs.Titulo)
		if titulo == "" {
			continue
		}
		found := false
		for i := range dst.EstudosCaso {
			if !strings.EqualFold(strings.TrimSpace(dst.EstudosCaso[i].Titulo), titulo) {
				continue
			}
			existing := &dst.EstudosCaso[i]
			existing.Desafio = mergeText(existing.Desafio, cs.Desafio, true)
			existing.Solucao = mergeText(existing.Solucao, cs.Solucao, true)
			existing.Resultado = mergeText(existing.Resultado, cs.Resultado, true)
			existing.NomeCliente = mergeText(existing.NomeCliente, cs.NomeCliente, false)
			existing.Industria = mergeText(existing.Industria, cs.Industria, false)
			found = true
			break
		}
		if !found {
			dst.EstudosCaso = append(dst.EstudosCaso, cs)
		}
	}
}

// appendUnique appends items from src not already in dst, case-insensitively,
// preserving first-seen order and skipping blanks.
func appendUnique(dst, src []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, v := range dst {
		seen[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	for _, v := range src {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		dst = append(dst, strings.TrimSpace(v))
	}
	return dst
}

// cleanProfile strips entries the extraction limits let through: nameless
// services, throwaway category names, blank list items, title-less cases.
func cleanProfile(p *models.CompanyProfile) {
	services := p.Ofertas.Servicos[:0]
	for _, svc := range p.Ofertas.Servicos {
		if strings.TrimSpace(svc.Nome) != "" {
			services = append(services, svc)
		}
	}
	p.Ofertas.Servicos = services

	categories := p.Ofertas.Produtos[:0]
	for _, cat := range p.Ofertas.Produtos {
		name := strings.ToLower(strings.TrimSpace(cat.Categoria))
		if name == "" {
			continue
		}
		if _, invalid := invalidCategoryNames[name]; invalid {
			continue
		}
		cat.Produtos = dropBlank(cat.Produtos)
		categories = append(categories, cat)
	}
	p.Ofertas.Produtos = categories

	cases := p.Reputacao.EstudosCaso[:0]
	for _, cs := range p.Reputacao.EstudosCaso {
		if strings.TrimSpace(cs.Titulo) != "" {
			cases = append(cases, cs)
		}
	}
	p.Reputacao.EstudosCaso = cases

	p.Reputacao.Certificacoes = dropBlank(p.Reputacao.Certificacoes)
	p.Reputacao.Premios = dropBlank(p.Reputacao.Premios)
	p.Reputacao.Parcerias = dropBlank(p.Reputacao.Parcerias)
	p.Reputacao.ListaClientes = dropBlank(p.Reputacao.ListaClientes)
	p.Contato.Emails = dropBlank(p.Contato.Emails)
	p.Contato.Telefones = dropBlank(p.Contato.Telefones)
	p.Contato.Localizacoes = dropBlank(p.Contato.Localizacoes)
	p.Fontes = dropBlank(p.Fontes)
}

func dropBlank(items []string) []string {
	kept := items[:0]
	for _, v := range items {
		if strings.TrimSpace(v) != "" {
			kept = append(kept, v)
		}
	}
	return kept
}
