package models

// CompanyProfile is the structured business profile assembled by stage 4.
// JSON field names are the Portuguese ones the extraction schema uses, so the
// struct round-trips the LLM output and the persisted profile_json untouched.
type CompanyProfile struct {
	Identidade    Identity       `json:"identidade"`
	Classificacao Classification `json:"classificacao"`
	Ofertas       Offerings      `json:"ofertas"`
	Reputacao     Reputation     `json:"reputacao"`
	Contato       Contact        `json:"contato"`
	Fontes        []string       `json:"fontes,omitempty"`
}

// Identity carries the basic identification fields.
type Identity struct {
	NomeEmpresa       string `json:"nome_empresa,omitempty"`
	CNPJ              string `json:"cnpj,omitempty"`
	Slogan            string `json:"slogan,omitempty"`
	Descricao         string `json:"descricao,omitempty"`
	AnoFundacao       string `json:"ano_fundacao,omitempty"`
	FaixaFuncionarios string `json:"faixa_funcionarios,omitempty"`
}

// Classification positions the company in its market.
type Classification struct {
	Industria           string `json:"industria,omitempty"`
	ModeloNegocio       string `json:"modelo_negocio,omitempty"`
	PublicoAlvo         string `json:"publico_alvo,omitempty"`
	CoberturaGeografica string `json:"cobertura_geografica,omitempty"`
}

// Service is one offered service.
type Service struct {
	Nome      string `json:"nome,omitempty"`
	Descricao string `json:"descricao,omitempty"`
}

// ProductCategory groups specific products under one category name.
type ProductCategory struct {
	Categoria string   `json:"categoria,omitempty"`
	Produtos  []string `json:"produtos,omitempty"`
}

// Offerings lists what the company sells.
type Offerings struct {
	Servicos     []Service         `json:"servicos,omitempty"`
	Produtos     []ProductCategory `json:"produtos,omitempty"`
	Diferenciais []string          `json:"diferenciais,omitempty"`
}

// CaseStudy is one documented customer case. Only kept when the extraction
// found a client, a solution and a result for the same case.
type CaseStudy struct {
	Titulo      string `json:"titulo,omitempty"`
	NomeCliente string `json:"nome_cliente,omitempty"`
	Industria   string `json:"industria,omitempty"`
	Desafio     string `json:"desafio,omitempty"`
	Solucao     string `json:"solucao,omitempty"`
	Resultado   string `json:"resultado,omitempty"`
}

// Reputation carries social proof.
type Reputation struct {
	Certificacoes []string    `json:"certificacoes,omitempty"`
	Premios       []string    `json:"premios,omitempty"`
	Parcerias     []string    `json:"parcerias,omitempty"`
	ListaClientes []string    `json:"lista_clientes,omitempty"`
	EstudosCaso   []CaseStudy `json:"estudos_caso,omitempty"`
}

// Contact carries contact and location data.
type Contact struct {
	Emails         []string `json:"emails,omitempty"`
	Telefones      []string `json:"telefones,omitempty"`
	URLLinkedin    string   `json:"url_linkedin,omitempty"`
	URLSite        string   `json:"url_site,omitempty"`
	EnderecoMatriz string   `json:"endereco_matriz,omitempty"`
	Localizacoes   []string `json:"localizacoes,omitempty"`
}

// IsEmpty reports whether no meaningful field of the profile is filled.
// Used by stage 4 to decide whether a partial contributes anything.
func (p *CompanyProfile) IsEmpty() bool {
	if p == nil {
		return true
	}
	identityEmpty := p.Identidade.NomeEmpresa == "" &&
		p.Identidade.CNPJ == "" &&
		p.Identidade.Slogan == "" &&
		p.Identidade.Descricao == ""
	classificationEmpty := p.Classificacao.Industria == "" &&
		p.Classificacao.ModeloNegocio == "" &&
		p.Classificacao.PublicoAlvo == ""
	offeringsEmpty := len(p.Ofertas.Servicos) == 0 &&
		len(p.Ofertas.Produtos) == 0
	contactEmpty := p.Contato.URLSite == "" &&
		len(p.Contato.Emails) == 0 &&
		len(p.Contato.Telefones) == 0
	return identityEmpty && classificationEmpty && offeringsEmpty && contactEmpty
}
