package profile

import (
	"testing"

	"github.com/datalupa/perfilador/internal/models"
)

func TestMergeProfilesNoInput(t *testing.T) {
	merged := MergeProfiles(nil)
	if !merged.IsEmpty() {
		t.Fatal("merge of nothing should be empty")
	}

	merged = MergeProfiles([]*models.CompanyProfile{nil, nil})
	if !merged.IsEmpty() {
		t.Fatal("merge of nil partials should be empty")
	}
}

func TestMergeProfilesSingleIsCleaned(t *testing.T) {
	p := &models.CompanyProfile{
		Identidade: models.Identity{NomeEmpresa: "Acme Cabos"},
		Ofertas: models.Offerings{
			Produtos: []models.ProductCategory{
				{Categoria: "Cabos", Produtos: []string{"Cabo 1KV", "  "}},
				{Categoria: "Outros", Produtos: []string{"coisa"}},
			},
		},
	}

	merged := MergeProfiles([]*models.CompanyProfile{p})
	if len(merged.Ofertas.Produtos) != 1 {
		t.Fatalf("got %d categories, want 1 (throwaway name dropped)", len(merged.Ofertas.Produtos))
	}
	if got := merged.Ofertas.Produtos[0].Produtos; len(got) != 1 || got[0] != "Cabo 1KV" {
		t.Errorf("products = %v, want [Cabo 1KV]", got)
	}
}

func TestMergeProfilesPicksMostCompleteBase(t *testing.T) {
	sparse := &models.CompanyProfile{
		Identidade: models.Identity{NomeEmpresa: "Acme"},
	}
	rich := &models.CompanyProfile{
		Identidade: models.Identity{
			NomeEmpresa: "Acme Cabos Elétricos",
			Descricao:   "Fabricante de cabos elétricos de baixa tensão com sede em Joinville.",
		},
		Contato: models.Contact{Emails: []string{"vendas@acme.com.br"}},
		Reputacao: models.Reputation{
			ListaClientes: []string{"Petrobras", "WEG"},
		},
	}

	merged := MergeProfiles([]*models.CompanyProfile{sparse, rich})
	if merged.Identidade.NomeEmpresa != "Acme Cabos Elétricos" {
		t.Errorf("nome_empresa = %q, longer name should win", merged.Identidade.NomeEmpresa)
	}
	if len(merged.Reputacao.ListaClientes) != 2 {
		t.Errorf("lista_clientes = %v", merged.Reputacao.ListaClientes)
	}
}

func TestMergeProfilesConcatenatesComplementaryDescriptions(t *testing.T) {
	a := &models.CompanyProfile{
		Identidade: models.Identity{
			NomeEmpresa: "Acme Cabos",
			Descricao:   "Fabricante de cabos elétricos fundada em 1985 em Joinville",
		},
	}
	b := &models.CompanyProfile{
		Identidade: models.Identity{
			Descricao: "Atende distribuidoras no mercado industrial do sul do país",
		},
	}

	merged := MergeProfiles([]*models.CompanyProfile{a, b})
	want := a.Identidade.Descricao + ". " + b.Identidade.Descricao
	if merged.Identidade.Descricao != want {
		t.Errorf("descricao = %q, want concatenation %q", merged.Identidade.Descricao, want)
	}
}

func TestMergeProfilesKeepsLongerNonComplementaryText(t *testing.T) {
	a := &models.CompanyProfile{
		Identidade: models.Identity{
			NomeEmpresa: "Acme",
			Descricao:   "Fabricante de cabos elétricos",
		},
	}
	b := &models.CompanyProfile{
		Identidade: models.Identity{
			Descricao: "Fabricante de cabos elétricos de baixa e média tensão",
		},
	}

	merged := MergeProfiles([]*models.CompanyProfile{a, b})
	if merged.Identidade.Descricao != b.Identidade.Descricao {
		t.Errorf("descricao = %q, superset text should replace, not concatenate", merged.Identidade.Descricao)
	}
}

func TestMergeProfilesDedupesServicesByName(t *testing.T) {
	a := &models.CompanyProfile{
		Identidade: models.Identity{NomeEmpresa: "Acme"},
		Ofertas: models.Offerings{Servicos: []models.Service{
			{Nome: "Manutenção Preventiva", Descricao: "Inspeção periódica"},
		}},
	}
	b := &models.CompanyProfile{
		Ofertas: models.Offerings{Servicos: []models.Service{
			{Nome: "manutenção preventiva", Descricao: "Inspeção periódica dos equipamentos instalados"},
			{Nome: "Instalação", Descricao: "Instalação em campo"},
		}},
	}

	merged := MergeProfiles([]*models.CompanyProfile{a, b})
	if len(merged.Ofertas.Servicos) != 2 {
		t.Fatalf("got %d services, want 2", len(merged.Ofertas.Servicos))
	}
	for _, svc := range merged.Ofertas.Servicos {
		if svc.Nome == "Manutenção Preventiva" && svc.Descricao != "Inspeção periódica dos equipamentos instalados" {
			t.Errorf("descricao = %q, longer description should win", svc.Descricao)
		}
	}
}

func TestMergeProfilesUnionsProductCategories(t *testing.T) {
	a := &models.CompanyProfile{
		Identidade: models.Identity{NomeEmpresa: "Acme"},
		Ofertas: models.Offerings{Produtos: []models.ProductCategory{
			{Categoria: "Cabos", Produtos: []string{"Cabo 1KV HEPR", "Cabo Flex 750V"}},
		}},
	}
	b := &models.CompanyProfile{
		Ofertas: models.Offerings{Produtos: []models.ProductCategory{
			{Categoria: "Cabos", Produtos: []string{"cabo flex 750v", "Cabo CCI"}},
			{Categoria: "Conectores", Produtos: []string{"Conector RCA"}},
		}},
	}

	merged := MergeProfiles([]*models.CompanyProfile{a, b})
	if len(merged.Ofertas.Produtos) != 2 {
		t.Fatalf("got %d categories, want 2", len(merged.Ofertas.Produtos))
	}
	var cabos []string
	for _, cat := range merged.Ofertas.Produtos {
		if cat.Categoria == "Cabos" {
			cabos = cat.Produtos
		}
	}
	if len(cabos) != 3 {
		t.Errorf("Cabos = %v, want union of 3 without case duplicates", cabos)
	}
}

func TestMergeProfilesMergesCaseStudiesByTitle(t *testing.T) {
	a := &models.CompanyProfile{
		Identidade: models.Identity{NomeEmpresa: "Acme"},
		Reputacao: models.Reputation{EstudosCaso: []models.CaseStudy{
			{Titulo: "Retrofit Fábrica WEG", NomeCliente: "WEG", Solucao: "Troca do cabeamento"},
		}},
	}
	b := &models.CompanyProfile{
		Reputacao: models.Reputation{EstudosCaso: []models.CaseStudy{
			{Titulo: "Retrofit Fábrica WEG", Resultado: "Redução de 30% nas paradas"},
			{Titulo: "Obra Porto Itajaí", NomeCliente: "Portonave"},
		}},
	}

	merged := MergeProfiles([]*models.CompanyProfile{a, b})
	if len(merged.Reputacao.EstudosCaso) != 2 {
		t.Fatalf("got %d case studies, want 2", len(merged.Reputacao.EstudosCaso))
	}
	for _, cs := range merged.Reputacao.EstudosCaso {
		if cs.Titulo == "Retrofit Fábrica WEG" {
			if cs.Solucao == "" || cs.Resultado == "" {
				t.Errorf("case study fields not merged: %+v", cs)
			}
		}
	}
}

func TestAppendUnique(t *testing.T) {
	got := appendUnique([]string{"Petrobras", "WEG"}, []string{"petrobras", "  ", "Vale", "WEG "})
	want := []string{"Petrobras", "WEG", "Vale"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAreComplementary(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"disjoint texts", "fabricante de cabos elétricos", "atende o mercado industrial do sul", true},
		{"containment", "fabricante de cabos", "fabricante de cabos elétricos", false},
		{"high overlap", "fabricante de cabos elétricos em joinville", "fabricante de fios elétricos em joinville", false},
		{"empty side", "", "qualquer coisa", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := areComplementary(tt.a, tt.b); got != tt.want {
				t.Errorf("areComplementary(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
