package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/ternarybob/arbor"

	"github.com/datalupa/perfilador/internal/models"
)

// ProfileStore persists stage-4 company profiles and their auxiliary
// one-to-many tables.
type ProfileStore struct {
	db     *sql.DB
	logger arbor.ILogger
}

func NewProfileStore(db *sql.DB, logger arbor.ILogger) *ProfileStore {
	return &ProfileStore{db: db, logger: logger}
}

// Save upserts the profile row and rewrites all auxiliary rows in one
// transaction, so a re-run leaves no duplicates and no leftovers.
func (s *ProfileStore) Save(ctx context.Context, cnpjBasico string, profile *models.CompanyProfile) (int64, error) {
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal profile: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin profile transaction: %w", err)
	}
	defer tx.Rollback()

	var companyID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO busca_fornecedor.company_profile
			(nome_empresa, cnpj, descricao, ano_fundacao, faixa_funcionarios,
			 industria, modelo_negocio, publico_alvo, cobertura_geografica,
			 emails, telefones, url_linkedin, url_site, endereco_matriz, fontes,
			 profile_json, full_profile)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16::jsonb, $16::jsonb)
		ON CONFLICT (cnpj) DO UPDATE SET
			nome_empresa         = EXCLUDED.nome_empresa,
			descricao            = EXCLUDED.descricao,
			ano_fundacao         = EXCLUDED.ano_fundacao,
			faixa_funcionarios   = EXCLUDED.faixa_funcionarios,
			industria            = EXCLUDED.industria,
			modelo_negocio       = EXCLUDED.modelo_negocio,
			publico_alvo         = EXCLUDED.publico_alvo,
			cobertura_geografica = EXCLUDED.cobertura_geografica,
			emails               = EXCLUDED.emails,
			telefones            = EXCLUDED.telefones,
			url_linkedin         = EXCLUDED.url_linkedin,
			url_site             = EXCLUDED.url_site,
			endereco_matriz      = EXCLUDED.endereco_matriz,
			fontes               = EXCLUDED.fontes,
			profile_json         = EXCLUDED.profile_json,
			full_profile         = EXCLUDED.full_profile
		RETURNING id`,
		profile.Identidade.NomeEmpresa, cnpjBasico,
		nullable(profile.Identidade.Descricao), nullable(profile.Identidade.AnoFundacao),
		nullable(profile.Identidade.FaixaFuncionarios),
		nullable(profile.Classificacao.Industria), nullable(profile.Classificacao.ModeloNegocio),
		nullable(profile.Classificacao.PublicoAlvo), nullable(profile.Classificacao.CoberturaGeografica),
		textArray(profile.Contato.Emails), textArray(profile.Contato.Telefones),
		nullable(profile.Contato.URLLinkedin), nullable(profile.Contato.URLSite),
		nullable(profile.Contato.EnderecoMatriz), textArray(profile.Fontes),
		string(profileJSON),
	).Scan(&companyID)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert profile: %w", err)
	}

	if err := s.rewriteAuxiliary(ctx, tx, companyID, profile); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit profile: %w", err)
	}

	s.logger.Debug().
		Str("cnpj_basico", cnpjBasico).
		Int64("company_id", companyID).
		Msg("Profile saved")

	return companyID, nil
}

// rewriteAuxiliary deletes and re-inserts every auxiliary table for the
// company within the caller's transaction.
func (s *ProfileStore) rewriteAuxiliary(ctx context.Context, tx *sql.Tx, companyID int64, profile *models.CompanyProfile) error {
	aux := []string{
		"company_location", "company_service", "company_product_category",
		"company_certification", "company_award", "company_partnership",
	}
	for _, table := range aux {
		query := fmt.Sprintf(`DELETE FROM busca_fornecedor.%s WHERE company_id = $1`, table)
		if _, err := tx.ExecContext(ctx, query, companyID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, loc := range profile.Contato.Localizacoes {
		if strings.TrimSpace(loc) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO busca_fornecedor.company_location (company_id, localizacao) VALUES ($1, $2)`,
			companyID, strings.TrimSpace(loc)); err != nil {
			return fmt.Errorf("failed to insert location: %w", err)
		}
	}

	for _, svc := range profile.Ofertas.Servicos {
		if strings.TrimSpace(svc.Nome) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO busca_fornecedor.company_service (company_id, nome, descricao) VALUES ($1, $2, $3)`,
			companyID, strings.TrimSpace(svc.Nome), nullable(strings.TrimSpace(svc.Descricao))); err != nil {
			return fmt.Errorf("failed to insert service: %w", err)
		}
	}

	for _, cat := range profile.Ofertas.Produtos {
		if strings.TrimSpace(cat.Categoria) == "" {
			continue
		}
		items := make([]string, 0, len(cat.Produtos))
		for _, p := range cat.Produtos {
			if strings.TrimSpace(p) != "" {
				items = append(items, strings.TrimSpace(p))
			}
		}
		itemsJSON, err := json.Marshal(items)
		if err != nil {
			return fmt.Errorf("failed to marshal product items: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO busca_fornecedor.company_product_category (company_id, categoria, produtos) VALUES ($1, $2, $3::jsonb)`,
			companyID, strings.TrimSpace(cat.Categoria), string(itemsJSON)); err != nil {
			return fmt.Errorf("failed to insert product category: %w", err)
		}
	}

	nameTables := map[string][]string{
		"company_certification": profile.Reputacao.Certificacoes,
		"company_award":         profile.Reputacao.Premios,
		"company_partnership":   profile.Reputacao.Parcerias,
	}
	for table, names := range nameTables {
		query := fmt.Sprintf(`INSERT INTO busca_fornecedor.%s (company_id, nome) VALUES ($1, $2)`, table)
		for _, name := range names {
			if strings.TrimSpace(name) == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, query, companyID, strings.TrimSpace(name)); err != nil {
				return fmt.Errorf("failed to insert into %s: %w", table, err)
			}
		}
	}

	return nil
}

// ListEligibleForProfile returns companies that have chunks but no profile
// row yet, up to limit. A limit of zero or less returns all of them. Used by
// the batch enqueue fallback.
func (s *ProfileStore) ListEligibleForProfile(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT sc.cnpj_basico
		FROM busca_fornecedor.scraped_chunks sc
		LEFT JOIN busca_fornecedor.company_profile cp ON cp.cnpj = sc.cnpj_basico
		WHERE cp.id IS NULL
		ORDER BY sc.cnpj_basico
		LIMIT NULLIF($1, 0)`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible companies: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan eligible company: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// nullable maps "" to NULL so empty extraction fields do not overwrite the
// column with empty strings.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// textArray keeps NOT NULL array columns happy when the slice is nil.
func textArray(v []string) pq.StringArray {
	if v == nil {
		v = []string{}
	}
	return pq.StringArray(v)
}
