package models

import "time"

// SerpRow is one organic result row returned by the SERP provider.
type SerpRow struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// SearchResult is a persisted stage-1 artifact: the raw SERP rows for one
// query against one company. Multiple rows per company are allowed; readers
// take the most recent.
type SearchResult struct {
	ID           int64     `json:"id"`
	CNPJBasico   string    `json:"cnpj_basico"`
	RazaoSocial  *string   `json:"razao_social,omitempty"`
	NomeFantasia *string   `json:"nome_fantasia,omitempty"`
	Municipio    *string   `json:"municipio,omitempty"`
	Results      []SerpRow `json:"results"`
	ResultsCount int       `json:"results_count"`
	QueryUsed    string    `json:"query_used"`
	CreatedAt    time.Time `json:"created_at"`
}
