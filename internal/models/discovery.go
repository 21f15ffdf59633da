package models

import "time"

// DiscoveryStatus is the outcome of stage 2 for one company.
type DiscoveryStatus string

const (
	DiscoveryStatusFound    DiscoveryStatus = "found"
	DiscoveryStatusNotFound DiscoveryStatus = "not_found"
	DiscoveryStatusError    DiscoveryStatus = "error"
)

// Discovery is the stage-2 artifact: the website chosen for a company, or a
// record of the attempt that found nothing. One row per company (upsert).
type Discovery struct {
	ID             int64           `json:"id"`
	CNPJBasico     string          `json:"cnpj_basico"`
	WebsiteURL     *string         `json:"website_url,omitempty"`
	Status         DiscoveryStatus `json:"status"`
	SerperResultID *int64          `json:"serper_result_id,omitempty"`
	Confidence     *float64        `json:"confidence,omitempty"`
	Reasoning      *string         `json:"reasoning,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
