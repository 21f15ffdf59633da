package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ternarybob/arbor"
)

// Defaults applied to provider records that omit the optional fields.
const (
	defaultMaxConcurrent  = 100
	defaultPriority       = 50
	defaultTimeoutSecs    = 90
	defaultWeight         = 10
	defaultProviderType   = "openai"
	defaultMaxOutputToken = 8192
)

// ProviderConfig is one record of providers.json.
type ProviderConfig struct {
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	APIKey        string  `json:"api_key"`
	BaseURL       string  `json:"base_url"`
	Model         string  `json:"model"`
	MaxConcurrent int     `json:"max_concurrent"`
	Priority      int     `json:"priority"`
	TimeoutSecs   float64 `json:"timeout"`
	Enabled       *bool   `json:"enabled"`
	Weight        int     `json:"weight"`
}

// IsEnabled treats an absent enabled field as true, matching the file
// format where disabling a provider is the explicit act.
func (c ProviderConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c *ProviderConfig) applyDefaults() {
	if c.Type == "" {
		c.Type = defaultProviderType
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultMaxConcurrent
	}
	if c.Priority <= 0 {
		c.Priority = defaultPriority
	}
	if c.TimeoutSecs <= 0 {
		c.TimeoutSecs = defaultTimeoutSecs
	}
	if c.Weight <= 0 {
		c.Weight = defaultWeight
	}
}

// Message is a single chat turn sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-agnostic completion request. ResponseFormat,
// when set to "json_object", asks providers that support structured
// output to return bare JSON.
type Request struct {
	Messages       []Message
	Temperature    float32
	MaxTokens      int
	ResponseFormat string
}

func (r Request) maxTokens() int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	return defaultMaxOutputToken
}

// splitSystem separates the first system message from the
// user/assistant turns, for providers that take the system prompt as a
// dedicated parameter.
func splitSystem(messages []Message) (rest []Message, system string) {
	rest = make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "system" {
			if system == "" {
				system = msg.Content
			}
			continue
		}
		rest = append(rest, msg)
	}
	return rest, system
}

// Provider is a single upstream LLM endpoint.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// LoadProviders reads providers.json: a JSON array of ProviderConfig
// records. Disabled records and records without an API key are dropped.
func LoadProviders(path string, logger arbor.ILogger) ([]ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}

	var configs []ProviderConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("failed to parse providers file %s: %w", path, err)
	}

	usable := make([]ProviderConfig, 0, len(configs))
	for i := range configs {
		cfg := configs[i]
		cfg.applyDefaults()

		if cfg.Name == "" {
			return nil, fmt.Errorf("provider record %d has no name", i)
		}
		if !cfg.IsEnabled() {
			logger.Info().Str("provider", cfg.Name).Msg("Provider disabled, skipping")
			continue
		}
		if cfg.APIKey == "" {
			logger.Warn().Str("provider", cfg.Name).Msg("Provider has no API key, skipping")
			continue
		}
		usable = append(usable, cfg)
	}

	return usable, nil
}

// newProvider builds the adapter named by the record's type field.
func newProvider(cfg ProviderConfig, logger arbor.ILogger) (Provider, error) {
	switch strings.ToLower(cfg.Type) {
	case "openai", "openai-compatible":
		return newOpenAIProvider(cfg, logger), nil
	case "anthropic":
		return newAnthropicProvider(cfg, logger), nil
	case "gemini":
		return newGeminiProvider(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown provider type %q for %s", cfg.Type, cfg.Name)
	}
}
