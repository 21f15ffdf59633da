package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
)

// anthropicProvider adapts the Anthropic Messages API to the pool's
// Provider interface.
type anthropicProvider struct {
	cfg    ProviderConfig
	client anthropic.Client
	logger arbor.ILogger
}

func newAnthropicProvider(cfg ProviderConfig, logger arbor.ILogger) *anthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(time.Duration(cfg.TimeoutSecs * float64(time.Second))),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &anthropicProvider{
		cfg:    cfg,
		client: anthropic.NewClient(opts...),
		logger: logger,
	}
}

func (p *anthropicProvider) Name() string { return p.cfg.Name }

func (p *anthropicProvider) Complete(ctx context.Context, req Request) (string, error) {
	rest, system := splitSystem(req.Messages)

	messages := make([]anthropic.MessageParam, 0, len(rest))
	for _, msg := range rest {
		switch msg.Role {
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.cfg.Model),
		MaxTokens: int64(req.maxTokens()),
		Messages:  messages,
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", p.classifyError(err)
	}

	var builder strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			builder.WriteString(block.Text)
		}
	}

	content := strings.TrimSpace(builder.String())
	if content == "" {
		return "", &ProviderError{Provider: p.cfg.Name, Err: errors.New("response content is empty")}
	}
	return content, nil
}

func (p *anthropicProvider) classifyError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return &RateLimitError{Provider: p.cfg.Name, Err: err}
		case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
			return &BadRequestError{Provider: p.cfg.Name, Err: err}
		}
	}
	if isNetTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Provider: p.cfg.Name, Err: err}
	}
	return &ProviderError{Provider: p.cfg.Name, Err: err}
}
