package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
)

// openAIProvider talks to any chat-completions compatible endpoint
// (OpenAI itself, OpenRouter, self-hosted inference servers).
type openAIProvider struct {
	cfg    ProviderConfig
	client *http.Client
	logger arbor.ILogger
}

func newOpenAIProvider(cfg ProviderConfig, logger arbor.ILogger) *openAIProvider {
	return &openAIProvider{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSecs * float64(time.Second)),
		},
		logger: logger,
	}
}

func (p *openAIProvider) Name() string { return p.cfg.Name }

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float32         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *openAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	content, err := p.complete(ctx, req, req.ResponseFormat)
	if err == nil {
		return content, nil
	}

	// Some chat-completions servers reject response_format outright.
	// Retry once without it, reinforcing the JSON instruction in the
	// prompt instead.
	if req.ResponseFormat != "" && IsBadRequest(err) {
		p.logger.Warn().
			Str("provider", p.cfg.Name).
			Err(err).
			Msg("Bad request with response_format, retrying without it")

		retry := req
		if n := len(retry.Messages); n > 0 && retry.Messages[n-1].Role == "user" {
			reinforced := make([]Message, n)
			copy(reinforced, retry.Messages)
			reinforced[n-1].Content += "\n\nIMPORTANTE: Retorne APENAS um objeto JSON válido. Sem markdown, sem explicações."
			retry.Messages = reinforced
		}
		return p.complete(ctx, retry, "")
	}

	return "", err
}

func (p *openAIProvider) complete(ctx context.Context, req Request, format string) (string, error) {
	payload := chatCompletionRequest{
		Model:       p.cfg.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.maxTokens(),
	}
	if format != "" {
		payload.ResponseFormat = &responseFormat{Type: format}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", &ProviderError{Provider: p.cfg.Name, Err: fmt.Errorf("failed to encode request: %w", err)}
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &ProviderError{Provider: p.cfg.Name, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if isNetTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			return "", &TimeoutError{Provider: p.cfg.Name, Err: err}
		}
		return "", &ProviderError{Provider: p.cfg.Name, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", &ProviderError{Provider: p.cfg.Name, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if err := classifyStatus(p.cfg.Name, resp.StatusCode, respBody); err != nil {
		return "", err
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &ProviderError{Provider: p.cfg.Name, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if parsed.Error != nil {
		return "", &ProviderError{Provider: p.cfg.Name, Err: fmt.Errorf("%s: %s", parsed.Error.Type, parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return "", &ProviderError{Provider: p.cfg.Name, Err: errors.New("response has no choices")}
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", &ProviderError{Provider: p.cfg.Name, Err: errors.New("response content is empty")}
	}
	return content, nil
}

// classifyStatus maps HTTP status codes to the pool's error taxonomy.
func classifyStatus(provider string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	detail := strings.TrimSpace(string(body))
	if len(detail) > 500 {
		detail = detail[:500]
	}
	err := fmt.Errorf("HTTP %d: %s", status, detail)

	switch {
	case status == http.StatusTooManyRequests:
		return &RateLimitError{Provider: provider, Err: err}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &TimeoutError{Provider: provider, Err: err}
	case status >= 400 && status < 500:
		return &BadRequestError{Provider: provider, Err: err}
	default:
		return &ProviderError{Provider: provider, Err: err}
	}
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
