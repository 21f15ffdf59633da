package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"
)

// geminiProvider adapts the Gemini API to the pool's Provider interface.
type geminiProvider struct {
	cfg     ProviderConfig
	client  *genai.Client
	timeout time.Duration
	logger  arbor.ILogger
}

func newGeminiProvider(cfg ProviderConfig, logger arbor.ILogger) (*geminiProvider, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client for %s: %w", cfg.Name, err)
	}

	return &geminiProvider{
		cfg:     cfg,
		client:  client,
		timeout: time.Duration(cfg.TimeoutSecs * float64(time.Second)),
		logger:  logger,
	}, nil
}

func (p *geminiProvider) Name() string { return p.cfg.Name }

func (p *geminiProvider) Complete(ctx context.Context, req Request) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	rest, system := splitSystem(req.Messages)

	contents := make([]*genai.Content, 0, len(rest))
	for _, msg := range rest {
		role := genai.RoleUser
		if msg.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{genai.NewPartFromText(msg.Content)},
		})
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.ResponseFormat == "json_object" {
		config.ResponseMIMEType = "application/json"
	}

	resp, err := p.client.Models.GenerateContent(timeoutCtx, p.cfg.Model, contents, config)
	if err != nil {
		return "", p.classifyError(err)
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				builder.WriteString(part.Text)
			}
		}
		if builder.Len() > 0 {
			break
		}
	}

	content := strings.TrimSpace(builder.String())
	if content == "" {
		return "", &ProviderError{Provider: p.cfg.Name, Err: errors.New("response content is empty")}
	}
	return content, nil
}

func (p *geminiProvider) classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return &RateLimitError{Provider: p.cfg.Name, Err: err}
		case apiErr.Code >= 400 && apiErr.Code < 500:
			return &BadRequestError{Provider: p.cfg.Name, Err: err}
		}
	}
	if isNetTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Provider: p.cfg.Name, Err: err}
	}
	return &ProviderError{Provider: p.cfg.Name, Err: err}
}
