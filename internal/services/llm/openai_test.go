package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newTestOpenAIProvider(t *testing.T, handler http.HandlerFunc) (*openAIProvider, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := ProviderConfig{
		Name:    "test",
		Type:    "openai",
		APIKey:  "secret",
		BaseURL: server.URL + "/v1",
		Model:   "test-model",
	}
	cfg.applyDefaults()
	return newOpenAIProvider(cfg, testLogger()), server
}

func completionBody(content string) string {
	return `{"choices":[{"message":{"content":` + encodeJSONString(content) + `}}]}`
}

func encodeJSONString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestOpenAICompleteSuccess(t *testing.T) {
	var gotPath, gotAuth string
	var gotPayload chatCompletionRequest

	provider, _ := newTestOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Write([]byte(completionBody("  {\"ok\":true}  ")))
	})

	content, err := provider.Complete(context.Background(), Request{
		Messages:       []Message{{Role: "user", Content: "analyze"}},
		ResponseFormat: "json_object",
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if content != `{"ok":true}` {
		t.Errorf("expected trimmed content, got %q", content)
	}
	if gotPath != "/v1/chat/completions" {
		t.Errorf("unexpected path %s", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
	if gotPayload.Model != "test-model" {
		t.Errorf("unexpected model %q", gotPayload.Model)
	}
	if gotPayload.ResponseFormat == nil || gotPayload.ResponseFormat.Type != "json_object" {
		t.Errorf("response_format not forwarded: %+v", gotPayload.ResponseFormat)
	}
}

func TestOpenAICompleteRateLimit(t *testing.T) {
	provider, _ := newTestOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := provider.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "x"}},
	})
	if !IsRateLimit(err) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestOpenAICompleteServerError(t *testing.T) {
	provider, _ := newTestOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := provider.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "x"}},
	})
	if err == nil || IsRateLimit(err) || IsBadRequest(err) {
		t.Fatalf("expected generic provider error, got %v", err)
	}
}

func TestOpenAICompleteRetriesWithoutResponseFormat(t *testing.T) {
	var calls atomic.Int64
	var secondPayload chatCompletionRequest

	provider, _ := newTestOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var payload chatCompletionRequest
		json.NewDecoder(r.Body).Decode(&payload)

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":"response_format not supported"}}`))
			return
		}
		secondPayload = payload
		w.Write([]byte(completionBody(`{"repaired":true}`)))
	})

	content, err := provider.Complete(context.Background(), Request{
		Messages:       []Message{{Role: "user", Content: "extract"}},
		ResponseFormat: "json_object",
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if content != `{"repaired":true}` {
		t.Errorf("unexpected content %q", content)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
	if secondPayload.ResponseFormat != nil {
		t.Error("retry must drop response_format")
	}
	if len(secondPayload.Messages) == 0 ||
		secondPayload.Messages[len(secondPayload.Messages)-1].Content == "extract" {
		t.Error("retry must reinforce the JSON instruction in the prompt")
	}
}

func TestOpenAICompleteBadRequestWithoutFormat(t *testing.T) {
	var calls atomic.Int64
	provider, _ := newTestOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := provider.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "x"}},
	})
	if !IsBadRequest(err) {
		t.Fatalf("expected bad request error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("bad request without response_format must not retry, got %d calls", calls.Load())
	}
}

func TestOpenAICompleteEmptyChoices(t *testing.T) {
	provider, _ := newTestOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	})

	_, err := provider.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "x"}},
	})
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
}
