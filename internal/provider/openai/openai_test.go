package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vnmchuo/vtplus-gateway/internal/provider"
)

func testProvider(url string) *OpenAIProvider {
	cfg := OpenAI("server-key")
	cfg.BaseURL = url
	return &OpenAIProvider{cfg: cfg, client: http.DefaultClient}
}

func TestComplete_Mock(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		resp := openAIResponse{
			ID: "test-id",
			Choices: []openAIChoice{
				{
					Message: openAIMessage{Role: "assistant", Content: "Hello from OpenAI mock!"},
				},
			},
			Usage: openAIUsage{
				PromptTokens:     15,
				CompletionTokens: 25,
			},
			Model: "gpt-4o-mini",
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := testProvider(server.URL)

	req := &provider.Request{
		Model: "gpt-4o-mini",
		Messages: []provider.Message{
			{Role: "user", Content: "hi"},
		},
	}

	resp, err := p.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if resp.Content != "Hello from OpenAI mock!" {
		t.Errorf("Expected 'Hello from OpenAI mock!', got %s", resp.Content)
	}
	if resp.InputTokens != 15 {
		t.Errorf("Expected 15 input tokens, got %d", resp.InputTokens)
	}
	if resp.OutputTokens != 25 {
		t.Errorf("Expected 25 output tokens, got %d", resp.OutputTokens)
	}
	if gotAuth != "Bearer server-key" {
		t.Errorf("Expected server key, got %s", gotAuth)
	}
}

func TestComplete_UsesCallerKey(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(openAIResponse{Choices: []openAIChoice{{Message: openAIMessage{Content: "ok"}}}})
	}))
	defer server.Close()

	p := testProvider(server.URL)
	_, err := p.Complete(context.Background(), &provider.Request{Model: "gpt-4o", APIKey: "sk-user"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if gotAuth != "Bearer sk-user" {
		t.Errorf("Expected caller key, got %s", gotAuth)
	}
}

func TestComplete_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"Rate limit reached"}}`)
	}))
	defer server.Close()

	p := testProvider(server.URL)
	_, err := p.Complete(context.Background(), &provider.Request{Model: "gpt-4o"})

	var apiErr *provider.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *provider.APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", apiErr.StatusCode)
	}
	if apiErr.Provider != provider.OpenAI {
		t.Errorf("Expected openai, got %s", apiErr.Provider)
	}
}

func TestCompleteStream_Mock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")

		chunks := []string{"Hello", " from", " OpenAI", "!"}
		for _, chunk := range chunks {
			resp := openAIResponse{
				Choices: []openAIChoice{
					{
						Delta: openAIDelta{Content: chunk},
					},
				},
			}
			data, _ := json.Marshal(resp)
			fmt.Fprintf(w, "data: %s\n\n", string(data))
		}
		fmt.Fprintf(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	p := testProvider(server.URL)

	req := &provider.Request{
		Model: "gpt-4o-mini",
		Messages: []provider.Message{
			{Role: "user", Content: "hi"},
		},
	}

	ch, err := p.CompleteStream(context.Background(), req)
	if err != nil {
		t.Fatalf("CompleteStream failed: %v", err)
	}

	var content string
	var done bool
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatalf("Received error from chunk: %v", chunk.Err)
		}
		if chunk.Done {
			done = true
			continue
		}
		content += chunk.Delta
	}

	if !done {
		t.Error("Expected stream to be done")
	}
	if content != "Hello from OpenAI!" {
		t.Errorf("Expected 'Hello from OpenAI!', got %s", content)
	}
}

func TestCompleteStream_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided"}}`)
	}))
	defer server.Close()

	p := testProvider(server.URL)
	ch, err := p.CompleteStream(context.Background(), &provider.Request{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("CompleteStream failed: %v", err)
	}

	var apiErr *provider.APIError
	for chunk := range ch {
		if chunk.Err != nil && errors.As(chunk.Err, &apiErr) {
			break
		}
	}
	if apiErr == nil || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Expected 401 APIError, got %v", apiErr)
	}
}

func TestPresets(t *testing.T) {
	tests := []struct {
		cfg  Config
		name string
	}{
		{OpenAI("k"), "openai"},
		{Together("k"), "together"},
		{Fireworks("k"), "fireworks"},
		{XAI("k"), "xai"},
		{OpenRouter("k"), "openrouter"},
	}
	for _, tt := range tests {
		p := New(tt.cfg)
		if p.Name() != tt.name {
			t.Errorf("Expected %s, got %s", tt.name, p.Name())
		}
		if len(p.SupportedModels()) == 0 {
			t.Errorf("%s: expected supported models", tt.name)
		}
		if p.CostPerInputToken() <= 0 {
			t.Errorf("%s: expected positive input cost", tt.name)
		}
	}
}

func TestSupportedModels(t *testing.T) {
	p := New(OpenAI("key"))
	models := p.SupportedModels()
	found := false
	for _, m := range models {
		if m == "gpt-4o-mini" {
			found = true
			break
		}
	}
	if !found {
		t.Error("gpt-4o-mini should be in supported models")
	}
}
