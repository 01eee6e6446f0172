package gemini

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

func TestComplete_Mock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := geminiResponse{
			Candidates: []geminiCandidate{
				{
					Content: geminiContent{
						Parts: []geminiPart{{Text: "Hello from mock!"}},
					},
				},
			},
			UsageMetadata: geminiUsageMetadata{
				PromptTokenCount:     10,
				CandidatesTokenCount: 20,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := &GeminiProvider{
		apiKey:  "test-key",
		baseURL: server.URL,
	}

	req := &provider.Request{
		Model: "gemini-pro",
		Messages: []provider.Message{
			{Role: "user", Content: "hi"},
		},
	}

	resp, err := p.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if resp.Content != "Hello from mock!" {
		t.Errorf("Expected 'Hello from mock!', got %s", resp.Content)
	}
	if resp.InputTokens != 10 {
		t.Errorf("Expected 10 input tokens, got %d", resp.InputTokens)
	}
	if resp.OutputTokens != 20 {
		t.Errorf("Expected 20 output tokens, got %d", resp.OutputTokens)
	}
}

func TestCompleteStream_Mock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")

		chunks := []string{"Hello", " world", "!"}
		for _, chunk := range chunks {
			resp := geminiResponse{
				Candidates: []geminiCandidate{
					{
						Content: geminiContent{
							Parts: []geminiPart{{Text: chunk}},
						},
					},
				},
			}
			data, _ := json.Marshal(resp)
			fmt.Fprintf(w, "data: %s\n\n", string(data))
		}
	}))
	defer server.Close()

	p := &GeminiProvider{
		apiKey:  "test-key",
		baseURL: server.URL,
	}

	req := &provider.Request{
		Model: "gemini-pro",
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
	if content != "Hello world!" {
		t.Errorf("Expected 'Hello world!', got %s", content)
	}
}

func TestComplete_CallerKeyInQuery(t *testing.T) {
	var gotKey, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"code":429,"message":"Resource has been exhausted (e.g. check quota).","status":"RESOURCE_EXHAUSTED"}}`)
	}))
	defer server.Close()

	p := &GeminiProvider{
		apiKey:  "server-key",
		baseURL: server.URL,
	}

	_, err := p.Complete(context.Background(), &provider.Request{Model: "gemini-2.0-flash", APIKey: "AIza-user"})

	var apiErr *provider.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *provider.APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests || apiErr.Provider != provider.Google {
		t.Errorf("Unexpected error: %v", apiErr)
	}
	if gotKey != "AIza-user" {
		t.Errorf("Expected caller key, got %s", gotKey)
	}
	if gotPath != "/v1beta/models/gemini-2.0-flash:generateContent" {
		t.Errorf("Unexpected path %s", gotPath)
	}
}

func TestMapRequest_SystemInstruction(t *testing.T) {
	p := &GeminiProvider{}
	got := p.mapRequest(&provider.Request{
		Messages: []provider.Message{
			{Role: "system", Content: "Be brief."},
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
		},
	})

	if got.SystemInstruction == nil || got.SystemInstruction.Parts[0].Text != "Be brief." {
		t.Errorf("Expected system instruction, got %+v", got.SystemInstruction)
	}
	if len(got.Contents) != 2 {
		t.Fatalf("Expected 2 contents, got %d", len(got.Contents))
	}
	if got.Contents[1].Role != "model" {
		t.Errorf("Expected assistant to map to model, got %s", got.Contents[1].Role)
	}
}

func TestName(t *testing.T) {
	if New("key").Name() != "google" {
		t.Errorf("Expected 'google', got %s", New("key").Name())
	}
}
