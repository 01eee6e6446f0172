package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vnmchuo/vtplus-gateway/internal/provider"
)

type ClaudeProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	ID      string          `json:"id"`
	Content []claudeContent `json:"content"`
	Model   string          `json:"model"`
	Usage   claudeUsage     `json:"usage"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeStreamDelta struct {
	Type  string       `json:"type"`
	Delta claudeDelta  `json:"delta,omitempty"`
	Error *claudeError `json:"error,omitempty"`
}

type claudeDelta struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func New(apiKey string) provider.Provider {
	return &ClaudeProvider{
		apiKey:  apiKey,
		baseURL: "https://api.anthropic.com/v1",
		client:  http.DefaultClient,
	}
}

func (p *ClaudeProvider) header(req *provider.Request) http.Header {
	h := http.Header{}
	h.Set("x-api-key", provider.KeyFor(req, p.apiKey))
	h.Set("anthropic-version", "2023-06-01")
	return h
}

func (p *ClaudeProvider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	start := time.Now()
	url := fmt.Sprintf("%s/messages", p.baseURL)

	resp, err := provider.Post(ctx, p.client, provider.Anthropic, url, p.header(req), p.mapRequest(req))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var claudeResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&claudeResp); err != nil {
		return nil, err
	}

	if len(claudeResp.Content) == 0 {
		return nil, fmt.Errorf("anthropic api returned no content")
	}

	return &provider.Response{
		ID:           claudeResp.ID,
		Content:      claudeResp.Content[0].Text,
		InputTokens:  claudeResp.Usage.InputTokens,
		OutputTokens: claudeResp.Usage.OutputTokens,
		Model:        claudeResp.Model,
		Provider:     p.Name(),
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

func (p *ClaudeProvider) mapRequest(req *provider.Request) claudeRequest {
	var system string
	var messages []claudeMessage

	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		role := "user"
		if m.Role == "assistant" {
			role = "assistant"
		}
		messages = append(messages, claudeMessage{
			Role:    role,
			Content: m.Content,
		})
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	return claudeRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    messages,
		Temperature: req.Temperature,
		Stream:      req.Stream,
	}
}

func (p *ClaudeProvider) CompleteStream(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, error) {
	claudeReq := p.mapRequest(req)
	claudeReq.Stream = true
	url := fmt.Sprintf("%s/messages", p.baseURL)
	header := p.header(req)

	return provider.Stream(ctx, func(emit func(*provider.Chunk) bool) error {
		resp, err := provider.Post(ctx, p.client, provider.Anthropic, url, header, claudeReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		err = provider.ReadEvents(resp.Body, func(ev provider.Event) (bool, error) {
			switch ev.Name {
			case "content_block_delta":
				var delta claudeStreamDelta
				if err := json.Unmarshal([]byte(ev.Data), &delta); err != nil {
					return false, nil
				}
				if delta.Delta.Type == "text_delta" && delta.Delta.Text != "" {
					if !emit(&provider.Chunk{Delta: delta.Delta.Text}) {
						return true, ctx.Err()
					}
				}
			case "message_stop":
				return true, nil
			case "error":
				var delta claudeStreamDelta
				if err := json.Unmarshal([]byte(ev.Data), &delta); err == nil && delta.Error != nil {
					return true, fmt.Errorf("anthropic stream error (%s): %s", delta.Error.Type, delta.Error.Message)
				}
			}
			return false, nil
		})
		if err != nil {
			return err
		}
		emit(&provider.Chunk{Done: true})
		return nil
	}), nil
}

func (p *ClaudeProvider) HasServerKey() bool {
	return p.apiKey != ""
}

func (p *ClaudeProvider) Name() string {
	return string(provider.Anthropic)
}

func (p *ClaudeProvider) CostPerInputToken() float64 {
	return 0.0000008
}

func (p *ClaudeProvider) CostPerOutputToken() float64 {
	return 0.000004
}

func (p *ClaudeProvider) SupportedModels() []string {
	return []string{
		"claude-sonnet-4-20250514",
		"claude-3-7-sonnet-20250219",
		"claude-3-5-sonnet-20241022",
		"claude-3-5-haiku-20241022",
	}
}
