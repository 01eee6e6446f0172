// Package openai talks to OpenAI and every vendor that exposes the same
// chat completions API (Together, Fireworks, xAI, OpenRouter).
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vnmchuo/vtplus-gateway/internal/provider"
)

type Config struct {
	ID         provider.ID
	APIKey     string
	BaseURL    string
	Models     []string
	InputCost  float64 // USD per token
	OutputCost float64
}

func OpenAI(apiKey string) Config {
	return Config{
		ID:         provider.OpenAI,
		APIKey:     apiKey,
		BaseURL:    "https://api.openai.com/v1",
		Models:     []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini", "o3-mini"},
		InputCost:  0.00000015,
		OutputCost: 0.00000060,
	}
}

func Together(apiKey string) Config {
	return Config{
		ID:         provider.Together,
		APIKey:     apiKey,
		BaseURL:    "https://api.together.xyz/v1",
		Models:     []string{"meta-llama/Llama-3.3-70B-Instruct-Turbo", "deepseek-ai/DeepSeek-R1", "Qwen/Qwen2.5-72B-Instruct-Turbo"},
		InputCost:  0.00000088,
		OutputCost: 0.00000088,
	}
}

func Fireworks(apiKey string) Config {
	return Config{
		ID:         provider.Fireworks,
		APIKey:     apiKey,
		BaseURL:    "https://api.fireworks.ai/inference/v1",
		Models:     []string{"accounts/fireworks/models/deepseek-r1", "accounts/fireworks/models/llama-v3p1-405b-instruct"},
		InputCost:  0.0000009,
		OutputCost: 0.0000009,
	}
}

func XAI(apiKey string) Config {
	return Config{
		ID:         provider.XAI,
		APIKey:     apiKey,
		BaseURL:    "https://api.x.ai/v1",
		Models:     []string{"grok-3", "grok-3-mini"},
		InputCost:  0.000003,
		OutputCost: 0.000015,
	}
}

func OpenRouter(apiKey string) Config {
	return Config{
		ID:         provider.OpenRouter,
		APIKey:     apiKey,
		BaseURL:    "https://openrouter.ai/api/v1",
		Models:     []string{"openrouter/auto", "deepseek/deepseek-chat-v3-0324", "qwen/qwen3-235b-a22b"},
		InputCost:  0.000001,
		OutputCost: 0.000002,
	}
}

type OpenAIProvider struct {
	cfg    Config
	client *http.Client
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Model   string         `json:"model"`
}

type openAIChoice struct {
	Message openAIMessage `json:"message"`
	Delta   openAIDelta   `json:"delta"`
}

type openAIDelta struct {
	Content string `json:"content"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func New(cfg Config) provider.Provider {
	return &OpenAIProvider{cfg: cfg, client: http.DefaultClient}
}

func (p *OpenAIProvider) header(req *provider.Request) http.Header {
	h := http.Header{}
	h.Set("Authorization", fmt.Sprintf("Bearer %s", provider.KeyFor(req, p.cfg.APIKey)))
	return h
}

func (p *OpenAIProvider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	start := time.Now()
	url := fmt.Sprintf("%s/chat/completions", p.cfg.BaseURL)

	resp, err := provider.Post(ctx, p.client, p.cfg.ID, url, p.header(req), p.mapRequest(req))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var openAIResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&openAIResp); err != nil {
		return nil, err
	}

	if len(openAIResp.Choices) == 0 {
		return nil, fmt.Errorf("%s api returned no choices", p.cfg.ID)
	}

	return &provider.Response{
		ID:           openAIResp.ID,
		Content:      openAIResp.Choices[0].Message.Content,
		InputTokens:  openAIResp.Usage.PromptTokens,
		OutputTokens: openAIResp.Usage.CompletionTokens,
		Model:        openAIResp.Model,
		Provider:     p.Name(),
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

func (p *OpenAIProvider) mapRequest(req *provider.Request) openAIRequest {
	messages := make([]openAIMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openAIMessage{
			Role:    m.Role,
			Content: m.Content,
		}
	}

	return openAIRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      req.Stream,
	}
}

func (p *OpenAIProvider) CompleteStream(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, error) {
	openAIReq := p.mapRequest(req)
	openAIReq.Stream = true
	url := fmt.Sprintf("%s/chat/completions", p.cfg.BaseURL)
	header := p.header(req)

	return provider.Stream(ctx, func(emit func(*provider.Chunk) bool) error {
		resp, err := provider.Post(ctx, p.client, p.cfg.ID, url, header, openAIReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		done := false
		err = provider.ReadEvents(resp.Body, func(ev provider.Event) (bool, error) {
			if ev.Data == "[DONE]" {
				done = true
				return true, nil
			}

			var openAIResp openAIResponse
			if err := json.Unmarshal([]byte(ev.Data), &openAIResp); err != nil {
				return true, err
			}

			if len(openAIResp.Choices) > 0 && openAIResp.Choices[0].Delta.Content != "" {
				if !emit(&provider.Chunk{Delta: openAIResp.Choices[0].Delta.Content}) {
					return true, ctx.Err()
				}
			}
			return false, nil
		})
		if err != nil {
			return err
		}
		if done || ctx.Err() == nil {
			emit(&provider.Chunk{Done: true})
		}
		return nil
	}), nil
}

func (p *OpenAIProvider) HasServerKey() bool {
	return p.cfg.APIKey != ""
}

func (p *OpenAIProvider) Name() string {
	return string(p.cfg.ID)
}

func (p *OpenAIProvider) CostPerInputToken() float64 {
	return p.cfg.InputCost
}

func (p *OpenAIProvider) CostPerOutputToken() float64 {
	return p.cfg.OutputCost
}

func (p *OpenAIProvider) SupportedModels() []string {
	return p.cfg.Models
}
