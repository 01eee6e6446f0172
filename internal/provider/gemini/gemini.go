package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/vnmchuo/vtplus-gateway/internal/provider"
)

type GeminiProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate   `json:"candidates"`
	UsageMetadata geminiUsageMetadata `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

func New(apiKey string) provider.Provider {
	return &GeminiProvider{
		apiKey:  apiKey,
		baseURL: "https://generativelanguage.googleapis.com",
		client:  http.DefaultClient,
	}
}

func (p *GeminiProvider) endpoint(req *provider.Request, method string, extra url.Values) string {
	q := url.Values{}
	q.Set("key", provider.KeyFor(req, p.apiKey))
	for k, v := range extra {
		q[k] = v
	}
	return fmt.Sprintf("%s/v1beta/models/%s:%s?%s", p.baseURL, url.PathEscape(req.Model), method, q.Encode())
}

func (p *GeminiProvider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	start := time.Now()

	resp, err := provider.Post(ctx, p.client, provider.Google, p.endpoint(req, "generateContent", nil), nil, p.mapRequest(req))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var geminiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return nil, err
	}

	if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("google api returned no candidates")
	}

	return &provider.Response{
		Content:      geminiResp.Candidates[0].Content.Parts[0].Text,
		InputTokens:  geminiResp.UsageMetadata.PromptTokenCount,
		OutputTokens: geminiResp.UsageMetadata.CandidatesTokenCount,
		Model:        req.Model,
		Provider:     p.Name(),
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

func (p *GeminiProvider) mapRequest(req *provider.Request) geminiRequest {
	var system *geminiContent
	contents := make([]geminiContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
			continue
		}
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}

	return geminiRequest{
		Contents:          contents,
		SystemInstruction: system,
		GenerationConfig: generationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		},
	}
}

func (p *GeminiProvider) CompleteStream(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, error) {
	geminiReq := p.mapRequest(req)
	endpoint := p.endpoint(req, "streamGenerateContent", url.Values{"alt": {"sse"}})

	return provider.Stream(ctx, func(emit func(*provider.Chunk) bool) error {
		resp, err := provider.Post(ctx, p.client, provider.Google, endpoint, nil, geminiReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		err = provider.ReadEvents(resp.Body, func(ev provider.Event) (bool, error) {
			var geminiResp geminiResponse
			if err := json.Unmarshal([]byte(ev.Data), &geminiResp); err != nil {
				return true, err
			}

			if len(geminiResp.Candidates) > 0 && len(geminiResp.Candidates[0].Content.Parts) > 0 {
				text := geminiResp.Candidates[0].Content.Parts[0].Text
				if text != "" && !emit(&provider.Chunk{Delta: text}) {
					return true, ctx.Err()
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

func (p *GeminiProvider) HasServerKey() bool {
	return p.apiKey != ""
}

func (p *GeminiProvider) Name() string {
	return string(provider.Google)
}

func (p *GeminiProvider) CostPerInputToken() float64 {
	return 0.000000125
}

func (p *GeminiProvider) CostPerOutputToken() float64 {
	return 0.000000375
}

func (p *GeminiProvider) SupportedModels() []string {
	return []string{"gemini-2.5-pro", "gemini-2.5-flash", "gemini-2.0-flash", "gemini-1.5-flash"}
}
