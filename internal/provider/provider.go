package provider

import (
	"context"
	"fmt"
)

type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	Stream      bool
	// APIKey overrides the server key when the caller brings their own.
	APIKey    string
	UserID    string
	RequestID string
}

type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

type Response struct {
	ID           string
	Content      string
	InputTokens  int
	OutputTokens int
	Model        string
	Provider     string
	LatencyMs    int64
}

type Chunk struct {
	Delta string
	Done  bool
	Err   error
}

type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	CompleteStream(ctx context.Context, req *Request) (<-chan *Chunk, error)
	Name() string
	CostPerInputToken() float64 // cost in USD per 1 token
	CostPerOutputToken() float64
	SupportedModels() []string
	// HasServerKey reports whether calls without a caller key can be served.
	HasServerKey() bool
}

// APIError is a non-2xx answer from an upstream provider.
type APIError struct {
	Provider   ID
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// KeyFor returns the key a request should be sent with.
func KeyFor(req *Request, serverKey string) string {
	if req.APIKey != "" {
		return req.APIKey
	}
	return serverKey
}
