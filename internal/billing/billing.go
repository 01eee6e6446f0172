// Package billing keeps a per-request log of provider token usage and cost.
// It complements the VT+ ledger, which counts feature units and enforces
// limits; this log enforces nothing.
package billing

import (
	"context"
	"time"

	"github.com/vnmchuo/vtplus-gateway/internal/provider"
	"github.com/vnmchuo/vtplus-gateway/internal/vtplus"
)

type UsageLog struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	RequestID    string         `json:"request_id"`
	Provider     string         `json:"provider"`
	Model        string         `json:"model"`
	Feature      vtplus.Feature `json:"feature,omitempty"`
	Byok         bool           `json:"byok"`
	InputTokens  int            `json:"input_tokens"`
	OutputTokens int            `json:"output_tokens"`
	CostUSD      float64        `json:"cost_usd"`
	LatencyMs    int64          `json:"latency_ms"`
	CreatedAt    time.Time      `json:"created_at"`
}

type Store interface {
	LogUsage(ctx context.Context, log *UsageLog) error
	GetUsageByUser(ctx context.Context, userID string, from, to time.Time) ([]*UsageLog, error)
	GetTotalCostByUser(ctx context.Context, userID string, from, to time.Time) (float64, error)
}

// Cost prices a response with p's per-token rates. Calls made on the
// caller's own key cost the platform nothing.
func Cost(p provider.Provider, resp *provider.Response, byok bool) float64 {
	if byok {
		return 0
	}
	return float64(resp.InputTokens)*p.CostPerInputToken() + float64(resp.OutputTokens)*p.CostPerOutputToken()
}
