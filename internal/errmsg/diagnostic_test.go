package errmsg

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vnmchuo/vtplus-gateway/internal/ledger"
	"github.com/vnmchuo/vtplus-gateway/internal/vtplus"
)

func TestDiagnose(t *testing.T) {
	tests := []struct {
		name           string
		input          any
		wantCategory   Category
		wantMessage    string
		wantSuggestion string
	}{
		{
			name:           "vt+ feature quota keeps text",
			input:          "Daily Deep Research limit reached (5/5). Try Pro Search or regular chat. Your quota will reset tomorrow.",
			wantCategory:   CategoryRateLimit,
			wantMessage:    "Daily Deep Research limit reached (5/5). Try Pro Search or regular chat. Your quota will reset tomorrow.",
			wantSuggestion: "Try using a different VT+ feature with remaining quota",
		},
		{
			name:           "general daily limit keeps text",
			input:          "You have reached the daily limit of requests",
			wantCategory:   CategoryRateLimit,
			wantMessage:    "You have reached the daily limit of requests",
			wantSuggestion: "Consider upgrading to VT+ for higher limits",
		},
		{
			name:           "billing quota",
			input:          "Quota exceeded for this billing period",
			wantCategory:   CategoryRateLimit,
			wantSuggestion: "Check your usage limits in Settings → Usage",
		},
		{
			name:           "invalid key",
			input:          "Invalid API key provided",
			wantCategory:   CategoryAuth,
			wantSuggestion: "Verify your API key is valid and not expired",
		},
		{
			name:           "network timeout",
			input:          "Network timeout occurred",
			wantCategory:   CategoryConnection,
			wantSuggestion: "Try refreshing the page",
		},
		{
			name:           "error value",
			input:          errors.New("Connection refused"),
			wantCategory:   CategoryConnection,
			wantSuggestion: "Check your internet connection",
		},
		{
			name:           "aborted",
			input:          "Request was aborted by the user",
			wantCategory:   CategoryConnection,
			wantSuggestion: "Try submitting your request again",
		},
		{
			name:           "object with message",
			input:          map[string]any{"name": "NetworkError", "message": "Failed to fetch"},
			wantCategory:   CategoryConnection,
			wantSuggestion: "Check your internet connection",
		},
		{
			name:           "model",
			input:          "Model not available for this request",
			wantCategory:   CategoryModel,
			wantSuggestion: "Try switching to a different AI model",
		},
		{
			name:           "config",
			input:          "Environment configuration is missing",
			wantCategory:   CategoryConfig,
			wantSuggestion: "Contact support if the issue persists",
		},
		{
			name:           "unknown",
			input:          "Some random unexpected error",
			wantCategory:   CategoryUnknown,
			wantSuggestion: "Contact support if the problem continues",
		},
		{
			name:           "object without known text",
			input:          map[string]any{"code": 500, "message": "Internal server error"},
			wantCategory:   CategoryUnknown,
			wantSuggestion: "Try submitting your request again",
		},
		{
			name:           "ledger error",
			input:          &ledger.QuotaExceededError{Feature: vtplus.ProSearch, Limit: 10, Used: 10, Window: vtplus.Daily},
			wantCategory:   CategoryRateLimit,
			wantMessage:    "VT+ quota exceeded for PS: 10/10",
			wantSuggestion: "Use regular chat models which are unlimited",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Diagnose(tt.input)
			assert.Equal(t, tt.wantCategory, d.Category)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, d.Message)
			}
			assert.Contains(t, d.Suggestions, tt.wantSuggestion)
		})
	}
}

func TestDiagnose_Total(t *testing.T) {
	inputs := []any{nil, "", map[string]any{}, []any{}, 0, false, panicky{}, map[string]string{}}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			d := Diagnose(in)
			assert.Equal(t, CategoryUnknown, d.Category)
			assert.NotEmpty(t, d.Suggestions)
		}, "%#v", in)
	}
}

func TestDiagnostic_Format(t *testing.T) {
	d := Diagnostic{
		Message:     "Test error occurred",
		Suggestions: []string{"First suggestion", "Second suggestion"},
		Category:    CategoryUnknown,
	}
	assert.Equal(t, "Test error occurred\n\n🔧 Try these steps:\n1. First suggestion\n2. Second suggestion", d.Format())
	assert.Equal(t, "bare", Diagnostic{Message: "bare"}.Format())
}

func TestDiagnosticMessage(t *testing.T) {
	msg := DiagnosticMessage("API key is invalid")
	assert.Contains(t, msg, "API key issue detected")
	assert.Contains(t, msg, "🔧 Try these steps:")
	assert.Contains(t, msg, "1. Check your API keys")
	assert.Contains(t, msg, "2. Verify your API key is valid")

	network := DiagnosticMessage(map[string]any{"name": "NetworkError", "message": "Failed to fetch", "stack": "Error: Failed to fetch..."})
	assert.Contains(t, network, "Network connectivity issue detected")
}
