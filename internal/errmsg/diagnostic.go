package errmsg

import (
	"fmt"
	"strings"
)

// Category groups errors for the UI diagnostic panel.
type Category string

const (
	CategoryAuth       Category = "auth"
	CategoryRateLimit  Category = "rate_limit"
	CategoryConnection Category = "connection"
	CategoryModel      Category = "model"
	CategoryConfig     Category = "config"
	CategoryUnknown    Category = "unknown"
)

// Diagnostic is a short explanation plus numbered remediation steps.
type Diagnostic struct {
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions"`
	Category    Category `json:"category"`
}

var (
	rateLimitPhrases  = []string{"rate limit", "daily limit", "limit reached", "quota", "too many requests", "429"}
	vtPlusPhrases     = []string{"vt+", "deep research", "pro search", "personal ai assistant"}
	authPhrases       = []string{"api key", "unauthorized", "forbidden", "authentication", "401", "403"}
	connectionPhrases = []string{"network", "connection", "timeout", "timed out", "fetch", "econnrefused", "econnreset", "etimedout", "abort", "cancel"}
	modelPhrases      = []string{"model", "not supported", "unsupported", "not available"}
	configPhrases     = []string{"config", "environment", "missing", "not configured"}
)

// Diagnose classifies v for display. Rate-limit texts are kept verbatim
// since they usually carry the exact numbers the user needs.
func Diagnose(v any) Diagnostic {
	text := strings.TrimSpace(textOf(v))
	lower := strings.ToLower(text)

	switch {
	case text != "" && containsAny(lower, rateLimitPhrases...):
		if containsAny(lower, vtPlusPhrases...) {
			return Diagnostic{
				Message: text,
				Suggestions: []string{
					"Your daily/monthly quota has been reached",
					"Try using a different VT+ feature with remaining quota",
					"Use regular chat models which are unlimited",
					"Wait for your quota to reset",
				},
				Category: CategoryRateLimit,
			}
		}
		return Diagnostic{
			Message: text,
			Suggestions: []string{
				"Wait a few minutes before trying again",
				"Check your usage limits in Settings → Usage",
				"Consider upgrading to VT+ for higher limits",
				"Add your own API key in Settings → API Keys",
			},
			Category: CategoryRateLimit,
		}

	case containsAny(lower, authPhrases...):
		return Diagnostic{
			Message: "API key issue detected. Your request could not be authenticated with the AI provider.",
			Suggestions: []string{
				"Check your API keys in Settings → API Keys",
				"Verify your API key is valid and not expired",
				"Make sure the key belongs to the selected provider",
			},
			Category: CategoryAuth,
		}

	case containsAny(lower, connectionPhrases...):
		return Diagnostic{
			Message: "Network connectivity issue detected. The request did not complete.",
			Suggestions: []string{
				"Check your internet connection",
				"Try refreshing the page",
				"Try submitting your request again",
			},
			Category: CategoryConnection,
		}

	case containsAny(lower, modelPhrases...):
		return Diagnostic{
			Message: "Model or feature compatibility issue detected.",
			Suggestions: []string{
				"Try switching to a different AI model",
				"Check if the selected model supports this feature",
			},
			Category: CategoryModel,
		}

	case containsAny(lower, configPhrases...):
		return Diagnostic{
			Message: "Configuration issue detected.",
			Suggestions: []string{
				"Check your settings and API key configuration",
				"Contact support if the issue persists",
			},
			Category: CategoryConfig,
		}
	}

	return Diagnostic{
		Message: "An unexpected error occurred.",
		Suggestions: []string{
			"Try submitting your request again",
			"Contact support if the problem continues",
		},
		Category: CategoryUnknown,
	}
}

// Format renders the diagnostic as plain text with numbered steps.
func (d Diagnostic) Format() string {
	var b strings.Builder
	b.WriteString(d.Message)
	if len(d.Suggestions) == 0 {
		return b.String()
	}
	b.WriteString("\n\n🔧 Try these steps:\n")
	for i, s := range d.Suggestions {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, s)
	}
	return b.String()
}

// DiagnosticMessage is Diagnose followed by Format.
func DiagnosticMessage(v any) string {
	return Diagnose(v).Format()
}
