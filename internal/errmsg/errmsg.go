// Package errmsg turns raw provider, network and quota failures into
// user-presentable messages. Every function here is pure and never panics,
// whatever value it is handed.
package errmsg

import (
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vnmchuo/vtplus-gateway/internal/ledger"
	"github.com/vnmchuo/vtplus-gateway/internal/provider"
)

// ErrorContext describes the call that failed.
type ErrorContext struct {
	Provider      provider.ID `json:"provider,omitempty"`
	Model         string      `json:"model,omitempty"`
	UserID        string      `json:"user_id,omitempty"`
	HasAPIKey     bool        `json:"has_api_key"`
	IsVtPlus      bool        `json:"is_vt_plus"`
	ErrorCode     string      `json:"error_code,omitempty"`
	OriginalError string      `json:"original_error,omitempty"`
}

// ErrorMessage is the display payload for a failed call.
type ErrorMessage struct {
	Title          string `json:"title"`
	Message        string `json:"message"`
	Action         string `json:"action,omitempty"`
	HelpURL        string `json:"help_url,omitempty"`
	UpgradeURL     string `json:"upgrade_url,omitempty"`
	SettingsAction string `json:"settings_action,omitempty"`
}

// Kind is the category picked for an error.
type Kind string

const (
	KindMissingAPIKey      Kind = "missing_api_key"
	KindInvalidAPIKey      Kind = "invalid_api_key"
	KindRateLimit          Kind = "rate_limit"
	KindQuotaExceeded      Kind = "quota_exceeded"
	KindNetwork            Kind = "network"
	KindServiceUnavailable Kind = "service_unavailable"
	KindUnknown            Kind = "unknown"
)

// Checked in order; the first rule with a matching phrase wins.
var rules = []struct {
	kind    Kind
	phrases []string
}{
	{KindMissingAPIKey, []string{"api key required", "missing api key", "no api key"}},
	{KindInvalidAPIKey, []string{"invalid api key", "unauthorized", "forbidden", "401", "403"}},
	{KindRateLimit, []string{"rate limit", "too many requests", "429"}},
	{KindQuotaExceeded, []string{"quota exceeded", "usage limit", "billing"}},
	{KindNetwork, []string{"network", "connection", "econnrefused", "econnreset", "etimedout", "timeout"}},
	{KindServiceUnavailable, []string{"service unavailable", "model not found", "502", "503", "504"}},
}

// Classify picks the category of an error text, case-insensitively.
func Classify(text string) Kind {
	lower := strings.ToLower(text)
	for _, r := range rules {
		if containsAny(lower, r.phrases...) {
			return r.kind
		}
	}
	return KindUnknown
}

// Generate maps err to a provider-aware ErrorMessage. err may be any value,
// including nil. A *ledger.QuotaExceededError is rendered with its feature
// and numbers.
func Generate(err any, ectx ErrorContext) ErrorMessage {
	if e, ok := err.(error); ok {
		var qe *ledger.QuotaExceededError
		if errors.As(e, &qe) {
			return FeatureQuota(qe, ectx)
		}
		if errors.Is(e, ledger.ErrOperationFailed) {
			return Fallback(ectx)
		}
	}

	text := textOf(err)

	log.WithFields(log.Fields{
		"provider":     ectx.Provider,
		"model":        ectx.Model,
		"has_api_key":  ectx.HasAPIKey,
		"is_vt_plus":   ectx.IsVtPlus,
		"error_type":   fmt.Sprintf("%T", err),
		"error_length": len(text),
	}).Debug("generating user-facing error message")

	switch Classify(text) {
	case KindMissingAPIKey:
		return MissingAPIKey(ectx)
	case KindInvalidAPIKey:
		ectx.OriginalError = text
		return InvalidAPIKey(ectx)
	case KindRateLimit:
		return RateLimit(ectx)
	case KindQuotaExceeded:
		return QuotaExceeded(ectx)
	case KindNetwork:
		ectx.OriginalError = text
		return Network(ectx)
	case KindServiceUnavailable:
		ectx.OriginalError = text
		return ServiceUnavailable(ectx)
	}
	return Fallback(ectx)
}

// maxNesting bounds how deep textOf follows "message"/"error" map entries.
const maxNesting = 2

// textOf extracts a message from an arbitrary value. Values whose
// formatting panics yield "".
func textOf(v any) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	return textAt(v, 0)
}

func textAt(v any, depth int) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case error:
		return t.Error()
	case fmt.Stringer:
		return t.String()
	case map[string]any:
		if depth >= maxNesting {
			return ""
		}
		for _, key := range []string{"message", "error"} {
			if inner, ok := t[key]; ok {
				return textAt(inner, depth+1)
			}
		}
		return ""
	case map[string]string:
		if m, ok := t["message"]; ok {
			return m
		}
		return t["error"]
	case bool, int, int32, int64, float32, float64, uint, uint32, uint64:
		return fmt.Sprint(t)
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
