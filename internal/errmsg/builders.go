package errmsg

import (
	"fmt"
	"strings"

	"github.com/vnmchuo/vtplus-gateway/internal/ledger"
	"github.com/vnmchuo/vtplus-gateway/internal/provider"
	"github.com/vnmchuo/vtplus-gateway/internal/vtplus"
)

const (
	settingsOpenAPIKeys = "open_api_keys"
	pricingURL          = "/pricing"
)

func providerName(ectx ErrorContext) string {
	if ectx.Provider == "" {
		return "AI service"
	}
	return ectx.Provider.DisplayName()
}

// serverFunded reports whether the call ran on the platform's Gemini key,
// the only provider the platform pays for on behalf of users.
func serverFunded(ectx ErrorContext) bool {
	return ectx.Provider == provider.Google && !ectx.HasAPIKey
}

func MissingAPIKey(ectx ErrorContext) ErrorMessage {
	if ectx.Provider == "" {
		return ErrorMessage{
			Title:          "API Key Required",
			Message:        "An API key is required to use this AI model. Please configure your API keys in Settings.",
			Action:         "Add API key in Settings → API Keys",
			SettingsAction: settingsOpenAPIKeys,
		}
	}

	name := ectx.Provider.DisplayName()
	message := fmt.Sprintf("To use %s models, you need to provide your own API key. This is free to obtain and gives you direct access to %s's latest models.", name, name)
	if ectx.IsVtPlus {
		message = fmt.Sprintf("Your VT+ subscription includes server-funded usage, but you can add your own %s API key for unlimited access and faster responses.", name)
	}

	return ErrorMessage{
		Title:   fmt.Sprintf("%s API Key Required", name),
		Message: message,
		Action: steps(
			fmt.Sprintf("Visit %s's website to get your free API key", name),
			"Copy the API key",
			fmt.Sprintf("Add it in Settings → API Keys → %s", name),
			fmt.Sprintf("Start chatting with %s models", name),
		),
		HelpURL:        ectx.Provider.SetupURL(),
		SettingsAction: settingsOpenAPIKeys,
	}
}

func InvalidAPIKey(ectx ErrorContext) ErrorMessage {
	if ectx.Provider == "" {
		return ErrorMessage{
			Title:          "Invalid API Key",
			Message:        "The provided API key appears to be invalid. Please check your API key format and try again.",
			Action:         "Verify your API key in Settings → API Keys",
			SettingsAction: settingsOpenAPIKeys,
		}
	}

	name := ectx.Provider.DisplayName()
	original := strings.ToLower(ectx.OriginalError)

	switch {
	case containsAny(original, "unauthorized", "401"):
		return ErrorMessage{
			Title:   fmt.Sprintf("%s Authentication Failed", name),
			Message: fmt.Sprintf("Your %s API key is invalid or has expired, or it lacks the required permissions.", name),
			Action: steps(
				fmt.Sprintf("Check your %s account is active and has billing set up", name),
				"Verify your API key hasn't expired",
				"Generate a new API key if needed",
				fmt.Sprintf("Update it in Settings → API Keys → %s", name),
			),
			HelpURL:        ectx.Provider.SetupURL(),
			SettingsAction: settingsOpenAPIKeys,
		}
	case containsAny(original, "forbidden", "403"):
		return ErrorMessage{
			Title:   fmt.Sprintf("%s Access Denied", name),
			Message: fmt.Sprintf("Your %s API key doesn't have permission to access this model or your account has billing issues.", name),
			Action: steps(
				fmt.Sprintf("Check your %s account billing status", name),
				"Verify your API key has the required permissions",
				"Try a different model that's available in your plan",
				fmt.Sprintf("Contact %s support if the issue persists", name),
			),
			HelpURL:        ectx.Provider.SetupURL(),
			SettingsAction: settingsOpenAPIKeys,
		}
	}

	format := ectx.Provider.KeyFormat()
	if format == "" {
		format = "Please check the API key format requirements"
	}
	return ErrorMessage{
		Title:   fmt.Sprintf("%s API Key Invalid", name),
		Message: fmt.Sprintf("The %s API key format is incorrect. %s.", name, format),
		Action: steps(
			"Double-check you copied the complete API key",
			"Make sure there are no extra spaces or characters",
			"Generate a new API key if needed",
			fmt.Sprintf("Update it in Settings → API Keys → %s", name),
		),
		HelpURL:        ectx.Provider.SetupURL(),
		SettingsAction: settingsOpenAPIKeys,
	}
}

func RateLimit(ectx ErrorContext) ErrorMessage {
	if ectx.Provider == "" {
		return ErrorMessage{
			Title:   "Rate Limit Exceeded",
			Message: "You've exceeded the rate limit for this service. Please wait a moment before trying again.",
			Action:  "Wait a few minutes and try again",
		}
	}

	if serverFunded(ectx) {
		if ectx.IsVtPlus {
			return ErrorMessage{
				Title:          "VT+ Rate Limit Reached",
				Message:        "You've reached your VT+ usage limit for Gemini models. Add your own API key for unlimited usage.",
				Action:         "Add your own Gemini API key in Settings → API Keys → Google Gemini",
				HelpURL:        ectx.Provider.SetupURL(),
				SettingsAction: settingsOpenAPIKeys,
			}
		}
		return ErrorMessage{
			Title:          "Free Usage Limit Reached",
			Message:        "You've reached the daily limit for free Gemini usage. Add your own API key or upgrade to VT+ for higher limits.",
			Action:         "Add your own Gemini API key for unlimited usage",
			HelpURL:        ectx.Provider.SetupURL(),
			UpgradeURL:     pricingURL,
			SettingsAction: settingsOpenAPIKeys,
		}
	}

	name := ectx.Provider.DisplayName()
	return ErrorMessage{
		Title:   fmt.Sprintf("%s Rate Limit", name),
		Message: fmt.Sprintf("You've exceeded the rate limit for %s. This is typically temporary and will reset shortly.", name),
		Action:  "Wait a few minutes and try again, or try a different model",
	}
}

func QuotaExceeded(ectx ErrorContext) ErrorMessage {
	if serverFunded(ectx) {
		if ectx.IsVtPlus {
			return ErrorMessage{
				Title:          "VT+ Monthly Quota Exceeded",
				Message:        "You've used all your VT+ quota for this month. Add your own API key for unlimited usage.",
				Action:         "Add your own Gemini API key in Settings → API Keys → Google Gemini",
				HelpURL:        ectx.Provider.SetupURL(),
				SettingsAction: settingsOpenAPIKeys,
			}
		}
		return ErrorMessage{
			Title:          "Free Quota Exceeded",
			Message:        "You've reached your free usage limit. Upgrade to VT+ or add your own API key for continued access.",
			Action:         "Upgrade to VT+ or add your own API key",
			HelpURL:        ectx.Provider.SetupURL(),
			UpgradeURL:     pricingURL,
			SettingsAction: settingsOpenAPIKeys,
		}
	}

	return ErrorMessage{
		Title:      "Usage Quota Exceeded",
		Message:    fmt.Sprintf("You've exceeded your usage quota for %s. This may reset daily or monthly depending on your plan.", providerName(ectx)),
		Action:     "Wait for quota reset or upgrade your plan",
		UpgradeURL: pricingURL,
	}
}

func Network(ectx ErrorContext) ErrorMessage {
	name := providerName(ectx)
	if containsAny(strings.ToLower(ectx.OriginalError), "timeout", "etimedout", "timed out", "deadline exceeded") {
		return ErrorMessage{
			Title:   "Request Timeout",
			Message: fmt.Sprintf("The request to %s timed out. This might be due to network issues or high server load.", name),
			Action:  "Check your internet connection and try again",
		}
	}
	return ErrorMessage{
		Title:   "Network Connection Error",
		Message: fmt.Sprintf("Unable to connect to %s. Please check your internet connection.", name),
		Action:  "Check your internet connection and try again",
	}
}

func ServiceUnavailable(ectx ErrorContext) ErrorMessage {
	name := providerName(ectx)
	original := strings.ToLower(ectx.OriginalError)

	if strings.Contains(original, "model not found") {
		return ErrorMessage{
			Title:   "Model Not Available",
			Message: fmt.Sprintf("The requested model is not available on %s. It may have been deprecated or renamed.", name),
			Action:  "Try a different model or check the provider's documentation",
			HelpURL: ectx.Provider.SetupURL(),
		}
	}
	if containsAny(original, "502", "503", "504") {
		return ErrorMessage{
			Title:   fmt.Sprintf("%s Temporarily Unavailable", name),
			Message: fmt.Sprintf("%s is experiencing technical difficulties. This is usually temporary.", name),
			Action:  "Try again in a few minutes or use a different model",
		}
	}
	return ErrorMessage{
		Title:   "Service Unavailable",
		Message: fmt.Sprintf("%s is currently unavailable. This might be due to maintenance or high demand.", name),
		Action:  "Try again later or use a different AI provider",
	}
}

func Fallback(ErrorContext) ErrorMessage {
	return ErrorMessage{
		Title:          "AI Service Error",
		Message:        "An unexpected error occurred while processing your request. Please try again or contact support if the issue persists.",
		Action:         "Try again with a different model or check your settings",
		SettingsAction: settingsOpenAPIKeys,
	}
}

// FeatureQuota describes an exhausted VT+ feature quota with the exact
// numbers and the alternatives still open to the user.
func FeatureQuota(qe *ledger.QuotaExceededError, ectx ErrorContext) ErrorMessage {
	period, reset := "Daily", "Your quota will reset tomorrow."
	if qe.Window == vtplus.Monthly {
		period, reset = "Monthly", "Your quota will reset next month."
	}

	return ErrorMessage{
		Title: fmt.Sprintf("VT+ %s Quota Exceeded", period),
		Message: fmt.Sprintf("%s %s limit reached (%d/%d). %s %s",
			period, qe.Feature.DisplayName(), qe.Used, qe.Limit, alternatives(qe.Feature), reset),
		Action:         "Wait for the reset, switch to another feature, or add your own API key in Settings → API Keys",
		SettingsAction: settingsOpenAPIKeys,
	}
}

func alternatives(f vtplus.Feature) string {
	switch f {
	case vtplus.DeepResearch:
		return "Try Pro Search or regular chat."
	case vtplus.ProSearch:
		return "Try regular chat or Deep Research."
	}
	return "Try regular chat in the meantime."
}

func steps(lines ...string) string {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, l)
	}
	return b.String()
}
