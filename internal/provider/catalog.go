package provider

import (
	"fmt"
	"strings"
)

// ID names an upstream provider.
type ID string

const (
	OpenAI     ID = "openai"
	Anthropic  ID = "anthropic"
	Google     ID = "google"
	Together   ID = "together"
	Fireworks  ID = "fireworks"
	XAI        ID = "xai"
	OpenRouter ID = "openrouter"
)

type info struct {
	displayName string
	setupURL    string
	keyFormat   string
}

var catalog = map[ID]info{
	OpenAI: {
		displayName: "OpenAI",
		setupURL:    "https://platform.openai.com/api-keys",
		keyFormat:   "OpenAI API keys start with 'sk-' and are at least 48 characters long",
	},
	Anthropic: {
		displayName: "Anthropic Claude",
		setupURL:    "https://console.anthropic.com/",
		keyFormat:   "Anthropic API keys start with 'sk-ant-' and are at least 95 characters long",
	},
	Google: {
		displayName: "Google Gemini",
		setupURL:    "https://ai.google.dev/api",
		keyFormat:   "Google API keys start with 'AIza' and are 39 characters long",
	},
	Together: {
		displayName: "Together AI",
		setupURL:    "https://api.together.xyz/",
		keyFormat:   "Together AI API keys are 64 character hexadecimal strings",
	},
	Fireworks: {
		displayName: "Fireworks AI",
		setupURL:    "https://app.fireworks.ai/",
		keyFormat:   "Fireworks AI API keys are at least 32 alphanumeric characters",
	},
	XAI: {
		displayName: "xAI Grok",
		setupURL:    "https://x.ai/api",
		keyFormat:   "xAI API keys start with 'xai-' and are at least 32 characters long",
	},
	OpenRouter: {
		displayName: "OpenRouter",
		setupURL:    "https://openrouter.ai/keys",
		keyFormat:   "OpenRouter API keys start with 'sk-or-v1-' followed by 64 hexadecimal characters",
	},
}

// IDs returns every known provider in a stable order.
func IDs() []ID {
	return []ID{OpenAI, Anthropic, Google, Together, Fireworks, XAI, OpenRouter}
}

func (id ID) Known() bool {
	_, ok := catalog[id]
	return ok
}

// DisplayName falls back to the raw id for unknown providers.
func (id ID) DisplayName() string {
	if i, ok := catalog[id]; ok {
		return i.displayName
	}
	return string(id)
}

func (id ID) SetupURL() string {
	return catalog[id].setupURL
}

func (id ID) KeyFormat() string {
	return catalog[id].keyFormat
}

// ParseID accepts provider ids and a few common aliases.
func ParseID(s string) (ID, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "claude":
		return Anthropic, nil
	case "gemini":
		return Google, nil
	case "grok", "x-ai":
		return XAI, nil
	case "together_ai", "togetherai":
		return Together, nil
	}
	if id := ID(v); id.Known() {
		return id, nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}
