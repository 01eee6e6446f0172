package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/vnmchuo/vtplus-gateway/internal/vtplus"
)

const (
	LedgerPostgres = "postgres"
	LedgerSQLite   = "sqlite"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Ledger
	LedgerBackend    string // "postgres" or "sqlite", default: postgres
	LedgerSQLitePath string // default: data/ledger.db
	Limits           vtplus.Limits

	// Cache
	RedisAddr string

	// Providers
	OpenAIAPIKey     string
	AnthropicAPIKey  string
	GeminiAPIKey     string
	TogetherAPIKey   string
	FireworksAPIKey  string
	XAIAPIKey        string
	OpenRouterAPIKey string

	// Observability
	OTELExporterType     string // "stdout", "otlp" or "none"
	OTELExporterEndpoint string // default: "localhost:4317"
	LogLevel             string // default: info
	LogFormat            string // "text" or "json", default: text

	// Rate Limiting
	DefaultRateLimitRPM int // requests per user and model per minute, default: 60

	// Warnings collects env values that were ignored in favour of defaults.
	// They are logged once logging is configured.
	Warnings []string
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		LedgerBackend:        strings.ToLower(getEnv("LEDGER_BACKEND", LedgerPostgres)),
		LedgerSQLitePath:     getEnv("LEDGER_SQLITE_PATH", "data/ledger.db"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		TogetherAPIKey:       os.Getenv("TOGETHER_API_KEY"),
		FireworksAPIKey:      os.Getenv("FIREWORKS_API_KEY"),
		XAIAPIKey:            os.Getenv("XAI_API_KEY"),
		OpenRouterAPIKey:     os.Getenv("OPENROUTER_API_KEY"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "text"),
	}

	rpmStr := getEnv("DEFAULT_RATE_LIMIT_RPM", "60")
	rpm, err := strconv.Atoi(rpmStr)
	if err != nil || rpm <= 0 {
		return nil, fmt.Errorf("invalid DEFAULT_RATE_LIMIT_RPM: %q", rpmStr)
	}
	cfg.DefaultRateLimitRPM = rpm

	cfg.Limits, cfg.Warnings = LoadLimits(os.LookupEnv)

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}
	if cfg.LedgerBackend != LedgerPostgres && cfg.LedgerBackend != LedgerSQLite {
		return nil, fmt.Errorf("invalid LEDGER_BACKEND %q: want %q or %q", cfg.LedgerBackend, LedgerPostgres, LedgerSQLite)
	}

	return cfg, nil
}

// LoadLimits applies VTPLUS_LIMIT_<CODE> and VTPLUS_WINDOW_<CODE> overrides
// to the default limits. Values that do not parse keep the default and are
// reported in warnings.
func LoadLimits(lookup func(string) (string, bool)) (vtplus.Limits, []string) {
	limits := vtplus.DefaultLimits()
	var warnings []string

	for _, f := range vtplus.Features() {
		cfg := limits[f]

		limitKey := "VTPLUS_LIMIT_" + string(f)
		if raw, ok := lookup(limitKey); ok && strings.TrimSpace(raw) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil || n <= 0 {
				warnings = append(warnings, fmt.Sprintf("ignoring %s=%q: want a positive integer, using %d", limitKey, raw, cfg.Limit))
			} else {
				cfg.Limit = n
			}
		}

		windowKey := "VTPLUS_WINDOW_" + string(f)
		if raw, ok := lookup(windowKey); ok && strings.TrimSpace(raw) != "" {
			w := vtplus.Window(strings.ToLower(strings.TrimSpace(raw)))
			if !w.Valid() {
				warnings = append(warnings, fmt.Sprintf("ignoring %s=%q: want daily or monthly, using %s", windowKey, raw, cfg.Window))
			} else {
				cfg.Window = w
			}
		}

		limits[f] = cfg
	}

	return limits, warnings
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
