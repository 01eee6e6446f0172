package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/vtplus-gateway/config"
	"github.com/vnmchuo/vtplus-gateway/internal/auth"
	"github.com/vnmchuo/vtplus-gateway/internal/billing"
	"github.com/vnmchuo/vtplus-gateway/internal/ledger"
	"github.com/vnmchuo/vtplus-gateway/internal/logging"
	"github.com/vnmchuo/vtplus-gateway/internal/provider"
	"github.com/vnmchuo/vtplus-gateway/internal/provider/claude"
	"github.com/vnmchuo/vtplus-gateway/internal/provider/gemini"
	"github.com/vnmchuo/vtplus-gateway/internal/provider/openai"
	"github.com/vnmchuo/vtplus-gateway/internal/proxy"
	"github.com/vnmchuo/vtplus-gateway/internal/quota"
	"github.com/vnmchuo/vtplus-gateway/internal/seeder"
	"github.com/vnmchuo/vtplus-gateway/internal/telemetry"
	"github.com/vnmchuo/vtplus-gateway/pkg/ratelimit"
)

const serviceName = "vtplus-gateway"

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init logging
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Fatalf("failed to init logging: %v", err)
	}
	for _, w := range cfg.Warnings {
		log.Warn(w)
	}

	// 3. Init telemetry
	shutdownTracer, err := telemetry.InitTracer(serviceName, cfg)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()
	tracer := otel.GetTracerProvider().Tracer(serviceName)

	// 4. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("failed to ping postgres: %v", err)
	}
	log.Info("PostgreSQL connected")

	// 5. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to ping redis: %v", err)
	}
	log.Info("Redis connected")

	// 6. Init auth
	authStore := auth.NewPostgresStore(pool)
	if err := authStore.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate api keys: %v", err)
	}
	authMiddleware := auth.NewMiddleware(authStore, rdb)

	// 7. Init quota ledger
	store, closeStore, err := openLedgerStore(ctx, cfg, pool)
	if err != nil {
		log.Fatalf("failed to open ledger store: %v", err)
	}
	defer closeStore()

	quotaLedger, err := ledger.New(store, cfg.Limits, ledger.WithTracer(tracer))
	if err != nil {
		log.Fatalf("invalid VT+ quota config: %v", err)
	}
	for f, l := range cfg.Limits {
		log.WithFields(log.Fields{
			"feature": f,
			"limit":   l.Limit,
			"window":  l.Window,
		}).Debug("VT+ quota configured")
	}
	log.WithField("backend", cfg.LedgerBackend).Info("VT+ quota ledger ready")

	// 8. Init request log
	billingStore := billing.NewPostgresStore(pool)
	if err := billingStore.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate usage logs: %v", err)
	}

	// 9. Init rate limiter
	limiter := ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitRPM)

	// 10. Init providers
	providers := buildProviders(cfg)

	// 11. Init router
	router := proxy.NewRouter(providers)

	// 12. Init handler
	wrapper := quota.NewWrapper(quotaLedger)
	handler := proxy.NewHandler(router, quotaLedger, wrapper, limiter, billingStore, tracer)

	// 13. Seed dev API keys if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedDevKeys(ctx, authStore)
	}

	// 14. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "ok",
			"service":   serviceName,
			"ledger":    cfg.LedgerBackend,
			"providers": len(providers),
		})
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/v1/chat/completions", handler.HandleComplete)
		r.Post("/v1/chat/completions/stream", handler.HandleCompleteStream)
		r.Get("/v1/usage", handler.HandleUsage)
		r.Get("/v1/usage/{feature}", handler.HandleFeatureUsage)
		r.Get("/v1/requests", handler.HandleRequestLog)
	})

	// 15. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Infof("VT+ gateway starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Info("Server stopped")
}

// openLedgerStore returns the configured usage store, migrated and ready.
func openLedgerStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (ledger.Store, func(), error) {
	if cfg.LedgerBackend == config.LedgerSQLite {
		db, err := ledger.OpenSQLite(cfg.LedgerSQLitePath)
		if err != nil {
			return nil, nil, err
		}
		store, err := ledger.NewSQLiteStore(db)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		return store, closeFn, nil
	}

	store := ledger.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		return nil, nil, err
	}
	return store, func() {}, nil
}

// buildProviders registers every known provider. Providers without a
// server key still serve callers that bring their own key.
func buildProviders(cfg *config.Config) []provider.Provider {
	compatible := []openai.Config{
		openai.OpenAI(cfg.OpenAIAPIKey),
		openai.Together(cfg.TogetherAPIKey),
		openai.Fireworks(cfg.FireworksAPIKey),
		openai.XAI(cfg.XAIAPIKey),
		openai.OpenRouter(cfg.OpenRouterAPIKey),
	}

	providers := []provider.Provider{
		gemini.New(cfg.GeminiAPIKey),
		claude.New(cfg.AnthropicAPIKey),
	}
	for _, c := range compatible {
		providers = append(providers, openai.New(c))
	}

	serverKeys := map[provider.ID]string{
		provider.Google:     cfg.GeminiAPIKey,
		provider.Anthropic:  cfg.AnthropicAPIKey,
		provider.OpenAI:     cfg.OpenAIAPIKey,
		provider.Together:   cfg.TogetherAPIKey,
		provider.Fireworks:  cfg.FireworksAPIKey,
		provider.XAI:        cfg.XAIAPIKey,
		provider.OpenRouter: cfg.OpenRouterAPIKey,
	}
	for _, p := range providers {
		id := provider.ID(p.Name())
		if serverKeys[id] == "" {
			log.WithField("provider", id.DisplayName()).Warn("no server key configured, provider only serves BYOK calls")
		}
	}
	return providers
}
