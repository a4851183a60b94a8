package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/sageclinic/orchestrator/internal/adapters/audit"
	"github.com/sageclinic/orchestrator/internal/adapters/cache"
	"github.com/sageclinic/orchestrator/internal/adapters/circuitbreaker"
	"github.com/sageclinic/orchestrator/internal/adapters/embedding"
	"github.com/sageclinic/orchestrator/internal/adapters/id"
	"github.com/sageclinic/orchestrator/internal/adapters/livekit"
	"github.com/sageclinic/orchestrator/internal/adapters/llm"
	orchmetrics "github.com/sageclinic/orchestrator/internal/adapters/metrics"
	phidetector "github.com/sageclinic/orchestrator/internal/adapters/phi"
	"github.com/sageclinic/orchestrator/internal/adapters/postgres"
	"github.com/sageclinic/orchestrator/internal/adapters/ratelimit"
	"github.com/sageclinic/orchestrator/internal/adapters/reranker"
	"github.com/sageclinic/orchestrator/internal/adapters/sourceclient"
	"github.com/sageclinic/orchestrator/internal/adapters/speech"
	"github.com/sageclinic/orchestrator/internal/adapters/tools"
	"github.com/sageclinic/orchestrator/internal/adapters/tracing"
	applicationaudit "github.com/sageclinic/orchestrator/internal/application/audit"
	"github.com/sageclinic/orchestrator/internal/application/assemble"
	appcontext "github.com/sageclinic/orchestrator/internal/application/context"
	"github.com/sageclinic/orchestrator/internal/application/degraded"
	"github.com/sageclinic/orchestrator/internal/application/intent"
	"github.com/sageclinic/orchestrator/internal/application/phi"
	"github.com/sageclinic/orchestrator/internal/application/rerank"
	"github.com/sageclinic/orchestrator/internal/application/router"
	"github.com/sageclinic/orchestrator/internal/application/sources"
	"github.com/sageclinic/orchestrator/internal/config"
	"github.com/sageclinic/orchestrator/internal/ports"
	"github.com/sageclinic/orchestrator/internal/server"
)

// criticalBreakerKeys names the dependencies whose repeated failure puts
// the orchestrator into degraded mode (spec §4.12): both LLM backends and
// the PHI detector. Losing a single search source does not, by itself,
// degrade the service.
var criticalBreakerKeys = []string{
	router.LocalBreakerKey,
	router.CloudBreakerKey,
	phi.BreakerKey,
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the query orchestrator server",
		Long: `Start the orchestrator's WebSocket/HTTP server.

Required configuration:
  - PostgreSQL (ORCHESTRATOR_POSTGRES_URL)
  - Redis (ORCHESTRATOR_REDIS_ADDR)
  - a local LLM backend (ORCHESTRATOR_ROUTER_LOCAL_URL) unless router mode is cloud_only`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// degradedModeSampleInterval is the periodic re-check the degraded-mode
// controller needs to self-clear once all critical circuits close again
// (spec §4.12: "sample checks every 60s to exit when all critical circuits
// are closed"). Breaker-open transitions also trigger an immediate
// Evaluate via the registry's onOpen callback; this ticker is the only
// path back out of degraded mode.
const degradedModeSampleInterval = 60 * time.Second

// sampleDegradedMode periodically re-evaluates the Degraded-Mode
// Controller against the current breaker snapshot until ctx is cancelled.
func sampleDegradedMode(ctx context.Context, breakers *circuitbreaker.Registry, controller ports.DegradedModeController) {
	ticker := time.NewTicker(degradedModeSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			controller.Evaluate(breakers.States())
		}
	}
}

func maskDatabaseURL(dbURL string) string {
	parsed, err := url.Parse(dbURL)
	if err != nil {
		return "[invalid URL]"
	}
	if parsed.User != nil {
		if _, hasPassword := parsed.User.Password(); hasPassword {
			parsed.User = url.UserPassword(parsed.User.Username(), "****")
		}
	}
	return parsed.String()
}

func runServer(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	routerPolicy := router.Policy(cfg.Router.Mode)
	if err := router.ValidatePolicy(routerPolicy, cfg.HIPAAMode); err != nil {
		return fmt.Errorf("invalid router configuration: %w", err)
	}

	slog.Info("starting orchestrator",
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"postgres", maskDatabaseURL(cfg.Database.PostgresURL),
		"router_mode", cfg.Router.Mode,
		"phi_mode", cfg.PHI.Mode,
		"hipaa_mode", cfg.HIPAAMode,
	)

	shutdownTracer, err := tracing.InitTracer("orchestrator")
	if err != nil {
		slog.Warn("failed to initialize tracing", "error", err)
	} else {
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				slog.Warn("error shutting down tracer", "error", err)
			}
		}()
		slog.Info("tracing initialized")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.PostgresURL)
	if err != nil {
		return fmt.Errorf("failed to parse database URL: %w", err)
	}
	poolConfig.ConnConfig.RuntimeParams["timezone"] = "UTC"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("failed to create database pool: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("redis connection established")

	idGen := id.New()

	breakerCfg := circuitbreaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Timeout:          time.Duration(cfg.Breaker.TimeoutSec) * time.Second,
		HalfOpenRequests: cfg.Breaker.HalfOpenRequests,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
	}
	degradedController := degraded.New(criticalBreakerKeys)
	var breakers *circuitbreaker.Registry
	breakers = circuitbreaker.NewRegistry(breakerCfg, func(key string) {
		orchmetrics.CircuitBreakerState.WithLabelValues(key).Set(2)
		degradedController.Evaluate(breakers.States())
	})

	bgCtx, stopBackgroundTasks := context.WithCancel(ctx)
	defer stopBackgroundTasks()
	go sampleDegradedMode(bgCtx, breakers, degradedController)

	conversationStore := postgres.NewConversationStore(pool)
	toolCallStore := postgres.NewToolCallStore(pool)
	redisCache := cache.New(redisClient)
	contextStore := appcontext.New(redisCache, conversationStore)
	limiter := ratelimit.New(redisClient)

	phiDetector := phidetector.New()
	phiClassifier := phi.New(phiDetector, breakers, phi.Mode(cfg.PHI.Mode))

	var embeddingClient *embedding.Client
	var embeddingSvc ports.EmbeddingService
	if cfg.Rerank.EmbeddingURL != "" {
		embeddingClient = embedding.NewClient(cfg.Rerank.EmbeddingURL, cfg.Rerank.EmbeddingKey, cfg.Rerank.EmbeddingModel, cfg.Rerank.EmbeddingDimensions)
		embeddingSvc = embeddingClient
		slog.Info("embedding client initialized", "url", cfg.Rerank.EmbeddingURL)
	}

	var rerankerSvc ports.RerankerService
	if cfg.Rerank.RerankerURL != "" {
		rerankerClient := reranker.NewClient(cfg.Rerank.RerankerURL, cfg.Rerank.RerankerKey, cfg.Rerank.RerankerModel)
		rerankerSvc = rerankerClient
		slog.Info("reranker client initialized", "url", cfg.Rerank.RerankerURL)
	}
	rerankStage := rerank.New(rerankerSvc, embeddingSvc, breakers)

	var localLLM ports.LLMClient
	if cfg.Router.Mode != "cloud_only" {
		localLLM = llm.NewOpenAIClient(cfg.Router.LocalURL, cfg.Router.LocalKey, cfg.Router.LocalModel, true)
		slog.Info("local LLM backend initialized", "url", cfg.Router.LocalURL, "model", cfg.Router.LocalModel)
	}
	var cloudLLM ports.LLMClient
	if cfg.Router.Mode != "local_only" {
		cloudLLM = llm.NewAnthropicClient(cfg.Router.CloudKey, cfg.Router.CloudModel)
		slog.Info("cloud LLM backend initialized", "model", cfg.Router.CloudModel)
	}
	modelRouter := router.New(localLLM, cloudLLM, routerPolicy, breakers)

	intentClassifier := intent.New(intent.DefaultPhraseSet(), nil, breakers)

	catalog := sources.DefaultCatalog()
	selector := sources.NewSelector(catalog, cfg.Sources.MaxParallelSources)
	sourceClients := sourceclient.BuildSourceClients(catalog, cfg.Sources.BaseURLs)
	fanout := sources.NewFanout(sourceClients, breakers, time.Duration(cfg.Sources.SearchTimeoutMS)*time.Millisecond)

	toolRegistry := tools.NewRegistry()
	tools.RegisterBuiltins(toolRegistry)

	assembler := assemble.New()

	auditSink := audit.NewSink(os.Stdout, audit.DefaultBatchSize)
	auditLogger := applicationaudit.New(phiDetector, auditSink)

	var liveKitService *livekit.Service
	if cfg.IsLiveKitConfigured() {
		liveKitService, err = livekit.NewService(&livekit.ServiceConfig{
			URL:                   cfg.LiveKit.URL,
			APIKey:                cfg.LiveKit.APIKey,
			APISecret:             cfg.LiveKit.APISecret,
			TokenValidityDuration: 6 * time.Hour,
		})
		if err != nil {
			slog.Warn("livekit service unavailable, voice room transport disabled", "error", err)
			liveKitService = nil
		} else {
			slog.Info("livekit room transport initialized", "url", cfg.LiveKit.URL)
		}
	}

	deps := &server.Dependencies{
		PHI:          phiClassifier,
		Intent:       intentClassifier,
		Selector:     selector,
		Fanout:       fanout,
		Reranker:     rerankStage,
		Router:       modelRouter,
		Assembler:    assembler,
		ToolRegistry: toolRegistry,
		ContextStore: contextStore,
		Degraded:     degradedController,
		Audit:        auditLogger,
		IDs:          idGen,
		RateLimiter:  limiter,
		Breakers:     breakers,
		ToolCalls:    toolCallStore,

		STTFactory: func() ports.STTClient {
			return speech.NewSTTAdapter(cfg.Voice.ASRUrl, cfg.Voice.SampleRate)
		},
		TTSFactory: func() ports.TTSClient {
			return speech.NewTTSAdapter(cfg.Voice.TTSUrl)
		},

		DefaultVoice:    cfg.Voice.TTSVoice,
		DefaultLanguage: "en",

		CORSOrigins: cfg.Server.CORSOrigins,

		LiveKit:    liveKitService,
		LiveKitURL: cfg.LiveKit.URL,
	}

	srv := server.New(deps, idGen.GenerateSessionID)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start(cfg.Server.Host, cfg.Server.Port)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		slog.Info("server stopped")
		return nil
	}
}
