package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/p-blackswan/portfolio-agent/internal/assistant"
	"github.com/p-blackswan/portfolio-agent/internal/config"
	"github.com/p-blackswan/portfolio-agent/internal/executor"
	"github.com/p-blackswan/portfolio-agent/internal/health"
	"github.com/p-blackswan/portfolio-agent/internal/ledger"
	"github.com/p-blackswan/portfolio-agent/internal/llm"
	"github.com/p-blackswan/portfolio-agent/internal/metrics"
	"github.com/p-blackswan/portfolio-agent/internal/mgmt"
	"github.com/p-blackswan/portfolio-agent/internal/notify"
	"github.com/p-blackswan/portfolio-agent/internal/orchestrator"
	"github.com/p-blackswan/portfolio-agent/internal/seed"
	"github.com/p-blackswan/portfolio-agent/internal/store"
	"github.com/p-blackswan/portfolio-agent/internal/validate"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("database", cfg.DatabasePath).
		Str("llm_provider", cfg.LLMProvider).
		Str("mgmt_addr", cfg.MgmtListenAddr).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Msg("starting portfolio agent")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.New(cfg.DatabasePath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	if cfg.SeedEnabled() {
		if _, err := seed.Apply(ctx, db, logger); err != nil {
			logger.Error().Err(err).Msg("demo seed failed (non-fatal)")
		}
	}

	graph, err := db.LoadGraph(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load portfolio")
	}

	led := ledger.New(db, logger)
	if err := led.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to load undo ledger")
	}

	ex := executor.New(executor.Config{
		TaskDueDays:    cfg.TaskDueDays,
		SubtaskDueDays: cfg.SubtaskDueDays,
	}, logger)
	orch := orchestrator.New(validate.New(), ex, led, logger)
	orch.SetPersister(db)
	orch.Load(graph)

	logger.Info().
		Int("projects", len(graph.Projects)).
		Int("people", len(graph.People)).
		Int("deltas", led.Len()).
		Msg("portfolio loaded")

	provider := newProvider(cfg, logger)
	asst := assistant.New(provider, orch, assistant.Config{
		MaxAttempts: cfg.AssistantMaxAttempts,
		MaxTokens:   cfg.LLMMaxTokens,
	}, logger)

	m := metrics.New()
	asst.SetAttemptHook(m.RecordAttempt)
	orch.AddObserver(m)
	orch.AddObserver(store.NewAuditObserver(db, logger))

	callbacks := mgmt.NewCallbackDelivery(10*time.Second, 3, logger)
	turnEngine := mgmt.NewTurnEngine(mgmt.TurnEngineConfig{
		Workers:   cfg.MgmtWorkers,
		QueueSize: 1000,
		Timeout:   cfg.LLMTimeout * time.Duration(cfg.AssistantMaxAttempts+1),
	}, asst, callbacks, logger)
	turnEngine.SetDurationHook(m.ObserveTurn)
	orch.AddObserver(turnEngine)

	checker := health.NewChecker(logger)
	checker.Register("database", health.PingCheck(db))
	checker.Register("slack", health.ConfiguredCheck(cfg.SlackEnabled()))

	handlers := mgmt.NewHandlers(turnEngine, orch, checker, logger)
	handlers.SetAuditReader(db)

	apiKeys, _ := cfg.APIKeyList() // checked by Validate
	principals := make(map[string]mgmt.Principal, len(apiKeys))
	for _, k := range apiKeys {
		principals[k.Key] = mgmt.Principal{Name: k.Name, Role: mgmt.Role(k.Role)}
	}

	mgmtServer := mgmt.NewServer(mgmt.ServerConfig{
		ListenAddr: cfg.MgmtListenAddr,
		AuthConfig: mgmt.AuthConfig{
			Mode:   cfg.MgmtAuthMode,
			APIKey: cfg.MgmtAPIKey,
			Keys:   principals,
		},
		RateLimit: mgmt.RateLimitConfig{
			RPS:   cfg.MgmtRateLimitRPS,
			Burst: cfg.MgmtRateLimitBurst,
		},
		CORSOrigins: cfg.CORSOriginList(),
	}, handlers, m, logger)

	g, gctx := errgroup.WithContext(ctx)

	turnEngine.Start(gctx)

	g.Go(func() error {
		return mgmtServer.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		return mgmtServer.Shutdown()
	})

	if cfg.SlackEnabled() {
		notifier := notify.NewSlack(cfg.SlackBotToken, cfg.SlackOutcomeChannel, logger)
		orch.AddObserver(notifier)
		g.Go(func() error {
			return notifier.Run(gctx)
		})
		logger.Info().Str("channel", cfg.SlackOutcomeChannel).Msg("Slack outcome notifications enabled")
	} else {
		logger.Info().Msg("Slack not configured, outcome notifications disabled")
	}

	g.Go(func() error {
		runRetention(gctx, db, cfg, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("service error")
	}

	turnEngine.Stop()
	logger.Info().Msg("portfolio agent stopped")
}

func newProvider(cfg *config.Config, logger zerolog.Logger) llm.Provider {
	client := &http.Client{Timeout: cfg.LLMTimeout}

	switch cfg.LLMProvider {
	case config.ProviderAzure:
		return llm.NewAzureProvider(llm.AzureOptions{
			APIKey:     cfg.AzureOpenAIAPIKey,
			Endpoint:   cfg.AzureOpenAIEndpoint,
			Deployment: cfg.AzureOpenAIDeployment,
			APIVersion: cfg.AzureOpenAIAPIVersion,
			MaxTokens:  cfg.LLMMaxTokens,
			HTTPClient: client,
		}, logger)
	case config.ProviderAnthropic:
		model := cfg.LLMModel
		if strings.HasPrefix(model, "gpt-") {
			model = "" // LLM_MODEL left at the OpenAI default
		}
		return llm.NewAnthropicProvider(cfg.AnthropicAPIKey, logger,
			llm.WithAnthropicModel(model),
			llm.WithAnthropicMaxTokens(cfg.LLMMaxTokens),
			llm.WithAnthropicHTTPClient(client),
		)
	default:
		return llm.NewOpenAIProvider(llm.OpenAIOptions{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.LLMModel,
			MaxTokens:  cfg.LLMMaxTokens,
			HTTPClient: client,
		}, logger)
	}
}

// runRetention prunes old audit rows and undone deltas once an hour.
func runRetention(ctx context.Context, db *store.Store, cfg *config.Config, logger zerolog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := db.RunRetention(ctx, cfg.AuditRetention, cfg.DeltaRetention); err != nil {
				logger.Warn().Err(err).Msg("retention run failed")
			}
		}
	}
}
