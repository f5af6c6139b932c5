package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/ospreylabs/conduct/internal/analytics"
	"github.com/ospreylabs/conduct/internal/api"
	"github.com/ospreylabs/conduct/internal/bus"
	"github.com/ospreylabs/conduct/internal/config"
	"github.com/ospreylabs/conduct/internal/embedding"
	"github.com/ospreylabs/conduct/internal/gateway"
	"github.com/ospreylabs/conduct/internal/knowledge"
	"github.com/ospreylabs/conduct/internal/notify"
	"github.com/ospreylabs/conduct/internal/orchestrator"
	"github.com/ospreylabs/conduct/internal/provider"
	"github.com/ospreylabs/conduct/internal/task"
	"github.com/ospreylabs/conduct/internal/vcs"
	"github.com/ospreylabs/conduct/internal/vectorstore"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting conduct...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/conduct.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Provider registry
	registry := provider.NewRegistry(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.Config{
			ID: pc.ID, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey, Model: pc.Model,
			Timeout: cfg.RequestTimeout(),
		}
		switch provider.Kind(pc.Type) {
		case provider.KindOllama:
			provCfg.Kind = provider.KindOllama
			registry.Register(provider.NewOllamaProvider(provCfg, logger))
		case provider.KindOpenAI:
			provCfg.Kind = provider.KindOpenAI
			registry.Register(provider.NewOpenAIProvider(provCfg, logger))
		case provider.KindAnthropic:
			provCfg.Kind = provider.KindAnthropic
			registry.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}
	if cfg.Defaults.Provider != "" {
		registry.SetDefault(cfg.Defaults.Provider)
	}
	if registry.DefaultID() == "" {
		logger.Fatal("no providers configured")
	}

	// Event bus
	eventBus := bus.New(logger)

	// Task store
	if cfg.Database.Postgres.DSN == "" {
		logger.Fatal("postgres DSN is required")
	}
	taskStore, err := task.New(cfg.Database.Postgres.DSN, eventBus, logger)
	if err != nil {
		logger.Fatal("postgres unavailable", zap.Error(err))
	}
	if err := taskStore.Migrate(context.Background(), "migrations"); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	// Knowledge store
	embedder, err := embedding.New(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		logger.Fatal("embedding config invalid", zap.Error(err))
	}
	qdrant, err := vectorstore.NewClient(vectorstore.Config{
		Host: cfg.Database.Qdrant.Host,
		Port: cfg.Database.Qdrant.Port,
	})
	if err != nil {
		logger.Fatal("qdrant unavailable", zap.Error(err))
	}
	knowStore := knowledge.NewStore(embedder, qdrant, logger)

	// Analytics sink (optional)
	var sink *analytics.Sink
	if cfg.Database.Redis.URL != "" {
		s, aErr := analytics.New(cfg.Database.Redis.URL, cfg.Database.Redis.Stream, logger)
		if aErr != nil {
			logger.Warn("Redis unavailable, running without analytics", zap.Error(aErr))
		} else {
			sink = s
		}
	}

	// Version control collaborator (optional)
	var vc orchestrator.VCS
	if cfg.Repo.Dir != "" {
		vc = vcs.New(cfg.Repo.Dir, cfg.Repo.Remote, logger)
	}

	// Gateway and orchestrator
	gw := gateway.New(registry, gateway.Options{
		CacheMaxEntries: cfg.Cache.MaxEntries,
		CacheTTL:        cfg.CacheTTL(),
		CachePrefixLen:  cfg.Cache.PrefixLen,
		DefaultTemp:     cfg.Defaults.Temperature,
		DefaultTokens:   cfg.Defaults.MaxTokens,
	}, logger)
	orch := orchestrator.New(gw, registry, taskStore, knowStore, sink, vc, eventBus, cfg.Prompts.Dir, logger)

	// Chat notifiers (optional)
	var detachers []func()
	if cfg.Notify.Slack.Enabled && cfg.Notify.Slack.BotToken != "" {
		sn := notify.NewSlackNotifier(cfg.Notify.Slack.BotToken, cfg.Notify.Slack.Channel, logger)
		detachers = append(detachers, notify.Attach(eventBus, sn))
		logger.Info("Slack notifier attached")
	}
	var discordNotifier *notify.DiscordNotifier
	if cfg.Notify.Discord.Enabled && cfg.Notify.Discord.BotToken != "" {
		dn, dErr := notify.NewDiscordNotifier(cfg.Notify.Discord.BotToken, cfg.Notify.Discord.ChannelID, logger)
		if dErr != nil {
			logger.Warn("Discord unavailable", zap.Error(dErr))
		} else {
			discordNotifier = dn
			detachers = append(detachers, notify.Attach(eventBus, dn))
			logger.Info("Discord notifier attached")
		}
	}

	// HTTP server
	handler := api.NewHandler(orch, taskStore, logger)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("conduct listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down conduct...")
	srv.Shutdown(context.Background())
	for _, detach := range detachers {
		detach()
	}
	if discordNotifier != nil {
		discordNotifier.Close()
	}
	sink.Close()
	qdrant.Close()
	taskStore.Close()
}
