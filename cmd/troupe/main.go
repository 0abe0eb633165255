// Troupe orchestrator server: exposes the HTTP API, runs agent teams
// against the KVS fabric, and keeps stream retention in check.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/troupehq/troupe/pkg/agent"
	"github.com/troupehq/troupe/pkg/api"
	"github.com/troupehq/troupe/pkg/cleanup"
	"github.com/troupehq/troupe/pkg/config"
	"github.com/troupehq/troupe/pkg/events"
	"github.com/troupehq/troupe/pkg/kvs"
	"github.com/troupehq/troupe/pkg/llm"
	"github.com/troupehq/troupe/pkg/notify"
	"github.com/troupehq/troupe/pkg/session"
	"github.com/troupehq/troupe/pkg/store"
	"github.com/troupehq/troupe/pkg/team"
	"github.com/troupehq/troupe/pkg/tool"
	"github.com/troupehq/troupe/pkg/trace"
	"github.com/troupehq/troupe/pkg/version"
	"github.com/troupehq/troupe/pkg/worker"
)

const shutdownGrace = 30 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting troupe", "version", version.Full(), "config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	stats := cfg.Stats()
	slog.Info("Configuration loaded", "teams", stats.Teams, "roles", stats.Roles)

	// 2. Connect the key-value store
	var kv kvs.Store
	switch cfg.KVS.Backend {
	case "memory":
		kv = kvs.NewMemory()
		slog.Info("Using in-memory KVS backend")
	default:
		kv, err = kvs.NewRedis(ctx, kvs.Config{
			Addr:     cfg.KVS.Addr,
			Password: os.Getenv(cfg.KVS.PasswordEnv),
			DB:       cfg.KVS.DB,
			PoolSize: cfg.KVS.PoolSize,
		})
		if err != nil {
			slog.Error("Failed to connect to Redis", "addr", cfg.KVS.Addr, "error", err)
			os.Exit(1)
		}
		slog.Info("Connected to Redis", "addr", cfg.KVS.Addr)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			slog.Error("Error closing KVS", "error", err)
		}
	}()

	// 3. Create the model client
	client := llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:     os.Getenv(cfg.LLM.APIKeyEnv),
		BaseURL:    cfg.LLM.BaseURL,
		MaxRetries: cfg.LLM.MaxRetries,
		RetryDelay: cfg.LLM.RetryDelay,
	})

	// 4. Initialize tracing
	tracer, err := trace.New(ctx, cfg.Tracing)
	if err != nil {
		slog.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	if tracer != nil {
		slog.Info("Tracing enabled", "exporter", cfg.Tracing.Exporter)
	}

	// 5. Event streaming and stores
	publisher := events.NewPublisher(kv, cfg.Retention.StreamRetention)
	subscriber := events.NewSubscriber(kv)
	steps := store.NewStepStore(kv)
	conversations := store.NewConversationStore(kv)
	metas := store.NewMetaStore(kv)
	playbooks := store.NewPlaybookStore(kv)

	// 6. Tooling
	memory := tool.NewMemoryManager(kv, client, cfg.LLM.AnalysisModel)
	executor := tool.NewExecutor(publisher, memory)
	web := tool.NewWebTools(tool.WebConfig{
		CrawlerPerMinute: cfg.WebTools.CrawlerPerMinute,
		SearchPerMinute:  cfg.WebTools.SearchPerMinute,
		RequestTimeout:   cfg.WebTools.RequestTimeout,
		SearchEndpoint:   cfg.WebTools.SearchEndpoint,
		SearchAPIKey:     os.Getenv(cfg.WebTools.SearchAPIKeyEnv),
	})
	broker := session.NewInputBroker()
	cache := session.NewCache(0)

	// 7. Chat runner and dispatcher
	notifier := notify.New(cfg.Notify)
	runner := team.NewService(cfg.Teams, team.Deps{
		KV:            kv,
		LLM:           client,
		Publisher:     publisher,
		Executor:      executor,
		Steps:         steps,
		Conversation:  conversations,
		Playbook:      agent.NewPlaybookGenerator(client, cfg.LLM.AnalysisModel, playbooks, publisher),
		Memory:        memory,
		Broker:        broker,
		Web:           web,
		Tracer:        tracer,
		DefaultModel:  cfg.LLM.DefaultModel,
		AnalysisModel: cfg.LLM.AnalysisModel,
	}, cache, metas, notifier)
	dispatcher := worker.New()

	// 8. Retention janitor
	janitor := cleanup.NewService(cfg.Retention, kv, metas)
	janitor.Start(ctx)

	// 9. HTTP server
	httpServer := api.NewServer(cfg.Server, api.Deps{
		Teams:      cfg.Teams,
		KV:         kv,
		Metas:      metas,
		Playbooks:  playbooks,
		Subscriber: subscriber,
		Broker:     broker,
		Runner:     runner,
		Dispatcher: dispatcher,
	})

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr())
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	slog.Info("Troupe started successfully")

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: API first so no new chats arrive, then the
	// dispatcher waits out in-flight runs, then background services.
	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	httpCancel()

	dispatcher.Stop(shutdownGrace)
	janitor.Stop()
	cache.Drain()

	if err := tracer.Shutdown(ctx); err != nil {
		slog.Error("Tracer shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
