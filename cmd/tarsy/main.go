// TARSy orchestrator server - provides HTTP/WebSocket API and manages LLM interactions.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sentinelai/engine/pkg/api"
	"github.com/sentinelai/engine/pkg/config"
	"github.com/sentinelai/engine/pkg/database"
	"github.com/sentinelai/engine/pkg/events"
	"github.com/sentinelai/engine/pkg/masking"
	"github.com/sentinelai/engine/pkg/mcp"
	"github.com/sentinelai/engine/pkg/providers"
	"github.com/sentinelai/engine/pkg/queue"
	"github.com/sentinelai/engine/pkg/runbook"
	"github.com/sentinelai/engine/pkg/services"
	tarsyslack "github.com/sentinelai/engine/pkg/slack"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	dashboardDir := flag.String("dashboard-dir",
		getEnv("DASHBOARD_DIR", ""),
		"Path to the built dashboard assets (empty disables static serving)")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpAddr := getEnv("HTTP_ADDR", ":8080")

	log.Printf("Starting TARSy")
	log.Printf("HTTP address: %s", httpAddr)
	log.Printf("Config directory: %s", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("Error closing database client: %v", err)
		}
	}()
	entClient := dbClient.Client
	log.Println("Connected to PostgreSQL database")

	// LLM client for the default provider. Stage/chain-level overrides still
	// resolve their own config.LLMProviderConfig, but a single client handles
	// dispatch since each Generate call carries its own model/provider config.
	defaultProvider, err := cfg.GetLLMProvider(cfg.Defaults.LLMProvider)
	if err != nil {
		log.Fatalf("Failed to resolve default LLM provider %q: %v", cfg.Defaults.LLMProvider, err)
	}
	llmClient, err := providers.New(ctx, defaultProvider)
	if err != nil {
		log.Fatalf("Failed to build LLM client for provider %q: %v", cfg.Defaults.LLMProvider, err)
	}

	// Event publishing and WebSocket streaming.
	eventPublisher := events.NewEventPublisher(dbClient.DB())
	eventService := services.NewEventService(entClient)
	eventAdapter := events.NewEventServiceAdapter(eventService)
	connManager := events.NewConnectionManager(eventAdapter, 5*time.Second)

	notifyConnStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dbConfig.Host, dbConfig.Port, dbConfig.User, dbConfig.Password, dbConfig.Database, dbConfig.SSLMode,
	)
	notifyListener := events.NewNotifyListener(notifyConnStr, connManager)
	if err := notifyListener.Start(ctx); err != nil {
		log.Fatalf("Failed to start event notify listener: %v", err)
	}
	connManager.SetListener(notifyListener)
	defer notifyListener.Stop(context.Background())

	// MCP client factory — masking service feeds tool-result redaction.
	maskingCfg := masking.AlertMaskingConfig{}
	if cfg.Defaults.AlertMasking != nil {
		maskingCfg.Enabled = cfg.Defaults.AlertMasking.Enabled
		maskingCfg.PatternGroup = cfg.Defaults.AlertMasking.PatternGroup
	}
	maskingService := masking.NewMaskingService(cfg.MCPServerRegistry, maskingCfg)
	var mcpFactory *mcp.ClientFactory
	if len(cfg.MCPServerRegistry.GetAll()) > 0 {
		mcpFactory = mcp.NewClientFactory(cfg.MCPServerRegistry, maskingService)
	}

	warningsService := services.NewSystemWarningsService()
	var healthMonitor *mcp.HealthMonitor
	if mcpFactory != nil {
		healthMonitor = mcp.NewHealthMonitor(mcpFactory, cfg.MCPServerRegistry, warningsService)
		healthMonitor.Start(ctx)
	}

	// Optional Slack notifications.
	var slackService *tarsyslack.Service
	if cfg.Slack != nil && cfg.Slack.Enabled {
		slackService = tarsyslack.NewService(tarsyslack.ServiceConfig{
			Token:        os.Getenv(cfg.Slack.TokenEnv),
			Channel:      cfg.Slack.Channel,
			DashboardURL: cfg.DashboardURL,
		})
	}

	runbookService := runbook.NewService(cfg.Runbooks, "", cfg.Defaults.Runbook)

	// Domain services.
	alertService := services.NewAlertService(entClient, cfg.ChainRegistry, cfg.Defaults, maskingService)
	sessionService := services.NewSessionService(entClient, cfg.ChainRegistry, cfg.MCPServerRegistry)
	chatService := services.NewChatService(entClient)
	messageService := services.NewMessageService(entClient)
	interactionService := services.NewInteractionService(entClient, messageService)
	stageService := services.NewStageService(entClient)
	timelineService := services.NewTimelineService(entClient)

	// Session execution pipeline.
	sessionExecutor := queue.NewRealSessionExecutor(cfg, entClient, llmClient, eventPublisher, mcpFactory, runbookService)

	podID := getEnv("POD_ID", fmt.Sprintf("tarsy-%d", os.Getpid()))
	workerPool := queue.NewWorkerPool(podID, entClient, cfg.Queue, sessionExecutor, eventPublisher, slackService)
	if err := workerPool.Start(ctx); err != nil {
		log.Fatalf("Failed to start worker pool: %v", err)
	}

	chatExecutor := queue.NewChatMessageExecutor(
		cfg, entClient, llmClient, mcpFactory, eventPublisher,
		queue.ChatMessageExecutorConfig{
			SessionTimeout:    cfg.Queue.SessionTimeout,
			HeartbeatInterval: cfg.Queue.HeartbeatInterval,
		},
		runbookService,
	)

	// HTTP/WebSocket API server.
	server := api.NewServer(cfg, dbClient, alertService, sessionService, workerPool, connManager)
	server.SetChatService(chatService)
	server.SetChatExecutor(chatExecutor)
	server.SetEventPublisher(eventPublisher)
	server.SetInteractionService(interactionService)
	server.SetStageService(stageService)
	server.SetTimelineService(timelineService)
	server.SetRunbookService(runbookService)
	if healthMonitor != nil {
		server.SetHealthMonitor(healthMonitor)
	}
	server.SetWarningsService(warningsService)
	if *dashboardDir != "" {
		server.SetDashboardDir(*dashboardDir)
	}

	if err := server.ValidateWiring(); err != nil {
		log.Fatalf("Server wiring incomplete: %v", err)
	}

	go func() {
		if err := server.Start(httpAddr); err != nil {
			slog.Error("HTTP server exited", "error", err)
		}
	}()
	log.Printf("HTTP server listening on %s", httpAddr)

	<-ctx.Done()
	log.Println("Shutdown signal received, stopping gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}
	chatExecutor.Stop()
	workerPool.Stop()

	log.Println("TARSy stopped")
}
