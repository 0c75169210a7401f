package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"skillforge/internal/api"
	"skillforge/internal/auth"
	"skillforge/internal/config"
	"skillforge/internal/logging"
	"skillforge/internal/mcp"
	"skillforge/internal/repository"
	"skillforge/internal/services"
	"skillforge/internal/tls"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	logger := logging.NewLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		return err
	}
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"agent_platform", cfg.AgentPlatform.BaseURL,
		"redis", cfg.Redis.Addr,
	)

	logger.Info("Starting SkillForge Personalization Service")

	dbPool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		return err
	}
	defer dbPool.Close()

	if err := repository.EnsureSchema(ctx, dbPool); err != nil {
		logger.Error("Failed to apply schema", "error", err)
		return err
	}
	logger.Info("Database connected")

	// Repository layer.
	workflowStore := repository.NewPostgresWorkflowStore(dbPool)
	subtaskStore := repository.NewPostgresSubtaskStore(dbPool)
	profileStore := repository.NewPostgresProfileStore(dbPool)
	templateStore := repository.NewPostgresTemplateStore(dbPool)
	historyStore := repository.NewPostgresHistoryStore(dbPool)

	// Trigger dedup. The reservation store is best-effort, so a failed ping is
	// a warning, not a startup failure.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unreachable, trigger dedup degraded", "error", err)
	}
	guard := services.NewRedisTriggerGuard(redisClient, cfg.Orchestrator.TriggerDedupTTL)

	// Service layer.
	agentClient := services.NewHTTPAgentClient(
		cfg.AgentPlatform.BaseURL,
		cfg.AgentPlatform.SharedSecret,
		cfg.AgentPlatform.RequestTimeout,
	)
	aggregator := services.NewAggregator(profileStore, templateStore, historyStore, subtaskStore)
	orch := services.NewOrchestrator(workflowStore, subtaskStore, aggregator, agentClient, guard,
		logger, services.OrchestratorOptions{
			StaleAfter:          cfg.Orchestrator.StalenessThreshold,
			EstimatedCompletion: cfg.Orchestrator.EstimatedCompletion,
		})
	logger.Info("Service layer initialized")

	// Echo server.
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("skillforge"))
	e.HTTPErrorHandler = api.ErrorHandler(logger)

	authz, err := auth.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize auth", "error", err)
		return err
	}

	api.NewServer(orch, logger).RegisterRoutes(e, authz)
	logger.Info("REST API handlers mounted")

	mcpServer := mcp.NewServer(orch)
	mcp.MountHTTPHandlers(e, mcpServer.GetMCPServer(), authz.RequireUser())
	logger.Info("MCP protocol handlers mounted")

	addr := cfg.ListenAddr()
	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
				logger.Error("TLS enabled but cert/key file not provided")
				serverErrors <- server.ListenAndServe()
				return
			}
			if created, err := tls.EnsureDevCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
				logger.Error("failed to provision dev certificate", "error", err)
			} else if created {
				logger.Info("Generated self-signed certificate", "cert", cfg.TLS.CertFile)
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
			return err
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}

		logger.Info("Server stopped gracefully")
	}
	return nil
}
