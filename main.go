package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/tablemend/engine/pkg/adapters/datasource"
	"github.com/tablemend/engine/pkg/auth"
	"github.com/tablemend/engine/pkg/config"
	"github.com/tablemend/engine/pkg/database"
	"github.com/tablemend/engine/pkg/handlers"
	"github.com/tablemend/engine/pkg/llm"
	"github.com/tablemend/engine/pkg/logging"
	enginemcp "github.com/tablemend/engine/pkg/mcp"
	"github.com/tablemend/engine/pkg/mcp/tools"
	"github.com/tablemend/engine/pkg/repositories"
	"github.com/tablemend/engine/pkg/retry"
	"github.com/tablemend/engine/pkg/services"
	"github.com/tablemend/engine/pkg/services/stagerun"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("bind_addr", cfg.BindAddr),
		zap.String("port", cfg.Port),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("datasource_type", cfg.Datasource.Type),
		zap.Bool("ai_available", cfg.AI.IsAvailable()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Metadata store holding per-column analysis state.
	var db *database.DB
	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		var connErr error
		db, connErr = database.NewConnection(ctx, &database.Config{
			URL:            cfg.Database.URL(),
			MaxConnections: cfg.Database.MaxConnections,
		})
		return connErr
	})
	if err != nil {
		logger.Fatal("Failed to connect to metadata store", zap.Error(err))
	}
	defer db.Close()

	migrationDB, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Analyzed source database.
	executor, err := datasource.NewQueryExecutor(ctx, &cfg.Datasource)
	if err != nil {
		logger.Fatal("Failed to connect to datasource", zap.Error(err))
	}
	defer func() { _ = executor.Close() }()

	datasourceID, err := cfg.Datasource.DatasourceID()
	if err != nil {
		logger.Fatal("Invalid datasource ID", zap.Error(err))
	}

	// Approver verification.
	jwksClient, err := auth.NewJWKSClient(&auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		logger.Fatal("Failed to initialize JWKS client", zap.Error(err))
	}
	defer jwksClient.Close()
	verifier := auth.NewApproverVerifier(jwksClient, cfg.Auth.EnableVerification)

	// Insight generation endpoint, if configured.
	var aiClient llm.Client
	if cfg.AI.IsAvailable() {
		aiClient, err = llm.NewClient(&cfg.AI, logger)
		if err != nil {
			logger.Fatal("Failed to create AI client", zap.Error(err))
		}
	} else {
		logger.Warn("No AI endpoint configured; insight generation disabled")
		aiClient = llm.NewDisabledClient()
	}

	repo := repositories.NewAnalysisStateRepository(db)
	snapshots := services.NewSnapshotEngine(executor, logger)
	planner := services.NewPlanner(repo, executor, snapshots, logger)
	svc := stagerun.Services{
		Scanner:  services.NewScanner(repo, executor, snapshots, cfg.Repair.SampleSize, logger),
		Planner:  planner,
		Gate:     services.NewApprovalGate(repo, verifier, logger),
		Applier:  services.NewApplier(repo, executor, snapshots, planner, cfg.Repair.FixingTableSuffix, logger),
		Insights: services.NewInsightService(repo, aiClient, logger),
	}

	var stageOverrides map[string]int
	if cfg.Repair.CapabilityManifest != "" {
		stageOverrides, err = stagerun.LoadStageManifest(cfg.Repair.CapabilityManifest)
		if err != nil {
			logger.Fatal("Failed to load capability manifest", zap.Error(err))
		}
	}

	mcpServer := enginemcp.NewServer("tablemend-engine", cfg.Version, logger)
	tools.RegisterHealthTool(mcpServer.MCP(), cfg.Version)
	tools.RegisterRepairTools(mcpServer.MCP(), &tools.RepairToolDeps{
		DatasourceID:   datasourceID,
		Services:       svc,
		Runner:         stagerun.NewRunner(repo, cfg.Repair.LogFlushInterval(), logger),
		StageOverrides: stageOverrides,
		Logger:         logger,
	})

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	mux.Handle("/mcp", mcpServer.NewStreamableHTTPServer())

	httpServer := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		logger.Info("Starting tablemend-engine",
			zap.String("addr", httpServer.Addr),
			zap.String("version", cfg.Version))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}
