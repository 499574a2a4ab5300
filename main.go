package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-analyst/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-analyst/pkg/adapters/datasource/duckdbfile"
	_ "github.com/ekaya-inc/ekaya-analyst/pkg/adapters/datasource/mysql"
	_ "github.com/ekaya-inc/ekaya-analyst/pkg/adapters/datasource/postgres"
	_ "github.com/ekaya-inc/ekaya-analyst/pkg/adapters/datasource/sqlite"
	"github.com/ekaya-inc/ekaya-analyst/pkg/businesscontext"
	"github.com/ekaya-inc/ekaya-analyst/pkg/config"
	"github.com/ekaya-inc/ekaya-analyst/pkg/engine"
	"github.com/ekaya-inc/ekaya-analyst/pkg/handlers"
	"github.com/ekaya-inc/ekaya-analyst/pkg/logging"
	"github.com/ekaya-inc/ekaya-analyst/pkg/mcp"
	"github.com/ekaya-inc/ekaya-analyst/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-analyst/pkg/repositories"
	"github.com/ekaya-inc/ekaya-analyst/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("workspace_root", cfg.Engine.WorkspaceRoot),
		zap.String("catalog", cfg.Datasources.CatalogPath),
		zap.Bool("in_memory", cfg.Engine.InMemory),
		zap.Int("pool_max_conns", cfg.Engine.PoolMaxConns))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	manager := engine.NewManager(engine.ManagerConfig{
		PoolMaxConns:    cfg.Engine.PoolMaxConns,
		AcquireTimeout:  cfg.Engine.AcquireTimeout,
		IdleTTL:         cfg.Engine.IdleTTL(),
		CleanupInterval: cfg.Engine.CleanupInterval,
		InMemory:        cfg.Engine.InMemory,
		Threads:         cfg.Engine.Threads,
		MemoryLimit:     cfg.Engine.MemoryLimit,
		Extensions:      cfg.Engine.Extensions,
	}, logger)
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Error("Failed to close instance manager", zap.Error(err))
		}
	}()

	repo := repositories.NewFileDatasourceRepository(cfg.Datasources.CatalogPath)
	businessContext := businesscontext.NewService(cfg.BusinessContext, logger)

	materializer := services.NewViewMaterializer(&http.Client{Timeout: cfg.Sheets.FetchTimeout}, businessContext, logger)
	attacher := services.NewForeignAttacher(cfg.Foreign, businessContext, logger)
	logger.Debug("Foreign adapters registered", zap.Any("types", datasource.Types()))

	mcpServer := mcp.NewServer("ekaya-analyst", cfg.Version, manager, &tools.AnalystToolDeps{
		Initializer:      services.NewInitializerService(manager, repo, materializer, attacher, cfg.Foreign.MaxParallel, logger),
		Listing:          services.NewListingService(manager, logger),
		Query:            services.NewQueryService(manager, logger),
		SchemaExtraction: services.NewSchemaExtractionService(manager, repo, attacher, logger),
		BusinessContext:  businessContext,
		WorkspaceRoot:    cfg.Engine.WorkspaceRoot,
	}, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, manager, logger).RegisterRoutes(mux)
	handlers.NewMCPHandler(mcpServer, logger).RegisterRoutes(mux)

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler: mux,
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		logger.Info("Starting ekaya-analyst", zap.String("addr", srv.Addr), zap.String("version", cfg.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		logger.Info("Shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
