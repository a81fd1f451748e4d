package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/mneme/internal/config"
	"github.com/hyperjump/mneme/internal/embedding"
	"github.com/hyperjump/mneme/internal/ingest"
	"github.com/hyperjump/mneme/internal/memory"
	"github.com/hyperjump/mneme/internal/server"
	"github.com/hyperjump/mneme/internal/storage"
	"github.com/hyperjump/mneme/internal/vector"
	"github.com/hyperjump/mneme/pkg/utils"
)

const shutdownTimeout = 10 * time.Second

var serveDebug bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the memory server",
	Long: `Open the record store, rebuild the similarity index from it, then serve
the HTTP API and ingest the configured directories until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	rootCmd.AddCommand(serveCmd)
}

// components holds everything serve wires together.
type components struct {
	store    *storage.SQLiteStorage
	engine   *memory.Engine
	registry *prometheus.Registry
}

// Close releases the engine, which owns the store and embedder.
func (c *components) Close() error {
	return c.engine.Close()
}

// initializeComponents opens the store and builds an uninitialized engine.
func initializeComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath,
		storage.WithDriver(cfg.Storage.Driver),
		storage.WithQueryTimeout(cfg.Storage.QueryTimeout),
		storage.WithScanTimeout(cfg.Storage.ScanTimeout))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	index, err := vector.NewIndex(cfg.Index.Type, embedder.Dimensions())
	if err != nil {
		_ = embedder.Close()
		_ = store.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine, err := memory.NewEngine(store, embedder, index,
		memory.WithLogger(logger),
		memory.WithMetrics(memory.NewMetrics(reg)),
		memory.WithReplayRetries(cfg.Storage.ReplayRetries))
	if err != nil {
		_ = embedder.Close()
		_ = store.Close()
		return nil, err
	}
	return &components{store: store, engine: engine, registry: reg}, nil
}

// newLogger returns the development logger in debug mode, otherwise a production
// logger at the configured level.
func newLogger(cfg *config.Config, debug bool) (*zap.Logger, error) {
	if cfg.Debug || debug || cfg.LogLevel == "" {
		return utils.NewLogger(cfg.Debug || debug)
	}
	return utils.NewLoggerAtLevel(cfg.LogLevel)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, resolvedConfigPath, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(cfg, serveDebug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("config loaded",
		zap.String("path", resolvedConfigPath),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
		zap.String("database", cfg.Storage.DatabasePath))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", zap.Error(err))
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}()

	if err := c.engine.Replay(ctx); err != nil {
		logger.Error("replay failed", zap.String("kind", memory.Kind(err)), zap.Error(err))
		return err
	}

	return serve(ctx, cfg, logger, c)
}

// serve runs the API server and directory ingestion until ctx is done or one of them fails.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger, c *components) error {
	srv := server.NewServer(c.engine, c.store, cfg, logger, server.WithRegistry(c.registry))
	ingester := ingest.New(c.engine, c.store, cfg.Ingest, ingest.WithLogger(logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return ingester.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
	return g.Wait()
}
