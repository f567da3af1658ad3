package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/asakaida/provgraph/internal/handlers"
	"github.com/asakaida/provgraph/internal/infrastructure/cache"
	"github.com/asakaida/provgraph/internal/infrastructure/config"
	"github.com/asakaida/provgraph/internal/infrastructure/database"
	"github.com/asakaida/provgraph/internal/infrastructure/logging"
	"github.com/asakaida/provgraph/internal/infrastructure/metrics"
	"github.com/asakaida/provgraph/internal/repositories"
	"github.com/asakaida/provgraph/internal/repositories/memory"
	"github.com/asakaida/provgraph/internal/repositories/postgres"
	"github.com/asakaida/provgraph/internal/services"
	"github.com/asakaida/provgraph/internal/services/graphsync"
	"github.com/asakaida/provgraph/internal/services/lineage"
	"github.com/asakaida/provgraph/pkg/cache/memorycache"
)

const defaultEnv = "dev"

// backend bundles the storage-side components selected by STORAGE_DRIVER
type backend struct {
	provenance repositories.ProvenanceRepository
	traversal  repositories.TraversalRepository
	tokens     repositories.ChangeTokenProvider
	revisions  services.RevisionObserver
	verifier   *graphsync.Verifier
	closers    []func() error
}

func (b *backend) close(logger *zap.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.Warn("error during shutdown", zap.Error(err))
		}
	}
}

func main() {
	// Get environment from ENV variable or use default
	env := os.Getenv("ENV")
	if env == "" {
		env = defaultEnv
	}

	if err := config.InitConfig(env); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var (
		b   *backend
		err error
	)
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		b, err = newMemoryBackend(cfg, logger)
	default:
		b, err = newPostgresBackend(ctx, cfg, logger)
	}
	if err != nil {
		return err
	}
	defer b.close(logger)

	// Metrics
	collector := metrics.NewCollector()
	exporter := metrics.NewPrometheusExporter(collector, nil)

	lineageOpts := []services.LineageOption{
		services.WithObserver(exporter),
		services.WithLogger(logger.Named("lineage")),
	}
	if cfg.Cache.Enabled {
		resultCache, err := memorycache.New(&memorycache.Config{
			MaxSizeBytes:  cfg.Cache.MaxMemoryBytes,
			DefaultTTL:    time.Duration(cfg.Cache.TTLMinutes) * time.Minute,
			EnableMetrics: cfg.Cache.Metrics,
		})
		if err != nil {
			return fmt.Errorf("failed to create cache: %w", err)
		}
		collector.SetCache(resultCache)
		lineageOpts = append(lineageOpts, services.WithCache(resultCache, b.tokens))
		logger.Info("traversal cache enabled",
			zap.Int64("max_memory_bytes", cfg.Cache.MaxMemoryBytes),
			zap.Int("ttl_minutes", cfg.Cache.TTLMinutes))
	}

	lineageService, err := services.NewLineageService(b.traversal, services.LineageServiceConfig{
		DefaultMaxDepth: cfg.Traversal.DefaultMaxDepth,
		MaxDepth:        cfg.Traversal.MaxDepth,
	}, lineageOpts...)
	if err != nil {
		return fmt.Errorf("failed to create lineage service: %w", err)
	}
	provenanceService := services.NewProvenanceService(b.provenance, b.verifier, b.revisions, logger.Named("provenance"))

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		logging.UnaryServerInterceptor(logger.Named("grpc")),
		metrics.UnaryServerInterceptor(collector, exporter),
	))
	handlers.RegisterLineageServer(grpcServer, handlers.NewLineageHandler(lineageService, logger))
	handlers.RegisterProvenanceServer(grpcServer, handlers.NewProvenanceHandler(provenanceService, logger))

	// Register reflection service (for grpcurl, etc.)
	reflection.Register(grpcServer)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 2)
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", addr),
			zap.String("storage", cfg.Storage.Driver), zap.String("traversal", cfg.Traversal.Mode))
		if err := grpcServer.Serve(listener); err != nil {
			serverErrors <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	go func() {
		logger.Info("metrics server listening", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("metrics server error: %w", err)
		}
	}()
	go updateGauges(ctx, exporter)

	select {
	case err := <-serverErrors:
		grpcServer.Stop()
		return err
	case <-ctx.Done():
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
		logger.Info("gRPC server stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, forcing stop")
		grpcServer.Stop()
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to stop metrics server", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func updateGauges(ctx context.Context, exporter *metrics.PrometheusExporter) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			exporter.Update()
		}
	}
}

// newMemoryBackend serves everything from one in-process store. The mirror is always maintained.
func newMemoryBackend(cfg *config.Config, logger *zap.Logger) (*backend, error) {
	if cfg.Traversal.Mode == config.TraversalDatabase {
		logger.Info("memory storage has no SQL traversal functions, using the engine")
	}
	store, err := memory.NewStore()
	if err != nil {
		return nil, err
	}
	b := &backend{
		provenance: store,
		traversal:  lineage.NewEngine(store),
		tokens:     store,
		closers:    []func() error{store.Close},
	}
	if cfg.Graph.MirrorEnabled {
		b.verifier = graphsync.NewVerifier(store, store)
	}
	return b, nil
}

func newPostgresBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, error) {
	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		return nil, err
	}
	b := &backend{closers: []func() error{pg.Close}}
	logger.Info("connected to database",
		zap.String("user", cfg.Database.User),
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.Database))

	if err := pg.RunMigrations(); err != nil {
		b.close(logger)
		return nil, err
	}

	repo := postgres.NewPostgresProvenanceRepository(pg.DB)
	b.provenance = repo

	switch cfg.Traversal.Mode {
	case config.TraversalEngine:
		b.traversal = lineage.NewEngine(postgres.NewPostgresGraphReader(pg.DB))
	default:
		b.traversal = postgres.NewPostgresTraversalRepository(pg.DB)
	}

	if cfg.Graph.MirrorEnabled {
		installer, err := graphsync.NewInstaller(pg.DB, cfg.Graph.Name, logger)
		if err != nil {
			b.close(logger)
			return nil, err
		}
		installed, err := installer.Installed(ctx)
		if err != nil {
			b.close(logger)
			return nil, err
		}
		if !installed {
			if err := installer.Install(ctx, true); err != nil {
				b.close(logger)
				return nil, fmt.Errorf("failed to install graph mirror: %w", err)
			}
		}
		exec := postgres.NewAGEGraphExecutor(pg.DB, cfg.Graph.Name)
		b.closers = append(b.closers, exec.Close)
		b.verifier = graphsync.NewVerifier(repo, exec)
	}

	snapshots := cache.NewSnapshotManager(pg.DB, cfg.Database.ConnectionString(), time.Minute, logger.Named("snapshot"))
	if err := snapshots.Start(ctx); err != nil {
		b.close(logger)
		return nil, fmt.Errorf("failed to start change listener: %w", err)
	}
	b.closers = append(b.closers, snapshots.Stop)
	b.tokens = snapshots
	b.revisions = snapshots
	return b, nil
}
