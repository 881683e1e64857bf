package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mediasift/mediasift/internal/classify"
	"github.com/mediasift/mediasift/internal/config"
	"github.com/mediasift/mediasift/internal/database"
	"github.com/mediasift/mediasift/internal/database/migrations"
	"github.com/mediasift/mediasift/internal/encoder"
	"github.com/mediasift/mediasift/internal/ffmpeg"
	internalhttp "github.com/mediasift/mediasift/internal/http"
	"github.com/mediasift/mediasift/internal/http/handlers"
	"github.com/mediasift/mediasift/internal/media"
	"github.com/mediasift/mediasift/internal/models"
	"github.com/mediasift/mediasift/internal/repository"
	"github.com/mediasift/mediasift/internal/scheduler"
	"github.com/mediasift/mediasift/internal/search"
	"github.com/mediasift/mediasift/internal/service"
	"github.com/mediasift/mediasift/internal/service/progress"
	"github.com/mediasift/mediasift/internal/startup"
	"github.com/mediasift/mediasift/internal/vectorstore"
	"github.com/mediasift/mediasift/internal/version"
	"github.com/mediasift/mediasift/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mediasift server",
	Long: `Start the mediasift server: catalog database, vector store, encoder
pool, task workers, filesystem watcher, and the HTTP API.

The server provides:
- REST API for search, indexing, tasks, and persons
- Health check endpoint
- OpenAPI documentation at /docs
- Prometheus metrics at /metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("data-dir", "", "Data directory for catalog, vectors, and cache")
	serveCmd.Flags().Int("workers", 0, "Number of concurrent task workers")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("storage.data_dir", serveCmd.Flags().Lookup("data-dir"))
	mustBindPFlag("queue.workers", serveCmd.Flags().Lookup("workers"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	if err := startup.PrepareDataDir(cfg.Storage); err != nil {
		return fmt.Errorf("preparing data directory: %w", err)
	}
	if removed, err := startup.CleanupStaleCacheFiles(logger, cfg.Storage.CacheDir, 24*time.Hour); err != nil {
		logger.Warn("cache cleanup failed", slog.Any("error", err))
	} else if removed > 0 {
		logger.Info("cleaned stale cache files on startup", slog.Int("removed", removed))
	}

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}
	defer db.Close()

	if err := migrations.Run(db.DB, logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	fileRepo := repository.NewFileRepository(db.DB)
	segmentRepo := repository.NewSegmentRepository(db.DB)
	taskRepo := repository.NewTaskRepository(db.DB)
	personRepo := repository.NewPersonRepository(db.DB)

	store, err := vectorstore.New(cfg.Storage.VectorsDir(), cfg.Vector, logger)
	if err != nil {
		return fmt.Errorf("opening vector store: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := encoder.NewPool(cfg.Encoder, logger)
	if err != nil {
		return fmt.Errorf("initializing encoder pool: %w", err)
	}
	pool.Start(ctx)
	defer pool.Close()

	// A missing ffmpeg only disables video and audio decomposition; images
	// and text still index.
	bin, err := ffmpeg.NewBinaryDetector(cfg.Media.FFmpegPath, cfg.Media.FFprobePath).Detect(ctx)
	if err != nil {
		logger.Warn("ffmpeg not found, video and audio ingestion disabled", slog.Any("error", err))
		bin = &ffmpeg.BinaryInfo{}
	} else {
		logger.Info("ffmpeg detected",
			slog.String("path", bin.FFmpegPath),
			slog.String("version", bin.Version))
	}
	decomposer := media.NewDecomposer(cfg.Media, bin, logger)

	registry := progress.NewRegistry()
	taskService := service.NewTaskService(taskRepo, segmentRepo, fileRepo, registry,
		cfg.Queue.MaxAttempts, int(cfg.Queue.Backoff.Seconds()), logger)
	ingestService := service.NewIngestService(*cfg, classify.New(), decomposer, pool, store,
		db, fileRepo, personRepo, registry, logger)
	scanService := service.NewScanService(taskService, fileRepo, cfg.Watcher.Recursive, logger)
	personService := service.NewPersonService(personRepo, pool, store, logger)

	router := search.NewRouter(cfg.Search, personRepo, logger)
	ranker, err := search.NewRanker(cfg.Search, cfg.Media.Accuracy.Milliseconds(), store, pool, fileRepo, logger)
	if err != nil {
		return fmt.Errorf("initializing ranker: %w", err)
	}
	searchService := service.NewSearchService(router, ranker, logger)

	executor := scheduler.NewExecutor(taskRepo, logger)
	executor.RegisterHandler(models.TaskKindIngestFile, scheduler.TaskHandlerFunc(ingestService.IngestFile))
	executor.RegisterHandler(models.TaskKindReindex, scheduler.TaskHandlerFunc(ingestService.Reindex))
	executor.RegisterHandler(models.TaskKindScanDir, scheduler.TaskHandlerFunc(scanService.ScanDirectory))
	executor.RegisterHandler(models.TaskKindRemovePath, scheduler.TaskHandlerFunc(ingestService.RemovePath))

	runner := scheduler.NewRunner(cfg.Queue, taskRepo, executor, logger).WithProgress(registry)
	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("starting task runner: %w", err)
	}
	defer runner.Stop()

	fsWatcher := watcher.New(cfg.Watcher, taskService, logger)
	if err := fsWatcher.Start(ctx); err != nil {
		return fmt.Errorf("starting filesystem watcher: %w", err)
	}
	defer fsWatcher.Stop()

	server := internalhttp.NewServer(cfg.Server, logger, version.Version)

	healthHandler := handlers.NewHealthHandler(version.Version).WithDB(db).WithEncoderPool(pool)
	healthHandler.Register(server.API())

	searchHandler := handlers.NewSearchHandler(searchService)
	searchHandler.Register(server.API())

	indexHandler := handlers.NewIndexHandler(taskService, fileRepo)
	indexHandler.Register(server.API())

	taskHandler := handlers.NewTaskHandler(taskService, runner)
	taskHandler.Register(server.API())

	personHandler := handlers.NewPersonHandler(personService)
	personHandler.Register(server.API())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting mediasift server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("data_dir", cfg.Storage.DataDir),
		slog.String("version", version.Version))

	return server.ListenAndServe(ctx)
}
