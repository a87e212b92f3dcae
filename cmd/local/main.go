package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"validator-backend/internal/api"
	"validator-backend/internal/collector"
	"validator-backend/internal/config"
	"validator-backend/internal/database"
	"validator-backend/internal/groundtruth"
	"validator-backend/internal/messaging"
	"validator-backend/internal/reputation"
	"validator-backend/internal/rewards"
	"validator-backend/internal/storage"
	"validator-backend/internal/transport"
	"validator-backend/internal/validator"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"
)

// Local mode runs the whole validator in one process: sqlite instead of
// postgres, an in-memory queue instead of RabbitMQ, and a directory instead
// of S3. Scoring semantics are identical to the deployed split.
type Config struct {
	Root           string `env:"LOCAL_ROOT" envDefault:"./validator-data"`
	Port           int    `env:"PORT" envDefault:"8001"`
	RewardConfig   string `env:"REWARD_CONFIG"`
	GroundTruthURL string `env:"GROUND_TRUTH_URL,notEmpty,required"`

	SyntheticInterval time.Duration `env:"SYNTHETIC_INTERVAL" envDefault:"5m"`
	SyntheticSource   string        `env:"SYNTHETIC_SOURCE" envDefault:"x"`
}

const archiveBucket = "round-archives"

func createDatabase(root string) *gorm.DB {
	db, err := database.NewDatabase(filepath.Join(root, "validator.db"))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	return db
}

func createServer(handler *api.BackendService, port int) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	handler.AddRoutes(r)

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating directory for log file: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.Root, "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	slog.Info("starting local validator", "root", cfg.Root, "port", cfg.Port)

	rewardCfg, err := config.LoadRewardConfig(cfg.RewardConfig)
	if err != nil {
		log.Fatalf("Failed to load reward config: %v", err)
	}

	db := createDatabase(cfg.Root)

	objectStore, err := storage.NewLocalObjectStore(filepath.Join(cfg.Root, "storage"))
	if err != nil {
		log.Fatalf("Failed to create storage: %v", err)
	}
	if err := objectStore.CreateBucket(context.Background(), archiveBucket); err != nil {
		log.Fatalf("Failed to create archive bucket: %v", err)
	}

	queue := messaging.NewInMemoryQueue()

	pool := transport.NewPool(rewardCfg.TransportPoolSize, func() transport.Client {
		return transport.NewHTTPClient()
	})
	roundCollector := collector.New(pool, rewardCfg.ChunkSize, rewardCfg.CollectionGrace)

	// No LLM in local mode: summary scoring and audits are skipped, so the
	// summary weight must be zero in the local reward config.
	weightedModels, err := rewards.BuildModels(rewardCfg, nil)
	if err != nil {
		log.Fatalf("Failed to build reward models: %v", err)
	}

	formatPenalty, err := rewards.NewFormatPenalty(rewardCfg, nil)
	if err != nil {
		log.Fatalf("Failed to build format penalty: %v", err)
	}

	aggregator, err := rewards.NewAggregator(weightedModels, []rewards.Penalty{
		rewards.NewTimingPenalty(rewardCfg),
		rewards.NewCountPenalty(),
		formatPenalty,
	}, rewardCfg.MaxPenalty)
	if err != nil {
		log.Fatalf("Failed to create aggregator: %v", err)
	}

	store, err := reputation.NewStore(db, rewardCfg.Alpha, rewardCfg.ScoreVersion)
	if err != nil {
		log.Fatalf("Failed to load reputation store: %v", err)
	}

	allocPublisher, err := reputation.NewPublisher(store, reputation.LogSink{}, rewardCfg.MinAllocation, rewardCfg.MaxAllocation)
	if err != nil {
		log.Fatalf("Failed to create allocation publisher: %v", err)
	}

	fetcher := groundtruth.NewHTTPFetcher(cfg.GroundTruthURL, rewardCfg.FetchAttempts, rewardCfg.FetchBackoff)

	processor := validator.NewRoundProcessor(
		db,
		queue,
		roundCollector,
		groundtruth.NewSampler(fetcher, time.Now().UnixNano()),
		aggregator,
		store,
		reputation.NewOrganicPenalties(db, rewardCfg.OrganicPenaltyTTL),
		allocPublisher,
		objectStore,
		archiveBucket,
		rewardCfg,
	)
	go processor.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := validator.NewScheduler(queue, cfg.SyntheticInterval, cfg.SyntheticSource)
	go scheduler.Run(ctx)

	server := createServer(api.NewBackendService(db, queue, roundCollector, rewardCfg), cfg.Port)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("Local validator listening on port %d", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	log.Println("Server stopped.")
}
