package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"validator-backend/cmd"
	"validator-backend/internal/collector"
	"validator-backend/internal/config"
	"validator-backend/internal/database"
	"validator-backend/internal/groundtruth"
	"validator-backend/internal/messaging"
	"validator-backend/internal/reputation"
	"validator-backend/internal/rewards"
	"validator-backend/internal/semantic"
	"validator-backend/internal/storage"
	"validator-backend/internal/transport"
	"validator-backend/internal/validator"

	"github.com/caarlos0/env/v11"
)

type ValidatorConfig struct {
	DatabaseURL    string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL    string `env:"RABBITMQ_URL,notEmpty,required"`
	RewardConfig   string `env:"REWARD_CONFIG"`
	GroundTruthURL string `env:"GROUND_TRUTH_URL,notEmpty,required"`

	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	ArchiveBucket     string `env:"ARCHIVE_BUCKET" envDefault:"round-archives"`

	LLMProvider string  `env:"LLM_PROVIDER" envDefault:"openai"`
	LLMModel    string  `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	LLMBaseURL  string  `env:"LLM_BASE_URL"`
	LLMAPIKey   string  `env:"LLM_API_KEY"`
	LLMTemp     float64 `env:"LLM_TEMPERATURE" envDefault:"0"`

	SyntheticInterval time.Duration `env:"SYNTHETIC_INTERVAL" envDefault:"5m"`
	SyntheticSource   string        `env:"SYNTHETIC_SOURCE" envDefault:"x"`
}

func createScorer(cfg ValidatorConfig) semantic.Scorer {
	switch cfg.LLMProvider {
	case "openai":
		return semantic.NewOpenAIScorer(cfg.LLMModel, cfg.LLMTemp)
	case "langchain":
		scorer, err := semantic.NewLangchainScorer(cfg.LLMModel, cfg.LLMAPIKey, cfg.LLMBaseURL)
		if err != nil {
			log.Fatalf("Failed to create langchain scorer: %v", err)
		}
		return scorer
	case "none":
		return nil
	default:
		log.Fatalf("Invalid LLM provider: %s. Must be 'openai', 'langchain', or 'none'", cfg.LLMProvider)
		return nil
	}
}

func main() {
	log.Println("Starting Validator Process...")

	cmd.LoadEnvFile()

	var cfg ValidatorConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	// A reward config whose weights do not sum to 1.0 must stop the process
	// before any round is scored.
	rewardCfg, err := config.LoadRewardConfig(cfg.RewardConfig)
	if err != nil {
		log.Fatalf("Failed to load reward config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	objectStore, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        cfg.S3EndpointURL,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		log.Fatalf("Failed to create object store: %v", err)
	}
	if err := objectStore.CreateBucket(context.Background(), cfg.ArchiveBucket); err != nil {
		log.Fatalf("Failed to create archive bucket: %v", err)
	}

	scorer := createScorer(cfg)

	weightedModels, err := rewards.BuildModels(rewardCfg, scorer)
	if err != nil {
		log.Fatalf("Failed to build reward models: %v", err)
	}

	formatPenalty, err := rewards.NewFormatPenalty(rewardCfg, scorer)
	if err != nil {
		log.Fatalf("Failed to build format penalty: %v", err)
	}
	penalties := []rewards.Penalty{
		rewards.NewTimingPenalty(rewardCfg),
		rewards.NewCountPenalty(),
		formatPenalty,
	}

	aggregator, err := rewards.NewAggregator(weightedModels, penalties, rewardCfg.MaxPenalty)
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

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer publisher.Close()

	reciever, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	pool := transport.NewPool(rewardCfg.TransportPoolSize, func() transport.Client {
		return transport.NewHTTPClient()
	})

	fetcher := groundtruth.NewHTTPFetcher(cfg.GroundTruthURL, rewardCfg.FetchAttempts, rewardCfg.FetchBackoff)

	processor := validator.NewRoundProcessor(
		db,
		reciever,
		collector.New(pool, rewardCfg.ChunkSize, rewardCfg.CollectionGrace),
		groundtruth.NewSampler(fetcher, time.Now().UnixNano()),
		aggregator,
		store,
		reputation.NewOrganicPenalties(db, rewardCfg.OrganicPenaltyTTL),
		allocPublisher,
		objectStore,
		cfg.ArchiveBucket,
		rewardCfg,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := validator.NewScheduler(publisher, cfg.SyntheticInterval, cfg.SyntheticSource)
	go scheduler.Run(ctx)

	go processor.Start()

	log.Println("Validator started. Waiting for rounds. Press Ctrl+C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received, stopping validator...")

	cancel()
	processor.Stop()

	log.Println("Validator process stopped.")
}
