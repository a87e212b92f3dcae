package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"

	"validator-backend/cmd"
	"validator-backend/internal/config"
	"validator-backend/internal/reputation"
	"validator-backend/internal/storage"
	"validator-backend/pkg/protocol"

	"github.com/caarlos0/env/v11"
	"github.com/schollz/progressbar/v3"
)

type ReplayConfig struct {
	RewardConfig string `env:"REWARD_CONFIG"`

	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	ArchiveBucket     string `env:"ARCHIVE_BUCKET" envDefault:"round-archives"`
}

// replay folds every archived round into a fresh moving average, oldest
// first, and returns the resulting averages. This answers "what allocation
// would today's config produce from the recorded history".
func replay(ctx context.Context, store storage.ObjectStore, bucket string, alpha float64) (map[protocol.MinerID]float64, int, error) {
	ids, err := storage.ListRoundArchives(ctx, store, bucket)
	if err != nil {
		return nil, 0, err
	}
	if len(ids) == 0 {
		return nil, 0, fmt.Errorf("no archived rounds in bucket %s", bucket)
	}

	archives := make([]storage.RoundArchive, 0, len(ids))

	bar := progressbar.Default(int64(len(ids)), "loading archives")
	for _, id := range ids {
		archive, err := storage.LoadRoundArchive(ctx, store, bucket, id)
		if err != nil {
			return nil, 0, err
		}
		archives = append(archives, archive)
		bar.Add(1) //nolint:errcheck
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].CompletedAt.Before(archives[j].CompletedAt)
	})

	averages := make(map[protocol.MinerID]float64)
	for _, archive := range archives {
		for miner := range archive.Result.Rewards {
			if _, ok := averages[miner]; !ok {
				averages[miner] = 0
			}
		}
		for miner, old := range averages {
			averages[miner] = alpha*archive.Result.Rewards[miner] + (1-alpha)*old
		}
	}

	return averages, len(archives), nil
}

func main() {
	var localDir string
	flag.StringVar(&localDir, "local-dir", "", "replay from a local archive directory instead of S3")

	cmd.LoadEnvFile()

	var cfg ReplayConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	rewardCfg, err := config.LoadRewardConfig(cfg.RewardConfig)
	if err != nil {
		log.Fatalf("Failed to load reward config: %v", err)
	}

	var store storage.ObjectStore
	if localDir != "" {
		store, err = storage.NewLocalObjectStore(localDir)
	} else {
		store, err = storage.NewS3ObjectStore(storage.S3ClientConfig{
			Endpoint:        cfg.S3EndpointURL,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
	}
	if err != nil {
		log.Fatalf("Failed to create object store: %v", err)
	}

	averages, rounds, err := replay(context.Background(), store, cfg.ArchiveBucket, rewardCfg.Alpha)
	if err != nil {
		log.Fatalf("Replay failed: %v", err)
	}

	allocation := reputation.Allocate(averages, rewardCfg.MinAllocation, rewardCfg.MaxAllocation)

	miners := make([]protocol.MinerID, 0, len(allocation))
	for miner := range allocation {
		miners = append(miners, miner)
	}
	sort.Slice(miners, func(i, j int) bool { return allocation[miners[i]] > allocation[miners[j]] })

	fmt.Printf("replayed %d rounds over %d miners (alpha=%v)\n", rounds, len(miners), rewardCfg.Alpha)
	for _, miner := range miners {
		fmt.Printf("%-40s average=%.4f weight=%.4f\n", miner, averages[miner], allocation[miner])
	}
}
