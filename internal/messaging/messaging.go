package messaging

import (
	"context"
	"time"

	"validator-backend/pkg/models"
)

const (
	SyntheticRoundQueue = "synthetic_round_queue"
	OrganicScoreQueue   = "organic_score_queue"
	ReplayQueue         = "replay_queue"

	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

type Publisher interface {
	PublishSyntheticRound(ctx context.Context, payload models.SyntheticRoundPayload) error

	PublishOrganicScore(ctx context.Context, payload models.OrganicScorePayload) error

	PublishReplay(ctx context.Context, payload models.ReplayPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
