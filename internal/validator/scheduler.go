package validator

import (
	"context"
	"log/slog"
	"time"

	"validator-backend/internal/messaging"
	"validator-backend/pkg/models"

	"github.com/google/uuid"
)

// Scheduler enqueues a synthetic round on a fixed interval. Queries are left
// empty so the worker generates them; keeping generation worker-side means a
// replayed message cannot pin a stale query.
type Scheduler struct {
	publisher messaging.Publisher
	interval  time.Duration
	source    string
}

func NewScheduler(publisher messaging.Publisher, interval time.Duration, source string) *Scheduler {
	return &Scheduler{publisher: publisher, interval: interval, source: source}
}

func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("starting synthetic round scheduler", "interval", s.interval, "source", s.source)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping synthetic round scheduler")
			return
		case <-ticker.C:
			payload := models.SyntheticRoundPayload{
				RoundId: uuid.New(),
				Source:  s.source,
			}
			if err := s.publisher.PublishSyntheticRound(ctx, payload); err != nil {
				slog.Error("error enqueueing synthetic round", "round_id", payload.RoundId, "error", err)
			}
		}
	}
}
