package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"validator-backend/internal/collector"
	"validator-backend/internal/config"
	"validator-backend/internal/database"
	"validator-backend/internal/groundtruth"
	"validator-backend/internal/messaging"
	"validator-backend/internal/reputation"
	"validator-backend/internal/rewards"
	"validator-backend/internal/storage"
	"validator-backend/pkg/models"
	"validator-backend/pkg/protocol"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultResultCount   = 10
	defaultRequiredFacts = 3

	// defaultExecutionTime is the per-miner time budget, in seconds, for
	// synthetic rounds.
	defaultExecutionTime = 12.0
)

// RoundProcessor consumes round tasks from the queue and drives each one
// through the full scoring pipeline: collect, ground-truth, score, merge,
// publish. One processor per validator; the moving-average store behind it is
// the single writer for scores.
type RoundProcessor struct {
	db       *gorm.DB
	reciever messaging.Reciever

	collector  *collector.Collector
	sampler    *groundtruth.Sampler
	aggregator *rewards.Aggregator

	store     *reputation.Store
	penalties *reputation.OrganicPenalties
	publisher *reputation.Publisher

	archive       storage.ObjectStore
	archiveBucket string

	miners []config.MinerEndpoint
	cfg    config.RewardConfig

	rng *rand.Rand
}

func NewRoundProcessor(
	db *gorm.DB,
	reciever messaging.Reciever,
	roundCollector *collector.Collector,
	sampler *groundtruth.Sampler,
	aggregator *rewards.Aggregator,
	store *reputation.Store,
	penalties *reputation.OrganicPenalties,
	publisher *reputation.Publisher,
	archive storage.ObjectStore,
	archiveBucket string,
	cfg config.RewardConfig,
) *RoundProcessor {
	return &RoundProcessor{
		db:            db,
		reciever:      reciever,
		collector:     roundCollector,
		sampler:       sampler,
		aggregator:    aggregator,
		store:         store,
		penalties:     penalties,
		publisher:     publisher,
		archive:       archive,
		archiveBucket: archiveBucket,
		miners:        cfg.Miners,
		cfg:           cfg,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (proc *RoundProcessor) Start() {
	slog.Info("starting round processor", "miners", len(proc.miners))

	for task := range proc.reciever.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *RoundProcessor) Stop() {
	slog.Info("stopping round processor")

	proc.reciever.Close()
}

func (proc *RoundProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {

	case messaging.SyntheticRoundQueue:
		var payload models.SyntheticRoundPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling synthetic round task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processSyntheticRound(ctx, payload)

	case messaging.OrganicScoreQueue:
		var payload models.OrganicScorePayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling organic score task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processOrganicScore(ctx, payload)

	case messaging.ReplayQueue:
		var payload models.ReplayPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling replay task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processReplay(ctx, payload)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil { // reject unknown message type
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

func (proc *RoundProcessor) createRound(ctx context.Context, task protocol.QueryTask) error {
	record := database.RoundRecord{
		Id:           task.Id,
		Kind:         string(task.Kind),
		Source:       task.Source,
		Query:        task.Query,
		Status:       database.RoundRunning,
		CreationTime: time.Now().UTC(),
	}

	if err := proc.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("error creating round record %s: %w", task.Id, err)
	}
	return nil
}

func (proc *RoundProcessor) processSyntheticRound(ctx context.Context, payload models.SyntheticRoundPayload) error {
	task := protocol.QueryTask{
		Id:               payload.RoundId,
		Kind:             protocol.SyntheticRound,
		Source:           payload.Source,
		Query:            payload.Query,
		ResultCount:      payload.ResultCount,
		RequiredFacts:    defaultRequiredFacts,
		MaxExecutionTime: defaultExecutionTime,
	}
	if task.Query == "" {
		task.Query = GenerateQuery(proc.rng)
	}
	if task.ResultCount <= 0 {
		task.ResultCount = defaultResultCount
	}

	slog.Info("processing synthetic round", "round_id", task.Id, "source", task.Source, "query", task.Query)

	if err := proc.createRound(ctx, task); err != nil {
		return err
	}

	responses := proc.collector.Collect(ctx, task, proc.miners)

	result, err := proc.scoreRound(ctx, task, responses)
	if err != nil {
		database.SaveRoundError(ctx, proc.db, task.Id, err.Error())
		return err
	}

	proc.applyOrganicPenalties(ctx, task.Id, result)

	if err := proc.store.Merge(ctx, result.Rewards); err != nil {
		database.SaveRoundError(ctx, proc.db, task.Id, err.Error())
		return fmt.Errorf("error merging round %s rewards: %w", task.Id, err)
	}

	if err := database.SaveRoundOutcome(ctx, proc.db, task.Id, result.Rewards, result.Events); err != nil {
		return err
	}

	proc.archiveRound(ctx, task, result)

	// The round is already merged; a publish failure here must not Nack the
	// task, or a redelivery would merge the same rewards twice.
	if _, err := proc.publisher.Publish(ctx); err != nil {
		slog.Error("error publishing allocation", "round_id", task.Id, "error", err)
	}

	return nil
}

func (proc *RoundProcessor) processOrganicScore(ctx context.Context, payload models.OrganicScorePayload) error {
	task := payload.Task
	task.Id = payload.RoundId
	task.Kind = protocol.OrganicRound

	slog.Info("processing organic score round", "round_id", task.Id, "miners", len(payload.Responses))

	if err := proc.createRound(ctx, task); err != nil {
		return err
	}

	result, err := proc.scoreRound(ctx, task, payload.Responses)
	if err != nil {
		database.SaveRoundError(ctx, proc.db, task.Id, err.Error())
		return err
	}

	// Organic rounds never touch the moving average. A bad interaction is
	// priced exactly once: the penalty counter carries it into the next
	// synthetic round, where the deferred factor is applied before the merge.
	for _, miner := range proc.organicFailures(payload.Responses, result) {
		if err := proc.penalties.Increment(ctx, miner); err != nil {
			slog.Error("error recording organic failure", "round_id", task.Id, "miner", miner, "error", err)
		}
	}

	return database.SaveRoundOutcome(ctx, proc.db, task.Id, result.Rewards, result.Events)
}

// organicFailures returns the miners whose organic answer feeds the penalty
// side-channel: transport failures and zero scores on any weighted model.
func (proc *RoundProcessor) organicFailures(responses []protocol.MinerResponse, result *rewards.RoundResult) []protocol.MinerID {
	marked := make(map[protocol.MinerID]bool)
	for _, response := range responses {
		if response.Failed {
			marked[response.Miner] = true
		}
	}
	for _, event := range result.Events {
		if event.Score == 0 && proc.cfg.Weights[event.Model] > 0 {
			marked[event.Miner] = true
		}
	}

	miners := make([]protocol.MinerID, 0, len(marked))
	for miner := range marked {
		miners = append(miners, miner)
	}
	return miners
}

// processReplay recomputes the allocation a past round would produce from its
// archive, for offline audits of scoring changes.
func (proc *RoundProcessor) processReplay(ctx context.Context, payload models.ReplayPayload) error {
	archive, err := storage.LoadRoundArchive(ctx, proc.archive, proc.archiveBucket, payload.RoundId)
	if err != nil {
		return err
	}

	allocation := reputation.Allocate(archive.Result.Rewards, proc.cfg.MinAllocation, proc.cfg.MaxAllocation)

	slog.Info("replayed round",
		"round_id", archive.RoundId,
		"completed_at", archive.CompletedAt,
		"miners", len(archive.Result.Rewards),
		"allocation", allocation)

	return nil
}

func (proc *RoundProcessor) scoreRound(ctx context.Context, task protocol.QueryTask, responses []protocol.MinerResponse) (*rewards.RoundResult, error) {
	if err := proc.sampler.Populate(ctx, responses); err != nil {
		return nil, fmt.Errorf("error populating ground truth for round %s: %w", task.Id, err)
	}

	result, err := proc.aggregator.Score(ctx, task, responses)
	if err != nil {
		return nil, fmt.Errorf("error scoring round %s: %w", task.Id, err)
	}

	return result, nil
}

// applyOrganicPenalties consumes the pending organic failure counts and gates
// this round's rewards with them, one factor application per pending failure.
// Consumption is decrement-on-read, so a count is only ever applied once.
func (proc *RoundProcessor) applyOrganicPenalties(ctx context.Context, roundId uuid.UUID, result *rewards.RoundResult) {
	pending, err := proc.penalties.Consume(ctx)
	if err != nil {
		// Nothing was decremented, the counts stay pending for the next round.
		slog.Error("error consuming organic penalties", "round_id", roundId, "error", err)
		return
	}

	for miner, count := range pending {
		reward, ok := result.Rewards[miner]
		if !ok {
			slog.Warn("organic penalty for miner absent from round", "round_id", roundId, "miner", miner, "pending", count)
			continue
		}

		factor := math.Pow(proc.cfg.OrganicPenaltyFactor, float64(count))
		result.Rewards[miner] = reward * factor
		result.Multipliers[miner] *= factor

		slog.Info("applied organic penalty", "round_id", roundId, "miner", miner, "pending", count, "factor", factor)
	}
}

func (proc *RoundProcessor) archiveRound(ctx context.Context, task protocol.QueryTask, result *rewards.RoundResult) {
	if proc.archive == nil {
		return
	}

	archive := storage.RoundArchive{
		RoundId:     task.Id,
		Task:        task,
		Result:      *result,
		CompletedAt: time.Now().UTC(),
	}

	if err := storage.SaveRoundArchive(ctx, proc.archive, proc.archiveBucket, archive); err != nil {
		slog.Error("error archiving round", "round_id", task.Id, "error", err)
	}
}
