package rewards

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"validator-backend/pkg/protocol"
)

const weightEpsilon = 1e-6

type roundState string

const (
	collectingRewards   roundState = "collecting_rewards"
	collectingPenalties roundState = "collecting_penalties"
	blending            roundState = "blending"
	done                roundState = "done"
)

// RoundResult is the outcome of scoring one round: the gated per-miner
// rewards, the raw events behind them, and the penalty multipliers applied.
type RoundResult struct {
	Rewards     map[protocol.MinerID]float64 `json:"rewards"`
	Multipliers map[protocol.MinerID]float64 `json:"multipliers"`
	Events      []Event                      `json:"events"`
}

// Aggregator runs the scoring pipeline for one round: every reward model
// over the batch, then every penalty, then the weighted blend gated by the
// penalty multipliers. A model failing internally zeroes only that model's
// events; an invariant violation fails the whole round so no partial state
// reaches the moving average.
type Aggregator struct {
	models     []WeightedModel
	penalties  []Penalty
	maxPenalty float64
}

func NewAggregator(models []WeightedModel, penalties []Penalty, maxPenalty float64) (*Aggregator, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("aggregator requires at least one reward model")
	}

	var sum float64
	for _, wm := range models {
		if wm.Weight < 0 {
			return nil, fmt.Errorf("reward model %s has negative weight %v", wm.Model.Name(), wm.Weight)
		}
		sum += wm.Weight
	}
	if math.Abs(sum-1.0) > weightEpsilon {
		return nil, fmt.Errorf("reward model weights sum to %v, expected 1.0", sum)
	}

	return &Aggregator{models: models, penalties: penalties, maxPenalty: maxPenalty}, nil
}

func (a *Aggregator) Score(ctx context.Context, task protocol.QueryTask, responses []protocol.MinerResponse) (*RoundResult, error) {
	state := collectingRewards

	events, weighted, err := a.collectRewards(ctx, task, responses)
	if err != nil {
		return nil, fmt.Errorf("round failed in state %s: %w", state, err)
	}

	state = collectingPenalties
	multipliers, err := a.collectPenalties(ctx, task, responses)
	if err != nil {
		return nil, fmt.Errorf("round failed in state %s: %w", state, err)
	}

	state = blending
	rewards := make(map[protocol.MinerID]float64, len(responses))
	for i, response := range responses {
		rewards[response.Miner] = clamp01(weighted[i]) * multipliers[response.Miner]
	}

	state = done
	slog.Info("round scored", "task_id", task.Id, "state", state, "miners", len(responses), "events", len(events))

	return &RoundResult{Rewards: rewards, Multipliers: multipliers, Events: events}, nil
}

// collectRewards runs every model and accumulates the weighted sum per
// response slot. A model error is contained: it contributes zero events and
// the round continues.
func (a *Aggregator) collectRewards(ctx context.Context, task protocol.QueryTask, responses []protocol.MinerResponse) ([]Event, []float64, error) {
	allEvents := make([]Event, 0, len(a.models)*len(responses))
	weighted := make([]float64, len(responses))

	for _, wm := range a.models {
		events, err := wm.Model.Apply(ctx, task, responses)
		if err != nil {
			slog.Error("reward model failed, zeroing its events", "model", wm.Model.Name(), "task_id", task.Id, "error", err)
			events = zeroEvents(wm.Model.Name(), responses, "model failed: "+err.Error())
		}

		if len(events) != len(responses) {
			return nil, nil, fmt.Errorf("model %s returned %d events for %d responses", wm.Model.Name(), len(events), len(responses))
		}

		for i, event := range events {
			if event.Miner != responses[i].Miner {
				return nil, nil, fmt.Errorf("model %s returned event for %s in slot of %s", wm.Model.Name(), event.Miner, responses[i].Miner)
			}
			weighted[i] += wm.Weight * clamp01(event.Score)
		}

		allEvents = append(allEvents, events...)
	}

	return allEvents, weighted, nil
}

// collectPenalties folds every penalty into one multiplier per miner. A
// penalty error fails open for that penalty: no gate is applied.
func (a *Aggregator) collectPenalties(ctx context.Context, task protocol.QueryTask, responses []protocol.MinerResponse) (map[protocol.MinerID]float64, error) {
	multipliers := make(map[protocol.MinerID]float64, len(responses))
	for _, response := range responses {
		multipliers[response.Miner] = 1
	}

	for _, penalty := range a.penalties {
		raws, err := penalty.Apply(ctx, task, responses)
		if err != nil {
			slog.Error("penalty model failed, skipping its gate", "penalty", penalty.Name(), "task_id", task.Id, "error", err)
			continue
		}

		if len(raws) != len(responses) {
			return nil, fmt.Errorf("penalty %s returned %d values for %d responses", penalty.Name(), len(raws), len(responses))
		}

		for i, raw := range raws {
			multipliers[responses[i].Miner] *= Multiplier(raw, a.maxPenalty)
		}
	}

	return multipliers, nil
}
