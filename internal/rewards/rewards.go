package rewards

import (
	"context"
	"fmt"
	"sort"

	"validator-backend/internal/config"
	"validator-backend/internal/semantic"
	"validator-backend/pkg/protocol"
)

// ModelName identifies a reward model variant.
type ModelName string

const (
	Relevance   ModelName = "relevance"
	Summary     ModelName = "summary"
	Performance ModelName = "performance"
	Constant    ModelName = "constant"
)

// Event is one model's judgment of one miner for one round. Scores are in
// [0, 1]; a failed model emits zero-score events so every miner keeps a slot.
type Event struct {
	Miner protocol.MinerID `json:"miner"`
	Model string           `json:"model"`
	Score float64          `json:"score"`

	Explanation string `json:"explanation,omitempty"`
}

// Model scores a full response batch. Apply must return exactly one event
// per input response, in input order.
type Model interface {
	Name() string

	Apply(ctx context.Context, task protocol.QueryTask, responses []protocol.MinerResponse) ([]Event, error)
}

type WeightedModel struct {
	Model  Model
	Weight float64
}

type ModelBuilder func(cfg config.RewardConfig) (Model, error)

// NewModelBuilders returns the closed set of reward model variants.
func NewModelBuilders(scorer semantic.Scorer) map[ModelName]ModelBuilder {
	return map[ModelName]ModelBuilder{
		Relevance: func(cfg config.RewardConfig) (Model, error) {
			return NewRelevanceModel(cfg), nil
		},
		Summary: func(cfg config.RewardConfig) (Model, error) {
			if scorer == nil {
				return nil, fmt.Errorf("summary model requires a semantic scorer")
			}
			return NewSummaryModel(scorer), nil
		},
		Performance: func(cfg config.RewardConfig) (Model, error) {
			return NewPerformanceModel(cfg.PerformanceSigmoid), nil
		},
		Constant: func(cfg config.RewardConfig) (Model, error) {
			return NewConstantModel(0), nil
		},
	}
}

// BuildModels assembles the weighted model set from config. Weight-zero
// entries are kept in the set as constant stubs so event batches stay
// complete without paying for scoring calls.
func BuildModels(cfg config.RewardConfig, scorer semantic.Scorer) ([]WeightedModel, error) {
	builders := NewModelBuilders(scorer)

	names := make([]string, 0, len(cfg.Weights))
	for name := range cfg.Weights {
		names = append(names, name)
	}
	sort.Strings(names)

	var models []WeightedModel
	for _, name := range names {
		weight := cfg.Weights[name]

		builder, ok := builders[ModelName(name)]
		if !ok {
			return nil, fmt.Errorf("unknown reward model '%s'", name)
		}
		if weight == 0 {
			builder = builders[Constant]
		}

		model, err := builder(cfg)
		if err != nil {
			return nil, fmt.Errorf("error building reward model '%s': %w", name, err)
		}

		models = append(models, WeightedModel{Model: model, Weight: weight})
	}

	return models, nil
}

// zeroEvents is the batch substituted when a model fails internally: every
// miner present, every score zero.
func zeroEvents(model string, responses []protocol.MinerResponse, reason string) []Event {
	events := make([]Event, len(responses))
	for i, response := range responses {
		events[i] = Event{Miner: response.Miner, Model: model, Score: 0, Explanation: reason}
	}
	return events
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
