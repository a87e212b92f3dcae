package rewards

import (
	"context"

	"validator-backend/pkg/protocol"
)

// ConstantModel returns a fixed score for every miner. It stands in for
// disabled variants so event batches stay complete.
type ConstantModel struct {
	score float64
}

var _ Model = (*ConstantModel)(nil)

func NewConstantModel(score float64) *ConstantModel {
	return &ConstantModel{score: clamp01(score)}
}

func (m *ConstantModel) Name() string {
	return string(Constant)
}

func (m *ConstantModel) Apply(ctx context.Context, task protocol.QueryTask, responses []protocol.MinerResponse) ([]Event, error) {
	events := make([]Event, len(responses))
	for i, response := range responses {
		events[i] = Event{Miner: response.Miner, Model: m.Name(), Score: m.score}
	}
	return events, nil
}
