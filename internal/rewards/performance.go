package rewards

import (
	"context"
	"fmt"
	"math"

	"validator-backend/internal/config"
	"validator-backend/pkg/protocol"
)

// PerformanceModel rewards fast replies on a sigmoid over the reported
// processing time. Anything at or past the allowed budget scores 0, which
// also covers silent miners since their failure marker carries the full
// timeout as processing time.
type PerformanceModel struct {
	params config.SigmoidParams
}

var _ Model = (*PerformanceModel)(nil)

func NewPerformanceModel(params config.SigmoidParams) *PerformanceModel {
	return &PerformanceModel{params: params}
}

func (m *PerformanceModel) Name() string {
	return string(Performance)
}

func (m *PerformanceModel) Apply(ctx context.Context, task protocol.QueryTask, responses []protocol.MinerResponse) ([]Event, error) {
	events := make([]Event, len(responses))
	for i, response := range responses {
		events[i] = Event{
			Miner:       response.Miner,
			Model:       m.Name(),
			Score:       m.score(response.ProcessingTime, task.MaxExecutionTime),
			Explanation: fmt.Sprintf("processing time %.2fs of %.2fs allowed", response.ProcessingTime, task.MaxExecutionTime),
		}
	}
	return events, nil
}

func (m *PerformanceModel) score(t, allowed float64) float64 {
	if allowed <= 0 || t >= allowed {
		return 0
	}
	return clamp01(m.params.Base / (1 + math.Exp(m.params.Steepness*t-m.params.Offset)))
}
