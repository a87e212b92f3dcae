package reputation

import (
	"context"
	"fmt"
	"log/slog"

	"validator-backend/pkg/protocol"
)

// AllocationSink receives the published weight allocation. The chain client
// behind it is out of scope here; local mode logs, tests capture.
type AllocationSink interface {
	SetWeights(ctx context.Context, allocation map[protocol.MinerID]float64) error
}

// LogSink is the local-mode sink.
type LogSink struct{}

func (LogSink) SetWeights(ctx context.Context, allocation map[protocol.MinerID]float64) error {
	slog.Info("allocation published", "miners", len(allocation))
	return nil
}

// Publisher turns moving averages into a weight allocation: L1-normalize,
// clip each weight into [minWeight, maxWeight], redistribute the clipped
// mass proportionally over the unclipped weights.
type Publisher struct {
	store     *Store
	sink      AllocationSink
	minWeight float64
	maxWeight float64
}

func NewPublisher(store *Store, sink AllocationSink, minWeight, maxWeight float64) (*Publisher, error) {
	if minWeight < 0 || maxWeight > 1 || minWeight > maxWeight {
		return nil, fmt.Errorf("allocation bounds [%v, %v] are invalid", minWeight, maxWeight)
	}
	return &Publisher{store: store, sink: sink, minWeight: minWeight, maxWeight: maxWeight}, nil
}

func (p *Publisher) Publish(ctx context.Context) (map[protocol.MinerID]float64, error) {
	allocation := Allocate(p.store.Averages(), p.minWeight, p.maxWeight)
	if len(allocation) == 0 {
		slog.Info("no averages to publish")
		return allocation, nil
	}

	if err := p.sink.SetWeights(ctx, allocation); err != nil {
		return nil, fmt.Errorf("error publishing allocation: %w", err)
	}

	return allocation, nil
}

// Allocate is the pure allocation computation, shared with replay.
func Allocate(averages map[protocol.MinerID]float64, minWeight, maxWeight float64) map[protocol.MinerID]float64 {
	allocation := make(map[protocol.MinerID]float64, len(averages))
	if len(averages) == 0 {
		return allocation
	}

	var total float64
	for _, score := range averages {
		if score > 0 {
			total += score
		}
	}

	if total == 0 {
		// Nothing earned anything; split evenly inside the bounds.
		even := 1.0 / float64(len(averages))
		for miner := range averages {
			allocation[miner] = clip(even, minWeight, maxWeight)
		}
		return allocation
	}

	for miner, score := range averages {
		if score < 0 {
			score = 0
		}
		allocation[miner] = score / total
	}

	return redistribute(allocation, minWeight, maxWeight)
}

// redistribute clips weights into bounds and hands the clipped surplus to
// the unclipped weights proportionally, iterating until stable since a
// redistribution can push more weights over the cap.
func redistribute(allocation map[protocol.MinerID]float64, minWeight, maxWeight float64) map[protocol.MinerID]float64 {
	for range allocation {
		var surplus float64
		clipped := make(map[protocol.MinerID]bool, len(allocation))
		var unclippedTotal float64

		for miner, weight := range allocation {
			bounded := clip(weight, minWeight, maxWeight)
			if bounded != weight {
				surplus += weight - bounded
				allocation[miner] = bounded
				clipped[miner] = true
			} else {
				unclippedTotal += weight
			}
		}

		if surplus <= 0 || unclippedTotal == 0 {
			break
		}

		for miner, weight := range allocation {
			if !clipped[miner] {
				allocation[miner] = weight + surplus*(weight/unclippedTotal)
			}
		}
	}

	return allocation
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
