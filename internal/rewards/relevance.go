package rewards

import (
	"context"
	"fmt"
	"math"
	"reflect"

	"validator-backend/internal/config"
	"validator-backend/pkg/protocol"
)

// RelevanceModel checks claimed records against the ground truth attached by
// the sampler. Exact fields must match byte for byte, numeric counters get a
// tolerance band since engagement drifts between scrape and validation, and
// nested payloads are compared structurally.
type RelevanceModel struct {
	cfg config.RewardConfig
}

var _ Model = (*RelevanceModel)(nil)

func NewRelevanceModel(cfg config.RewardConfig) *RelevanceModel {
	return &RelevanceModel{cfg: cfg}
}

func (m *RelevanceModel) Name() string {
	return string(Relevance)
}

func (m *RelevanceModel) Apply(ctx context.Context, task protocol.QueryTask, responses []protocol.MinerResponse) ([]Event, error) {
	events := make([]Event, len(responses))
	for i, response := range responses {
		events[i] = m.scoreResponse(response)
	}
	return events, nil
}

func (m *RelevanceModel) scoreResponse(response protocol.MinerResponse) Event {
	event := Event{Miner: response.Miner, Model: m.Name()}

	if len(response.GroundTruth) == 0 {
		event.Explanation = "no ground truth resolved"
		return event
	}

	var checked, matched int
	for _, record := range response.Records {
		truth, ok := response.GroundTruth[record.Uri]
		if !ok {
			continue
		}
		checked++
		if m.recordMatches(record, truth) {
			matched++
		}
	}

	if checked == 0 {
		event.Explanation = "no claims validated"
		return event
	}

	event.Score = float64(matched) / float64(checked)
	event.Explanation = fmt.Sprintf("%d/%d validated records matched", matched, checked)
	return event
}

func (m *RelevanceModel) recordMatches(claimed, truth protocol.ScrapedRecord) bool {
	if claimed.Uri != truth.Uri || claimed.Author != truth.Author || claimed.Content != truth.Content {
		return false
	}
	if claimed.CreatedAt != truth.CreatedAt {
		return false
	}

	for name, expected := range truth.Metrics {
		actual, ok := claimed.Metrics[name]
		if !ok {
			return false
		}
		if math.Abs(actual-expected) > m.cfg.Tolerance(expected) {
			return false
		}
	}

	if truth.Extra != nil && !nestedEqual(claimed.Extra, truth.Extra) {
		return false
	}

	return true
}

// nestedEqual compares nested payloads structurally. Numbers compare by
// value so 1 and 1.0 are equal regardless of how the JSON decoded.
func nestedEqual(a, b any) bool {
	switch bv := b.(type) {
	case map[string]any:
		av, ok := a.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for key, val := range bv {
			sub, ok := av[key]
			if !ok || !nestedEqual(sub, val) {
				return false
			}
		}
		return true
	case []any:
		av, ok := a.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range bv {
			if !nestedEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case float64, float32, int, int64:
		an, aok := asFloat(a)
		bn, bok := asFloat(b)
		return aok && bok && an == bn
	default:
		return reflect.DeepEqual(a, b)
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
