package rewards

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"validator-backend/internal/config"
	"validator-backend/internal/rules"
	"validator-backend/internal/semantic"
	"validator-backend/pkg/protocol"
)

// Penalty produces a raw penalty in [0, 1] per miner. Raw values run through
// the shared pipeline: clip to [0, maxPenalty], then multiplier = 1 - clipped.
// Penalties gate the blended reward multiplicatively, they never add to it.
type Penalty interface {
	Name() string

	Apply(ctx context.Context, task protocol.QueryTask, responses []protocol.MinerResponse) ([]float64, error)
}

// Multiplier applies the common penalty pipeline to one raw value.
func Multiplier(raw, maxPenalty float64) float64 {
	adjusted := math.Min(math.Max(raw, 0), maxPenalty)
	return 1 - adjusted
}

// TimingPenalty ramps up exponentially as the reported processing time
// approaches the allowed budget. Below rampStart*allowed there is no
// penalty; at the budget the penalty is 1.
type TimingPenalty struct {
	rampStart float64
	steepness float64
}

var _ Penalty = (*TimingPenalty)(nil)

func NewTimingPenalty(cfg config.RewardConfig) *TimingPenalty {
	return &TimingPenalty{rampStart: cfg.TimingRampStart, steepness: cfg.TimingRampSteepness}
}

func (p *TimingPenalty) Name() string { return "timing" }

func (p *TimingPenalty) Apply(ctx context.Context, task protocol.QueryTask, responses []protocol.MinerResponse) ([]float64, error) {
	raws := make([]float64, len(responses))
	for i, response := range responses {
		raws[i] = p.raw(response.ProcessingTime, task.MaxExecutionTime)
	}
	return raws, nil
}

func (p *TimingPenalty) raw(t, allowed float64) float64 {
	if allowed <= 0 {
		return 0
	}

	x := t / allowed
	if x <= p.rampStart {
		return 0
	}
	if x >= 1 {
		return 1
	}

	num := math.Exp(p.steepness*(x-p.rampStart)) - 1
	den := math.Exp(p.steepness*(1-p.rampStart)) - 1
	return num / den
}

// CountPenalty penalizes under-delivery proportionally. Over-delivery is
// never penalized.
type CountPenalty struct{}

var _ Penalty = (*CountPenalty)(nil)

func NewCountPenalty() *CountPenalty { return &CountPenalty{} }

func (p *CountPenalty) Name() string { return "count" }

func (p *CountPenalty) Apply(ctx context.Context, task protocol.QueryTask, responses []protocol.MinerResponse) ([]float64, error) {
	raws := make([]float64, len(responses))
	if task.ResultCount <= 0 {
		return raws, nil
	}

	for i, response := range responses {
		actual := len(response.Records)
		if actual < task.ResultCount {
			raws[i] = 1 - float64(actual)/float64(task.ResultCount)
		}
	}
	return raws, nil
}

const formatSystemPrompt = `You audit whether a scraped result set complies with a formatting rule.
Reply with a line of the form "Score: N" where N is an integer from 0 (clear violation) to 10 (fully compliant).`

// FormatPenalty audits responses against the configured compliance rules.
// A rule's mechanical predicate passing settles compliance without an LLM
// call; only predicate failures go to the scorer for a second opinion, and
// an audit below the threshold counts as a violation. The raw penalty is
// the violated fraction of the rule set.
type FormatPenalty struct {
	scorer    semantic.Scorer
	threshold float64
	rules     []compiledRule
}

type compiledRule struct {
	name        string
	description string
	rule        rules.Rule
}

var _ Penalty = (*FormatPenalty)(nil)

func NewFormatPenalty(cfg config.RewardConfig, scorer semantic.Scorer) (*FormatPenalty, error) {
	compiled := make([]compiledRule, 0, len(cfg.ComplianceRules))
	for _, rc := range cfg.ComplianceRules {
		rule, err := rules.Parse(rc.Expr)
		if err != nil {
			return nil, fmt.Errorf("error compiling compliance rule '%s': %w", rc.Name, err)
		}
		compiled = append(compiled, compiledRule{name: rc.Name, description: rc.Description, rule: rule})
	}

	return &FormatPenalty{scorer: scorer, threshold: cfg.ComplianceThreshold, rules: compiled}, nil
}

func (p *FormatPenalty) Name() string { return "format" }

func (p *FormatPenalty) Apply(ctx context.Context, task protocol.QueryTask, responses []protocol.MinerResponse) ([]float64, error) {
	raws := make([]float64, len(responses))
	if len(p.rules) == 0 {
		return raws, nil
	}

	for i, response := range responses {
		var violations int
		for _, rule := range p.rules {
			if !p.compliant(ctx, rule, response) {
				violations++
			}
		}
		raws[i] = float64(violations) / float64(len(p.rules))
	}
	return raws, nil
}

func (p *FormatPenalty) compliant(ctx context.Context, rule compiledRule, response protocol.MinerResponse) bool {
	if rule.rule.Matches(response) {
		return true
	}
	if p.scorer == nil {
		return false
	}

	reply, err := p.scorer.Score(ctx, formatSystemPrompt, auditPrompt(rule, response))
	if err != nil {
		slog.Error("compliance audit failed", "rule", rule.name, "miner", response.Miner, "error", err)
		return false
	}

	return semantic.ExtractScore(reply, 10) >= p.threshold
}

func auditPrompt(rule compiledRule, response protocol.MinerResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rule: %s\n", rule.description)
	fmt.Fprintf(&b, "Result set has %d records.\n", len(response.Records))
	for i, record := range response.Records {
		if i >= 10 {
			fmt.Fprintf(&b, "... and %d more\n", len(response.Records)-10)
			break
		}
		fmt.Fprintf(&b, "- uri=%s author=%s content=%q\n", record.Uri, record.Author, record.Content)
	}
	return b.String()
}
