package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"validator-backend/pkg/protocol"

	"gopkg.in/yaml.v2"
)

const weightEpsilon = 1e-6

type MinerEndpoint struct {
	Id  protocol.MinerID `yaml:"id"`
	Url string           `yaml:"url"`
}

type SigmoidParams struct {
	Base      float64 `yaml:"base"`
	Steepness float64 `yaml:"steepness"`
	Offset    float64 `yaml:"offset"`
}

type ComplianceRule struct {
	Name        string `yaml:"name"`
	Expr        string `yaml:"expr"`
	Description string `yaml:"description"`
}

// RewardConfig holds the scoring tunables. The defaults are the values the
// network has converged on; they are parameters, not magic the code derives.
type RewardConfig struct {
	ScoreVersion int `yaml:"score_version"`

	Alpha      float64 `yaml:"alpha"`
	MaxPenalty float64 `yaml:"max_penalty"`

	Weights map[string]float64 `yaml:"weights"`

	ChunkSize         int           `yaml:"chunk_size"`
	TransportPoolSize int           `yaml:"transport_pool_size"`
	CollectionGrace   time.Duration `yaml:"collection_grace"`

	ToleranceBand  float64 `yaml:"tolerance_band"`
	ToleranceFloor float64 `yaml:"tolerance_floor"`

	PerformanceSigmoid SigmoidParams `yaml:"performance_sigmoid"`

	TimingRampStart     float64 `yaml:"timing_ramp_start"`
	TimingRampSteepness float64 `yaml:"timing_ramp_steepness"`

	ComplianceThreshold float64          `yaml:"compliance_threshold"`
	ComplianceRules     []ComplianceRule `yaml:"compliance_rules"`

	FetchAttempts int           `yaml:"fetch_attempts"`
	FetchBackoff  time.Duration `yaml:"fetch_backoff"`

	OrganicPenaltyTTL    time.Duration `yaml:"organic_penalty_ttl"`
	OrganicPenaltyFactor float64       `yaml:"organic_penalty_factor"`

	MinAllocation float64 `yaml:"min_allocation"`
	MaxAllocation float64 `yaml:"max_allocation"`

	Miners []MinerEndpoint `yaml:"miners"`
}

func DefaultRewardConfig() RewardConfig {
	return RewardConfig{
		ScoreVersion: 1,
		Alpha:        0.1,
		MaxPenalty:   1.0,
		Weights: map[string]float64{
			"relevance":   0.55,
			"summary":     0.25,
			"performance": 0.2,
		},
		ChunkSize:           80,
		TransportPoolSize:   3,
		CollectionGrace:     5 * time.Second,
		ToleranceBand:       0.60,
		ToleranceFloor:      10,
		PerformanceSigmoid:  SigmoidParams{Base: 1.0, Steepness: 2.0, Offset: 6.0},
		TimingRampStart:     0.8,
		TimingRampSteepness: 4.0,
		ComplianceThreshold: 10,
		FetchAttempts:       3,
		FetchBackoff:        3 * time.Second,
		OrganicPenaltyTTL:   2 * time.Hour,
		MinAllocation:       0,
		MaxAllocation:       1,
	}
}

// LoadRewardConfig reads the YAML tunables file, filling unset fields from
// the defaults, and validates the result. A weight set that does not sum to
// 1.0 is a configuration error the caller should treat as fatal.
func LoadRewardConfig(path string) (RewardConfig, error) {
	cfg := DefaultRewardConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("error reading reward config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("error parsing reward config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (c *RewardConfig) Validate() error {
	if len(c.Weights) == 0 {
		return fmt.Errorf("reward config has no model weights")
	}

	var sum float64
	for name, w := range c.Weights {
		if w < 0 {
			return fmt.Errorf("reward model %s has negative weight %v", name, w)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > weightEpsilon {
		return fmt.Errorf("reward model weights sum to %v, expected 1.0", sum)
	}

	if c.Alpha <= 0 || c.Alpha > 1 {
		return fmt.Errorf("alpha must be in (0, 1], got %v", c.Alpha)
	}
	if c.MaxPenalty < 0 || c.MaxPenalty > 1 {
		return fmt.Errorf("max_penalty must be in [0, 1], got %v", c.MaxPenalty)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.TransportPoolSize <= 0 {
		return fmt.Errorf("transport_pool_size must be positive, got %d", c.TransportPoolSize)
	}
	if c.MinAllocation < 0 || c.MaxAllocation > 1 || c.MinAllocation > c.MaxAllocation {
		return fmt.Errorf("allocation bounds [%v, %v] are invalid", c.MinAllocation, c.MaxAllocation)
	}

	return nil
}

// Tolerance returns the acceptance band around an expected numeric value:
// within band*expected, with an absolute floor for small counters.
func (c *RewardConfig) Tolerance(expected float64) float64 {
	return math.Max(math.Abs(expected)*c.ToleranceBand, c.ToleranceFloor)
}
