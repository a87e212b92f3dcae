package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := DefaultRewardConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 80, cfg.ChunkSize)
	assert.Equal(t, 3, cfg.TransportPoolSize)
	assert.Equal(t, 0.1, cfg.Alpha)
}

func TestWeightSumValidation(t *testing.T) {
	cfg := DefaultRewardConfig()
	cfg.Weights = map[string]float64{"relevance": 0.5, "summary": 0.3}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum")
}

func TestNegativeWeightRejected(t *testing.T) {
	cfg := DefaultRewardConfig()
	cfg.Weights = map[string]float64{"relevance": 1.2, "summary": -0.2}

	assert.Error(t, cfg.Validate())
}

func TestLoadRewardConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rewards.yaml")
	data := `
alpha: 0.2
weights:
  relevance: 0.7
  performance: 0.3
miners:
  - id: miner-1
    url: http://localhost:9001
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadRewardConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 0.2, cfg.Alpha)
	assert.Equal(t, 0.7, cfg.Weights["relevance"])
	// Unset fields keep defaults.
	assert.Equal(t, 80, cfg.ChunkSize)
	require.Len(t, cfg.Miners, 1)
	assert.Equal(t, "http://localhost:9001", cfg.Miners[0].Url)
}

func TestLoadRewardConfigBadWeightsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rewards.yaml")
	data := `
weights:
  relevance: 0.9
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	_, err := LoadRewardConfig(path)
	assert.Error(t, err)
}

func TestTolerance(t *testing.T) {
	cfg := DefaultRewardConfig()

	// Band dominates for large counters, floor for small ones.
	assert.InDelta(t, 600.0, cfg.Tolerance(1000), 1e-9)
	assert.InDelta(t, 10.0, cfg.Tolerance(5), 1e-9)
	assert.InDelta(t, 10.0, cfg.Tolerance(0), 1e-9)
}
