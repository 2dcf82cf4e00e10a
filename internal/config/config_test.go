package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	data := []byte("sizing:\n  min_edge: 0.50\nexit:\n  noise_floor_pct: 8.0\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.50, cfg.Sizing.MinEdge)
	assert.Equal(t, 8.0, cfg.Exit.NoiseFloorPct)
	// Untouched sections keep their defaults.
	assert.Equal(t, 0.30, cfg.Score.TrendWeight)
	assert.Equal(t, 0.15, cfg.Exit.RecoveryFloor)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("score:\n  trend_weight: 0.90\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights sum")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"dead zone too wide", func(c *Config) { c.Score.DeadZone = 0.5 }},
		{"risk fraction too large", func(c *Config) { c.Sizing.BaseRiskFraction = 0.10 }},
		{"negative min edge", func(c *Config) { c.Sizing.MinEdge = -0.1 }},
		{"zero recovery floor", func(c *Config) { c.Exit.RecoveryFloor = 0 }},
		{"amplification below one", func(c *Config) { c.Exit.LossAmplificationMax = 0.9 }},
		{"empty average-down window", func(c *Config) { c.Exit.AverageMinLossPct = 60 }},
		{"partial fraction above one", func(c *Config) { c.Exit.PartialMaxFraction = 1.5 }},
		{"inverted performance band", func(c *Config) { c.Sizing.PerformanceFloor = 2.0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMaxLotsResolution(t *testing.T) {
	r := RiskTunables{MaxLotsPerClass: map[string]float64{
		"default":  10,
		"fx_major": 15,
	}}
	assert.Equal(t, 15.0, r.MaxLots("fx_major"))
	assert.Equal(t, 10.0, r.MaxLots("index"))

	assert.Equal(t, 0.0, RiskTunables{}.MaxLots("index"))
}

func TestDurationAccessors(t *testing.T) {
	p := PredictorTunables{TimeoutMS: 250}
	assert.Equal(t, 250*time.Millisecond, p.CallTimeout())

	s := ServerTunables{ReadTimeoutSec: 10, WriteTimeoutSec: 20, IdleTimeoutSec: 60}
	assert.Equal(t, 10*time.Second, s.ReadTimeout())
	assert.Equal(t, 20*time.Second, s.WriteTimeout())
	assert.Equal(t, time.Minute, s.IdleTimeout())
}
