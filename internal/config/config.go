// Package config centralizes every tunable of the decision engine in
// one tree with documented units. Thresholds fall into three unit
// systems that must never be mixed: probabilities in [0,1], percent of
// a position's risk (100 = one full R), and fractions of account
// balance in [0,1].
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root tunables tree passed through the call chain.
type Config struct {
	Score     ScoreTunables     `yaml:"score"`
	Sizing    SizingTunables    `yaml:"sizing"`
	Exit      ExitTunables      `yaml:"exit"`
	Risk      RiskTunables      `yaml:"risk"`
	Portfolio PortfolioTunables `yaml:"portfolio"`
	Predictor PredictorTunables `yaml:"predictor"`
	Server    ServerTunables    `yaml:"server"`
}

// ScoreTunables configures the market score engine.
type ScoreTunables struct {
	// Component weights, must sum to 1.0.
	TrendWeight     float64 `yaml:"trend_weight"`     // 0.30
	MomentumWeight  float64 `yaml:"momentum_weight"`  // 0.25
	VolumeWeight    float64 `yaml:"volume_weight"`    // 0.20
	StructureWeight float64 `yaml:"structure_weight"` // 0.15
	MLWeight        float64 `yaml:"ml_weight"`        // 0.10

	// DeadZone is the half-width around the 0.5 neutral value inside
	// which an indicator scores nothing. Tunable because instruments
	// with different volatility profiles need different sensitivity.
	DeadZone float64 `yaml:"dead_zone"` // 0.05 -> aligned above 0.55 / below 0.45

	// VolumeBaselineCredit is the fraction of the volume sub-score
	// awarded for merely-average activity, so the composite is not
	// systematically depressed between accumulation spikes.
	VolumeBaselineCredit float64 `yaml:"volume_baseline_credit"` // 0.40
}

// SizingTunables configures the EV position sizer.
type SizingTunables struct {
	// BaseRiskFraction of account balance risked per trade before
	// multipliers (fraction of account, not percent).
	BaseRiskFraction float64 `yaml:"base_risk_fraction"` // 0.005 = 0.5%

	// MinEdge is the minimum expected value per unit risked; positive
	// but marginal edges below it are rejected.
	MinEdge float64 `yaml:"min_edge"` // 0.30

	// Regime multipliers applied to the risk budget.
	TrendingMultiplier float64 `yaml:"trending_multiplier"` // 1.20
	RangingMultiplier  float64 `yaml:"ranging_multiplier"`  // 0.70
	VolatileMultiplier float64 `yaml:"volatile_multiplier"` // 0.85

	// Bounds of the recent-performance multiplier band.
	PerformanceFloor float64 `yaml:"performance_floor"` // 0.70
	PerformanceCeil  float64 `yaml:"performance_ceil"`  // 1.30
}

// ExitTunables configures the EV exit / position-management engine.
// Every pnl threshold is a percent of the position's risk.
type ExitTunables struct {
	// NoiseFloorPct suppresses all evaluation while |pnl| as percent
	// of risk sits below it; covers spread and slippage noise.
	NoiseFloorPct float64 `yaml:"noise_floor_pct"` // 5.0

	// Pyramiding (add to winner).
	PyramidMinContinuation float64 `yaml:"pyramid_min_continuation"` // 0.70 probability
	PyramidMaxAdds         int     `yaml:"pyramid_max_adds"`         // 2
	PyramidAddFraction     float64 `yaml:"pyramid_add_fraction"`     // 0.40 of original size
	PyramidExposureCap     float64 `yaml:"pyramid_exposure_cap"`     // 0.06 fraction of balance at risk

	// Averaging down (add to loser), one-time only.
	AverageMinRecovery  float64 `yaml:"average_min_recovery"`  // 0.75 probability
	AverageMinLossPct   float64 `yaml:"average_min_loss_pct"`  // 15.0 percent of risk
	AverageMaxLossPct   float64 `yaml:"average_max_loss_pct"`  // 50.0 percent of risk
	AverageAddFraction  float64 `yaml:"average_add_fraction"`  // 0.30 of original size
	AverageDownMaxCount int     `yaml:"average_down_max_count"` // 1

	// Partial exit.
	PartialMinReversal    float64 `yaml:"partial_min_reversal"`    // 0.45 probability
	PartialMinProgressPct float64 `yaml:"partial_min_progress_pct"` // 35.0 percent of target distance reached
	PartialMaxFraction    float64 `yaml:"partial_max_fraction"`    // 0.75

	// ReversalGivebackFraction is the share of open profit assumed
	// surrendered when a reversal plays out, in the winning-position
	// hold-vs-exit EV math (fraction of current pnl, not of risk).
	ReversalGivebackFraction float64 `yaml:"reversal_giveback_fraction"` // 0.50

	// Probability model bounds.
	RecoveryFloor float64 `yaml:"recovery_floor"` // 0.15, never model zero recovery chance
	// LossAmplificationMax bounds expected_worse_loss to at most this
	// multiple of the current loss in the losing-position EV math.
	LossAmplificationMax float64 `yaml:"loss_amplification_max"` // 1.50

	// FallbackTargetRiskMultiple sizes the next-target distance when no
	// structural level exists on the favorable side (Open Question
	// fallback): multiple of the position's risk distance.
	FallbackTargetRiskMultiple float64 `yaml:"fallback_target_risk_multiple"` // 1.5
}

// RiskTunables configures the hard constraint layer.
type RiskTunables struct {
	// MaxLotsPerClass caps lots per instrument class; empty class key
	// "default" applies when the class has no entry.
	MaxLotsPerClass map[string]float64 `yaml:"max_lots_per_class"`

	// MaxNotionalFraction caps position notional as a fraction of
	// account balance.
	MaxNotionalFraction float64 `yaml:"max_notional_fraction"` // 5.0 (leveraged)

	// ComplianceBuffer keeps sized risk strictly inside the remaining
	// daily-loss/drawdown budget (fraction of the remainder usable).
	ComplianceBuffer float64 `yaml:"compliance_buffer"` // 0.90
}

// PortfolioTunables configures the shared state tracker.
type PortfolioTunables struct {
	// CorrelationSeeds maps "classA/classB" to a seed coefficient in
	// [0,1] used until enough recorded outcomes refine it.
	CorrelationSeeds map[string]float64 `yaml:"correlation_seeds"`

	// PerformanceWindow is the number of recent closed trades feeding
	// the performance multiplier.
	PerformanceWindow int `yaml:"performance_window"` // 20

	// MaxConcentration is the exposure fraction per class above which
	// the diversification multiplier bottoms out.
	MaxConcentration float64 `yaml:"max_concentration"` // 0.25
}

// PredictorTunables guards the external ML signal provider.
type PredictorTunables struct {
	TimeoutMS   int64   `yaml:"timeout_ms"`   // 250; on expiry degrade to HOLD
	RatePerSec  float64 `yaml:"rate_per_sec"` // 50
	Burst       int     `yaml:"burst"`        // 10
	BreakerName string  `yaml:"breaker_name"` // "predictor"
}

// CallTimeout returns the predictor call deadline.
func (p PredictorTunables) CallTimeout() time.Duration {
	return time.Duration(p.TimeoutMS) * time.Millisecond
}

// ServerTunables configures the HTTP/websocket surface.
type ServerTunables struct {
	Addr            string `yaml:"addr"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	IdleTimeoutSec  int    `yaml:"idle_timeout_sec"`
}

// ReadTimeout returns the read deadline as a duration.
func (s ServerTunables) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSec) * time.Second
}

// WriteTimeout returns the write deadline as a duration.
func (s ServerTunables) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSec) * time.Second
}

// IdleTimeout returns the idle-connection deadline as a duration.
func (s ServerTunables) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSec) * time.Second
}

// Default returns the production baseline configuration.
func Default() *Config {
	return &Config{
		Score: ScoreTunables{
			TrendWeight:          0.30,
			MomentumWeight:       0.25,
			VolumeWeight:         0.20,
			StructureWeight:      0.15,
			MLWeight:             0.10,
			DeadZone:             0.05,
			VolumeBaselineCredit: 0.40,
		},
		Sizing: SizingTunables{
			BaseRiskFraction:   0.005,
			MinEdge:            0.30,
			TrendingMultiplier: 1.20,
			RangingMultiplier:  0.70,
			VolatileMultiplier: 0.85,
			PerformanceFloor:   0.70,
			PerformanceCeil:    1.30,
		},
		Exit: ExitTunables{
			NoiseFloorPct:              5.0,
			PyramidMinContinuation:     0.70,
			PyramidMaxAdds:             2,
			PyramidAddFraction:         0.40,
			PyramidExposureCap:         0.06,
			AverageMinRecovery:         0.75,
			AverageMinLossPct:          15.0,
			AverageMaxLossPct:          50.0,
			AverageAddFraction:         0.30,
			AverageDownMaxCount:        1,
			PartialMinReversal:         0.45,
			PartialMinProgressPct:      35.0,
			PartialMaxFraction:         0.75,
			ReversalGivebackFraction:   0.50,
			RecoveryFloor:              0.15,
			LossAmplificationMax:       1.50,
			FallbackTargetRiskMultiple: 1.5,
		},
		Risk: RiskTunables{
			MaxLotsPerClass: map[string]float64{
				"default": 10.0,
			},
			MaxNotionalFraction: 5.0,
			ComplianceBuffer:    0.90,
		},
		Portfolio: PortfolioTunables{
			CorrelationSeeds:  map[string]float64{},
			PerformanceWindow: 20,
			MaxConcentration:  0.25,
		},
		Predictor: PredictorTunables{
			TimeoutMS:   250,
			RatePerSec:  50,
			Burst:       10,
			BreakerName: "predictor",
		},
		Server: ServerTunables{
			Addr:            "127.0.0.1:8080",
			ReadTimeoutSec:  10,
			WriteTimeoutSec: 10,
			IdleTimeoutSec:  60,
		},
	}
}

// Load reads a yaml file over the defaults, so partial files only
// override what they name.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations that would break engine invariants.
func (c *Config) Validate() error {
	sum := c.Score.TrendWeight + c.Score.MomentumWeight + c.Score.VolumeWeight +
		c.Score.StructureWeight + c.Score.MLWeight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("score weights sum to %.3f, want 1.0", sum)
	}
	if c.Score.DeadZone < 0 || c.Score.DeadZone >= 0.5 {
		return fmt.Errorf("dead zone %.3f outside [0,0.5)", c.Score.DeadZone)
	}
	if c.Sizing.BaseRiskFraction <= 0 || c.Sizing.BaseRiskFraction > 0.05 {
		return fmt.Errorf("base risk fraction %.4f outside (0,0.05]", c.Sizing.BaseRiskFraction)
	}
	if c.Sizing.MinEdge < 0 {
		return fmt.Errorf("min edge %.2f must be non-negative", c.Sizing.MinEdge)
	}
	if c.Exit.RecoveryFloor <= 0 || c.Exit.RecoveryFloor >= 0.5 {
		return fmt.Errorf("recovery floor %.2f outside (0,0.5)", c.Exit.RecoveryFloor)
	}
	if c.Exit.LossAmplificationMax < 1.0 {
		return fmt.Errorf("loss amplification max %.2f must be >= 1.0", c.Exit.LossAmplificationMax)
	}
	if c.Exit.AverageMinLossPct >= c.Exit.AverageMaxLossPct {
		return fmt.Errorf("average-down loss window [%.1f,%.1f] is empty",
			c.Exit.AverageMinLossPct, c.Exit.AverageMaxLossPct)
	}
	if c.Exit.PartialMaxFraction <= 0 || c.Exit.PartialMaxFraction > 1.0 {
		return fmt.Errorf("partial max fraction %.2f outside (0,1]", c.Exit.PartialMaxFraction)
	}
	if c.Exit.ReversalGivebackFraction < 0 || c.Exit.ReversalGivebackFraction > 1.0 {
		return fmt.Errorf("reversal giveback fraction %.2f outside [0,1]", c.Exit.ReversalGivebackFraction)
	}
	if c.Sizing.PerformanceFloor > c.Sizing.PerformanceCeil {
		return fmt.Errorf("performance band [%.2f,%.2f] inverted",
			c.Sizing.PerformanceFloor, c.Sizing.PerformanceCeil)
	}
	return nil
}

// MaxLots resolves the per-class lot cap with the "default" fallback.
func (r RiskTunables) MaxLots(class string) float64 {
	if v, ok := r.MaxLotsPerClass[class]; ok {
		return v
	}
	if v, ok := r.MaxLotsPerClass["default"]; ok {
		return v
	}
	return 0 // no cap configured
}
