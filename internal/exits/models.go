package exits

import (
	"math"

	"github.com/sawpanic/evengine/internal/domain"
	"github.com/sawpanic/evengine/internal/regime"
)

// Swing trend weights, skewed toward the middle timeframe: H4 anchors
// the holding-period view, H1 and D1 temper it.
var swingTrendWeights = map[domain.Timeframe]float64{
	domain.TimeframeH1: 0.25,
	domain.TimeframeH4: 0.50,
	domain.TimeframeD1: 0.25,
}

// flipBand is the dead zone used when counting swing timeframes that
// have turned against the position.
const flipBand = 0.05

// Assessment bundles every model output for one position evaluation.
// All pnl and distance values are percent of the position's risk.
type Assessment struct {
	PnLPct        float64 `json:"pnl_pct_of_risk"`
	TrendStrength float64 `json:"trend_strength"` // direction-adjusted, 0.5 neutral

	Continuation float64 `json:"continuation"` // winning positions
	Reversal     float64 `json:"reversal"`     // winning positions
	Recovery     float64 `json:"recovery"`     // losing positions, floored

	// TargetDistancePct is the remaining distance from current price to
	// the next favorable structural level (or the volatility fallback),
	// as percent of risk. TotalTargetPct measures the same target from
	// entry; ProgressPct is how much of it the position has realized.
	TargetDistancePct float64 `json:"target_distance_pct"`
	TotalTargetPct    float64 `json:"total_target_pct"`
	ProgressPct       float64 `json:"progress_pct"`

	FlippedSwings int            `json:"flipped_swings"`
	AlignedSwings int            `json:"aligned_swings"`
	MLFlipped     bool           `json:"ml_flipped"`
	Regime        regime.Regime  `json:"regime"`
}

// adjustedSwingAverage direction-adjusts one indicator across the
// swing band with the middle-weighted trend weights.
func adjustedSwingAverage(tc *domain.TradingContext, dir domain.Direction, pick func(domain.IndicatorSet) float64) float64 {
	total, weight := 0.0, 0.0
	for _, tf := range domain.SwingBand() {
		w := swingTrendWeights[tf]
		v := pick(tc.Bundle(tf))
		if dir == domain.DirectionSell {
			v = 1.0 - v
		}
		total += v * w
		weight += w
	}
	if weight == 0 {
		return domain.NeutralValue
	}
	return total / weight
}

func (ev *Evaluator) assess(tc *domain.TradingContext, pos *domain.Position) Assessment {
	det := regime.Detect(tc)

	a := Assessment{
		PnLPct: pos.PnLPctOfRisk(tc.Contract),
		Regime: det.Regime,
	}

	a.TrendStrength = adjustedSwingAverage(tc, pos.Direction, func(s domain.IndicatorSet) float64 { return s.Trend })
	momentum := adjustedSwingAverage(tc, pos.Direction, func(s domain.IndicatorSet) float64 { return s.Momentum })
	structure := adjustedSwingAverage(tc, pos.Direction, func(s domain.IndicatorSet) float64 { return s.Structure })
	volume := adjustedSwingAverage(tc, pos.Direction, func(s domain.IndicatorSet) float64 { return s.Volume })

	for _, tf := range domain.SwingBand() {
		t := tc.Bundle(tf).Trend
		if pos.Direction == domain.DirectionSell {
			t = 1.0 - t
		}
		switch {
		case t < domain.NeutralValue-flipBand:
			a.FlippedSwings++
		case t > domain.NeutralValue+flipBand:
			a.AlignedSwings++
		}
	}
	a.MLFlipped = tc.Signal.Direction == pos.Direction.Opposite()

	a.TargetDistancePct = ev.targetDistancePct(tc, pos)
	a.TotalTargetPct = a.PnLPct + a.TargetDistancePct
	if a.TotalTargetPct > 0 {
		a.ProgressPct = a.PnLPct / a.TotalTargetPct * 100.0
	}

	a.Continuation = ev.continuationProbability(a, momentum)
	a.Reversal = ev.reversalProbability(a, momentum, volume)
	a.Recovery = ev.recoveryProbability(a, structure)

	return a
}

// continuationProbability estimates the chance a winning move
// persists: base 0.5 shaped by trend strength, momentum, regime, and
// a diminishing-returns penalty as unrealized profit grows.
func (ev *Evaluator) continuationProbability(a Assessment, momentum float64) float64 {
	p := 0.5
	p += (a.TrendStrength - domain.NeutralValue) * 0.8
	p += (momentum - domain.NeutralValue) * 0.4

	switch a.Regime {
	case regime.Trending:
		p += 0.10
	case regime.Ranging:
		p -= 0.10
	case regime.Volatile:
		p -= 0.05
	}

	// The further the move has run, the less is statistically left.
	if a.PnLPct > 0 {
		p -= 0.15 * math.Min(a.PnLPct/200.0, 1.0)
	}

	return clampProb(p, 0)
}

// reversalProbability estimates the chance a winning move turns: base
// raised by swing flips, an ML direction flip, and momentum/volume
// divergence against the position.
func (ev *Evaluator) reversalProbability(a Assessment, momentum, volume float64) float64 {
	p := 0.15
	p += 0.12 * float64(a.FlippedSwings)
	if a.MLFlipped {
		p += 0.15
	}
	// Divergence: momentum rolling over against the position, worse
	// when elevated volume confirms the counter-move.
	if momentum < domain.NeutralValue-flipBand {
		p += 0.10
		if volume > domain.NeutralValue+flipBand {
			p += 0.05
		}
	}
	return clampProb(p, 0)
}

// recoveryProbability estimates the chance a losing position returns
// to breakeven. It carries a hard floor: markets are probabilistic and
// a zero recovery estimate makes the hold-vs-exit math amplify trivial
// noise into an exit.
func (ev *Evaluator) recoveryProbability(a Assessment, structure float64) float64 {
	p := 0.5
	p += (a.TrendStrength - domain.NeutralValue) * 0.6
	if a.MLFlipped {
		p -= 0.20
	} else {
		p += 0.15
	}
	p += (structure - domain.NeutralValue) * 0.3
	p += 0.05 * float64(a.AlignedSwings)
	p -= 0.10 * float64(a.FlippedSwings)

	return clampProb(p, ev.cfg.RecoveryFloor)
}

// targetDistancePct measures the distance from current price to the
// next favorable structural level as percent of the position's risk.
// With no level on the favorable side it falls back to the configured
// multiple of the risk distance instead of an arbitrary fixed price
// percentage.
func (ev *Evaluator) targetDistancePct(tc *domain.TradingContext, pos *domain.Position) float64 {
	riskDist := pos.RiskDistance()
	if riskDist <= 0 {
		return 0
	}

	var level *float64
	switch pos.Direction {
	case domain.DirectionBuy:
		if tc.Resistance != nil && *tc.Resistance > tc.Price {
			level = tc.Resistance
		}
	case domain.DirectionSell:
		if tc.Support != nil && *tc.Support < tc.Price {
			level = tc.Support
		}
	}

	if level == nil {
		return ev.cfg.FallbackTargetRiskMultiple * 100.0
	}
	return math.Abs(*level-tc.Price) / riskDist * 100.0
}

func clampProb(p, floor float64) float64 {
	if p < floor {
		return floor
	}
	if p > 1 {
		return 1
	}
	return p
}
