// Package score implements the composite market-quality scorer. The
// engine is a pure function of the snapshot: same context and
// direction always produce the same breakdown.
package score

import (
	"github.com/sawpanic/evengine/internal/config"
	"github.com/sawpanic/evengine/internal/domain"
)

// Breakdown is the composite score with its weighted components.
// Total and every component lie in [0,100].
type Breakdown struct {
	Total     float64 `json:"total"`
	Trend     float64 `json:"trend"`
	Momentum  float64 `json:"momentum"`
	Volume    float64 `json:"volume"`
	Structure float64 `json:"structure"`
	ML        float64 `json:"ml"`
}

// Components returns the unweighted sub-scores keyed for logging.
func (b Breakdown) Components() map[string]float64 {
	return map[string]float64{
		"trend":     b.Trend,
		"momentum":  b.Momentum,
		"volume":    b.Volume,
		"structure": b.Structure,
		"ml":        b.ML,
	}
}

// Engine scores snapshots against a direction using the configured
// weights and dead zone.
type Engine struct {
	cfg config.ScoreTunables
}

// NewEngine creates a scorer with the given tunables.
func NewEngine(cfg config.ScoreTunables) *Engine {
	return &Engine{cfg: cfg}
}

// Per-timeframe point awards for each sub-score. Swing timeframes
// carry the bulk of the weight; the perfect-alignment bonus tops the
// trend sub-score up to 100.
var trendPoints = map[domain.Timeframe]float64{
	domain.TimeframeD1:  25,
	domain.TimeframeH4:  20,
	domain.TimeframeH1:  15,
	domain.TimeframeM30: 10,
	domain.TimeframeM15: 10,
	domain.TimeframeM5:  5,
	domain.TimeframeM1:  5,
}

const trendAlignmentBonus = 10.0

var momentumPoints = map[domain.Timeframe]float64{
	domain.TimeframeD1:  20,
	domain.TimeframeH4:  25,
	domain.TimeframeH1:  25,
	domain.TimeframeM30: 10,
	domain.TimeframeM15: 10,
	domain.TimeframeM5:  5,
	domain.TimeframeM1:  5,
}

var volumePoints = map[domain.Timeframe]float64{
	domain.TimeframeD1:  20,
	domain.TimeframeH4:  20,
	domain.TimeframeH1:  20,
	domain.TimeframeM30: 10,
	domain.TimeframeM15: 10,
	domain.TimeframeM5:  10,
	domain.TimeframeM1:  10,
}

var structurePoints = map[domain.Timeframe]float64{
	domain.TimeframeD1:  25,
	domain.TimeframeH4:  25,
	domain.TimeframeH1:  20,
	domain.TimeframeM30: 10,
	domain.TimeframeM15: 10,
	domain.TimeframeM5:  5,
	domain.TimeframeM1:  5,
}

// Score computes the weighted composite for a candidate direction.
// Components are summed from discrete per-timeframe awards; every
// alignment check uses the configured dead zone around neutral so a
// 0.45-0.55 reading scores nothing.
func (e *Engine) Score(tc *domain.TradingContext, dir domain.Direction) Breakdown {
	b := Breakdown{
		Trend:     e.trendScore(tc, dir),
		Momentum:  e.momentumScore(tc, dir),
		Volume:    e.volumeScore(tc),
		Structure: e.structureScore(tc, dir),
		ML:        e.mlScore(tc, dir),
	}
	b.Total = clampScore(b.Trend*e.cfg.TrendWeight +
		b.Momentum*e.cfg.MomentumWeight +
		b.Volume*e.cfg.VolumeWeight +
		b.Structure*e.cfg.StructureWeight +
		b.ML*e.cfg.MLWeight)
	return b
}

// adjusted maps a normalized value onto the candidate direction:
// above 0.5 means favorable regardless of buy/sell.
func adjusted(v float64, dir domain.Direction) float64 {
	if dir == domain.DirectionSell {
		return 1.0 - v
	}
	return v
}

func (e *Engine) alignedFavorable(v float64, dir domain.Direction) bool {
	return adjusted(v, dir) > domain.NeutralValue+e.cfg.DeadZone
}

func (e *Engine) trendScore(tc *domain.TradingContext, dir domain.Direction) float64 {
	total := 0.0
	aligned := 0
	for _, tf := range domain.AllTimeframes() {
		if e.alignedFavorable(tc.Bundle(tf).Trend, dir) {
			total += trendPoints[tf]
			aligned++
		}
	}
	// Perfect alignment across every timeframe earns the bonus.
	if aligned == len(domain.AllTimeframes()) {
		total += trendAlignmentBonus
	}
	return clampScore(total)
}

func (e *Engine) momentumScore(tc *domain.TradingContext, dir domain.Direction) float64 {
	total := 0.0
	for _, tf := range domain.AllTimeframes() {
		if e.alignedFavorable(tc.Bundle(tf).Momentum, dir) {
			total += momentumPoints[tf]
		}
	}
	return clampScore(total)
}

// volumeScore is direction-neutral: activity confirms either side.
// Merely-average volume earns the configured baseline credit so the
// composite is not depressed between accumulation spikes.
func (e *Engine) volumeScore(tc *domain.TradingContext) float64 {
	total := 0.0
	for _, tf := range domain.AllTimeframes() {
		v := tc.Bundle(tf).Volume
		switch {
		case v > domain.NeutralValue+e.cfg.DeadZone:
			total += volumePoints[tf]
		case v >= domain.NeutralValue-e.cfg.DeadZone:
			total += volumePoints[tf] * e.cfg.VolumeBaselineCredit
		}
	}
	return clampScore(total)
}

func (e *Engine) structureScore(tc *domain.TradingContext, dir domain.Direction) float64 {
	total := 0.0
	for _, tf := range domain.AllTimeframes() {
		if e.alignedFavorable(tc.Bundle(tf).Structure, dir) {
			total += structurePoints[tf]
		}
	}
	return clampScore(total)
}

func (e *Engine) mlScore(tc *domain.TradingContext, dir domain.Direction) float64 {
	switch tc.Signal.Direction {
	case dir:
		return clampScore(tc.Signal.Confidence)
	case domain.DirectionHold:
		return 25.0 // undecided model: weak credit, not a veto
	default:
		return 0.0
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
