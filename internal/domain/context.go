package domain

import (
	"fmt"
	"time"
)

// NeutralValue is the center of every normalized indicator scale.
// Missing indicators default to it so a sparse snapshot degrades a
// sub-score toward zero instead of failing the evaluation.
const NeutralValue = 0.5

// IndicatorSet is one timeframe's normalized indicator bundle.
// All values lie in [0,1] with 0.5 neutral: trend above 0.5 is bullish,
// momentum above 0.5 is rising, volume above 0.5 is elevated activity,
// structure above 0.5 means price sits nearer support than resistance.
type IndicatorSet struct {
	Trend     float64 `json:"trend"`
	Momentum  float64 `json:"momentum"`
	Volume    float64 `json:"volume"`
	Structure float64 `json:"structure"`
}

// NeutralIndicators is the MissingData fallback bundle.
func NeutralIndicators() IndicatorSet {
	return IndicatorSet{
		Trend:     NeutralValue,
		Momentum:  NeutralValue,
		Volume:    NeutralValue,
		Structure: NeutralValue,
	}
}

// MLSignal is the external classifier's output: a direction and a
// confidence in [0,100].
type MLSignal struct {
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
}

// ContractSpec describes the instrument's trading contract as supplied
// by the terminal bridge.
type ContractSpec struct {
	TickValue    float64 `json:"tick_value"`    // account currency per tick per 1.0 lot
	TickSize     float64 `json:"tick_size"`     // price units per tick
	ContractSize float64 `json:"contract_size"` // units per 1.0 lot, for notional
	MinLot       float64 `json:"min_lot"`
	MaxLot       float64 `json:"max_lot"`
	LotStep      float64 `json:"lot_step"`
}

// RoundLot rounds lots down to the contract's lot step.
func (cs ContractSpec) RoundLot(lots float64) float64 {
	if cs.LotStep <= 0 {
		return lots
	}
	steps := float64(int64(lots / cs.LotStep))
	return steps * cs.LotStep
}

// RiskPerLot converts a stop distance in price units into account
// currency risked per 1.0 lot.
func (cs ContractSpec) RiskPerLot(stopDistance float64) float64 {
	if cs.TickSize <= 0 {
		return 0
	}
	return stopDistance / cs.TickSize * cs.TickValue
}

// Notional returns the account-currency notional of a position size at
// the given price.
func (cs ContractSpec) Notional(price, lots float64) float64 {
	return price * cs.ContractSize * lots
}

// ComplianceBudget carries the remaining daily-loss and drawdown
// headroom in account currency, as reported by the bridge.
type ComplianceBudget struct {
	DailyLossRemaining float64 `json:"daily_loss_remaining"`
	DrawdownRemaining  float64 `json:"drawdown_remaining"`
}

// ClosedTrade is one completed trade fed back for the performance
// multiplier. RMultiple is realized profit divided by the risk taken.
type ClosedTrade struct {
	Symbol    string    `json:"symbol"`
	Class     string    `json:"class"`
	Direction Direction `json:"direction"`
	RMultiple float64   `json:"r_multiple"`
	Profit    float64   `json:"profit"`
	ClosedAt  time.Time `json:"closed_at"`
}

// Win reports whether the trade closed profitably.
func (ct ClosedTrade) Win() bool { return ct.Profit > 0 }

// TradingContext is the immutable per-decision snapshot produced by the
// upstream feature pipeline. The engine never mutates it; recomputing a
// decision from the same snapshot must reproduce the same output.
type TradingContext struct {
	Symbol    string    `json:"symbol"`
	Class     string    `json:"class"` // instrument class for correlation/concentration
	Timestamp time.Time `json:"ts"`

	Balance float64 `json:"balance"`
	Equity  float64 `json:"equity"`
	Price   float64 `json:"price"`

	// Volatility is an ATR-style price range used as the structural
	// fallback when no level exists on the favorable side.
	Volatility float64 `json:"volatility"`

	// Nearest structural levels in price units; nil when the feature
	// pipeline found none within its scan window.
	Support    *float64 `json:"support,omitempty"`
	Resistance *float64 `json:"resistance,omitempty"`

	Timeframes map[Timeframe]IndicatorSet `json:"timeframes"`

	Signal     MLSignal         `json:"signal"`
	Contract   ContractSpec     `json:"contract"`
	Compliance ComplianceBudget `json:"compliance"`

	Positions []Position    `json:"positions,omitempty"`
	History   []ClosedTrade `json:"history,omitempty"`
}

// Bundle returns the indicator set for a timeframe, falling back to
// neutral values when the snapshot does not carry that timeframe.
func (tc *TradingContext) Bundle(tf Timeframe) IndicatorSet {
	if tc.Timeframes == nil {
		return NeutralIndicators()
	}
	set, ok := tc.Timeframes[tf]
	if !ok {
		return NeutralIndicators()
	}
	return set.clamped()
}

func (set IndicatorSet) clamped() IndicatorSet {
	set.Trend = clamp01(set.Trend)
	set.Momentum = clamp01(set.Momentum)
	set.Volume = clamp01(set.Volume)
	set.Structure = clamp01(set.Structure)
	return set
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Validate checks snapshot invariants the engine depends on. It does
// not reject sparse indicator maps; those degrade to neutral values.
func (tc *TradingContext) Validate() error {
	if tc.Symbol == "" {
		return fmt.Errorf("snapshot missing symbol")
	}
	if tc.Balance <= 0 {
		return fmt.Errorf("snapshot for %s has non-positive balance %.2f", tc.Symbol, tc.Balance)
	}
	if tc.Price <= 0 {
		return fmt.Errorf("snapshot for %s has non-positive price %.5f", tc.Symbol, tc.Price)
	}
	if tc.Signal.Confidence < 0 || tc.Signal.Confidence > 100 {
		return fmt.Errorf("snapshot for %s has confidence %.1f outside [0,100]", tc.Symbol, tc.Signal.Confidence)
	}
	return nil
}

// OpenPosition returns the first open position for the snapshot's
// instrument, or nil when the engine should evaluate a fresh entry.
func (tc *TradingContext) OpenPosition() *Position {
	if len(tc.Positions) == 0 {
		return nil
	}
	return &tc.Positions[0]
}
