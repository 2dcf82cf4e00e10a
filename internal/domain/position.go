package domain

import (
	"math"
	"time"
)

// Position is an open trade as reported by the terminal bridge.
type Position struct {
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`

	EntryPrice float64  `json:"entry_price"`
	StopLoss   float64  `json:"stop_loss"`
	Target     *float64 `json:"target,omitempty"` // nil when structure-derived downstream

	Volume         float64 `json:"volume"`          // current lots
	OriginalVolume float64 `json:"original_volume"` // lots at entry, before adds/reductions

	UnrealizedPnL float64   `json:"unrealized_pnl"` // account currency
	OpenedAt      time.Time `json:"opened_at"`

	Pyramids     int `json:"pyramids"`      // prior add-to-winner count
	AverageDowns int `json:"average_downs"` // prior average-down count
}

// RiskDistance is the entry-to-stop distance in price units.
func (p *Position) RiskDistance() float64 {
	return math.Abs(p.EntryPrice - p.StopLoss)
}

// RiskCurrency converts the position's risk into account currency.
// This is the normalizing unit for every profit/loss percentage the
// exit engine consumes: sizing targets an expected return per unit
// risked, so exit evaluation must measure realized return in the same
// unit rather than as a fraction of account balance.
func (p *Position) RiskCurrency(spec ContractSpec) float64 {
	return spec.RiskPerLot(p.RiskDistance()) * p.Volume
}

// PnLPctOfRisk expresses unrealized profit as a percentage of the
// position's risk. +100 means one full R of profit, -100 a stop-out.
func (p *Position) PnLPctOfRisk(spec ContractSpec) float64 {
	risk := p.RiskCurrency(spec)
	if risk <= 0 {
		return 0
	}
	return p.UnrealizedPnL / risk * 100.0
}

// Winning reports whether the position carries unrealized profit.
func (p *Position) Winning() bool { return p.UnrealizedPnL > 0 }

// BaseVolume returns the size adds are measured against: the original
// entry size when known, the current size otherwise.
func (p *Position) BaseVolume() float64 {
	if p.OriginalVolume > 0 {
		return p.OriginalVolume
	}
	return p.Volume
}

// GeometryValid reports whether the stop sits on the correct side of
// entry for the position's direction.
func (p *Position) GeometryValid() bool {
	if p.RiskDistance() == 0 {
		return false
	}
	switch p.Direction {
	case DirectionBuy:
		return p.StopLoss < p.EntryPrice
	case DirectionSell:
		return p.StopLoss > p.EntryPrice
	default:
		return false
	}
}
