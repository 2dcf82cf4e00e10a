// Package risk is the hard constraint layer applied after the EV
// sizer computes its ideal size. It only ever reduces a proposed size;
// rejecting a trade is the sizer's call, never this layer's.
package risk

import (
	"fmt"
	"math"

	"github.com/sawpanic/evengine/internal/config"
	"github.com/sawpanic/evengine/internal/domain"
)

// Input carries everything the clamp needs; it is a pure function of
// this struct and the tunables.
type Input struct {
	ProposedLots float64
	Entry        float64
	Stop         float64
	Price        float64
	Class        string
	Balance      float64
	Contract     domain.ContractSpec
	Compliance   domain.ComplianceBudget
}

// Apply clamps the proposed size against every configured ceiling and
// returns the final lots with one reason string per applied clamp.
// Every reduction is reported so no ceiling ever clamps silently.
func Apply(cfg config.RiskTunables, in Input) (float64, []string) {
	lots := in.ProposedLots
	var clamps []string

	reduce := func(ceiling float64, reason string) {
		if ceiling >= 0 && lots > ceiling {
			clamps = append(clamps, fmt.Sprintf("%s: %.2f -> %.2f lots", reason, lots, ceiling))
			lots = ceiling
		}
	}

	// 1. Broker maximum lot.
	if in.Contract.MaxLot > 0 {
		reduce(in.Contract.MaxLot, "broker max lot")
	}

	// 2. Per-class lot cap.
	if cap := cfg.MaxLots(in.Class); cap > 0 {
		reduce(cap, fmt.Sprintf("class %s lot cap", in.Class))
	}

	// 3. Notional exposure as a fraction of balance.
	if cfg.MaxNotionalFraction > 0 && in.Price > 0 && in.Contract.ContractSize > 0 {
		maxNotionalLots := cfg.MaxNotionalFraction * in.Balance / (in.Price * in.Contract.ContractSize)
		reduce(maxNotionalLots, "notional exposure cap")
	}

	// 4. Remaining compliance budget (daily loss / drawdown). A breached
	// budget (negative remainder) allows zero size, never a pass-through.
	riskPerLot := in.Contract.RiskPerLot(math.Abs(in.Entry - in.Stop))
	if riskPerLot > 0 {
		budget := math.Min(in.Compliance.DailyLossRemaining, in.Compliance.DrawdownRemaining)
		budget = math.Max(budget, 0) * cfg.ComplianceBuffer
		reduce(budget/riskPerLot, "compliance budget")
	}

	// 5. Lot step rounding, always downward.
	rounded := in.Contract.RoundLot(lots)
	if rounded < lots {
		lots = rounded
	}
	if lots < 0 {
		lots = 0
	}

	return lots, clamps
}
