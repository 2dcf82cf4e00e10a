// Package exits is the EV position-management engine. Management is
// expressed as an explicit ordered rule chain rather than nested
// conditionals so the precedence is auditable and testable rule by
// rule. Every threshold is a probability or a percent of the
// position's own risk; nothing here keys off percent of account
// balance, keeping the unit system identical to the sizer's.
package exits

import (
	"fmt"
	"math"

	"github.com/sawpanic/evengine/internal/config"
	"github.com/sawpanic/evengine/internal/domain"
)

// Rule is one management policy. Apply returns nil when the rule has
// no opinion, letting evaluation fall through to the next rule.
type Rule struct {
	Name  string
	Apply func(tc *domain.TradingContext, pos *domain.Position, a Assessment) *domain.Decision
}

// Evaluator runs the rule chain over one open position per snapshot.
type Evaluator struct {
	cfg   config.ExitTunables
	rules []Rule
}

// NewEvaluator builds the evaluator with its fixed rule order:
// noise-floor suppression, pyramid, average-down, partial exit,
// EV hold-vs-exit comparison.
func NewEvaluator(cfg config.ExitTunables) *Evaluator {
	ev := &Evaluator{cfg: cfg}
	ev.rules = []Rule{
		{Name: "noise_floor", Apply: ev.noiseFloorRule},
		{Name: "pyramid", Apply: ev.pyramidRule},
		{Name: "average_down", Apply: ev.averageDownRule},
		{Name: "partial_exit", Apply: ev.partialExitRule},
		{Name: "ev_exit", Apply: ev.evExitRule},
	}
	return ev
}

// Rules exposes the ordered chain for observability.
func (ev *Evaluator) Rules() []string {
	names := make([]string, len(ev.rules))
	for i, r := range ev.rules {
		names[i] = r.Name
	}
	return names
}

// Assess computes the probability models for one position without
// deciding anything.
func (ev *Evaluator) Assess(tc *domain.TradingContext, pos *domain.Position) Assessment {
	return ev.assess(tc, pos)
}

// Evaluate runs the rule chain and returns the first decision a rule
// produces, or HOLD. Indeterminate geometry degrades to HOLD rather
// than guessing at risk-normalized math with a broken unit.
func (ev *Evaluator) Evaluate(tc *domain.TradingContext, pos *domain.Position) domain.Decision {
	if !pos.GeometryValid() {
		d := domain.Hold(tc.Symbol, "exit evaluation indeterminate: stop on wrong side of entry")
		return d
	}
	if pos.RiskCurrency(tc.Contract) <= 0 {
		return domain.Hold(tc.Symbol, "exit evaluation indeterminate: zero position risk")
	}

	a := ev.assess(tc, pos)
	for _, rule := range ev.rules {
		if d := rule.Apply(tc, pos, a); d != nil {
			return *d
		}
	}
	return domain.Hold(tc.Symbol, fmt.Sprintf("holding: EV favors staying at %.1f%% of risk", a.PnLPct))
}

// noiseFloorRule suppresses every downstream rule while |pnl| sits
// inside the spread/slippage noise band. Without it the EV comparison
// fires on entry-cost noise the moment a position opens.
func (ev *Evaluator) noiseFloorRule(tc *domain.TradingContext, pos *domain.Position, a Assessment) *domain.Decision {
	if math.Abs(a.PnLPct) >= ev.cfg.NoiseFloorPct {
		return nil
	}
	d := domain.Hold(tc.Symbol, fmt.Sprintf("pnl %.1f%% of risk within %.1f%% noise floor", a.PnLPct, ev.cfg.NoiseFloorPct))
	d.Score = a.PnLPct
	return &d
}

// pyramidRule adds to a winner early in its move when continuation
// confidence is high and the add keeps total risked exposure under the
// account-level cap.
func (ev *Evaluator) pyramidRule(tc *domain.TradingContext, pos *domain.Position, a Assessment) *domain.Decision {
	if !pos.Winning() {
		return nil
	}
	if a.Continuation < ev.cfg.PyramidMinContinuation {
		return nil
	}
	// Only add while less than half the target distance is realized;
	// adding late buys the top of the move.
	if a.ProgressPct >= 50.0 {
		return nil
	}
	if pos.Pyramids >= ev.cfg.PyramidMaxAdds {
		return nil
	}

	addLots := tc.Contract.RoundLot(pos.BaseVolume() * ev.cfg.PyramidAddFraction)
	if addLots < tc.Contract.MinLot {
		return nil
	}

	// Account-level exposure cap on the pyramided stack.
	addRisk := tc.Contract.RiskPerLot(pos.RiskDistance()) * addLots
	if tc.Balance > 0 {
		stacked := (pos.RiskCurrency(tc.Contract) + addRisk) / tc.Balance
		if stacked > ev.cfg.PyramidExposureCap {
			return nil
		}
	}

	d := domain.NewDecision(tc.Symbol, domain.ActionAddWinner,
		fmt.Sprintf("pyramid: continuation %.2f at %.0f%% of target distance, add %d of %d",
			a.Continuation, a.ProgressPct, pos.Pyramids+1, ev.cfg.PyramidMaxAdds))
	d.Direction = pos.Direction
	d.Lots = addLots
	d.Score = a.Continuation * 100
	return &d
}

// averageDownRule is the rare one-time add to a loser: recovery
// confidence must clear a very high bar and the loss must sit in the
// bounded shallow window (deeper than noise, shallower than a failing
// trade).
func (ev *Evaluator) averageDownRule(tc *domain.TradingContext, pos *domain.Position, a Assessment) *domain.Decision {
	if pos.Winning() {
		return nil
	}
	loss := -a.PnLPct
	if loss < ev.cfg.AverageMinLossPct || loss > ev.cfg.AverageMaxLossPct {
		return nil
	}
	if a.Recovery < ev.cfg.AverageMinRecovery {
		return nil
	}
	if pos.AverageDowns >= ev.cfg.AverageDownMaxCount {
		return nil
	}

	addLots := tc.Contract.RoundLot(pos.BaseVolume() * ev.cfg.AverageAddFraction)
	if addLots < tc.Contract.MinLot {
		return nil
	}

	d := domain.NewDecision(tc.Symbol, domain.ActionAddLoser,
		fmt.Sprintf("average down: recovery %.2f at %.1f%% of risk drawn down", a.Recovery, loss))
	d.Direction = pos.Direction
	d.Lots = addLots
	d.Score = a.Recovery * 100
	return &d
}

// partialExitRule banks part of a winner when reversal risk rises
// after meaningful progress toward the target. The reduced fraction
// scales with the reversal probability, capped.
func (ev *Evaluator) partialExitRule(tc *domain.TradingContext, pos *domain.Position, a Assessment) *domain.Decision {
	if !pos.Winning() {
		return nil
	}
	if a.Reversal < ev.cfg.PartialMinReversal {
		return nil
	}
	if a.ProgressPct < ev.cfg.PartialMinProgressPct {
		return nil
	}

	fraction := math.Min(a.Reversal, ev.cfg.PartialMaxFraction)
	d := domain.NewDecision(tc.Symbol, domain.ActionPartialClose,
		fmt.Sprintf("partial exit: reversal %.2f with %.0f%% of target distance realized", a.Reversal, a.ProgressPct))
	d.Fraction = fraction
	d.Score = a.Reversal * 100
	return &d
}

// evExitRule compares the expected value of holding against closing,
// both in percent of the position's risk.
func (ev *Evaluator) evExitRule(tc *domain.TradingContext, pos *domain.Position, a Assessment) *domain.Decision {
	if pos.Winning() {
		return ev.winningExit(tc, a)
	}
	return ev.losingExit(tc, a)
}

// losingExit exits when cutting the loss beats the recovery-weighted
// expectation of holding. The worse-loss amplification is bounded and
// shrinks as recovery probability rises, so the model never projects
// an unboundedly pessimistic hold.
func (ev *Evaluator) losingExit(tc *domain.TradingContext, a Assessment) *domain.Decision {
	amplification := 1.0 + (ev.cfg.LossAmplificationMax-1.0)*(1.0-a.Recovery)
	expectedWorseLoss := a.PnLPct * amplification

	evHold := a.Recovery*0 + (1.0-a.Recovery)*expectedWorseLoss
	evExit := a.PnLPct

	if evHold >= evExit {
		return nil // holding carries the better expectation
	}

	d := domain.NewDecision(tc.Symbol, domain.ActionClose,
		fmt.Sprintf("cut loss: exit EV %.1f%% beats hold EV %.1f%% (recovery %.2f)", evExit, evHold, a.Recovery))
	d.Score = evExit - evHold
	return &d
}

// winningExit exits when banking the profit beats the three-way
// continuation/reversal/flat expectation of holding.
func (ev *Evaluator) winningExit(tc *domain.TradingContext, a Assessment) *domain.Decision {
	cont, rev := a.Continuation, a.Reversal
	if sum := cont + rev; sum > 1.0 {
		cont /= sum
		rev /= sum
	}
	flat := 1.0 - cont - rev

	nextTargetValue := a.PnLPct + a.TargetDistancePct
	partialGiveback := a.PnLPct * (1.0 - ev.cfg.ReversalGivebackFraction)

	evHold := cont*nextTargetValue + rev*partialGiveback + flat*a.PnLPct
	evExit := a.PnLPct

	if evExit <= evHold {
		return nil
	}

	d := domain.NewDecision(tc.Symbol, domain.ActionClose,
		fmt.Sprintf("bank profit: exit EV %.1f%% beats hold EV %.1f%% (continuation %.2f, reversal %.2f)",
			evExit, evHold, cont, rev))
	d.Score = evExit - evHold
	return &d
}
