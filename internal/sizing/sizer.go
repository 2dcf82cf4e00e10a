// Package sizing converts edge into position size. The sizer never
// takes a trade whose expected value per unit risked is non-positive
// or below the configured floor, and it never bypasses the risk
// constraint layer.
package sizing

import (
	"fmt"
	"math"

	"github.com/sawpanic/evengine/internal/config"
	"github.com/sawpanic/evengine/internal/domain"
	"github.com/sawpanic/evengine/internal/regime"
	"github.com/sawpanic/evengine/internal/risk"
)

// PortfolioView is the sizer's read surface over the shared tracker.
type PortfolioView interface {
	CorrelationExposure(symbol, class string) float64
	PerformanceMultiplier() float64
	ConcentrationUsed(class string) float64
}

// Request carries one entry proposal.
type Request struct {
	Context      *domain.TradingContext
	Direction    domain.Direction
	MarketScore  float64 // composite 0..100
	MLConfidence float64 // 0..100
	Entry        float64
	Stop         float64
	Target       float64
	Regime       regime.Regime
}

// Result is the sizing outcome. Rejected results carry no lots; sized
// results list every clamp that reduced them.
type Result struct {
	Lots             float64  `json:"lots"`
	Rejected         bool     `json:"rejected"`
	Reason           string   `json:"reason"`
	EV               float64  `json:"ev"`          // expected return per unit risked
	RiskReward       float64  `json:"risk_reward"` // r = reward distance / risk distance
	RiskCurrency     float64  `json:"risk_currency"`
	NotionalFraction float64  `json:"notional_fraction"`
	Clamps           []string `json:"clamps,omitempty"`
}

// Sizer computes EV-scaled position sizes.
type Sizer struct {
	cfg              config.SizingTunables
	riskCfg          config.RiskTunables
	maxConcentration float64
	view             PortfolioView
}

// NewSizer wires the sizer to its tunables and the shared portfolio view.
func NewSizer(cfg config.SizingTunables, riskCfg config.RiskTunables, pcfg config.PortfolioTunables, view PortfolioView) *Sizer {
	maxConc := pcfg.MaxConcentration
	if maxConc <= 0 {
		maxConc = 0.25
	}
	return &Sizer{cfg: cfg, riskCfg: riskCfg, maxConcentration: maxConc, view: view}
}

func reject(reason string, ev, rr float64) Result {
	return Result{Rejected: true, Reason: reason, EV: ev, RiskReward: rr}
}

// Size runs the full sizing algorithm: geometry validation, EV edge
// check, multiplier-scaled risk budget, lot conversion, hard clamps.
func (s *Sizer) Size(req Request) Result {
	tc := req.Context

	// 1. Geometry. A stop or target on the wrong side of entry means
	// the upstream levels are unusable; reject rather than guess.
	if err := validateGeometry(req); err != nil {
		return reject(fmt.Sprintf("invalid geometry: %v", err), 0, 0)
	}
	riskDist := math.Abs(req.Entry - req.Stop)
	rewardDist := math.Abs(req.Target - req.Entry)
	rr := rewardDist / riskDist

	// 2. Expected value per unit risked.
	winProb := req.MLConfidence / 100.0
	ev := winProb*rr - (1.0 - winProb)
	if ev <= 0 {
		return reject(fmt.Sprintf("negative edge: EV %.2f with win prob %.2f and r %.2f", ev, winProb, rr), ev, rr)
	}
	if ev < s.cfg.MinEdge {
		return reject(fmt.Sprintf("edge below floor: EV %.2f < %.2f minimum", ev, s.cfg.MinEdge), ev, rr)
	}

	// 3. Base risk budget.
	budget := tc.Balance * s.cfg.BaseRiskFraction

	// 4. Multipliers. The EV multiplier is capped at 1.0 so edge scales
	// size monotonically without ever amplifying beyond the base budget.
	quality := (req.MLConfidence / 100.0) * (req.MarketScore / 100.0)
	evMult := math.Min(ev, 1.0)
	regimeMult := s.regimeMultiplier(req.Regime)
	divMult := s.diversificationMultiplier(tc.Symbol, tc.Class)
	perfMult := s.performanceMultiplier()

	riskCurrency := budget * quality * evMult * regimeMult * divMult * perfMult

	// 5. Convert risk currency into lots.
	riskPerLot := tc.Contract.RiskPerLot(riskDist)
	if riskPerLot <= 0 {
		return reject("invalid contract: zero risk per lot", ev, rr)
	}
	lots := riskCurrency / riskPerLot

	// 6. Hard ceilings, applied last and never bypassed.
	final, clamps := risk.Apply(s.riskCfg, risk.Input{
		ProposedLots: lots,
		Entry:        req.Entry,
		Stop:         req.Stop,
		Price:        tc.Price,
		Class:        tc.Class,
		Balance:      tc.Balance,
		Contract:     tc.Contract,
		Compliance:   tc.Compliance,
	})

	if final < tc.Contract.MinLot || final <= 0 {
		return reject(fmt.Sprintf("sized %.4f lots below broker minimum %.2f after clamps", final, tc.Contract.MinLot), ev, rr)
	}

	return Result{
		Lots:             final,
		EV:               ev,
		RiskReward:       rr,
		RiskCurrency:     riskPerLot * final,
		NotionalFraction: tc.Contract.Notional(tc.Price, final) / tc.Balance,
		Clamps:           clamps,
	}
}

func validateGeometry(req Request) error {
	if req.Entry <= 0 {
		return fmt.Errorf("entry %.5f not positive", req.Entry)
	}
	if req.Stop == req.Entry || req.Target == req.Entry {
		return fmt.Errorf("stop/target equal to entry %.5f", req.Entry)
	}
	switch req.Direction {
	case domain.DirectionBuy:
		if req.Stop >= req.Entry {
			return fmt.Errorf("buy stop %.5f above entry %.5f", req.Stop, req.Entry)
		}
		if req.Target <= req.Entry {
			return fmt.Errorf("buy target %.5f below entry %.5f", req.Target, req.Entry)
		}
	case domain.DirectionSell:
		if req.Stop <= req.Entry {
			return fmt.Errorf("sell stop %.5f below entry %.5f", req.Stop, req.Entry)
		}
		if req.Target >= req.Entry {
			return fmt.Errorf("sell target %.5f above entry %.5f", req.Target, req.Entry)
		}
	default:
		return fmt.Errorf("no trade direction")
	}
	return nil
}

func (s *Sizer) regimeMultiplier(r regime.Regime) float64 {
	switch r {
	case regime.Trending:
		return s.cfg.TrendingMultiplier
	case regime.Volatile:
		return s.cfg.VolatileMultiplier
	default:
		return s.cfg.RangingMultiplier
	}
}

// diversificationMultiplier shrinks the budget when correlated or
// concentrated exposure already holds part of the same risk factor.
// Floored so existing exposure dampens, never zeroes, a strong setup.
func (s *Sizer) diversificationMultiplier(symbol, class string) float64 {
	corr := s.view.CorrelationExposure(symbol, class)
	conc := s.view.ConcentrationUsed(class)

	mult := 1.0 - 0.5*corr - 0.25*math.Min(conc/s.maxConcentration, 1.0)
	if mult < 0.25 {
		mult = 0.25
	}
	return mult
}

func (s *Sizer) performanceMultiplier() float64 {
	m := s.view.PerformanceMultiplier()
	if m < s.cfg.PerformanceFloor {
		return s.cfg.PerformanceFloor
	}
	if m > s.cfg.PerformanceCeil {
		return s.cfg.PerformanceCeil
	}
	return m
}
