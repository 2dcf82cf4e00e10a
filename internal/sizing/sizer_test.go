package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/evengine/internal/config"
	"github.com/sawpanic/evengine/internal/domain"
	"github.com/sawpanic/evengine/internal/regime"
)

// stubView is a hand-rolled PortfolioView with fixed readings.
type stubView struct {
	corr float64
	perf float64
	conc float64
}

func (s stubView) CorrelationExposure(symbol, class string) float64 { return s.corr }
func (s stubView) PerformanceMultiplier() float64                   { return s.perf }
func (s stubView) ConcentrationUsed(class string) float64           { return s.conc }

func neutralView() stubView { return stubView{perf: 1.0} }

func testSizer(view PortfolioView) *Sizer {
	cfg := config.Default()
	return NewSizer(cfg.Sizing, cfg.Risk, cfg.Portfolio, view)
}

func sizerContext(balance float64) *domain.TradingContext {
	return &domain.TradingContext{
		Symbol:  "EURUSD",
		Class:   "fx",
		Balance: balance,
		Price:   100,
		Contract: domain.ContractSpec{
			TickValue:    1.0,
			TickSize:     1.0,
			ContractSize: 1.0,
			MinLot:       0.01,
			MaxLot:       100,
			LotStep:      0.01,
		},
		Compliance: domain.ComplianceBudget{DailyLossRemaining: 1e6, DrawdownRemaining: 1e6},
	}
}

func TestSizeAcceptsStrongEdge(t *testing.T) {
	s := testSizer(neutralView())

	// 75% win probability on a 3R setup: EV = 0.75*3 - 0.25 = 2.0.
	res := s.Size(Request{
		Context:      sizerContext(100000),
		Direction:    domain.DirectionBuy,
		MarketScore:  80,
		MLConfidence: 75,
		Entry:        100,
		Stop:         99,
		Target:       103,
		Regime:       regime.Trending,
	})

	require.False(t, res.Rejected, res.Reason)
	assert.InDelta(t, 2.0, res.EV, 1e-9)
	assert.InDelta(t, 3.0, res.RiskReward, 1e-9)
	assert.Greater(t, res.Lots, 0.0)
	// Unclamped size would be 360 lots; broker max and the class cap
	// both bite and both must be reported.
	assert.InDelta(t, 10.0, res.Lots, 1e-9)
	assert.Len(t, res.Clamps, 2)
}

func TestSizeRejectsThinEdge(t *testing.T) {
	s := testSizer(neutralView())

	// 55% win probability on a 1R setup: EV = 0.55 - 0.45 = 0.10,
	// positive but under the 0.30 floor.
	res := s.Size(Request{
		Context:      sizerContext(100000),
		Direction:    domain.DirectionBuy,
		MarketScore:  70,
		MLConfidence: 55,
		Entry:        100,
		Stop:         99,
		Target:       101,
		Regime:       regime.Trending,
	})

	require.True(t, res.Rejected)
	assert.Zero(t, res.Lots)
	assert.InDelta(t, 0.10, res.EV, 1e-9)
	assert.Contains(t, res.Reason, "edge below floor")
}

func TestSizeRejectsNegativeEdge(t *testing.T) {
	s := testSizer(neutralView())

	res := s.Size(Request{
		Context:      sizerContext(100000),
		Direction:    domain.DirectionBuy,
		MarketScore:  90, // quality cannot rescue a negative expectation
		MLConfidence: 30,
		Entry:        100,
		Stop:         99,
		Target:       101,
		Regime:       regime.Trending,
	})

	require.True(t, res.Rejected)
	assert.Contains(t, res.Reason, "negative edge")
}

func TestSizeRejectsZeroEdge(t *testing.T) {
	s := testSizer(neutralView())

	// Coin flip at 1R is exactly EV zero; zero edge is not tradeable.
	res := s.Size(Request{
		Context:      sizerContext(100000),
		Direction:    domain.DirectionBuy,
		MarketScore:  90,
		MLConfidence: 50,
		Entry:        100,
		Stop:         99,
		Target:       101,
		Regime:       regime.Trending,
	})

	require.True(t, res.Rejected)
	assert.Contains(t, res.Reason, "negative edge")
}

func TestSizeRejectsBrokenGeometry(t *testing.T) {
	s := testSizer(neutralView())
	base := Request{
		Context:      sizerContext(100000),
		MarketScore:  80,
		MLConfidence: 75,
		Regime:       regime.Trending,
	}

	cases := []struct {
		name string
		mod  func(*Request)
	}{
		{"buy stop above entry", func(r *Request) {
			r.Direction, r.Entry, r.Stop, r.Target = domain.DirectionBuy, 100, 101, 103
		}},
		{"buy target below entry", func(r *Request) {
			r.Direction, r.Entry, r.Stop, r.Target = domain.DirectionBuy, 100, 99, 98
		}},
		{"sell stop below entry", func(r *Request) {
			r.Direction, r.Entry, r.Stop, r.Target = domain.DirectionSell, 100, 99, 97
		}},
		{"no direction", func(r *Request) {
			r.Direction, r.Entry, r.Stop, r.Target = domain.DirectionHold, 100, 99, 103
		}},
		{"stop equal to entry", func(r *Request) {
			r.Direction, r.Entry, r.Stop, r.Target = domain.DirectionBuy, 100, 100, 103
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			tc.mod(&req)
			res := s.Size(req)
			require.True(t, res.Rejected)
			assert.Contains(t, res.Reason, "invalid geometry")
		})
	}
}

// smallRequest keeps sizes far from every hard ceiling so multiplier
// effects are visible in the final lots.
func smallRequest(confidence, target float64) Request {
	tc := sizerContext(10000)
	tc.Contract.TickValue = 10 // risk per lot: 10 currency units
	return Request{
		Context:      tc,
		Direction:    domain.DirectionBuy,
		MarketScore:  50,
		MLConfidence: confidence,
		Entry:        100,
		Stop:         99,
		Target:       target,
		Regime:       regime.Ranging,
	}
}

func TestSizeScalesWithEV(t *testing.T) {
	s := testSizer(neutralView())

	// Same confidence, wider target: more EV, more size.
	bigger := s.Size(smallRequest(60, 101.5)) // EV 0.50
	smaller := s.Size(smallRequest(60, 101.2)) // EV 0.32

	require.False(t, bigger.Rejected)
	require.False(t, smaller.Rejected)
	assert.Greater(t, bigger.EV, smaller.EV)
	assert.Greater(t, bigger.Lots, smaller.Lots)
}

func TestEVMultiplierCapsAtOne(t *testing.T) {
	s := testSizer(neutralView())

	// EV 1.0 and EV 2.0 size identically: edge beyond 1.0 never
	// amplifies past the base budget.
	one := s.Size(smallRequest(50, 103))  // EV = 0.5*3 - 0.5 = 1.0
	two := s.Size(smallRequest(60, 104)) // EV = 0.6*4 - 0.4 = 2.0

	require.False(t, one.Rejected)
	require.False(t, two.Rejected)

	// Normalize out the quality difference (confidence enters quality).
	perQualityOne := one.Lots / (0.50 * 0.50)
	perQualityTwo := two.Lots / (0.60 * 0.50)
	assert.InDelta(t, perQualityOne, perQualityTwo, perQualityOne*0.03)
}

func TestSizeMonotonicInMarketScore(t *testing.T) {
	s := testSizer(neutralView())

	// Geometry and confidence fixed (EV 0.50); raising only the
	// composite score must never shrink the size.
	prev := 0.0
	for _, score := range []float64{20, 40, 60, 80, 100} {
		req := smallRequest(60, 101.5)
		req.MarketScore = score
		res := s.Size(req)
		require.False(t, res.Rejected, res.Reason)
		assert.GreaterOrEqual(t, res.Lots, prev, "score %.0f shrank the size", score)
		prev = res.Lots
	}
	assert.Greater(t, prev, 0.0)
}

func TestSizeMonotonicInMLConfidence(t *testing.T) {
	s := testSizer(neutralView())

	// A 4R target keeps EV saturated past the 1.0 cap at every
	// confidence level, so only the quality term moves.
	prev := 0.0
	for _, conf := range []float64{55, 65, 75, 85, 95} {
		res := s.Size(smallRequest(conf, 104))
		require.False(t, res.Rejected, res.Reason)
		require.GreaterOrEqual(t, res.EV, 1.0)
		assert.GreaterOrEqual(t, res.Lots, prev, "confidence %.0f shrank the size", conf)
		prev = res.Lots
	}
	assert.Greater(t, prev, 0.0)
}

func TestDiversificationShrinksSize(t *testing.T) {
	clean := testSizer(neutralView())
	crowded := testSizer(stubView{corr: 1.0, conc: 0.25, perf: 1.0})

	req := smallRequest(60, 101.5)
	full := clean.Size(req)
	damped := crowded.Size(req)

	require.False(t, full.Rejected)
	require.False(t, damped.Rejected)
	// Fully correlated and fully concentrated bottoms out at the 0.25
	// floor, never zero.
	assert.InDelta(t, full.Lots*0.25, damped.Lots, full.Lots*0.05)
	assert.Greater(t, damped.Lots, 0.0)
}

func TestPerformanceMultiplierClampedToBand(t *testing.T) {
	hot := testSizer(stubView{perf: 5.0})
	cold := testSizer(stubView{perf: 0.1})

	req := smallRequest(60, 101.5)
	hotRes := hot.Size(req)
	coldRes := cold.Size(req)

	require.False(t, hotRes.Rejected)
	require.False(t, coldRes.Rejected)
	// Band is [0.70, 1.30]; the ratio of sizes reflects the clamped
	// bounds, not the raw readings.
	ratio := hotRes.Lots / coldRes.Lots
	assert.InDelta(t, 1.30/0.70, ratio, 0.1)
}

func TestRegimeMultipliers(t *testing.T) {
	s := testSizer(neutralView())

	req := smallRequest(60, 101.5)
	req.Regime = regime.Trending
	trending := s.Size(req)
	req.Regime = regime.Ranging
	ranging := s.Size(req)
	req.Regime = regime.Volatile
	volatile := s.Size(req)

	assert.Greater(t, trending.Lots, volatile.Lots)
	assert.Greater(t, volatile.Lots, ranging.Lots)
}

func TestSizeRejectsBelowBrokerMinimum(t *testing.T) {
	s := testSizer(neutralView())

	req := smallRequest(60, 101.5)
	req.Context.Balance = 100 // budget too small to reach one lot step
	req.Context.Compliance = domain.ComplianceBudget{DailyLossRemaining: 1e6, DrawdownRemaining: 1e6}

	res := s.Size(req)
	require.True(t, res.Rejected)
	assert.Contains(t, res.Reason, "below broker minimum")
}

func TestSizeNeverExceedsComplianceBudget(t *testing.T) {
	s := testSizer(neutralView())

	tc := sizerContext(1000000) // big budget pushes proposed size high
	tc.Compliance = domain.ComplianceBudget{DailyLossRemaining: 5, DrawdownRemaining: 5}

	res := s.Size(Request{
		Context:      tc,
		Direction:    domain.DirectionBuy,
		MarketScore:  90,
		MLConfidence: 80,
		Entry:        100,
		Stop:         99,
		Target:       103,
		Regime:       regime.Trending,
	})

	require.False(t, res.Rejected, res.Reason)
	// Risk per lot is 1: sized risk must stay inside 5 * 0.90.
	assert.LessOrEqual(t, res.RiskCurrency, 4.5+1e-9)
	assert.NotEmpty(t, res.Clamps)
}
