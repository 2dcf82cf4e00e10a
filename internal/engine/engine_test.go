package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/evengine/internal/config"
	"github.com/sawpanic/evengine/internal/domain"
	"github.com/sawpanic/evengine/internal/metrics"
	"github.com/sawpanic/evengine/internal/portfolio"
)

// memCache is an in-memory DecisionCache for idempotency tests.
type memCache struct {
	store map[string]domain.Decision
}

func newMemCache() *memCache { return &memCache{store: make(map[string]domain.Decision)} }

func (c *memCache) Get(ctx context.Context, hash string) (*domain.Decision, error) {
	if d, ok := c.store[hash]; ok {
		return &d, nil
	}
	return nil, nil
}

func (c *memCache) Put(ctx context.Context, hash string, d domain.Decision) error {
	c.store[hash] = d
	return nil
}

func (c *memCache) Close() error { return nil }

// memRepo records saved decisions to verify audit wiring.
type memRepo struct {
	saved []domain.Decision
}

func (r *memRepo) SaveDecision(ctx context.Context, d domain.Decision) error {
	r.saved = append(r.saved, d)
	return nil
}
func (r *memRepo) SaveOutcome(ctx context.Context, trade domain.ClosedTrade) error { return nil }
func (r *memRepo) RecentOutcomes(ctx context.Context, limit int) ([]domain.ClosedTrade, error) {
	return nil, nil
}
func (r *memRepo) Close() error { return nil }

func newTestEngine(opts Options) *Engine {
	cfg := config.Default()
	return New(cfg, portfolio.NewTracker(cfg.Portfolio), nil, opts)
}

// entrySnapshot is a fully aligned bullish snapshot that sizes an
// entry clamped to the default class cap of 10 lots.
func entrySnapshot(symbol string) *domain.TradingContext {
	tfs := make(map[domain.Timeframe]domain.IndicatorSet)
	for _, tf := range domain.AllTimeframes() {
		tfs[tf] = domain.IndicatorSet{Trend: 0.8, Momentum: 0.8, Volume: 0.8, Structure: 0.8}
	}
	return &domain.TradingContext{
		Symbol:     symbol,
		Class:      "fx",
		Timestamp:  time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Balance:    100000,
		Equity:     100000,
		Price:      100,
		Volatility: 2,
		Timeframes: tfs,
		Signal:     domain.MLSignal{Direction: domain.DirectionBuy, Confidence: 80},
		Contract: domain.ContractSpec{
			TickValue:    0.1,
			TickSize:     0.01,
			ContractSize: 100,
			MinLot:       0.01,
			MaxLot:       50,
			LotStep:      0.01,
		},
		Compliance: domain.ComplianceBudget{DailyLossRemaining: 1000, DrawdownRemaining: 2000},
	}
}

func TestEvaluateOpensOnStrongSnapshot(t *testing.T) {
	eng := newTestEngine(Options{Metrics: metrics.NewRegistry()})

	d := eng.Evaluate(context.Background(), entrySnapshot("EURUSD"))

	require.Equal(t, domain.ActionOpen, d.Action, d.Reason)
	assert.Equal(t, domain.DirectionBuy, d.Direction)
	// Volatility stop at 98, fallback target 1.5R above entry, size
	// clamped to the default class cap.
	assert.InDelta(t, 98.0, d.StopLoss, 1e-9)
	assert.InDelta(t, 103.0, d.Target, 1e-9)
	assert.InDelta(t, 10.0, d.Lots, 1e-9)
	assert.InDelta(t, 98.0, d.Score, 0.01)
	assert.Contains(t, d.Reason, "open:")

	assert.Equal(t, 1, eng.Tracker().OpenCount())
}

func TestEvaluateInvalidSnapshotHolds(t *testing.T) {
	eng := newTestEngine(Options{})

	tc := entrySnapshot("EURUSD")
	tc.Balance = 0
	d := eng.Evaluate(context.Background(), tc)

	assert.Equal(t, domain.ActionHold, d.Action)
	assert.Contains(t, d.Reason, "invalid snapshot")
}

func TestEvaluateNoSignalHolds(t *testing.T) {
	eng := newTestEngine(Options{})

	tc := entrySnapshot("EURUSD")
	tc.Signal = domain.MLSignal{Direction: domain.DirectionHold}
	d := eng.Evaluate(context.Background(), tc)

	assert.Equal(t, domain.ActionHold, d.Action)
	assert.Contains(t, d.Reason, "no directional signal")
	assert.Equal(t, 0, eng.Tracker().OpenCount())
}

func TestEvaluateMissingVolatilityRejects(t *testing.T) {
	eng := newTestEngine(Options{})

	tc := entrySnapshot("EURUSD")
	tc.Volatility = 0
	d := eng.Evaluate(context.Background(), tc)

	assert.Equal(t, domain.ActionHold, d.Action)
	assert.Contains(t, d.Reason, "entry rejected")
}

func TestEvaluateThinEdgeRejects(t *testing.T) {
	eng := newTestEngine(Options{Metrics: metrics.NewRegistry()})

	// 50% confidence on the 1.5R fallback geometry: EV 0.25, under the
	// 0.30 floor.
	tc := entrySnapshot("EURUSD")
	tc.Signal.Confidence = 50
	d := eng.Evaluate(context.Background(), tc)

	assert.Equal(t, domain.ActionHold, d.Action)
	assert.Contains(t, d.Reason, "edge below floor")
	assert.Equal(t, 0, eng.Tracker().OpenCount())
}

func TestEvaluateNegativeEdgeRejects(t *testing.T) {
	eng := newTestEngine(Options{})

	tc := entrySnapshot("EURUSD")
	tc.Signal.Confidence = 30
	d := eng.Evaluate(context.Background(), tc)

	assert.Equal(t, domain.ActionHold, d.Action)
	assert.Contains(t, d.Reason, "negative edge")
}

func TestEvaluateIdempotentViaCache(t *testing.T) {
	cache := newMemCache()
	eng := newTestEngine(Options{Cache: cache})

	first := eng.Evaluate(context.Background(), entrySnapshot("EURUSD"))
	second := eng.Evaluate(context.Background(), entrySnapshot("EURUSD"))

	// Same snapshot replays the identical decision, id included: the
	// open was not re-sized against mutated portfolio state.
	assert.Equal(t, first, second)
	assert.Equal(t, 1, eng.Tracker().OpenCount())
}

func TestEvaluateStructuralLevelsShapeGeometry(t *testing.T) {
	eng := newTestEngine(Options{})

	tc := entrySnapshot("EURUSD")
	support := 99.0
	resistance := 104.5
	tc.Support = &support
	tc.Resistance = &resistance

	d := eng.Evaluate(context.Background(), tc)
	require.Equal(t, domain.ActionOpen, d.Action, d.Reason)
	assert.InDelta(t, 99.0, d.StopLoss, 1e-9) // structural stop inside 2x volatility
	assert.InDelta(t, 104.5, d.Target, 1e-9)  // structural target
}

func TestManageClosesAndReleasesTracker(t *testing.T) {
	repo := &memRepo{}
	eng := newTestEngine(Options{Repo: repo, Metrics: metrics.NewRegistry()})
	eng.Tracker().ApplyFill("EURUSD", "fx", 0.10)

	tc := entrySnapshot("EURUSD")
	tc.Signal = domain.MLSignal{Direction: domain.DirectionSell, Confidence: 60}
	for _, tf := range domain.SwingBand() {
		tc.Timeframes[tf] = domain.IndicatorSet{Trend: 0.0, Momentum: 0.5, Volume: 0.5, Structure: 0.0}
	}
	tc.Positions = []domain.Position{{
		Symbol:         "EURUSD",
		Direction:      domain.DirectionBuy,
		EntryPrice:     100,
		StopLoss:       90,
		Volume:         1,
		OriginalVolume: 1,
		UnrealizedPnL:  -40, // 40% of risk drawn down at floor recovery
	}}

	d := eng.Evaluate(context.Background(), tc)

	require.Equal(t, domain.ActionClose, d.Action, d.Reason)
	assert.Equal(t, 0, eng.Tracker().OpenCount())
	require.Len(t, repo.saved, 1)
	assert.Equal(t, d.ID, repo.saved[0].ID)
}

func TestManagePartialCloseReducesTracker(t *testing.T) {
	eng := newTestEngine(Options{})
	eng.Tracker().ApplyFill("EURUSD", "fx", 0.20)

	tc := entrySnapshot("EURUSD")
	resistance := 106.4
	tc.Resistance = &resistance
	tc.Price = 106
	tc.Signal = domain.MLSignal{Direction: domain.DirectionSell, Confidence: 70}
	tc.Timeframes[domain.TimeframeH1] = domain.IndicatorSet{Trend: 0.3, Momentum: 0.4, Volume: 0.5, Structure: 0.5}
	tc.Timeframes[domain.TimeframeH4] = domain.IndicatorSet{Trend: 0.3, Momentum: 0.4, Volume: 0.5, Structure: 0.5}
	tc.Timeframes[domain.TimeframeD1] = domain.IndicatorSet{Trend: 0.7, Momentum: 0.4, Volume: 0.5, Structure: 0.5}
	tc.Positions = []domain.Position{{
		Symbol:         "EURUSD",
		Direction:      domain.DirectionBuy,
		EntryPrice:     100,
		StopLoss:       90,
		Volume:         1,
		OriginalVolume: 1,
		UnrealizedPnL:  60, // 60% of risk, reversal pressure building
	}}

	d := eng.Evaluate(context.Background(), tc)

	require.Equal(t, domain.ActionPartialClose, d.Action, d.Reason)
	assert.Greater(t, d.Fraction, 0.0)
	remaining := eng.Tracker().ConcentrationUsed("fx")
	assert.InDelta(t, 0.20*(1-d.Fraction), remaining, 1e-9)
}

func TestSubscribersReceiveEveryDecision(t *testing.T) {
	eng := newTestEngine(Options{})

	var seen []domain.Decision
	eng.Subscribe(func(d domain.Decision) { seen = append(seen, d) })

	eng.Evaluate(context.Background(), entrySnapshot("EURUSD"))
	tc := entrySnapshot("GBPUSD")
	tc.Signal = domain.MLSignal{Direction: domain.DirectionHold}
	eng.Evaluate(context.Background(), tc)

	require.Len(t, seen, 2)
	assert.Equal(t, "EURUSD", seen[0].Symbol)
	assert.Equal(t, "GBPUSD", seen[1].Symbol)
}

func TestSnapshotHashStability(t *testing.T) {
	a := entrySnapshot("EURUSD")
	b := entrySnapshot("EURUSD")
	require.Equal(t, SnapshotHash(a), SnapshotHash(b))

	b.Price = 100.001
	assert.NotEqual(t, SnapshotHash(a), SnapshotHash(b))
}

func TestEvaluateBatchPreservesOrder(t *testing.T) {
	eng := newTestEngine(Options{})

	snapshots := make([]*domain.TradingContext, 6)
	for i := range snapshots {
		snapshots[i] = entrySnapshot(fmt.Sprintf("PAIR%d", i))
	}

	decisions := eng.EvaluateBatch(context.Background(), snapshots, 3)

	require.Len(t, decisions, len(snapshots))
	for i, d := range decisions {
		assert.Equal(t, snapshots[i].Symbol, d.Symbol)
		assert.NotEmpty(t, d.ID)
	}
}

func TestEvaluateBatchCancelled(t *testing.T) {
	eng := newTestEngine(Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snapshots := make([]*domain.TradingContext, 4)
	for i := range snapshots {
		snapshots[i] = entrySnapshot(fmt.Sprintf("PAIR%d", i))
	}

	decisions := eng.EvaluateBatch(ctx, snapshots, 2)

	// Undispatched snapshots come back as explicit holds, never as
	// zero-valued decisions.
	require.Len(t, decisions, len(snapshots))
	for i, d := range decisions {
		assert.Equal(t, snapshots[i].Symbol, d.Symbol)
		assert.NotEmpty(t, d.ID)
	}
}
