// Package portfolio holds the process-wide mutable summary of open
// positions and recent outcomes. The Tracker is the only shared
// mutable state in the engine; every read and update goes through one
// mutex so concurrent per-instrument decisions never observe a
// mid-update view or double-count the same risk budget.
package portfolio

import (
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/sawpanic/evengine/internal/config"
	"github.com/sawpanic/evengine/internal/domain"
)

// minSamplesForStats gates the statistical refinements: below this
// many recorded outcomes the tracker stays on seeds and neutral
// multipliers.
const minSamplesForStats = 5

// minSamplesForCorrelation gates the measured class correlation.
const minSamplesForCorrelation = 10

// defaultCrossCorrelation is assumed for distinct classes with no seed
// and not enough recorded data.
const defaultCrossCorrelation = 0.25

type openExposure struct {
	class            string
	notionalFraction float64 // of account balance
}

// Tracker is the shared portfolio state consulted by the sizer.
type Tracker struct {
	mu  sync.Mutex
	cfg config.PortfolioTunables

	open       map[string]openExposure // by symbol
	byClass    map[string]float64      // summed notional fraction by class
	outcomes   []domain.ClosedTrade    // rolling window, newest last
	returns    map[string][]float64    // recent R-multiples by class
	lastClosed map[string]int64        // newest synced close per symbol, unix nanos
}

// NewTracker creates an empty tracker; state lives for the process
// lifetime and is rebuilt from persisted outcomes by the caller.
func NewTracker(cfg config.PortfolioTunables) *Tracker {
	return &Tracker{
		cfg:     cfg,
		open:    make(map[string]openExposure),
		byClass: make(map[string]float64),
		returns: make(map[string][]float64),
	}
}

// ApplyFill records a new or increased position's notional exposure as
// a fraction of account balance.
func (t *Tracker) ApplyFill(symbol, class string, notionalFraction float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.open[symbol]
	if prev.class != "" {
		t.byClass[prev.class] -= prev.notionalFraction
	}
	next := openExposure{class: class, notionalFraction: prev.notionalFraction + notionalFraction}
	if prev.class == "" {
		next.notionalFraction = notionalFraction
	}
	t.open[symbol] = next
	t.byClass[class] += next.notionalFraction
}

// ApplyClose removes a position's exposure. Partial closes reduce by
// the closed fraction.
func (t *Tracker) ApplyClose(symbol string, fraction float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.open[symbol]
	if !ok {
		return
	}
	if fraction <= 0 || fraction >= 1 {
		t.byClass[entry.class] -= entry.notionalFraction
		delete(t.open, symbol)
		return
	}
	closed := entry.notionalFraction * fraction
	entry.notionalFraction -= closed
	t.byClass[entry.class] -= closed
	t.open[symbol] = entry
}

// RecordOutcome appends a completed trade to the rolling performance
// window and the per-class return series.
func (t *Tracker) RecordOutcome(trade domain.ClosedTrade) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.outcomes = append(t.outcomes, trade)
	if window := t.cfg.PerformanceWindow; window > 0 && len(t.outcomes) > window {
		t.outcomes = t.outcomes[len(t.outcomes)-window:]
	}

	series := append(t.returns[trade.Class], trade.RMultiple)
	if len(series) > 2*minSamplesForCorrelation {
		series = series[len(series)-2*minSamplesForCorrelation:]
	}
	t.returns[trade.Class] = series
}

// CorrelationExposure reports how much already-open exposure shares the
// candidate's risk factor, in [0,1]. Each open class contributes its
// correlation with the candidate class weighted by its concentration.
func (t *Tracker) CorrelationExposure(symbol, class string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := 0.0
	for sym, entry := range t.open {
		if sym == symbol {
			continue // re-evaluating our own instrument is not overlap
		}
		weight := 1.0
		if t.cfg.MaxConcentration > 0 {
			weight = entry.notionalFraction / t.cfg.MaxConcentration
			if weight > 1 {
				weight = 1
			}
		}
		total += t.correlationLocked(class, entry.class) * weight
	}
	if total > 1 {
		total = 1
	}
	if total < 0 {
		total = 0
	}
	return total
}

// correlationLocked resolves the coefficient for a class pair: same
// class is 1, then measured correlation when both series carry enough
// samples, then the configured seed, then the modest default.
func (t *Tracker) correlationLocked(a, b string) float64 {
	if a == b {
		return 1.0
	}

	sa, sb := t.returns[a], t.returns[b]
	if len(sa) >= minSamplesForCorrelation && len(sb) >= minSamplesForCorrelation {
		n := len(sa)
		if len(sb) < n {
			n = len(sb)
		}
		x := sa[len(sa)-n:]
		y := sb[len(sb)-n:]
		c := stat.Correlation(x, y, nil)
		if c < 0 {
			c = -c // magnitude of co-movement is what consumes risk budget
		}
		if c > 1 {
			c = 1
		}
		return c
	}

	if seed, ok := t.cfg.CorrelationSeeds[a+"/"+b]; ok {
		return seed
	}
	if seed, ok := t.cfg.CorrelationSeeds[b+"/"+a]; ok {
		return seed
	}
	return defaultCrossCorrelation
}

// PerformanceMultiplier blends win rate and a Sharpe-style mean/stddev
// of recent R-multiples into a sizing multiplier near 1.0. The sizer
// clamps it to the configured band; this method only shapes it.
func (t *Tracker) PerformanceMultiplier() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.outcomes) < minSamplesForStats {
		return 1.0
	}

	wins := 0
	rs := make([]float64, 0, len(t.outcomes))
	for _, o := range t.outcomes {
		if o.Win() {
			wins++
		}
		rs = append(rs, o.RMultiple)
	}
	winRate := float64(wins) / float64(len(t.outcomes))

	mean := stat.Mean(rs, nil)
	std := stat.StdDev(rs, nil)
	sharpe := 0.0
	if std > 0 {
		sharpe = mean / std
	}
	if sharpe > 1 {
		sharpe = 1
	}
	if sharpe < -1 {
		sharpe = -1
	}

	return 1.0 + 0.5*(winRate-0.5) + 0.1*sharpe
}

// ConcentrationUsed reports the summed notional fraction currently
// open in an instrument class.
func (t *Tracker) ConcentrationUsed(class string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	f := t.byClass[class]
	if f < 0 {
		return 0
	}
	return f
}

// SyncHistory merges the snapshot's closed-trade history into the
// rolling window, deduplicating on each symbol's last seen close time
// so re-supplied history does not double-count outcomes.
func (t *Tracker) SyncHistory(trades []domain.ClosedTrade) {
	t.mu.Lock()
	seen := t.lastClosed
	if seen == nil {
		seen = make(map[string]int64)
		t.lastClosed = seen
	}
	fresh := trades[:0:0]
	for _, trade := range trades {
		ts := trade.ClosedAt.UnixNano()
		if ts <= seen[trade.Symbol] {
			continue
		}
		seen[trade.Symbol] = ts
		fresh = append(fresh, trade)
	}
	t.mu.Unlock()

	for _, trade := range fresh {
		t.RecordOutcome(trade)
	}
}

// OpenCount reports the number of tracked open positions.
func (t *Tracker) OpenCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}
