// Package engine orchestrates one decision cycle: score the snapshot,
// size an entry or manage the open position, clamp, record, emit.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/evengine/internal/config"
	"github.com/sawpanic/evengine/internal/domain"
	"github.com/sawpanic/evengine/internal/exits"
	"github.com/sawpanic/evengine/internal/metrics"
	"github.com/sawpanic/evengine/internal/persistence"
	"github.com/sawpanic/evengine/internal/portfolio"
	"github.com/sawpanic/evengine/internal/regime"
	"github.com/sawpanic/evengine/internal/score"
	"github.com/sawpanic/evengine/internal/signal"
	"github.com/sawpanic/evengine/internal/sizing"
)

// Options carries the optional collaborators.
type Options struct {
	Repo    persistence.DecisionRepo
	Cache   persistence.DecisionCache
	Metrics *metrics.Registry
}

// Engine is the decision engine facade. The portfolio tracker is the
// only shared mutable state; everything else is pure per snapshot.
type Engine struct {
	cfg       *config.Config
	scorer    *score.Engine
	sizer     *sizing.Sizer
	exits     *exits.Evaluator
	tracker   *portfolio.Tracker
	predictor signal.Provider

	repo    persistence.DecisionRepo
	cache   persistence.DecisionCache
	metrics *metrics.Registry

	mu          sync.Mutex
	subscribers []func(domain.Decision)
}

// New wires the engine. predictor may be nil, in which case the
// snapshot's embedded signal is served directly.
func New(cfg *config.Config, tracker *portfolio.Tracker, predictor signal.Provider, opts Options) *Engine {
	if predictor == nil {
		predictor = signal.FromSnapshot{}
	}
	return &Engine{
		cfg:       cfg,
		scorer:    score.NewEngine(cfg.Score),
		sizer:     sizing.NewSizer(cfg.Sizing, cfg.Risk, cfg.Portfolio, tracker),
		exits:     exits.NewEvaluator(cfg.Exit),
		tracker:   tracker,
		predictor: predictor,
		repo:      opts.Repo,
		cache:     opts.Cache,
		metrics:   opts.Metrics,
	}
}

// Subscribe registers a callback invoked for every emitted decision.
func (e *Engine) Subscribe(fn func(domain.Decision)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = append(e.subscribers, fn)
}

// Tracker exposes the shared portfolio state for warm-up and tests.
func (e *Engine) Tracker() *portfolio.Tracker { return e.tracker }

// Evaluate produces the decision for one instrument snapshot. It never
// returns an error to the caller: every fault degrades to HOLD (exit
// path) or a rejected entry, each with an auditable reason.
func (e *Engine) Evaluate(ctx context.Context, tc *domain.TradingContext) domain.Decision {
	started := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.EvalTime.Observe(time.Since(started).Seconds())
		}
	}()

	if err := tc.Validate(); err != nil {
		log.Warn().Err(err).Str("symbol", tc.Symbol).Msg("invalid snapshot, holding")
		return e.emit(ctx, "", domain.Hold(tc.Symbol, fmt.Sprintf("invalid snapshot: %v", err)))
	}

	// Decisions are idempotent per snapshot; replay a cached one.
	hash := SnapshotHash(tc)
	if e.cache != nil {
		if cached, err := e.cache.Get(ctx, hash); err == nil && cached != nil {
			return *cached
		}
	}

	e.tracker.SyncHistory(tc.History)

	var d domain.Decision
	if pos := tc.OpenPosition(); pos != nil {
		d = e.manage(tc, pos)
	} else {
		d = e.enter(ctx, tc)
	}

	return e.emit(ctx, hash, d)
}

// manage runs the exit rule chain and mirrors the decision into the
// shared tracker.
func (e *Engine) manage(tc *domain.TradingContext, pos *domain.Position) domain.Decision {
	d := e.exits.Evaluate(tc, pos)

	switch d.Action {
	case domain.ActionClose:
		e.tracker.ApplyClose(tc.Symbol, 1.0)
	case domain.ActionPartialClose:
		e.tracker.ApplyClose(tc.Symbol, d.Fraction)
	case domain.ActionAddWinner, domain.ActionAddLoser:
		if tc.Balance > 0 {
			e.tracker.ApplyFill(tc.Symbol, tc.Class, tc.Contract.Notional(tc.Price, d.Lots)/tc.Balance)
		}
	}
	return d
}

// enter runs the entry pipeline: predict, score, derive geometry,
// size, clamp.
func (e *Engine) enter(ctx context.Context, tc *domain.TradingContext) domain.Decision {
	pred, err := e.predictor.Predict(ctx, tc)
	if err != nil || pred.Direction == domain.DirectionHold || pred.Confidence <= 0 {
		return domain.Hold(tc.Symbol, "no directional signal")
	}

	breakdown := e.scorer.Score(tc, pred.Direction)
	if e.metrics != nil {
		e.metrics.Score.Observe(breakdown.Total)
	}

	entry, stop, target, err := e.deriveGeometry(tc, pred.Direction)
	if err != nil {
		d := domain.Hold(tc.Symbol, fmt.Sprintf("entry rejected: %v", err))
		d.Score = breakdown.Total
		e.countRejection("geometry")
		return d
	}

	det := regime.Detect(tc)
	result := e.sizer.Size(sizing.Request{
		Context:      tc,
		Direction:    pred.Direction,
		MarketScore:  breakdown.Total,
		MLConfidence: pred.Confidence,
		Entry:        entry,
		Stop:         stop,
		Target:       target,
		Regime:       det.Regime,
	})

	if result.Rejected {
		d := domain.Hold(tc.Symbol, fmt.Sprintf("entry rejected: %s", result.Reason))
		d.Score = breakdown.Total
		e.countRejection(rejectionCategory(result.Reason))
		return d
	}

	for _, clamp := range result.Clamps {
		if e.metrics != nil {
			e.metrics.Clamps.Inc()
		}
		log.Info().Str("symbol", tc.Symbol).Str("clamp", clamp).Msg("size clamped")
	}

	d := domain.NewDecision(tc.Symbol, domain.ActionOpen,
		fmt.Sprintf("open: EV %.2f, r %.2f, score %.1f, regime %s", result.EV, result.RiskReward, breakdown.Total, det.Regime))
	d.Direction = pred.Direction
	d.Lots = result.Lots
	d.StopLoss = stop
	d.Target = target
	d.Score = breakdown.Total

	e.tracker.ApplyFill(tc.Symbol, tc.Class, result.NotionalFraction)
	return d
}

// deriveGeometry picks stop and target from the snapshot's structural
// levels, with volatility-based fallbacks when a side has no level.
func (e *Engine) deriveGeometry(tc *domain.TradingContext, dir domain.Direction) (entry, stop, target float64, err error) {
	entry = tc.Price
	vol := tc.Volatility
	if vol <= 0 {
		return 0, 0, 0, fmt.Errorf("no volatility estimate to derive stop for %s", tc.Symbol)
	}

	switch dir {
	case domain.DirectionBuy:
		stop = entry - vol
		if tc.Support != nil && *tc.Support < entry && entry-*tc.Support <= 2*vol {
			stop = *tc.Support
		}
		target = entry + e.cfg.Exit.FallbackTargetRiskMultiple*(entry-stop)
		if tc.Resistance != nil && *tc.Resistance > entry {
			target = *tc.Resistance
		}
	case domain.DirectionSell:
		stop = entry + vol
		if tc.Resistance != nil && *tc.Resistance > entry && *tc.Resistance-entry <= 2*vol {
			stop = *tc.Resistance
		}
		target = entry - e.cfg.Exit.FallbackTargetRiskMultiple*(stop-entry)
		if tc.Support != nil && *tc.Support < entry {
			target = *tc.Support
		}
	default:
		return 0, 0, 0, fmt.Errorf("no direction")
	}
	return entry, stop, target, nil
}

// emit records, caches, counts, and fans out one decision.
func (e *Engine) emit(ctx context.Context, hash string, d domain.Decision) domain.Decision {
	if e.metrics != nil {
		e.metrics.Decisions.WithLabelValues(d.Action.String()).Inc()
	}

	log.Info().
		Str("symbol", d.Symbol).
		Str("action", d.Action.String()).
		Float64("score", d.Score).
		Str("reason", d.Reason).
		Msg("decision")

	if e.repo != nil {
		if err := e.repo.SaveDecision(ctx, d); err != nil {
			log.Error().Err(err).Str("decision", d.ID).Msg("decision audit write failed")
		}
	}
	if e.cache != nil && hash != "" {
		if err := e.cache.Put(ctx, hash, d); err != nil {
			log.Warn().Err(err).Str("decision", d.ID).Msg("decision cache write failed")
		}
	}

	e.mu.Lock()
	subs := append([]func(domain.Decision){}, e.subscribers...)
	e.mu.Unlock()
	for _, fn := range subs {
		fn(d)
	}
	return d
}

func (e *Engine) countRejection(category string) {
	if e.metrics != nil {
		e.metrics.Rejections.WithLabelValues(category).Inc()
	}
}

func rejectionCategory(reason string) string {
	switch {
	case len(reason) >= 7 && reason[:7] == "invalid":
		return "geometry"
	case len(reason) >= 8 && reason[:8] == "negative":
		return "negative_edge"
	case len(reason) >= 4 && reason[:4] == "edge":
		return "thin_edge"
	default:
		return "constraint"
	}
}

// SnapshotHash fingerprints a snapshot for the idempotency cache.
func SnapshotHash(tc *domain.TradingContext) string {
	data, err := json.Marshal(tc)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// EvaluateBatch evaluates independent instrument snapshots
// concurrently over a bounded worker pool. Results preserve input
// order. The shared tracker serializes its own state, so workers never
// double-count the same risk budget.
func (e *Engine) EvaluateBatch(ctx context.Context, snapshots []*domain.TradingContext, workers int) []domain.Decision {
	if workers <= 0 {
		workers = 4
	}
	if workers > len(snapshots) {
		workers = len(snapshots)
	}

	decisions := make([]domain.Decision, len(snapshots))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				decisions[i] = e.Evaluate(ctx, snapshots[i])
			}
		}()
	}

dispatch:
	for i := range snapshots {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	// Context cancellation leaves untouched slots; make them explicit holds.
	for i := range decisions {
		if decisions[i].ID == "" {
			decisions[i] = domain.Hold(snapshots[i].Symbol, "evaluation cancelled")
		}
	}
	return decisions
}
