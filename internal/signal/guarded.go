package signal

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sawpanic/evengine/internal/config"
	"github.com/sawpanic/evengine/internal/domain"
)

// SafeDefault is what a degraded provider returns: no direction, no
// confidence. The sizer rejects on it and the engine holds, which is
// always the safe outcome.
var SafeDefault = Prediction{Direction: domain.DirectionHold, Confidence: 0}

// Guarded wraps a provider that may call out to an external model:
// calls are rate limited, time bounded, and run through a circuit
// breaker. Any failure degrades to SafeDefault instead of returning an
// error up the decision path.
type Guarded struct {
	inner   Provider
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

// NewGuarded builds the guard from the predictor tunables.
func NewGuarded(inner Provider, cfg config.PredictorTunables) *Guarded {
	settings := gobreaker.Settings{Name: cfg.BreakerName}
	settings.Interval = 60 * time.Second
	settings.Timeout = 60 * time.Second
	settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		if counts.Requests < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
	}

	return &Guarded{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
		timeout: cfg.CallTimeout(),
	}
}

// Predict never returns an error: a tripped breaker, exhausted rate
// budget, timeout, or provider failure all degrade to SafeDefault.
func (g *Guarded) Predict(ctx context.Context, tc *domain.TradingContext) (Prediction, error) {
	if !g.limiter.Allow() {
		log.Warn().Str("symbol", tc.Symbol).Msg("predictor rate budget exhausted, degrading to hold")
		return SafeDefault, nil
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		done := make(chan struct{})
		var pred Prediction
		var predErr error
		go func() {
			pred, predErr = g.inner.Predict(callCtx, tc)
			close(done)
		}()

		select {
		case <-done:
			return pred, predErr
		case <-callCtx.Done():
			return nil, callCtx.Err()
		}
	})
	if err != nil {
		log.Warn().Err(err).Str("symbol", tc.Symbol).Msg("predictor degraded to hold")
		return SafeDefault, nil
	}
	return result.(Prediction), nil
}
