// Package signal defines the ML signal provider boundary. The engine
// depends on the Provider interface only, so the quantitative core
// tests against deterministic stubs and the production wiring swaps in
// whatever model serves predictions.
package signal

import (
	"context"

	"github.com/sawpanic/evengine/internal/domain"
)

// Prediction is the classifier's output for one snapshot.
type Prediction struct {
	Direction  domain.Direction `json:"direction"`
	Confidence float64          `json:"confidence"` // 0..100
}

// Provider produces a directional prediction for a snapshot.
type Provider interface {
	Predict(ctx context.Context, tc *domain.TradingContext) (Prediction, error)
}

// Static is a deterministic stub provider.
type Static struct {
	Result Prediction
	Err    error
}

// Predict returns the fixed result.
func (s *Static) Predict(ctx context.Context, tc *domain.TradingContext) (Prediction, error) {
	if s.Err != nil {
		return Prediction{}, s.Err
	}
	return s.Result, nil
}

// FromSnapshot serves the ML signal already embedded in the snapshot,
// which is the normal mode: the upstream feature pipeline runs the
// model and ships its output inside the context.
type FromSnapshot struct{}

// Predict echoes the snapshot's signal.
func (FromSnapshot) Predict(ctx context.Context, tc *domain.TradingContext) (Prediction, error) {
	return Prediction{Direction: tc.Signal.Direction, Confidence: tc.Signal.Confidence}, nil
}
