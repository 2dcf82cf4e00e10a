package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Decision is the engine's output record for one instrument snapshot.
// Reason carries the human-readable justification required for audit
// logging on every hold, rejection and clamp.
type Decision struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"ts"`
	Symbol    string    `json:"symbol"`

	Action    Action    `json:"action"`
	Direction Direction `json:"direction"`

	Lots     float64 `json:"lots,omitempty"`     // OPEN / ADD_*
	Fraction float64 `json:"fraction,omitempty"` // PARTIAL_CLOSE, 0..1
	StopLoss float64 `json:"stop_loss,omitempty"`
	Target   float64 `json:"target,omitempty"`

	Score  float64 `json:"score"` // composite market score or EV margin for observability
	Reason string  `json:"reason"`
}

// NewDecision stamps a decision with a fresh id and timestamp.
func NewDecision(symbol string, action Action, reason string) Decision {
	return Decision{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Symbol:    symbol,
		Action:    action,
		Reason:    reason,
	}
}

// Hold builds the safe-default decision.
func Hold(symbol, reason string) Decision {
	return NewDecision(symbol, ActionHold, reason)
}

// Summary renders a one-line audit string.
func (d Decision) Summary() string {
	switch d.Action {
	case ActionOpen:
		return fmt.Sprintf("%s %s %s %.2f lots @ stop %.5f (score %.1f): %s",
			d.Symbol, d.Action, d.Direction, d.Lots, d.StopLoss, d.Score, d.Reason)
	case ActionPartialClose:
		return fmt.Sprintf("%s %s %.0f%% (score %.1f): %s",
			d.Symbol, d.Action, d.Fraction*100, d.Score, d.Reason)
	case ActionAddWinner, ActionAddLoser:
		return fmt.Sprintf("%s %s %.2f lots (score %.1f): %s",
			d.Symbol, d.Action, d.Lots, d.Score, d.Reason)
	default:
		return fmt.Sprintf("%s %s (score %.1f): %s", d.Symbol, d.Action, d.Score, d.Reason)
	}
}
