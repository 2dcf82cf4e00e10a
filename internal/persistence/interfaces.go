// Package persistence defines the optional storage boundaries of the
// engine. The core runs fully in-memory; these interfaces let the
// caller persist the decision audit log and exploit decision
// idempotency with a snapshot-keyed cache.
package persistence

import (
	"context"

	"github.com/sawpanic/evengine/internal/domain"
)

// DecisionRepo persists the decision audit log and closed-trade
// outcomes used to rebuild the performance window across restarts.
type DecisionRepo interface {
	// SaveDecision appends one decision record.
	SaveDecision(ctx context.Context, d domain.Decision) error

	// SaveOutcome appends one completed trade.
	SaveOutcome(ctx context.Context, trade domain.ClosedTrade) error

	// RecentOutcomes returns up to limit most recent closed trades,
	// oldest first, for warming the portfolio tracker.
	RecentOutcomes(ctx context.Context, limit int) ([]domain.ClosedTrade, error)

	Close() error
}

// DecisionCache keys decisions by snapshot hash. Decisions are
// idempotent per snapshot, so a hit can be replayed verbatim.
type DecisionCache interface {
	// Get returns the cached decision for a snapshot hash, if any.
	Get(ctx context.Context, snapshotHash string) (*domain.Decision, error)

	// Put stores a decision under its snapshot hash.
	Put(ctx context.Context, snapshotHash string, d domain.Decision) error

	Close() error
}
