// Package postgres persists the decision audit log and trade outcomes.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/evengine/internal/domain"
	"github.com/sawpanic/evengine/internal/persistence"
)

// Schema documents the two tables the repo expects; migrations are the
// deployment's concern.
const Schema = `
CREATE TABLE IF NOT EXISTS decisions (
    id         TEXT PRIMARY KEY,
    ts         TIMESTAMPTZ NOT NULL,
    symbol     TEXT NOT NULL,
    action     TEXT NOT NULL,
    direction  TEXT NOT NULL,
    lots       DOUBLE PRECISION NOT NULL DEFAULT 0,
    fraction   DOUBLE PRECISION NOT NULL DEFAULT 0,
    stop_loss  DOUBLE PRECISION NOT NULL DEFAULT 0,
    target     DOUBLE PRECISION NOT NULL DEFAULT 0,
    score      DOUBLE PRECISION NOT NULL DEFAULT 0,
    reason     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS outcomes (
    id         BIGSERIAL PRIMARY KEY,
    symbol     TEXT NOT NULL,
    class      TEXT NOT NULL,
    direction  TEXT NOT NULL,
    r_multiple DOUBLE PRECISION NOT NULL,
    profit     DOUBLE PRECISION NOT NULL,
    closed_at  TIMESTAMPTZ NOT NULL
);`

type repo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRepo creates the PostgreSQL decision repository.
func NewRepo(db *sqlx.DB, timeout time.Duration) persistence.DecisionRepo {
	return &repo{db: db, timeout: timeout}
}

// Connect opens a pooled connection to the given DSN.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	return db, nil
}

func (r *repo) SaveDecision(ctx context.Context, d domain.Decision) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO decisions (id, ts, symbol, action, direction, lots, fraction, stop_loss, target, score, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query,
		d.ID, d.Timestamp, d.Symbol, d.Action.String(), d.Direction.String(),
		d.Lots, d.Fraction, d.StopLoss, d.Target, d.Score, d.Reason)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate decision %s: %w", d.ID, err)
		}
		return fmt.Errorf("insert decision %s: %w", d.ID, err)
	}
	return nil
}

func (r *repo) SaveOutcome(ctx context.Context, trade domain.ClosedTrade) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO outcomes (symbol, class, direction, r_multiple, profit, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := r.db.ExecContext(ctx, query,
		trade.Symbol, trade.Class, trade.Direction.String(),
		trade.RMultiple, trade.Profit, trade.ClosedAt); err != nil {
		return fmt.Errorf("insert outcome for %s: %w", trade.Symbol, err)
	}
	return nil
}

func (r *repo) RecentOutcomes(ctx context.Context, limit int) ([]domain.ClosedTrade, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT symbol, class, direction, r_multiple, profit, closed_at
		FROM outcomes ORDER BY closed_at DESC LIMIT $1`

	rows, err := r.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []domain.ClosedTrade
	for rows.Next() {
		var (
			trade domain.ClosedTrade
			dir   string
		)
		if err := rows.Scan(&trade.Symbol, &trade.Class, &dir,
			&trade.RMultiple, &trade.Profit, &trade.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		trade.Direction = parseDirection(dir)
		out = append(out, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}

	// Oldest first, the order the tracker replays them in.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *repo) Close() error { return r.db.Close() }

func parseDirection(s string) domain.Direction {
	switch s {
	case "buy":
		return domain.DirectionBuy
	case "sell":
		return domain.DirectionSell
	default:
		return domain.DirectionHold
	}
}
