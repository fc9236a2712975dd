package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Terminality is
// enforced in SQL: Settle only matches rows still in the pending state, so a
// trade transitions out of pending at most once regardless of caller races.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeCols = `id, user_id, rule_id, platform, market_id,
	type, side, amount, price, total_cost,
	status, platform_order_id, executed_at, error_message, created_at`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var t domain.Trade
	var platform, actionType, status string
	err := row.Scan(
		&t.ID, &t.UserID, &t.RuleID, &platform, &t.MarketID,
		&actionType, &t.Side, &t.Amount, &t.Price, &t.TotalCost,
		&status, &t.PlatformOrderID, &t.ExecutedAt, &t.ErrorMessage, &t.CreatedAt,
	)
	if err != nil {
		return domain.Trade{}, err
	}
	t.Platform = domain.Platform(platform)
	t.Type = domain.ActionType(actionType)
	t.Status = domain.TradeStatus(status)
	return t, nil
}

// Create inserts a new trade in the pending state.
func (s *TradeStore) Create(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, user_id, rule_id, platform, market_id,
			type, side, amount, price, total_cost,
			status, platform_order_id, executed_at, error_message, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, NOW()
		)`
	_, err := s.pool.Exec(ctx, query,
		t.ID, t.UserID, t.RuleID, string(t.Platform), t.MarketID,
		string(t.Type), t.Side, t.Amount, t.Price, t.TotalCost,
		string(t.Status), t.PlatformOrderID, t.ExecutedAt, t.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("postgres: create trade %s: %w", t.ID, err)
	}
	return nil
}

// Settle moves a pending trade into a terminal status. Settling a trade that
// is already terminal (or missing) returns ErrTradeFinal or ErrNotFound.
func (s *TradeStore) Settle(ctx context.Context, id string, status domain.TradeStatus, platformOrderID, errorMessage string, executedAt time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("postgres: settle trade %s: %q is not a terminal status", id, status)
	}

	const query = `
		UPDATE trades SET
			status            = $2,
			platform_order_id = $3,
			error_message     = $4,
			executed_at       = $5
		WHERE id = $1 AND status = 'pending'`
	tag, err := s.pool.Exec(ctx, query, id, string(status), platformOrderID, errorMessage, executedAt)
	if err != nil {
		return fmt.Errorf("postgres: settle trade %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM trades WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: settle trade %s: %w", id, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrTradeFinal
	}
	return nil
}

// GetByID retrieves a trade by its primary key.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tradeCols+` FROM trades WHERE id = $1`, id)
	t, err := scanTrade(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

// ListByUser returns a user's trades, newest first, with pagination and
// optional time filtering.
func (s *TradeStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeCols + ` FROM trades WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by user: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan user trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades by user rows: %w", err)
	}
	return trades, nil
}

// ListSettledBefore returns terminal trades created strictly before the
// cutoff, oldest first, for ledger archival.
func (s *TradeStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	query := `SELECT ` + tradeCols + ` FROM trades
		WHERE status <> 'pending' AND created_at < $1
		ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled trades before: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan settled trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
