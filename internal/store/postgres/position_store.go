package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionCols = `user_id, market_id, outcome, shares, cost_basis, updated_at`

// Get retrieves a user's position in one market.
func (s *PositionStore) Get(ctx context.Context, userID, marketID string) (domain.Position, error) {
	var p domain.Position
	err := s.pool.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions WHERE user_id = $1 AND market_id = $2`,
		userID, marketID,
	).Scan(&p.UserID, &p.MarketID, &p.Outcome, &p.Shares, &p.CostBasis, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", userID, marketID, err)
	}
	return p, nil
}

// Upsert inserts or replaces a user's position in one market.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (user_id, market_id, outcome, shares, cost_basis, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id, market_id) DO UPDATE SET
			outcome    = EXCLUDED.outcome,
			shares     = EXCLUDED.shares,
			cost_basis = EXCLUDED.cost_basis,
			updated_at = NOW()`
	_, err := s.pool.Exec(ctx, query, p.UserID, p.MarketID, p.Outcome, p.Shares, p.CostBasis)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s/%s: %w", p.UserID, p.MarketID, err)
	}
	return nil
}

// ListByUser returns all of a user's positions.
func (s *PositionStore) ListByUser(ctx context.Context, userID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions WHERE user_id = $1 ORDER BY market_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by user: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.UserID, &p.MarketID, &p.Outcome, &p.Shares, &p.CostBasis, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}
