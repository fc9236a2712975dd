package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. Outcomes are
// stored as parallel arrays (labels, prices, token ids) and reassembled into
// typed slices on read.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `market_id, platform, title, category,
	outcome_labels, outcome_prices, token_ids,
	liquidity, volume, best_bid, best_ask, spread,
	active, closed, end_date, last_updated`

const marketUpsertQuery = `
	INSERT INTO markets (
		market_id, platform, title, category,
		outcome_labels, outcome_prices, token_ids,
		liquidity, volume, best_bid, best_ask, spread,
		active, closed, end_date, last_updated
	) VALUES (
		$1, $2, $3, $4,
		$5, $6, $7,
		$8, $9, $10, $11, $12,
		$13, $14, $15, NOW()
	)
	ON CONFLICT (market_id) DO UPDATE SET
		platform       = EXCLUDED.platform,
		title          = EXCLUDED.title,
		category       = EXCLUDED.category,
		outcome_labels = EXCLUDED.outcome_labels,
		outcome_prices = EXCLUDED.outcome_prices,
		token_ids      = EXCLUDED.token_ids,
		liquidity      = EXCLUDED.liquidity,
		volume         = EXCLUDED.volume,
		best_bid       = EXCLUDED.best_bid,
		best_ask       = EXCLUDED.best_ask,
		spread         = EXCLUDED.spread,
		active         = EXCLUDED.active,
		closed         = EXCLUDED.closed,
		end_date       = EXCLUDED.end_date,
		last_updated   = NOW()`

func marketArgs(m domain.MarketSnapshot) []any {
	labels := make([]string, len(m.Outcomes))
	prices := make([]float64, len(m.Outcomes))
	tokens := make([]string, len(m.Outcomes))
	for i, o := range m.Outcomes {
		labels[i] = o.Label
		prices[i] = o.Price
		tokens[i] = o.TokenID
	}
	return []any{
		m.MarketID, string(m.Platform), m.Title, m.Category,
		labels, prices, tokens,
		m.Liquidity, m.Volume, m.BestBid, m.BestAsk, m.Spread,
		m.Active, m.Closed, m.EndDate,
	}
}

// Upsert inserts or replaces a single market snapshot.
func (s *MarketStore) Upsert(ctx context.Context, m domain.MarketSnapshot) error {
	if _, err := s.pool.Exec(ctx, marketUpsertQuery, marketArgs(m)...); err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.MarketID, err)
	}
	return nil
}

// UpsertBatch inserts or replaces multiple snapshots in a single batch.
func (s *MarketStore) UpsertBatch(ctx context.Context, snaps []domain.MarketSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range snaps {
		batch.Queue(marketUpsertQuery, marketArgs(m)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range snaps {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert market batch item %d: %w", i, err)
		}
	}
	return nil
}

func scanMarket(row pgx.Row) (domain.MarketSnapshot, error) {
	var m domain.MarketSnapshot
	var platform string
	var labels, tokens []string
	var prices []float64
	err := row.Scan(
		&m.MarketID, &platform, &m.Title, &m.Category,
		&labels, &prices, &tokens,
		&m.Liquidity, &m.Volume, &m.BestBid, &m.BestAsk, &m.Spread,
		&m.Active, &m.Closed, &m.EndDate, &m.LastUpdated,
	)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	m.Platform = domain.Platform(platform)
	m.Outcomes = make([]domain.Outcome, len(labels))
	for i := range labels {
		o := domain.Outcome{Label: labels[i]}
		if i < len(prices) {
			o.Price = prices[i]
		}
		if i < len(tokens) {
			o.TokenID = tokens[i]
		}
		m.Outcomes[i] = o
	}
	return m, nil
}

// GetByID retrieves a market snapshot by its platform-native id.
func (s *MarketStore) GetByID(ctx context.Context, marketID string) (domain.MarketSnapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE market_id = $1`, marketID)
	m, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.MarketSnapshot{}, domain.ErrNotFound
		}
		return domain.MarketSnapshot{}, fmt.Errorf("postgres: get market %s: %w", marketID, err)
	}
	return m, nil
}

// GetByTokenID retrieves a market snapshot by any of its outcome token ids.
func (s *MarketStore) GetByTokenID(ctx context.Context, tokenID string) (domain.MarketSnapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE $1 = ANY(token_ids)`, tokenID)
	m, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.MarketSnapshot{}, domain.ErrNotFound
		}
		return domain.MarketSnapshot{}, fmt.Errorf("postgres: get market by token %s: %w", tokenID, err)
	}
	return m, nil
}

// ListActive returns active, unexpired markets for a platform with pagination.
// An empty platform matches all platforms.
func (s *MarketStore) ListActive(ctx context.Context, platform domain.Platform, opts domain.ListOpts) ([]domain.MarketSnapshot, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE active AND NOT closed`
	args := []any{}
	argIdx := 1

	if platform != "" {
		query += fmt.Sprintf(" AND platform = $%d", argIdx)
		args = append(args, string(platform))
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND last_updated >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}

	query += " ORDER BY volume DESC"

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
		return nil, fmt.Errorf("postgres: list active markets: %w", err)
	}
	defer rows.Close()

	var snaps []domain.MarketSnapshot
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan active market: %w", err)
		}
		snaps = append(snaps, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active markets rows: %w", err)
	}
	return snaps, nil
}

// UpdatePrices applies a partial price patch without touching catalog fields.
func (s *MarketStore) UpdatePrices(ctx context.Context, marketID string, prices []float64, bestBid, bestAsk, spread float64) error {
	const query = `
		UPDATE markets SET
			outcome_prices = $2,
			best_bid       = $3,
			best_ask       = $4,
			spread         = $5,
			last_updated   = NOW()
		WHERE market_id = $1`
	tag, err := s.pool.Exec(ctx, query, marketID, prices, bestBid, bestAsk, spread)
	if err != nil {
		return fmt.Errorf("postgres: update prices for %s: %w", marketID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a single market by id. Deleting an unknown id is not an
// error.
func (s *MarketStore) Delete(ctx context.Context, marketID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM markets WHERE market_id = $1`, marketID)
	if err != nil {
		return fmt.Errorf("postgres: delete market %s: %w", marketID, err)
	}
	return nil
}

// DeleteExpired removes markets whose end date is set and already past,
// returning the removed ids.
func (s *MarketStore) DeleteExpired(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM markets WHERE end_date IS NOT NULL AND end_date < $1 RETURNING market_id`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: delete expired markets: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan expired market id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: delete expired markets: %w", err)
	}
	return ids, nil
}

// Count returns the total number of markets in the database.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}
