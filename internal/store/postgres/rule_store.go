package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

// RuleStore implements domain.RuleStore using PostgreSQL.
type RuleStore struct {
	pool *pgxpool.Pool
}

// NewRuleStore creates a new RuleStore backed by the given connection pool.
func NewRuleStore(pool *pgxpool.Pool) *RuleStore {
	return &RuleStore{pool: pool}
}

const ruleCols = `id, user_id, name, platform, market_id,
	condition_field, condition_op, condition_value, condition_outcome, cooldown_minutes,
	action_type, action_side, action_amount, action_price,
	is_active, last_triggered_at, trigger_count, max_triggers,
	created_at, updated_at`

func scanRule(row pgx.Row) (domain.Rule, error) {
	var r domain.Rule
	var platform, field, op, actionType string
	err := row.Scan(
		&r.ID, &r.UserID, &r.Name, &platform, &r.MarketID,
		&field, &op, &r.Condition.Value, &r.Condition.Outcome, &r.Condition.CooldownMinutes,
		&actionType, &r.Action.Side, &r.Action.Amount, &r.Action.Price,
		&r.IsActive, &r.LastTriggeredAt, &r.TriggerCount, &r.MaxTriggers,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return domain.Rule{}, err
	}
	r.Platform = domain.Platform(platform)
	r.Condition.Field = domain.ConditionField(field)
	r.Condition.Operator = domain.Operator(op)
	r.Action.Type = domain.ActionType(actionType)
	return r, nil
}

// Create inserts a new rule.
func (s *RuleStore) Create(ctx context.Context, r domain.Rule) error {
	const query = `
		INSERT INTO rules (
			id, user_id, name, platform, market_id,
			condition_field, condition_op, condition_value, condition_outcome, cooldown_minutes,
			action_type, action_side, action_amount, action_price,
			is_active, last_triggered_at, trigger_count, max_triggers,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18,
			NOW(), NOW()
		)`
	_, err := s.pool.Exec(ctx, query,
		r.ID, r.UserID, r.Name, string(r.Platform), r.MarketID,
		string(r.Condition.Field), string(r.Condition.Operator), r.Condition.Value,
		r.Condition.Outcome, r.Condition.CooldownMinutes,
		string(r.Action.Type), r.Action.Side, r.Action.Amount, r.Action.Price,
		r.IsActive, r.LastTriggeredAt, r.TriggerCount, r.MaxTriggers,
	)
	if err != nil {
		return fmt.Errorf("postgres: create rule %s: %w", r.ID, err)
	}
	return nil
}

// GetByID retrieves a rule by its primary key.
func (s *RuleStore) GetByID(ctx context.Context, id string) (domain.Rule, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ruleCols+` FROM rules WHERE id = $1`, id)
	r, err := scanRule(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Rule{}, domain.ErrNotFound
		}
		return domain.Rule{}, fmt.Errorf("postgres: get rule %s: %w", id, err)
	}
	return r, nil
}

// ListActive returns active rules, restricted to one market when marketID is
// non-empty.
func (s *RuleStore) ListActive(ctx context.Context, marketID string) ([]domain.Rule, error) {
	query := `SELECT ` + ruleCols + ` FROM rules WHERE is_active`
	args := []any{}
	if marketID != "" {
		query += " AND market_id = $1"
		args = append(args, marketID)
	}
	query += " ORDER BY created_at"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan active rule: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active rules rows: %w", err)
	}
	return rules, nil
}

// ListByUser returns a user's rules with pagination.
func (s *RuleStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Rule, error) {
	query := `SELECT ` + ruleCols + ` FROM rules WHERE user_id = $1 ORDER BY created_at DESC`
	args := []any{userID}
	argIdx := 2

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
		return nil, fmt.Errorf("postgres: list rules by user: %w", err)
	}
	defer rows.Close()

	var rules []domain.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan user rule: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list rules by user rows: %w", err)
	}
	return rules, nil
}

// UpdateTriggerState persists the trigger-state triple after a successful
// execution.
func (s *RuleStore) UpdateTriggerState(ctx context.Context, id string, lastTriggeredAt time.Time, triggerCount int, isActive bool) error {
	const query = `
		UPDATE rules SET
			last_triggered_at = $2,
			trigger_count     = $3,
			is_active         = $4,
			updated_at        = NOW()
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, lastTriggeredAt, triggerCount, isActive)
	if err != nil {
		return fmt.Errorf("postgres: update trigger state for rule %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Deactivate marks a rule inactive without touching its trigger history.
func (s *RuleStore) Deactivate(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rules SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: deactivate rule %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a rule permanently.
func (s *RuleStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete rule %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
