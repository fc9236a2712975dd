package engine

import (
	"context"
	"math"
	"time"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

// evaluate runs one rule through the trigger pipeline: activity and trigger
// cap checks, cooldown, snapshot resolution, value resolution, comparison.
// It is side-effect-free except for deactivating exhausted rules and
// enqueueing triggers; both scan paths may race on the same rule, and the
// execution coordinator re-validates before trading.
func (e *Engine) evaluate(ctx context.Context, rule domain.Rule, now time.Time) {
	if !rule.IsActive {
		return
	}

	if rule.TriggersExhausted() {
		if err := e.rules.Deactivate(ctx, rule.ID); err != nil {
			e.logger.Warn("deactivate exhausted rule failed", "rule_id", rule.ID, "error", err)
		} else {
			e.logger.Info("rule exhausted its trigger cap, deactivated",
				"rule_id", rule.ID, "trigger_count", rule.TriggerCount)
		}
		return
	}

	if rule.InCooldown(now) {
		return
	}

	snap, ok := e.snapshot(ctx, rule.MarketID)
	if !ok {
		return
	}

	current, ok := e.resolveValue(ctx, rule, snap)
	if !ok {
		return
	}

	if !compare(rule.Condition.Operator, current, rule.Condition.Value, e.epsilon) {
		return
	}

	e.enqueue(trigger{rule: rule, snap: snap, value: current})
}

// snapshot resolves the market for a rule, preferring the cache and falling
// back to the store on a miss.
func (e *Engine) snapshot(ctx context.Context, marketID string) (domain.MarketSnapshot, bool) {
	if snap, ok := e.cache.Get(marketID); ok {
		return snap, true
	}

	snap, err := e.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.MarketSnapshot{}, false
	}
	e.cache.Upsert(snap)
	return snap, true
}

// resolveValue computes the current value of the rule's condition field.
// The second return is false when no value can be resolved this cycle.
func (e *Engine) resolveValue(ctx context.Context, rule domain.Rule, snap domain.MarketSnapshot) (float64, bool) {
	if len(snap.Outcomes) == 0 {
		return 0, false
	}

	idx := snap.OutcomeIndex(rule.Condition.Outcome)
	if idx < 0 {
		idx = 0
	}
	price := snap.Outcomes[idx].Price

	switch rule.Condition.Field {
	case domain.FieldProbability:
		return price * 100, true

	case domain.FieldPrice:
		return price, true

	case domain.FieldROI:
		pos, err := e.positions.Get(ctx, rule.UserID, rule.MarketID)
		if err != nil || pos.Shares == 0 || pos.CostBasis == 0 {
			return 0, false
		}
		return (pos.Shares*price - pos.CostBasis) / pos.CostBasis * 100, true

	default:
		return 0, false
	}
}

// compare applies op between current and target. Equality checks use an
// epsilon tolerance: price feeds round-trip through enough representations
// that exact float comparison produces false negatives. Non-finite inputs
// always compare false.
func compare(op domain.Operator, current, target, epsilon float64) bool {
	if math.IsNaN(current) || math.IsInf(current, 0) ||
		math.IsNaN(target) || math.IsInf(target, 0) {
		return false
	}

	switch op {
	case domain.OpLT:
		return current < target
	case domain.OpGT:
		return current > target
	case domain.OpLTE:
		return current <= target
	case domain.OpGTE:
		return current >= target
	case domain.OpEQ:
		return math.Abs(current-target) <= epsilon
	case domain.OpNEQ:
		return math.Abs(current-target) > epsilon
	default:
		return false
	}
}
