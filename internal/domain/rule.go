package domain

import "time"

// ConditionField selects which market-derived quantity a rule compares.
type ConditionField string

const (
	FieldProbability ConditionField = "probability" // outcome price x 100
	FieldPrice       ConditionField = "price"       // raw outcome price (0..1)
	FieldROI         ConditionField = "roi"         // unrealized return on the user's position, percent
)

// Operator is the comparison applied between the current value and the
// rule's target value.
type Operator string

const (
	OpLT  Operator = "<"
	OpGT  Operator = ">"
	OpLTE Operator = "<="
	OpGTE Operator = ">="
	OpEQ  Operator = "=="
	OpNEQ Operator = "!="
)

// Valid reports whether op is a recognised comparison operator.
func (op Operator) Valid() bool {
	switch op {
	case OpLT, OpGT, OpLTE, OpGTE, OpEQ, OpNEQ:
		return true
	}
	return false
}

// Condition is the trigger clause of a rule: "when <field> of <outcome>
// <operator> <value>". Cooldown is the minimum time between consecutive
// triggers of the same rule.
type Condition struct {
	Field           ConditionField `json:"field"`
	Operator        Operator       `json:"operator"`
	Value           float64        `json:"value"`
	Outcome         string         `json:"outcome,omitempty"` // outcome label, matched case-insensitively; falls back to index 0
	CooldownMinutes int            `json:"cooldownMinutes,omitempty"`
}

// ActionType indicates whether a triggered rule buys or sells.
type ActionType string

const (
	ActionBuy  ActionType = "buy"
	ActionSell ActionType = "sell"
)

// Action describes the order placed when a rule fires. Amount is USD
// notional; it is converted to contract quantity at the resolved order
// price. Price, when non-nil, overrides the live outcome price.
type Action struct {
	Type   ActionType `json:"type"`
	Side   string     `json:"side,omitempty"` // outcome side the order targets, e.g. "yes"
	Amount float64    `json:"amount"`
	Price  *float64   `json:"price,omitempty"`
}

// Rule is a user-defined conditional trading rule with its trigger state.
// Trigger-state fields (LastTriggeredAt, TriggerCount, IsActive) are mutated
// only by the evaluation engine and the execution coordinator.
type Rule struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	Name            string     `json:"name"`
	Platform        Platform   `json:"platform"`
	MarketID        string     `json:"marketId"`
	Condition       Condition  `json:"condition"`
	Action          Action     `json:"action"`
	IsActive        bool       `json:"isActive"`
	LastTriggeredAt *time.Time `json:"lastTriggeredAt,omitempty"`
	TriggerCount    int        `json:"triggerCount"`
	MaxTriggers     *int       `json:"maxTriggers,omitempty"` // nil = unlimited
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// TriggersExhausted reports whether the rule has reached its trigger cap.
func (r *Rule) TriggersExhausted() bool {
	return r.MaxTriggers != nil && r.TriggerCount >= *r.MaxTriggers
}

// InCooldown reports whether now falls inside the rule's cooldown window.
func (r *Rule) InCooldown(now time.Time) bool {
	if r.Condition.CooldownMinutes <= 0 || r.LastTriggeredAt == nil {
		return false
	}
	next := r.LastTriggeredAt.Add(time.Duration(r.Condition.CooldownMinutes) * time.Minute)
	return now.Before(next)
}
