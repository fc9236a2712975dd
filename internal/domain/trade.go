package domain

import "time"

// TradeStatus tracks the trade lifecycle. Executed, failed, and cancelled
// are terminal: a trade observed in one of those states never transitions
// again.
type TradeStatus string

const (
	TradeStatusPending   TradeStatus = "pending"
	TradeStatusExecuted  TradeStatus = "executed"
	TradeStatusFailed    TradeStatus = "failed"
	TradeStatusCancelled TradeStatus = "cancelled"
)

// Terminal reports whether s is a final status.
func (s TradeStatus) Terminal() bool {
	switch s {
	case TradeStatusExecuted, TradeStatusFailed, TradeStatusCancelled:
		return true
	}
	return false
}

// Trade is one row of the execution ledger. Trades originating from a rule
// carry the rule id; trades placed directly through the API leave it nil.
type Trade struct {
	ID              string      `json:"id"`
	UserID          string      `json:"userId"`
	RuleID          *string     `json:"ruleId,omitempty"`
	Platform        Platform    `json:"platform"`
	MarketID        string      `json:"marketId"`
	Type            ActionType  `json:"type"`
	Side            string      `json:"side,omitempty"`
	Amount          float64     `json:"amount"` // requested USD notional
	Price           float64     `json:"price"`
	TotalCost       float64     `json:"totalCost"`
	Status          TradeStatus `json:"status"`
	PlatformOrderID string      `json:"platformOrderId,omitempty"`
	ExecutedAt      *time.Time  `json:"executedAt,omitempty"`
	ErrorMessage    string      `json:"errorMessage,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
}
