package domain

import "time"

// ChannelMarkets is the broadcast pub/sub channel carrying MarketUpdateEvent
// payloads from feed ingestion.
const ChannelMarkets = "events:markets"

// ChannelUser returns the per-user pub/sub channel carrying
// RuleTriggeredEvent payloads.
func ChannelUser(userID string) string {
	return "events:user:" + userID
}

// RuleTriggeredEvent is published to the owning user's sessions after a
// rule fires, regardless of whether the resulting order succeeded.
type RuleTriggeredEvent struct {
	RuleID       string    `json:"ruleId"`
	RuleName     string    `json:"ruleName"`
	UserID       string    `json:"userId"`
	Platform     Platform  `json:"platform"`
	MarketID     string    `json:"marketId"`
	Field        string    `json:"field"`
	Operator     string    `json:"operator"`
	TargetValue  float64   `json:"targetValue"`
	CurrentValue float64   `json:"currentValue"`
	TradeID      string    `json:"tradeId,omitempty"`
	TradeStatus  string    `json:"tradeStatus,omitempty"`
	Error        string    `json:"error,omitempty"`
	TriggeredAt  time.Time `json:"triggeredAt"`
}

// MarketUpdateEvent is pushed to subscribed sessions when a market's
// prices change.
type MarketUpdateEvent struct {
	Platform  Platform  `json:"platform"`
	MarketID  string    `json:"marketId"`
	Prices    []float64 `json:"prices"`
	BestBid   float64   `json:"bestBid,omitempty"`
	BestAsk   float64   `json:"bestAsk,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}
