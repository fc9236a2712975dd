// Package notify delivers operator alerts for trading activity. Alerts fan
// out to all configured channels (Telegram, Discord) and are filtered by
// event type so an operator can subscribe to failures only.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

// Alert event types emitted by the execution pipeline.
const (
	EventTradeExecuted   = "trade_executed"
	EventTradeFailed     = "trade_failed"
	EventRuleDeactivated = "rule_deactivated"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans alerts out to its senders, filtered by event type. An empty
// event list allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// New creates a notifier over the given senders.
func New(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With("component", "notifier"),
	}
}

// TradeExecuted reports a successful order.
func (n *Notifier) TradeExecuted(ctx context.Context, rule domain.Rule, trade domain.Trade) {
	n.notify(ctx, EventTradeExecuted, "Trade executed",
		fmt.Sprintf("%s %s %q: %s $%.2f at %.3f (order %s)",
			rule.Platform, rule.MarketID, rule.Name,
			trade.Type, trade.Amount, trade.Price, trade.PlatformOrderID))
}

// TradeFailed reports a failed order attempt.
func (n *Notifier) TradeFailed(ctx context.Context, rule domain.Rule, trade domain.Trade, reason string) {
	n.notify(ctx, EventTradeFailed, "Trade failed",
		fmt.Sprintf("%s %s %q: %s $%.2f failed: %s",
			rule.Platform, rule.MarketID, rule.Name,
			trade.Type, trade.Amount, reason))
}

// RuleDeactivated reports that a rule hit its trigger cap.
func (n *Notifier) RuleDeactivated(ctx context.Context, rule domain.Rule) {
	n.notify(ctx, EventRuleDeactivated, "Rule deactivated",
		fmt.Sprintf("%s %s %q reached its trigger cap after %d trigger(s)",
			rule.Platform, rule.MarketID, rule.Name, rule.TriggerCount))
}

// notify applies the event filter and fans out. Sender failures are logged
// and isolated; an alert is never worth disturbing the pipeline.
func (n *Notifier) notify(ctx context.Context, event, title, message string) {
	if n == nil || len(n.senders) == 0 {
		return
	}
	if len(n.events) > 0 && !n.events[event] {
		return
	}

	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.Warn("alert delivery failed", "sender", s.Name(), "event", event, "error", err)
		}
	}
}
