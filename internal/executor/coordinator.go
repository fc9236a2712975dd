// Package executor turns fired rules into orders: it re-validates the rule
// against the store, resolves credentials and order parameters, records the
// trade ledger entry, and settles it into exactly one terminal state.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
	"github.com/alanyoungcy/tradetrigger/internal/notify"
)

// PositionLedger folds executed trades into user positions.
type PositionLedger interface {
	ApplyTrade(ctx context.Context, trade domain.Trade) error
}

// Config tunes the coordinator.
type Config struct {
	// ExecuteTimeout bounds one end-to-end execution, order placement
	// included.
	ExecuteTimeout time.Duration
}

// Coordinator executes triggered rules. Execute never panics outward and,
// once order parameters resolve, always leaves exactly one new trade row.
type Coordinator struct {
	rules       domain.RuleStore
	trades      domain.TradeStore
	credentials domain.CredentialStore
	clients     domain.TradingClientFactory
	bus         domain.SignalBus
	audit       domain.AuditStore
	alerts      *notify.Notifier
	ledger      PositionLedger
	logger      *slog.Logger

	timeout time.Duration
}

// New creates a coordinator. alerts and ledger may be nil.
func New(rules domain.RuleStore, trades domain.TradeStore, credentials domain.CredentialStore, clients domain.TradingClientFactory, bus domain.SignalBus, audit domain.AuditStore, alerts *notify.Notifier, ledger PositionLedger, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.ExecuteTimeout <= 0 {
		cfg.ExecuteTimeout = 30 * time.Second
	}
	return &Coordinator{
		rules:       rules,
		trades:      trades,
		credentials: credentials,
		clients:     clients,
		bus:         bus,
		audit:       audit,
		alerts:      alerts,
		ledger:      ledger,
		logger:      logger.With("component", "executor"),
		timeout:     cfg.ExecuteTimeout,
	}
}

// Execute runs the full execution protocol for one fired rule. The caller's
// rule copy is only a hint: the authoritative row is re-fetched and its
// trigger state re-validated, closing the race between concurrent
// evaluations of the same rule.
func (c *Coordinator) Execute(ctx context.Context, fired domain.Rule, snap domain.MarketSnapshot, triggeredValue float64) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("execution panicked", "rule_id", fired.ID, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	logger := c.logger.With("rule_id", fired.ID, "market_id", fired.MarketID, "user_id", fired.UserID)

	rule, err := c.rules.GetByID(ctx, fired.ID)
	if err != nil {
		logger.Warn("rule vanished before execution", "error", err)
		return
	}
	if !rule.IsActive {
		logger.Info("rule deactivated before execution, skipping")
		return
	}
	if rule.TriggersExhausted() {
		logger.Info("trigger cap reached under concurrent evaluation, deactivating")
		if err := c.rules.Deactivate(ctx, rule.ID); err != nil {
			logger.Warn("deactivate failed", "error", err)
		}
		return
	}

	cred, err := c.credentials.Get(ctx, rule.UserID, rule.Platform)
	if err != nil {
		// Missing credentials are a configuration problem, not a trade
		// attempt: no ledger entry is written.
		if errors.Is(err, domain.ErrCredentialsMissing) {
			logger.Warn("no trading credentials configured, skipping")
		} else {
			logger.Error("resolve credentials failed", "error", err)
		}
		c.publishEvent(ctx, rule, triggeredValue, nil, "credentials unavailable")
		return
	}

	req, err := c.buildOrder(ctx, rule, snap)
	if err != nil {
		// Credentials resolved, so this counts as an attempt: it gets a
		// terminal failed Trade just like a rejected order, with no price.
		logger.Warn("order parameters unresolvable", "error", err)
		trade := domain.Trade{
			ID:           uuid.NewString(),
			UserID:       rule.UserID,
			RuleID:       &rule.ID,
			Platform:     rule.Platform,
			MarketID:     rule.MarketID,
			Type:         rule.Action.Type,
			Amount:       rule.Action.Amount,
			Status:       domain.TradeStatusFailed,
			ErrorMessage: err.Error(),
			CreatedAt:    time.Now().UTC(),
		}
		if cerr := c.trades.Create(ctx, trade); cerr != nil {
			logger.Error("record failed trade failed", "error", cerr)
		}
		c.auditLog(ctx, "trade_failed", rule, trade, err.Error())
		c.alerts.TradeFailed(ctx, rule, trade, err.Error())
		c.publishEvent(ctx, rule, triggeredValue, &trade, err.Error())
		return
	}

	trade := domain.Trade{
		ID:        uuid.NewString(),
		UserID:    rule.UserID,
		RuleID:    &rule.ID,
		Platform:  rule.Platform,
		MarketID:  rule.MarketID,
		Type:      rule.Action.Type,
		Side:      req.Outcome,
		Amount:    rule.Action.Amount,
		Price:     req.Price,
		TotalCost: req.Price * req.Quantity,
		Status:    domain.TradeStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.trades.Create(ctx, trade); err != nil {
		logger.Error("record pending trade failed, aborting", "error", err)
		c.publishEvent(ctx, rule, triggeredValue, nil, "trade ledger unavailable")
		return
	}

	result, placeErr := c.placeOrder(ctx, cred, req)

	now := time.Now().UTC()
	if placeErr != nil {
		trade.Status = domain.TradeStatusFailed
		trade.ErrorMessage = placeErr.Error()
		if err := c.trades.Settle(ctx, trade.ID, domain.TradeStatusFailed, "", placeErr.Error(), now); err != nil {
			logger.Error("settle failed trade failed", "trade_id", trade.ID, "error", err)
		}
		logger.Warn("order placement failed", "trade_id", trade.ID, "error", placeErr)
		c.auditLog(ctx, "trade_failed", rule, trade, placeErr.Error())
		c.alerts.TradeFailed(ctx, rule, trade, placeErr.Error())
		c.publishEvent(ctx, rule, triggeredValue, &trade, placeErr.Error())
		return
	}

	trade.Status = domain.TradeStatusExecuted
	trade.PlatformOrderID = result.OrderID
	trade.ExecutedAt = &now
	if err := c.trades.Settle(ctx, trade.ID, domain.TradeStatusExecuted, result.OrderID, "", now); err != nil {
		logger.Error("settle executed trade failed", "trade_id", trade.ID, "error", err)
	}

	// Trigger state only advances after a successful order, so a failed
	// attempt retries on the next evaluation cycle.
	c.advanceTriggerState(ctx, rule, now, logger)

	if c.ledger != nil {
		if err := c.ledger.ApplyTrade(ctx, trade); err != nil {
			logger.Warn("position update failed", "trade_id", trade.ID, "error", err)
		}
	}

	logger.Info("trade executed",
		"trade_id", trade.ID,
		"platform_order_id", result.OrderID,
		"price", req.Price,
		"quantity", req.Quantity)
	c.auditLog(ctx, "trade_executed", rule, trade, "")
	c.alerts.TradeExecuted(ctx, rule, trade)
	c.publishEvent(ctx, rule, triggeredValue, &trade, "")
}

// buildOrder resolves the instrument, price, and quantity for the rule's
// action. Price resolution order: explicit action price, live outcome
// price, then the snapshot's best quote for the order side.
func (c *Coordinator) buildOrder(ctx context.Context, rule domain.Rule, snap domain.MarketSnapshot) (domain.OrderRequest, error) {
	if len(snap.Outcomes) == 0 {
		return domain.OrderRequest{}, fmt.Errorf("market %s has no outcomes", rule.MarketID)
	}

	outcome := rule.Condition.Outcome
	if rule.Action.Side != "" {
		outcome = rule.Action.Side
	}
	idx := snap.OutcomeIndex(outcome)
	if idx < 0 {
		idx = 0
	}

	price := 0.0
	switch {
	case rule.Action.Price != nil && *rule.Action.Price > 0:
		price = *rule.Action.Price
	case snap.Outcomes[idx].Price > 0:
		price = snap.Outcomes[idx].Price
	case rule.Action.Type == domain.ActionBuy && snap.BestAsk > 0:
		price = snap.BestAsk
	case rule.Action.Type == domain.ActionSell && snap.BestBid > 0:
		price = snap.BestBid
	}
	if price <= 0 {
		return domain.OrderRequest{}, fmt.Errorf("no price available for market %s outcome %q", rule.MarketID, outcome)
	}

	if rule.Action.Amount <= 0 {
		return domain.OrderRequest{}, fmt.Errorf("rule %s has non-positive order amount", rule.ID)
	}

	side := domain.OrderSideBuy
	if rule.Action.Type == domain.ActionSell {
		side = domain.OrderSideSell
	}

	return domain.OrderRequest{
		MarketID: rule.MarketID,
		TokenID:  snap.Outcomes[idx].TokenID,
		Outcome:  snap.Outcomes[idx].Label,
		Side:     side,
		Price:    price,
		Quantity: rule.Action.Amount / price,
	}, nil
}

// placeOrder builds a per-user platform client and submits the order.
func (c *Coordinator) placeOrder(ctx context.Context, cred domain.Credential, req domain.OrderRequest) (domain.OrderResult, error) {
	client, err := c.clients.ClientFor(ctx, cred)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("build platform client: %w", err)
	}

	result, err := client.PlaceOrder(ctx, req)
	if err != nil {
		return domain.OrderResult{}, err
	}
	if !result.Success {
		return domain.OrderResult{}, fmt.Errorf("order rejected: %s", result.Message)
	}
	return result, nil
}

// advanceTriggerState bumps the trigger counter and deactivates the rule if
// the cap is now reached.
func (c *Coordinator) advanceTriggerState(ctx context.Context, rule domain.Rule, now time.Time, logger *slog.Logger) {
	count := rule.TriggerCount + 1
	active := rule.IsActive
	if rule.MaxTriggers != nil && count >= *rule.MaxTriggers {
		active = false
		logger.Info("trigger cap reached, deactivating", "trigger_count", count)
	}
	if err := c.rules.UpdateTriggerState(ctx, rule.ID, now, count, active); err != nil {
		logger.Error("update trigger state failed", "error", err)
		return
	}
	if !active {
		rule.TriggerCount = count
		c.alerts.RuleDeactivated(ctx, rule)
	}
}

// publishEvent notifies the owning user's sessions that the rule fired.
func (c *Coordinator) publishEvent(ctx context.Context, rule domain.Rule, triggeredValue float64, trade *domain.Trade, errMsg string) {
	if c.bus == nil {
		return
	}

	event := domain.RuleTriggeredEvent{
		RuleID:       rule.ID,
		RuleName:     rule.Name,
		UserID:       rule.UserID,
		Platform:     rule.Platform,
		MarketID:     rule.MarketID,
		Field:        string(rule.Condition.Field),
		Operator:     string(rule.Condition.Operator),
		TargetValue:  rule.Condition.Value,
		CurrentValue: triggeredValue,
		Error:        errMsg,
		TriggeredAt:  time.Now().UTC(),
	}
	if trade != nil {
		event.TradeID = trade.ID
		event.TradeStatus = string(trade.Status)
	}

	payload, err := json.Marshal(event)
	if err == nil {
		err = c.bus.Publish(ctx, domain.ChannelUser(rule.UserID), payload)
	}
	if err != nil {
		c.logger.Warn("publish rule trigger event failed", "rule_id", rule.ID, "error", err)
	}
}

// auditLog appends an execution record to the audit trail.
func (c *Coordinator) auditLog(ctx context.Context, event string, rule domain.Rule, trade domain.Trade, errMsg string) {
	if c.audit == nil {
		return
	}

	detail := map[string]any{
		"rule_id":   rule.ID,
		"user_id":   rule.UserID,
		"platform":  string(rule.Platform),
		"market_id": rule.MarketID,
		"trade_id":  trade.ID,
		"side":      trade.Side,
		"type":      string(trade.Type),
		"amount":    trade.Amount,
		"price":     trade.Price,
	}
	if errMsg != "" {
		detail["error"] = errMsg
	}
	if err := c.audit.Log(ctx, event, detail); err != nil {
		c.logger.Warn("audit log write failed", "event", event, "error", err)
	}
}
