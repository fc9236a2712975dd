package executor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeRuleStore struct {
	mu           sync.Mutex
	rules        map[string]domain.Rule
	deactivated  []string
	triggerState []domain.Rule // snapshot after each UpdateTriggerState
}

func newFakeRuleStore(rules ...domain.Rule) *fakeRuleStore {
	f := &fakeRuleStore{rules: make(map[string]domain.Rule)}
	for _, r := range rules {
		f.rules[r.ID] = r
	}
	return f
}

func (f *fakeRuleStore) Create(_ context.Context, rule domain.Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[rule.ID] = rule
	return nil
}

func (f *fakeRuleStore) GetByID(_ context.Context, id string) (domain.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rules[id]
	if !ok {
		return domain.Rule{}, domain.ErrNotFound
	}
	return r, nil
}

func (f *fakeRuleStore) ListActive(context.Context, string) ([]domain.Rule, error) { return nil, nil }
func (f *fakeRuleStore) ListByUser(context.Context, string, domain.ListOpts) ([]domain.Rule, error) {
	return nil, nil
}

func (f *fakeRuleStore) UpdateTriggerState(_ context.Context, id string, at time.Time, count int, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.rules[id]
	r.LastTriggeredAt = &at
	r.TriggerCount = count
	r.IsActive = active
	f.rules[id] = r
	f.triggerState = append(f.triggerState, r)
	return nil
}

func (f *fakeRuleStore) Deactivate(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.rules[id]
	r.IsActive = false
	f.rules[id] = r
	f.deactivated = append(f.deactivated, id)
	return nil
}

func (f *fakeRuleStore) Delete(context.Context, string) error { return nil }

type fakeTradeStore struct {
	mu      sync.Mutex
	created []domain.Trade
	settled map[string]domain.TradeStatus
}

func newFakeTradeStore() *fakeTradeStore {
	return &fakeTradeStore{settled: make(map[string]domain.TradeStatus)}
}

func (f *fakeTradeStore) Create(_ context.Context, trade domain.Trade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, trade)
	return nil
}

func (f *fakeTradeStore) Settle(_ context.Context, id string, status domain.TradeStatus, _, _ string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, done := f.settled[id]; done {
		return domain.ErrTradeFinal
	}
	f.settled[id] = status
	return nil
}

func (f *fakeTradeStore) GetByID(context.Context, string) (domain.Trade, error) {
	return domain.Trade{}, domain.ErrNotFound
}
func (f *fakeTradeStore) ListByUser(context.Context, string, domain.ListOpts) ([]domain.Trade, error) {
	return nil, nil
}
func (f *fakeTradeStore) ListSettledBefore(context.Context, time.Time) ([]domain.Trade, error) {
	return nil, nil
}

type fakeCredStore struct {
	creds map[string]domain.Credential // keyed userID + "/" + platform
}

func (f *fakeCredStore) Get(_ context.Context, userID string, platform domain.Platform) (domain.Credential, error) {
	cred, ok := f.creds[userID+"/"+string(platform)]
	if !ok {
		return domain.Credential{}, domain.ErrCredentialsMissing
	}
	return cred, nil
}

func (f *fakeCredStore) Upsert(context.Context, domain.Credential) error { return nil }

type fakeClient struct {
	mu       sync.Mutex
	requests []domain.OrderRequest
	result   domain.OrderResult
	err      error
}

func (f *fakeClient) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return domain.OrderResult{}, f.err
	}
	return f.result, nil
}

func (f *fakeClient) CancelOrder(context.Context, string) error { return nil }
func (f *fakeClient) GetOrderBook(context.Context, string, string) (domain.OrderBook, error) {
	return domain.OrderBook{}, nil
}
func (f *fakeClient) GetPortfolio(context.Context) (domain.Portfolio, error) {
	return domain.Portfolio{}, nil
}

type fakeFactory struct {
	client domain.TradingClient
	err    error
	panics bool
}

func (f *fakeFactory) ClientFor(context.Context, domain.Credential) (domain.TradingClient, error) {
	if f.panics {
		panic("factory exploded")
	}
	return f.client, f.err
}

type fakeBus struct {
	mu       sync.Mutex
	payloads map[string][][]byte
}

func newFakeBus() *fakeBus { return &fakeBus{payloads: make(map[string][][]byte)} }

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[channel] = append(f.payloads[channel], payload)
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

type fakeAudit struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}
func (f *fakeAudit) ListBefore(context.Context, time.Time) ([]domain.AuditEntry, error) {
	return nil, nil
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

func sampleRule() domain.Rule {
	return domain.Rule{
		ID:       "rule-1",
		UserID:   "user-1",
		Name:     "buy yes above 60",
		Platform: domain.PlatformPolymarket,
		MarketID: "mkt-1",
		Condition: domain.Condition{
			Field:    domain.FieldProbability,
			Operator: domain.OpGT,
			Value:    60,
			Outcome:  "Yes",
		},
		Action: domain.Action{
			Type:   domain.ActionBuy,
			Side:   "yes",
			Amount: 100,
		},
		IsActive: true,
	}
}

func sampleSnapshot() domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Platform: domain.PlatformPolymarket,
		MarketID: "mkt-1",
		Outcomes: []domain.Outcome{
			{Label: "Yes", Price: 0.65, TokenID: "tok-yes"},
			{Label: "No", Price: 0.35, TokenID: "tok-no"},
		},
		BestBid: 0.64,
		BestAsk: 0.66,
		Active:  true,
	}
}

func validCreds() *fakeCredStore {
	return &fakeCredStore{creds: map[string]domain.Credential{
		"user-1/polymarket": {UserID: "user-1", Platform: domain.PlatformPolymarket, APIKey: "key"},
	}}
}

type fixture struct {
	coord  *Coordinator
	rules  *fakeRuleStore
	trades *fakeTradeStore
	client *fakeClient
	bus    *fakeBus
	audit  *fakeAudit
}

func newFixture(rules *fakeRuleStore, creds domain.CredentialStore, client *fakeClient, factoryErr error) *fixture {
	trades := newFakeTradeStore()
	bus := newFakeBus()
	audit := &fakeAudit{}
	coord := New(rules, trades, creds, &fakeFactory{client: client, err: factoryErr}, bus, audit, nil, nil, Config{}, testLogger())
	return &fixture{coord: coord, rules: rules, trades: trades, client: client, bus: bus, audit: audit}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestExecuteSuccessfulOrder(t *testing.T) {
	rules := newFakeRuleStore(sampleRule())
	client := &fakeClient{result: domain.OrderResult{Success: true, OrderID: "ord-99", Status: "matched"}}
	fx := newFixture(rules, validCreds(), client, nil)

	fx.coord.Execute(context.Background(), sampleRule(), sampleSnapshot(), 65)

	require.Len(t, fx.trades.created, 1)
	trade := fx.trades.created[0]
	assert.Equal(t, domain.TradeStatusPending, trade.Status, "trade starts pending")
	assert.Equal(t, domain.TradeStatusExecuted, fx.trades.settled[trade.ID])
	assert.InDelta(t, 0.65, trade.Price, 1e-9)
	assert.InDelta(t, 100, trade.TotalCost, 1e-9)

	require.Len(t, fx.client.requests, 1)
	req := fx.client.requests[0]
	assert.Equal(t, "tok-yes", req.TokenID)
	assert.Equal(t, domain.OrderSideBuy, req.Side)
	assert.InDelta(t, 100.0/0.65, req.Quantity, 1e-9, "USD notional converts to shares")

	updated, _ := rules.GetByID(context.Background(), "rule-1")
	assert.Equal(t, 1, updated.TriggerCount)
	assert.NotNil(t, updated.LastTriggeredAt)
	assert.True(t, updated.IsActive)

	events := fx.bus.payloads[domain.ChannelUser("user-1")]
	require.Len(t, events, 1)
	var event domain.RuleTriggeredEvent
	require.NoError(t, json.Unmarshal(events[0], &event))
	assert.Equal(t, trade.ID, event.TradeID)
	assert.Equal(t, "executed", event.TradeStatus)
	assert.Empty(t, event.Error)

	assert.Equal(t, []string{"trade_executed"}, fx.audit.events)
}

func TestExecuteFailedOrderSettlesWithoutAdvancingTriggerState(t *testing.T) {
	rules := newFakeRuleStore(sampleRule())
	client := &fakeClient{err: errors.New("insufficient balance")}
	fx := newFixture(rules, validCreds(), client, nil)

	fx.coord.Execute(context.Background(), sampleRule(), sampleSnapshot(), 65)

	require.Len(t, fx.trades.created, 1)
	trade := fx.trades.created[0]
	assert.Equal(t, domain.TradeStatusFailed, fx.trades.settled[trade.ID])

	updated, _ := rules.GetByID(context.Background(), "rule-1")
	assert.Equal(t, 0, updated.TriggerCount, "failed orders retry on the next cycle")
	assert.Nil(t, updated.LastTriggeredAt)

	events := fx.bus.payloads[domain.ChannelUser("user-1")]
	require.Len(t, events, 1)
	var event domain.RuleTriggeredEvent
	require.NoError(t, json.Unmarshal(events[0], &event))
	assert.Equal(t, "failed", event.TradeStatus)
	assert.Contains(t, event.Error, "insufficient balance")
	assert.Equal(t, []string{"trade_failed"}, fx.audit.events)
}

func TestExecuteMissingCredentialsSkipsWithoutTrade(t *testing.T) {
	rules := newFakeRuleStore(sampleRule())
	fx := newFixture(rules, &fakeCredStore{}, &fakeClient{}, nil)

	fx.coord.Execute(context.Background(), sampleRule(), sampleSnapshot(), 65)

	assert.Empty(t, fx.trades.created, "credential absence never writes a ledger entry")
	assert.Empty(t, fx.client.requests)

	events := fx.bus.payloads[domain.ChannelUser("user-1")]
	require.Len(t, events, 1, "the user still learns the rule fired")
	var event domain.RuleTriggeredEvent
	require.NoError(t, json.Unmarshal(events[0], &event))
	assert.Empty(t, event.TradeID)
	assert.NotEmpty(t, event.Error)
}

func TestExecuteVanishedRuleAborts(t *testing.T) {
	fx := newFixture(newFakeRuleStore(), validCreds(), &fakeClient{}, nil)

	fx.coord.Execute(context.Background(), sampleRule(), sampleSnapshot(), 65)

	assert.Empty(t, fx.trades.created)
	assert.Empty(t, fx.client.requests)
}

func TestExecuteRevalidatesTriggerCap(t *testing.T) {
	// The stored rule already hit its cap even though the fired copy has
	// not: a concurrent evaluation executed first.
	stored := sampleRule()
	two := 2
	stored.MaxTriggers = &two
	stored.TriggerCount = 2
	rules := newFakeRuleStore(stored)
	fx := newFixture(rules, validCreds(), &fakeClient{}, nil)

	fired := sampleRule()
	fired.MaxTriggers = &two
	fired.TriggerCount = 1
	fx.coord.Execute(context.Background(), fired, sampleSnapshot(), 65)

	assert.Empty(t, fx.trades.created)
	assert.Equal(t, []string{"rule-1"}, fx.rules.deactivated)
}

func TestExecuteDeactivatesWhenCapReachedAfterSuccess(t *testing.T) {
	stored := sampleRule()
	one := 1
	stored.MaxTriggers = &one
	rules := newFakeRuleStore(stored)
	client := &fakeClient{result: domain.OrderResult{Success: true, OrderID: "ord-1"}}
	fx := newFixture(rules, validCreds(), client, nil)

	fx.coord.Execute(context.Background(), stored, sampleSnapshot(), 65)

	updated, _ := rules.GetByID(context.Background(), "rule-1")
	assert.Equal(t, 1, updated.TriggerCount)
	assert.False(t, updated.IsActive, "cap reached on this trigger")
}

func TestExecuteExplicitActionPriceOverridesLive(t *testing.T) {
	rules := newFakeRuleStore(sampleRule())
	client := &fakeClient{result: domain.OrderResult{Success: true}}
	fx := newFixture(rules, validCreds(), client, nil)

	fired := sampleRule()
	limit := 0.50
	fired.Action.Price = &limit
	// The coordinator re-fetches the stored rule, so the override must be
	// visible there.
	stored := fired
	require.NoError(t, rules.Create(context.Background(), stored))

	fx.coord.Execute(context.Background(), fired, sampleSnapshot(), 65)

	require.Len(t, fx.client.requests, 1)
	assert.InDelta(t, 0.50, fx.client.requests[0].Price, 1e-9)
	assert.InDelta(t, 200, fx.client.requests[0].Quantity, 1e-9)
}

func TestBuildOrderPriceFallsBackToBestQuote(t *testing.T) {
	fx := newFixture(newFakeRuleStore(), validCreds(), &fakeClient{}, nil)

	snap := sampleSnapshot()
	snap.Outcomes[0].Price = 0
	rule := sampleRule()

	req, err := fx.coord.buildOrder(context.Background(), rule, snap)
	require.NoError(t, err)
	assert.InDelta(t, 0.66, req.Price, 1e-9, "buys fall back to best ask")

	rule.Action.Type = domain.ActionSell
	req, err = fx.coord.buildOrder(context.Background(), rule, snap)
	require.NoError(t, err)
	assert.InDelta(t, 0.64, req.Price, 1e-9, "sells fall back to best bid")
}

func TestBuildOrderNoPriceAnywhere(t *testing.T) {
	fx := newFixture(newFakeRuleStore(), validCreds(), &fakeClient{}, nil)

	snap := sampleSnapshot()
	snap.Outcomes[0].Price = 0
	snap.BestBid = 0
	snap.BestAsk = 0

	_, err := fx.coord.buildOrder(context.Background(), sampleRule(), snap)
	assert.Error(t, err)
}

func TestExecuteUnresolvablePriceRecordsFailedTrade(t *testing.T) {
	rules := newFakeRuleStore(sampleRule())
	fx := newFixture(rules, validCreds(), &fakeClient{}, nil)

	snap := sampleSnapshot()
	for i := range snap.Outcomes {
		snap.Outcomes[i].Price = 0
	}
	snap.BestBid = 0
	snap.BestAsk = 0

	fx.coord.Execute(context.Background(), sampleRule(), snap, 65)

	require.Len(t, fx.trades.created, 1, "an attempt with resolved credentials is always ledgered")
	trade := fx.trades.created[0]
	assert.Equal(t, domain.TradeStatusFailed, trade.Status)
	assert.Equal(t, "user-1", trade.UserID)
	assert.Equal(t, "rule-1", *trade.RuleID)
	assert.Zero(t, trade.Price)
	assert.NotEmpty(t, trade.ErrorMessage)
	assert.Empty(t, fx.client.requests, "no order reaches the platform")
	assert.Contains(t, fx.audit.events, "trade_failed")
	assert.Empty(t, fx.rules.triggerState, "trigger state never advances on failure")
}

func TestExecuteRecoversFromPanic(t *testing.T) {
	rules := newFakeRuleStore(sampleRule())
	trades := newFakeTradeStore()
	coord := New(rules, trades, validCreds(), &fakeFactory{panics: true}, newFakeBus(), &fakeAudit{}, nil, nil, Config{}, testLogger())

	assert.NotPanics(t, func() {
		coord.Execute(context.Background(), sampleRule(), sampleSnapshot(), 65)
	})
}
