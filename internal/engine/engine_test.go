package engine

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradetrigger/internal/cache/memory"
	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeRuleStore struct {
	mu          sync.Mutex
	rules       map[string]domain.Rule
	deactivated []string
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

func (f *fakeRuleStore) ListActive(_ context.Context, marketID string) ([]domain.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Rule
	for _, r := range f.rules {
		if r.IsActive && (marketID == "" || r.MarketID == marketID) {
			out = append(out, r)
		}
	}
	return out, nil
}

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

func (f *fakeRuleStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rules, id)
	return nil
}

type fakePositionStore struct {
	positions map[string]domain.Position // keyed userID + "/" + marketID
}

func (f *fakePositionStore) Get(_ context.Context, userID, marketID string) (domain.Position, error) {
	pos, ok := f.positions[userID+"/"+marketID]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (f *fakePositionStore) Upsert(context.Context, domain.Position) error { return nil }
func (f *fakePositionStore) ListByUser(context.Context, string) ([]domain.Position, error) {
	return nil, nil
}

type fakeMarketStore struct {
	byID map[string]domain.MarketSnapshot
}

func (f *fakeMarketStore) Upsert(context.Context, domain.MarketSnapshot) error        { return nil }
func (f *fakeMarketStore) UpsertBatch(context.Context, []domain.MarketSnapshot) error { return nil }
func (f *fakeMarketStore) GetByID(_ context.Context, id string) (domain.MarketSnapshot, error) {
	snap, ok := f.byID[id]
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}
func (f *fakeMarketStore) GetByTokenID(context.Context, string) (domain.MarketSnapshot, error) {
	return domain.MarketSnapshot{}, domain.ErrNotFound
}
func (f *fakeMarketStore) ListActive(context.Context, domain.Platform, domain.ListOpts) ([]domain.MarketSnapshot, error) {
	return nil, nil
}
func (f *fakeMarketStore) UpdatePrices(context.Context, string, []float64, float64, float64, float64) error {
	return nil
}
func (f *fakeMarketStore) Delete(context.Context, string) error { return nil }
func (f *fakeMarketStore) DeleteExpired(context.Context, time.Time) ([]string, error) {
	return nil, nil
}
func (f *fakeMarketStore) Count(context.Context) (int64, error) { return 0, nil }

type fakeExecutor struct {
	mu    sync.Mutex
	calls []trigger
}

func (f *fakeExecutor) Execute(_ context.Context, rule domain.Rule, snap domain.MarketSnapshot, value float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, trigger{rule: rule, snap: snap, value: value})
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func snapshot() domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Platform: domain.PlatformPolymarket,
		MarketID: "mkt-1",
		Outcomes: []domain.Outcome{
			{Label: "Yes", Price: 0.65, TokenID: "tok-yes"},
			{Label: "No", Price: 0.35, TokenID: "tok-no"},
		},
		Active: true,
	}
}

func activeRule() domain.Rule {
	return domain.Rule{
		ID:       "rule-1",
		UserID:   "user-1",
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

func newTestEngine(rules *fakeRuleStore, positions *fakePositionStore, markets *fakeMarketStore) (*Engine, *memory.MarketCache) {
	cache := memory.New(testLogger())
	if positions == nil {
		positions = &fakePositionStore{}
	}
	if markets == nil {
		markets = &fakeMarketStore{}
	}
	e := New(cache, markets, rules, positions, &fakeExecutor{}, Config{}, testLogger())
	return e, cache
}

// ---------------------------------------------------------------------------
// compare
// ---------------------------------------------------------------------------

func TestCompareOperators(t *testing.T) {
	eps := 1e-6
	tests := []struct {
		name    string
		op      domain.Operator
		current float64
		target  float64
		want    bool
	}{
		{"lt true", domain.OpLT, 1, 2, true},
		{"lt false", domain.OpLT, 2, 1, false},
		{"gt true", domain.OpGT, 2, 1, true},
		{"gt false", domain.OpGT, 1, 2, false},
		{"lte equal", domain.OpLTE, 2, 2, true},
		{"gte equal", domain.OpGTE, 2, 2, true},
		{"eq exact", domain.OpEQ, 0.5, 0.5, true},
		{"eq within epsilon", domain.OpEQ, 0.5, 0.5 + 5e-7, true},
		{"eq outside epsilon", domain.OpEQ, 0.5, 0.5001, false},
		{"neq within epsilon", domain.OpNEQ, 0.5, 0.5 + 5e-7, false},
		{"neq outside epsilon", domain.OpNEQ, 0.5, 0.6, true},
		{"nan current", domain.OpGT, math.NaN(), 0, false},
		{"nan target", domain.OpLT, 0, math.NaN(), false},
		{"inf current", domain.OpGT, math.Inf(1), 0, false},
		{"neg inf eq", domain.OpEQ, math.Inf(-1), math.Inf(-1), false},
		{"unknown op", domain.Operator("~="), 1, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, compare(tt.op, tt.current, tt.target, eps))
		})
	}
}

// ---------------------------------------------------------------------------
// evaluate
// ---------------------------------------------------------------------------

func TestEvaluateTriggersWhenConditionHolds(t *testing.T) {
	rules := newFakeRuleStore(activeRule())
	e, cache := newTestEngine(rules, nil, nil)
	cache.Upsert(snapshot())

	e.evaluate(context.Background(), activeRule(), time.Now())

	require.Len(t, e.triggers, 1)
	got := <-e.triggers
	assert.Equal(t, "rule-1", got.rule.ID)
	assert.InDelta(t, 65, got.value, 1e-9, "probability is the outcome price x100")
}

func TestEvaluateSkipsInactiveRule(t *testing.T) {
	rules := newFakeRuleStore()
	e, cache := newTestEngine(rules, nil, nil)
	cache.Upsert(snapshot())

	rule := activeRule()
	rule.IsActive = false
	e.evaluate(context.Background(), rule, time.Now())
	assert.Empty(t, e.triggers)
}

func TestEvaluateDeactivatesExhaustedRule(t *testing.T) {
	rule := activeRule()
	three := 3
	rule.MaxTriggers = &three
	rule.TriggerCount = 3

	rules := newFakeRuleStore(rule)
	e, cache := newTestEngine(rules, nil, nil)
	cache.Upsert(snapshot())

	e.evaluate(context.Background(), rule, time.Now())

	assert.Empty(t, e.triggers)
	assert.Equal(t, []string{"rule-1"}, rules.deactivated)
}

func TestEvaluateRespectsCooldown(t *testing.T) {
	rule := activeRule()
	rule.Condition.CooldownMinutes = 30
	last := time.Now().Add(-10 * time.Minute)
	rule.LastTriggeredAt = &last

	rules := newFakeRuleStore(rule)
	e, cache := newTestEngine(rules, nil, nil)
	cache.Upsert(snapshot())

	e.evaluate(context.Background(), rule, time.Now())
	assert.Empty(t, e.triggers, "inside cooldown window")

	expired := time.Now().Add(-31 * time.Minute)
	rule.LastTriggeredAt = &expired
	e.evaluate(context.Background(), rule, time.Now())
	assert.Len(t, e.triggers, 1, "cooldown elapsed")
}

func TestEvaluateFallsBackToStoreOnCacheMiss(t *testing.T) {
	rules := newFakeRuleStore(activeRule())
	markets := &fakeMarketStore{byID: map[string]domain.MarketSnapshot{"mkt-1": snapshot()}}
	e, cache := newTestEngine(rules, nil, markets)

	e.evaluate(context.Background(), activeRule(), time.Now())

	assert.Len(t, e.triggers, 1)
	_, ok := cache.Get("mkt-1")
	assert.True(t, ok, "store hit warms the cache")
}

func TestEvaluateStopsWhenMarketUnknown(t *testing.T) {
	rules := newFakeRuleStore(activeRule())
	e, _ := newTestEngine(rules, nil, nil)

	e.evaluate(context.Background(), activeRule(), time.Now())
	assert.Empty(t, e.triggers)
}

func TestResolveValueOutcomeMatching(t *testing.T) {
	e, cache := newTestEngine(newFakeRuleStore(), nil, nil)
	cache.Upsert(snapshot())
	snap, _ := cache.Get("mkt-1")

	rule := activeRule()
	rule.Condition.Field = domain.FieldPrice

	rule.Condition.Outcome = "no"
	v, ok := e.resolveValue(context.Background(), rule, snap)
	require.True(t, ok)
	assert.InDelta(t, 0.35, v, 1e-9, "label match is case-insensitive")

	rule.Condition.Outcome = "Maybe"
	v, ok = e.resolveValue(context.Background(), rule, snap)
	require.True(t, ok)
	assert.InDelta(t, 0.65, v, 1e-9, "unmatched label falls back to index 0")
}

func TestResolveValueROI(t *testing.T) {
	positions := &fakePositionStore{positions: map[string]domain.Position{
		"user-1/mkt-1": {UserID: "user-1", MarketID: "mkt-1", Shares: 200, CostBasis: 100},
	}}
	e, cache := newTestEngine(newFakeRuleStore(), positions, nil)
	cache.Upsert(snapshot())
	snap, _ := cache.Get("mkt-1")

	rule := activeRule()
	rule.Condition.Field = domain.FieldROI
	rule.Condition.Outcome = "Yes"

	v, ok := e.resolveValue(context.Background(), rule, snap)
	require.True(t, ok)
	// 200 shares x 0.65 = 130 value on 100 cost basis.
	assert.InDelta(t, 30, v, 1e-9)
}

func TestResolveValueROIWithoutPosition(t *testing.T) {
	e, cache := newTestEngine(newFakeRuleStore(), nil, nil)
	cache.Upsert(snapshot())
	snap, _ := cache.Get("mkt-1")

	rule := activeRule()
	rule.Condition.Field = domain.FieldROI

	_, ok := e.resolveValue(context.Background(), rule, snap)
	assert.False(t, ok, "missing position yields no value")
}

func TestResolveValueUnknownField(t *testing.T) {
	e, cache := newTestEngine(newFakeRuleStore(), nil, nil)
	cache.Upsert(snapshot())
	snap, _ := cache.Get("mkt-1")

	rule := activeRule()
	rule.Condition.Field = domain.ConditionField("volume")

	_, ok := e.resolveValue(context.Background(), rule, snap)
	assert.False(t, ok)
}

// ---------------------------------------------------------------------------
// Scheduling
// ---------------------------------------------------------------------------

func TestCacheUpdateDrivesMarketScan(t *testing.T) {
	rules := newFakeRuleStore(activeRule())
	cache := memory.New(testLogger())
	exec := &fakeExecutor{}
	e := New(cache, &fakeMarketStore{}, rules, &fakePositionStore{}, exec, Config{ScanInterval: time.Hour}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	// The upsert notifies the engine, which scans mkt-1's rules and fires.
	cache.Upsert(snapshot())

	require.Eventually(t, func() bool {
		return exec.count() >= 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestTriggerQueueOverflowDrops(t *testing.T) {
	rules := newFakeRuleStore(activeRule())
	cache := memory.New(testLogger())
	e := New(cache, &fakeMarketStore{}, rules, &fakePositionStore{}, &fakeExecutor{}, Config{TriggerBuffer: 1}, testLogger())
	cache.Upsert(snapshot())

	// Without a running dispatcher the queue holds one trigger; the second
	// is dropped instead of blocking.
	e.evaluate(context.Background(), activeRule(), time.Now())
	e.evaluate(context.Background(), activeRule(), time.Now())

	assert.Len(t, e.triggers, 1)
}
