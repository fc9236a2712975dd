// Package engine schedules rule evaluation: a fixed-interval scan over all
// active rules, plus event-driven scans of a single market's rules whenever
// its cache entry changes.
package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

// Executor consumes triggered rules. Implementations must never panic
// outward and must always record exactly one trade per invocation that
// reaches order placement.
type Executor interface {
	Execute(ctx context.Context, rule domain.Rule, snap domain.MarketSnapshot, triggeredValue float64)
}

// Config tunes the evaluation scheduler.
type Config struct {
	// ScanInterval is the fixed-tick period for the full scan.
	ScanInterval time.Duration
	// TriggerBuffer is the capacity of the trigger queue; overflow is
	// dropped with a warning rather than blocking evaluation.
	TriggerBuffer int
	// Epsilon is the tolerance for == and != comparisons.
	Epsilon float64
}

// trigger is one fired rule queued for execution.
type trigger struct {
	rule  domain.Rule
	snap  domain.MarketSnapshot
	value float64
}

// Engine evaluates active rules against live market data and hands fired
// rules to the executor.
type Engine struct {
	cache     domain.MarketCache
	markets   domain.MarketStore
	rules     domain.RuleStore
	positions domain.PositionStore
	executor  Executor
	logger    *slog.Logger

	scanInterval time.Duration
	epsilon      float64

	// scanEvents carries market ids whose cache entries changed.
	scanEvents chan string
	triggers   chan trigger
}

// New creates an engine and subscribes it to cache updates.
func New(cache domain.MarketCache, markets domain.MarketStore, rules domain.RuleStore, positions domain.PositionStore, executor Executor, cfg Config, logger *slog.Logger) *Engine {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 10 * time.Second
	}
	if cfg.TriggerBuffer <= 0 {
		cfg.TriggerBuffer = 256
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = 1e-6
	}

	e := &Engine{
		cache:        cache,
		markets:      markets,
		rules:        rules,
		positions:    positions,
		executor:     executor,
		logger:       logger.With("component", "engine"),
		scanInterval: cfg.ScanInterval,
		epsilon:      cfg.Epsilon,
		scanEvents:   make(chan string, cfg.TriggerBuffer),
		triggers:     make(chan trigger, cfg.TriggerBuffer),
	}

	cache.Subscribe(func(snap domain.MarketSnapshot) {
		select {
		case e.scanEvents <- snap.MarketID:
		default:
			e.logger.Warn("scan event queue full, dropping", "market_id", snap.MarketID)
		}
	})

	return e
}

// Run drives the tick scan, the event scan, and the trigger dispatcher
// until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting", "scan_interval", e.scanInterval)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.tickLoop(ctx) })
	g.Go(func() error { return e.eventLoop(ctx) })
	g.Go(func() error { return e.dispatchLoop(ctx) })
	return g.Wait()
}

// tickLoop runs the full scan on a fixed interval.
func (e *Engine) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.ScanAll(ctx)
		}
	}
}

// eventLoop scans the rules of a single market whenever its cache entry
// changes.
func (e *Engine) eventLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case marketID := <-e.scanEvents:
			e.ScanMarket(ctx, marketID)
		}
	}
}

// dispatchLoop hands queued triggers to the executor one at a time. The
// executor bounds its own execution time.
func (e *Engine) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-e.triggers:
			e.executor.Execute(ctx, t.rule, t.snap, t.value)
		}
	}
}

// ScanAll evaluates every active rule.
func (e *Engine) ScanAll(ctx context.Context) {
	rules, err := e.rules.ListActive(ctx, "")
	if err != nil {
		e.logger.Error("list active rules failed", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, rule := range rules {
		e.evaluate(ctx, rule, now)
	}
}

// ScanMarket evaluates the active rules targeting one market.
func (e *Engine) ScanMarket(ctx context.Context, marketID string) {
	rules, err := e.rules.ListActive(ctx, marketID)
	if err != nil {
		e.logger.Error("list rules for market failed", "market_id", marketID, "error", err)
		return
	}

	now := time.Now().UTC()
	for _, rule := range rules {
		e.evaluate(ctx, rule, now)
	}
}

// enqueue queues a fired rule for execution, dropping on overflow so a slow
// executor cannot stall evaluation.
func (e *Engine) enqueue(t trigger) {
	select {
	case e.triggers <- t:
		e.logger.Info("rule triggered",
			"rule_id", t.rule.ID,
			"market_id", t.rule.MarketID,
			"field", string(t.rule.Condition.Field),
			"operator", string(t.rule.Condition.Operator),
			"target", t.rule.Condition.Value,
			"current", t.value)
	default:
		e.logger.Warn("trigger queue full, dropping", "rule_id", t.rule.ID)
	}
}
