package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists market snapshots. Catalog refresh performs full
// upserts; streaming feeds apply partial price updates.
type MarketStore interface {
	Upsert(ctx context.Context, snap MarketSnapshot) error
	UpsertBatch(ctx context.Context, snaps []MarketSnapshot) error
	GetByID(ctx context.Context, marketID string) (MarketSnapshot, error)
	GetByTokenID(ctx context.Context, tokenID string) (MarketSnapshot, error)
	ListActive(ctx context.Context, platform Platform, opts ListOpts) ([]MarketSnapshot, error)
	// UpdatePrices is the partial patch used by feed ingestion: outcome
	// prices, best bid/ask, spread, and last-updated only.
	UpdatePrices(ctx context.Context, marketID string, prices []float64, bestBid, bestAsk, spread float64) error
	Delete(ctx context.Context, marketID string) error
	// DeleteExpired removes snapshots whose end date is set and before now,
	// returning the ids of the removed markets so callers can evict them
	// from any caches.
	DeleteExpired(ctx context.Context, now time.Time) ([]string, error)
	Count(ctx context.Context) (int64, error)
}

// RuleStore persists trading rules. GetByID must return the authoritative
// row, never a cached copy: the execution coordinator depends on a fresh
// read to re-validate trigger state.
type RuleStore interface {
	Create(ctx context.Context, rule Rule) error
	GetByID(ctx context.Context, id string) (Rule, error)
	// ListActive returns active rules, restricted to one market when
	// marketID is non-empty.
	ListActive(ctx context.Context, marketID string) ([]Rule, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Rule, error)
	// UpdateTriggerState persists the trigger-state triple. No other writer
	// mutates these fields.
	UpdateTriggerState(ctx context.Context, id string, lastTriggeredAt time.Time, triggerCount int, isActive bool) error
	Deactivate(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// TradeStore persists the execution ledger. Trades are created pending and
// settled exactly once into a terminal status; Settle on an already-settled
// trade returns ErrTradeFinal.
type TradeStore interface {
	Create(ctx context.Context, trade Trade) error
	Settle(ctx context.Context, id string, status TradeStatus, platformOrderID, errorMessage string, executedAt time.Time) error
	GetByID(ctx context.Context, id string) (Trade, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Trade, error)
	// ListSettledBefore returns terminal trades created strictly before the
	// cutoff, for ledger archival.
	ListSettledBefore(ctx context.Context, before time.Time) ([]Trade, error)
}

// CredentialStore resolves per-user platform credentials. Get returns
// ErrCredentialsMissing when the user has not configured the platform.
type CredentialStore interface {
	Get(ctx context.Context, userID string, platform Platform) (Credential, error)
	Upsert(ctx context.Context, cred Credential) error
}

// PositionStore persists user positions, read by the ROI condition field.
type PositionStore interface {
	Get(ctx context.Context, userID, marketID string) (Position, error)
	Upsert(ctx context.Context, pos Position) error
	ListByUser(ctx context.Context, userID string) ([]Position, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	// ListBefore returns entries created strictly before the cutoff, for
	// archival.
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
}
