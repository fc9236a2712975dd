package service

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

type fakePositionStore struct {
	positions map[string]domain.Position
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{positions: make(map[string]domain.Position)}
}

func (f *fakePositionStore) Get(_ context.Context, userID, marketID string) (domain.Position, error) {
	pos, ok := f.positions[userID+"/"+marketID]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (f *fakePositionStore) Upsert(_ context.Context, pos domain.Position) error {
	f.positions[pos.UserID+"/"+pos.MarketID] = pos
	return nil
}

func (f *fakePositionStore) ListByUser(context.Context, string) ([]domain.Position, error) {
	return nil, nil
}

func executedTrade(typ domain.ActionType, amount, price float64) domain.Trade {
	return domain.Trade{
		ID:       "trade-1",
		UserID:   "user-1",
		MarketID: "mkt-1",
		Type:     typ,
		Side:     "Yes",
		Amount:   amount,
		Price:    price,
		Status:   domain.TradeStatusExecuted,
	}
}

func TestApplyTradeBuyOpensPosition(t *testing.T) {
	store := newFakePositionStore()
	s := NewPositionService(store, slog.New(slog.DiscardHandler))

	require.NoError(t, s.ApplyTrade(context.Background(), executedTrade(domain.ActionBuy, 100, 0.5)))

	pos, err := s.Get(context.Background(), "user-1", "mkt-1")
	require.NoError(t, err)
	assert.InDelta(t, 200, pos.Shares, 1e-9)
	assert.InDelta(t, 100, pos.CostBasis, 1e-9)
}

func TestApplyTradeBuyAccumulates(t *testing.T) {
	store := newFakePositionStore()
	s := NewPositionService(store, slog.New(slog.DiscardHandler))

	require.NoError(t, s.ApplyTrade(context.Background(), executedTrade(domain.ActionBuy, 100, 0.5)))
	require.NoError(t, s.ApplyTrade(context.Background(), executedTrade(domain.ActionBuy, 60, 0.6)))

	pos, _ := s.Get(context.Background(), "user-1", "mkt-1")
	assert.InDelta(t, 300, pos.Shares, 1e-9)
	assert.InDelta(t, 160, pos.CostBasis, 1e-9)
}

func TestApplyTradeSellReducesBasisProportionally(t *testing.T) {
	store := newFakePositionStore()
	s := NewPositionService(store, slog.New(slog.DiscardHandler))

	require.NoError(t, s.ApplyTrade(context.Background(), executedTrade(domain.ActionBuy, 100, 0.5)))
	// Sell half the shares: 100 shares at 0.8.
	require.NoError(t, s.ApplyTrade(context.Background(), executedTrade(domain.ActionSell, 80, 0.8)))

	pos, _ := s.Get(context.Background(), "user-1", "mkt-1")
	assert.InDelta(t, 100, pos.Shares, 1e-9)
	assert.InDelta(t, 50, pos.CostBasis, 1e-9, "half the basis leaves with half the shares")
}

func TestApplyTradeSellClampsToHeldShares(t *testing.T) {
	store := newFakePositionStore()
	s := NewPositionService(store, slog.New(slog.DiscardHandler))

	require.NoError(t, s.ApplyTrade(context.Background(), executedTrade(domain.ActionBuy, 50, 0.5)))
	require.NoError(t, s.ApplyTrade(context.Background(), executedTrade(domain.ActionSell, 500, 0.5)))

	pos, _ := s.Get(context.Background(), "user-1", "mkt-1")
	assert.Zero(t, pos.Shares)
	assert.Zero(t, pos.CostBasis)
}

func TestApplyTradeRejectsNonExecuted(t *testing.T) {
	s := NewPositionService(newFakePositionStore(), slog.New(slog.DiscardHandler))

	trade := executedTrade(domain.ActionBuy, 100, 0.5)
	trade.Status = domain.TradeStatusPending
	assert.Error(t, s.ApplyTrade(context.Background(), trade))
}
