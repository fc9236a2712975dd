package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

// PositionService maintains per-user holdings. Positions feed the ROI
// condition field, so they advance with every executed trade.
type PositionService struct {
	positions domain.PositionStore
	logger    *slog.Logger
}

// NewPositionService creates a PositionService.
func NewPositionService(positions domain.PositionStore, logger *slog.Logger) *PositionService {
	return &PositionService{
		positions: positions,
		logger:    logger.With("component", "position_service"),
	}
}

// Get returns one position.
func (s *PositionService) Get(ctx context.Context, userID, marketID string) (domain.Position, error) {
	return s.positions.Get(ctx, userID, marketID)
}

// ListByUser returns all of a user's positions.
func (s *PositionService) ListByUser(ctx context.Context, userID string) ([]domain.Position, error) {
	return s.positions.ListByUser(ctx, userID)
}

// ApplyTrade folds an executed trade into the user's position. Buys add
// shares and cost basis; sells remove shares and reduce the cost basis
// proportionally, so the remaining basis still reflects the remaining
// shares.
func (s *PositionService) ApplyTrade(ctx context.Context, trade domain.Trade) error {
	if trade.Status != domain.TradeStatusExecuted {
		return fmt.Errorf("position_service: trade %s is %s, only executed trades move positions", trade.ID, trade.Status)
	}
	if trade.Price <= 0 {
		return fmt.Errorf("position_service: trade %s has no price", trade.ID)
	}
	shares := trade.Amount / trade.Price

	pos, err := s.positions.Get(ctx, trade.UserID, trade.MarketID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("position_service: load position: %w", err)
		}
		pos = domain.Position{
			UserID:   trade.UserID,
			MarketID: trade.MarketID,
			Outcome:  trade.Side,
		}
	}

	switch trade.Type {
	case domain.ActionBuy:
		pos.Shares += shares
		pos.CostBasis += trade.Amount

	case domain.ActionSell:
		if pos.Shares <= 0 {
			s.logger.Warn("sell against empty position, zeroing",
				"user_id", trade.UserID, "market_id", trade.MarketID)
			pos.Shares = 0
			pos.CostBasis = 0
			break
		}
		sold := shares
		if sold > pos.Shares {
			sold = pos.Shares
		}
		pos.CostBasis -= pos.CostBasis * (sold / pos.Shares)
		pos.Shares -= sold
		if pos.Shares == 0 {
			pos.CostBasis = 0
		}

	default:
		return fmt.Errorf("position_service: unknown trade type %q", trade.Type)
	}

	pos.UpdatedAt = time.Now().UTC()
	if err := s.positions.Upsert(ctx, pos); err != nil {
		return fmt.Errorf("position_service: save position: %w", err)
	}
	return nil
}
