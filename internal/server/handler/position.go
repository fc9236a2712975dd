package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

// PositionService defines what the position handler needs from the service
// layer.
type PositionService interface {
	ListByUser(ctx context.Context, userID string) ([]domain.Position, error)
}

// PositionHandler serves position endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and
// logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

// listPositionsResponse wraps the list endpoint output.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns a user's open positions.
// GET /api/positions?userId=u1
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId query parameter required")
		return
	}

	positions, err := h.positions.ListByUser(r.Context(), userID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}
