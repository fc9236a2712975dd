package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	Get(ctx context.Context, marketID string) (domain.MarketSnapshot, error)
	ListActive(ctx context.Context, platform domain.Platform, opts domain.ListOpts) ([]domain.MarketSnapshot, error)
	Count(ctx context.Context) (int64, error)
}

// Refresher triggers one on-demand catalog reconciliation.
type Refresher interface {
	Reconcile(ctx context.Context)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets   MarketService
	refresher Refresher // optional; nil when the server runs without a reconciler
	logger    *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, refresher Refresher, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets:   markets,
		refresher: refresher,
		logger:    logger,
	}
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []domain.MarketSnapshot `json:"markets"`
	Total   int64                   `json:"total"`
	Limit   int                     `json:"limit"`
	Offset  int                     `json:"offset"`
}

// ListMarkets returns active markets with pagination, optionally restricted
// to one platform.
// GET /api/markets?platform=polymarket&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	platform := domain.Platform(r.URL.Query().Get("platform"))
	if platform != "" && !platform.Valid() {
		writeError(w, http.StatusBadRequest, "unknown platform")
		return
	}

	markets, err := h.markets.ListActive(r.Context(), platform, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}
	if markets == nil {
		markets = []domain.MarketSnapshot{}
	}

	total, err := h.markets.Count(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: count markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count markets")
		return
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market snapshot by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	market, err := h.markets.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get market failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get market")
		return
	}

	writeJSON(w, http.StatusOK, market)
}

// RefreshMarkets enqueues one catalog reconciliation run. The run happens in
// the background; the request ctx is not used because it dies with the
// response.
// POST /api/markets/refresh
func (h *MarketHandler) RefreshMarkets(w http.ResponseWriter, r *http.Request) {
	if h.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog refresh not available in this mode")
		return
	}

	h.logger.InfoContext(r.Context(), "handler: catalog refresh requested")
	go h.refresher.Reconcile(context.Background())

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
