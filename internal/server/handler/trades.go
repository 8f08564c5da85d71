package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// TradeLedger is the read side of the trade ledger.
type TradeLedger interface {
	Recent(ctx context.Context, limit int) ([]domain.Trade, error)
	Get(ctx context.Context, id string) (domain.Trade, error)
}

// TradesHandler serves in-flight and finished trades.
type TradesHandler struct {
	active ActiveTrades
	ledger TradeLedger
	logger *slog.Logger
}

// NewTradesHandler creates a TradesHandler. active is nil in monitor mode.
func NewTradesHandler(active ActiveTrades, ledger TradeLedger, logger *slog.Logger) *TradesHandler {
	return &TradesHandler{active: active, ledger: ledger, logger: logger}
}

// ListActive returns trades that have not reached a terminal phase.
// GET /api/trades/active
func (h *TradesHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	var trades []domain.Trade
	if h.active != nil {
		trades = h.active.Active()
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": orEmpty(trades)})
}

// ListRecent returns finished trades, newest first.
// GET /api/trades/recent?limit=50
func (h *TradesHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	trades, err := h.ledger.Recent(r.Context(), parseLimit(r, 50, 500))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list recent trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": orEmpty(trades)})
}

// GetTrade returns one trade, in flight or finished.
// GET /api/trades/{id}
func (h *TradesHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if h.active != nil {
		for _, t := range h.active.Active() {
			if t.ID == id {
				writeJSON(w, http.StatusOK, t)
				return
			}
		}
	}

	t, err := h.ledger.Get(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "trade not found")
	case err != nil:
		h.logger.ErrorContext(r.Context(), "get trade failed",
			slog.String("trade_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get trade")
	default:
		writeJSON(w, http.StatusOK, t)
	}
}
