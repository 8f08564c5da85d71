package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/arbcore/internal/arbitrage"
	"github.com/alanyoungcy/arbcore/internal/domain"
	"github.com/alanyoungcy/arbcore/internal/service"
)

// MonitorStats exposes detection counters.
type MonitorStats interface {
	Stats() arbitrage.MonitorStats
}

// EventCounters exposes dispatcher delivery counters.
type EventCounters interface {
	Delivered() int64
	Dropped() int64
	Pending() int
}

// VenueLister names the venues feeding the price table.
type VenueLister interface {
	Venues() []string
	Pairs() []string
}

// LedgerSummary exposes trade totals.
type LedgerSummary interface {
	Summary() service.Summary
	PnLSince(ctx context.Context, since time.Time) (float64, error)
}

// ActiveTrades lists trades still in flight.
type ActiveTrades interface {
	Active() []domain.Trade
}

// StatusDeps are the optional sources the status endpoint reads. Nil
// fields are left out of the response.
type StatusDeps struct {
	Monitor MonitorStats
	Events  EventCounters
	Venues  VenueLister
	Ledger  LedgerSummary
	Active  ActiveTrades
}

// StatusHandler reports the running mode and live counters.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	deps      StatusDeps
	logger    *slog.Logger
	now       func() time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, startedAt time.Time, deps StatusDeps, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, deps: deps, logger: logger, now: time.Now}
}

// GetStatus responds with mode, uptime and whatever counters are wired.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	resp := map[string]any{
		"mode":           h.mode,
		"started_at":     h.startedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(now.Sub(h.startedAt).Seconds()),
	}
	if v := h.deps.Venues; v != nil {
		resp["venues"] = v.Venues()
		resp["pairs"] = v.Pairs()
	}
	if m := h.deps.Monitor; m != nil {
		resp["detection"] = m.Stats()
	}
	if a := h.deps.Active; a != nil {
		resp["active_trades"] = len(a.Active())
	}
	if e := h.deps.Events; e != nil {
		resp["events"] = map[string]any{
			"delivered": e.Delivered(),
			"dropped":   e.Dropped(),
			"pending":   e.Pending(),
		}
	}
	if l := h.deps.Ledger; l != nil {
		sum := l.Summary()
		dayStart := now.Truncate(24 * time.Hour)
		pnl, err := l.PnLSince(r.Context(), dayStart)
		if err != nil {
			h.logger.WarnContext(r.Context(), "daily pnl lookup failed", slog.String("error", err.Error()))
		}
		resp["trades"] = map[string]any{
			"summary":   sum,
			"pnl_today": pnl,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
