package handler

import (
	"net/http"
	"slices"

	"github.com/alanyoungcy/arbcore/internal/aggregator"
)

// PriceSource is the aggregator's read side.
type PriceSource interface {
	Pairs() []string
	Entries(pair string) []aggregator.QuoteEntry
}

// PricesHandler serves the shared price table.
type PricesHandler struct {
	source PriceSource
}

// NewPricesHandler creates a PricesHandler.
func NewPricesHandler(source PriceSource) *PricesHandler {
	return &PricesHandler{source: source}
}

// ListAll returns every configured pair with its venue quotes.
// GET /api/prices
func (h *PricesHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	out := make(map[string][]aggregator.QuoteEntry)
	for _, p := range h.source.Pairs() {
		out[p] = orEmpty(h.source.Entries(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": out})
}

// GetPair returns the quotes for one pair, stale entries flagged.
// GET /api/prices/{pair...}
func (h *PricesHandler) GetPair(w http.ResponseWriter, r *http.Request) {
	pair := pairParam(r)
	if !slices.Contains(h.source.Pairs(), pair) {
		writeError(w, http.StatusNotFound, "unknown pair")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pair":   pair,
		"quotes": orEmpty(h.source.Entries(pair)),
	})
}
