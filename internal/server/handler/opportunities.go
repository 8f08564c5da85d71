package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// OpportunityHistory lists persisted opportunities.
type OpportunityHistory interface {
	RecentOpportunities(ctx context.Context, limit int) ([]domain.Opportunity, error)
}

// StreamReader reads the durable event stream.
type StreamReader interface {
	StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error)
}

// OpportunitiesHandler serves detected opportunities and unresolved
// compensation failures.
type OpportunitiesHandler struct {
	history    OpportunityHistory
	monitor    MonitorStats
	stream     StreamReader
	streamName string
	logger     *slog.Logger
}

// NewOpportunitiesHandler creates an OpportunitiesHandler. Without stored
// history it falls back to the monitor's latest opportunity per pair.
func NewOpportunitiesHandler(history OpportunityHistory, monitor MonitorStats, logger *slog.Logger) *OpportunitiesHandler {
	return &OpportunitiesHandler{history: history, monitor: monitor, logger: logger}
}

// WithCompensationStream enables GET /api/compensations from the named
// stream.
func (h *OpportunitiesHandler) WithCompensationStream(reader StreamReader, stream string) *OpportunitiesHandler {
	h.stream = reader
	h.streamName = stream
	return h
}

// ListRecent returns recent opportunities, newest first.
// GET /api/opportunities/recent?limit=20
func (h *OpportunitiesHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 20, 200)

	var opps []domain.Opportunity
	if h.history != nil {
		var err error
		opps, err = h.history.RecentOpportunities(r.Context(), limit)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "list opportunities failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to list opportunities")
			return
		}
	}
	if opps == nil && h.monitor != nil {
		for _, o := range h.monitor.Stats().Last {
			opps = append(opps, o)
		}
		sort.Slice(opps, func(i, j int) bool { return opps[i].DetectedAt.After(opps[j].DetectedAt) })
		if len(opps) > limit {
			opps = opps[:limit]
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"opportunities": orEmpty(opps)})
}

// ListCompensations returns compensation failures recorded on the durable
// stream, oldest first.
// GET /api/compensations?limit=100
func (h *OpportunitiesHandler) ListCompensations(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		writeError(w, http.StatusNotImplemented, "event stream not configured")
		return
	}
	msgs, err := h.stream.StreamRead(r.Context(), h.streamName, "0", parseLimit(r, 100, 1000))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "read compensation stream failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read compensation stream")
		return
	}

	events := make([]domain.Event, 0, len(msgs))
	for _, m := range msgs {
		var ev domain.Event
		if err := json.Unmarshal(m.Payload, &ev); err != nil {
			h.logger.WarnContext(r.Context(), "skipping malformed stream entry",
				slog.String("stream_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		events = append(events, ev)
	}
	writeJSON(w, http.StatusOK, map[string]any{"compensations": events})
}
