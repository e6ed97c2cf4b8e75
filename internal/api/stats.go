package api

import (
	"net/http"
	"time"

	"github.com/Priya8975/error-ingest/internal/auth"
)

type StatsHandler struct {
	store ReadStore
	now   func() time.Time
}

func NewStatsHandler(s ReadStore) *StatsHandler {
	return &StatsHandler{store: s, now: time.Now}
}

// Stats returns aggregated ingestion counters for the operator's tenant.
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())

	stats, err := h.store.GetIngestStats(r.Context(), actor.TenantID, h.now())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	respondJSON(w, http.StatusOK, stats)
}
