package api

import (
	"context"
	"net/http"
	"time"

	"github.com/Priya8975/error-ingest/internal/auth"
	"github.com/Priya8975/error-ingest/internal/domain"
	"github.com/Priya8975/error-ingest/internal/store"
	"github.com/go-chi/chi/v5"
)

// ReadStore backs the operator read surfaces. Every lookup is scoped to the
// operator's tenant.
type ReadStore interface {
	GetEvent(ctx context.Context, tenantID, id string) (*domain.Event, error)
	GetIssue(ctx context.Context, tenantID, id string) (*domain.Issue, error)
	ListIssues(ctx context.Context, tenantID, level string, limit int) ([]domain.Issue, error)
	ListIssueEvents(ctx context.Context, issueID string, limit int) ([]domain.Event, error)
	ListErrorCatalog(ctx context.Context, tenantID string, limit int) ([]domain.ErrorCatalogEntry, error)
	GetIngestStats(ctx context.Context, tenantID string, now time.Time) (*store.IngestStats, error)
}

type EventHandler struct {
	store ReadStore
}

func NewEventHandler(s ReadStore) *EventHandler {
	return &EventHandler{store: s}
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := auth.ActorFrom(r.Context())

	event, err := h.store.GetEvent(r.Context(), actor.TenantID, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get event")
		return
	}
	if event == nil {
		respondError(w, http.StatusNotFound, "event not found")
		return
	}
	if !actor.CanAccessUser(event.UserRef) {
		respondError(w, http.StatusForbidden, "not authorized for this event")
		return
	}

	respondJSON(w, http.StatusOK, event)
}
