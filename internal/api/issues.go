package api

import (
	"net/http"

	"github.com/Priya8975/error-ingest/internal/auth"
	"github.com/Priya8975/error-ingest/internal/domain"
	"github.com/go-chi/chi/v5"
)

type IssueHandler struct {
	store ReadStore
}

func NewIssueHandler(s ReadStore) *IssueHandler {
	return &IssueHandler{store: s}
}

func (h *IssueHandler) List(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())
	level := r.URL.Query().Get("level")

	issues, err := h.store.ListIssues(r.Context(), actor.TenantID, level, queryLimit(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list issues")
		return
	}

	respondJSON(w, http.StatusOK, issues)
}

func (h *IssueHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := auth.ActorFrom(r.Context())

	issue, err := h.store.GetIssue(r.Context(), actor.TenantID, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get issue")
		return
	}
	if issue == nil {
		respondError(w, http.StatusNotFound, "issue not found")
		return
	}

	respondJSON(w, http.StatusOK, issue)
}

// Events lists the issue's newest events the operator may see.
func (h *IssueHandler) Events(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := auth.ActorFrom(r.Context())

	issue, err := h.store.GetIssue(r.Context(), actor.TenantID, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get issue")
		return
	}
	if issue == nil {
		respondError(w, http.StatusNotFound, "issue not found")
		return
	}

	events, err := h.store.ListIssueEvents(r.Context(), issue.ID, queryLimit(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list issue events")
		return
	}

	visible := make([]domain.Event, 0, len(events))
	for _, e := range events {
		if actor.CanAccessUser(e.UserRef) {
			visible = append(visible, e)
		}
	}

	respondJSON(w, http.StatusOK, visible)
}

func (h *IssueHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())

	entries, err := h.store.ListErrorCatalog(r.Context(), actor.TenantID, queryLimit(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list error catalog")
		return
	}

	respondJSON(w, http.StatusOK, entries)
}
