package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Priya8975/error-ingest/internal/auth"
	"github.com/Priya8975/error-ingest/internal/domain"
	"github.com/Priya8975/error-ingest/internal/symbolicate"
)

// Symbolicator maps minified stacks back to sources.
type Symbolicator interface {
	SymbolicateEvent(ctx context.Context, actor *domain.Actor, eventID string, opts symbolicate.Options) (*symbolicate.EventResult, error)
	SymbolicateIssue(ctx context.Context, actor *domain.Actor, issueID string, opts symbolicate.Options) (*symbolicate.IssueResult, error)
}

type SymbolicateHandler struct {
	engine Symbolicator
	logger *slog.Logger
}

func NewSymbolicateHandler(e Symbolicator, logger *slog.Logger) *SymbolicateHandler {
	return &SymbolicateHandler{engine: e, logger: logger}
}

type symbolicateRequest struct {
	Action    string `json:"action" validate:"required,oneof=event issue"`
	EventID   string `json:"event_id" validate:"required_if=Action event"`
	IssueID   string `json:"issue_id" validate:"required_if=Action issue"`
	CacheType string `json:"cache_type" validate:"omitempty,oneof=short long"`
	Force     bool   `json:"force"`
}

func (h *SymbolicateHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req symbolicateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateRequest(req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	actor := auth.ActorFrom(r.Context())
	opts := symbolicate.Options{CacheType: req.CacheType, Force: req.Force}

	var (
		result any
		err    error
	)
	if req.Action == "issue" {
		result, err = h.engine.SymbolicateIssue(r.Context(), actor, req.IssueID, opts)
	} else {
		result, err = h.engine.SymbolicateEvent(r.Context(), actor, req.EventID, opts)
	}

	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, result)
	case errors.Is(err, symbolicate.ErrEventNotFound):
		respondError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, symbolicate.ErrIssueNotFound):
		respondError(w, http.StatusNotFound, "issue not found")
	case errors.Is(err, symbolicate.ErrForbidden):
		respondError(w, http.StatusForbidden, "not authorized for this event")
	default:
		h.logger.Error("symbolication failed", "error", err, "action", req.Action)
		respondError(w, http.StatusInternalServerError, "failed to symbolicate")
	}
}
