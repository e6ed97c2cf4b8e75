package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/Priya8975/error-ingest/internal/auth"
	"github.com/Priya8975/error-ingest/internal/ingest"
)

// maxIngestBody bounds a batch body before it is parsed.
const maxIngestBody = 2 << 20

// Ingester accepts client event batches.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

type IngestHandler struct {
	ingester Ingester
	logger   *slog.Logger
}

func NewIngestHandler(i Ingester, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{ingester: i, logger: logger}
}

func (h *IngestHandler) Create(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "request body too large or unreadable")
		return
	}

	req := ingest.Request{
		Body:       body,
		Origin:     r.Header.Get("Origin"),
		TenantHint: r.Header.Get("X-Tenant-Hint"),
		ClientIP:   clientIP(r.RemoteAddr),
		UserAgent:  r.UserAgent(),
	}
	if actor := auth.ActorFrom(r.Context()); actor != nil {
		req.UserID = actor.UserID
	}

	result, err := h.ingester.Ingest(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrEmptyBatch),
			errors.Is(err, ingest.ErrBatchTooLarge),
			errors.Is(err, ingest.ErrMalformedBatch),
			errors.Is(err, ingest.ErrTenantUnresolved):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("ingest failed", "error", err)
			respondError(w, http.StatusInternalServerError, "failed to ingest events")
		}
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// clientIP strips the port chi's RealIP leaves in place when no proxy header
// was present.
func clientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
