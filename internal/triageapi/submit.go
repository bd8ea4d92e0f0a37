package triageapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/medtriage/internal/triage"
)

type batchRequest struct {
	Queries []triage.Query `json:"queries"`
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var q triage.Query
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&q); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	rec, err := a.svc.Submit(r.Context(), q)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("medtriage.record.id", rec.ID),
		attribute.Bool("medtriage.urgent", rec.Result.Urgent),
	)
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	switch n := len(req.Queries); {
	case n == 0:
		writeError(w, http.StatusBadRequest, "queries must not be empty")
		return
	case n > a.maxBatch:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d queries per batch", a.maxBatch))
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.Int("medtriage.batch.size", len(req.Queries)))

	items := a.svc.SubmitBatch(r.Context(), req.Queries)
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusBadRequest:
		writeError(w, status, err.Error())
	case http.StatusServiceUnavailable:
		a.logger.Warn(r.Context(), "triage unavailable", "error", err)
		writeError(w, status, "triage model unavailable")
	default:
		a.logger.Error(r.Context(), err, "triage failed")
		writeError(w, status, "internal error")
	}
}
