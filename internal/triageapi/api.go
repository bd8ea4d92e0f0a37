// Package triageapi exposes the triage service over HTTP.
package triageapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/medtriage/internal/artifact"
	"github.com/linnemanlabs/medtriage/internal/triage"
)

const (
	// DefaultListLimit is used when GET /triage has no limit parameter.
	DefaultListLimit = 20
	// MaxListLimit caps the limit parameter.
	MaxListLimit = 100
	// DefaultMaxBatch caps the number of queries in one batch request.
	DefaultMaxBatch = 50

	maxBodyBytes = 1 << 20
)

// TriageService defines the business operations triageapi needs.
type TriageService interface {
	Submit(ctx context.Context, q triage.Query) (*triage.Record, error)
	SubmitBatch(ctx context.Context, queries []triage.Query) []triage.BatchItem
	Get(ctx context.Context, id string) (*triage.Record, bool, error)
	ListRecent(ctx context.Context, limit int) ([]*triage.Record, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	svc      TriageService
	maxBatch int
}

// Option configures an API.
type Option func(*API)

// WithMaxBatch sets the largest accepted batch. n < 1 keeps the default.
func WithMaxBatch(n int) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBatch = n
		}
	}
}

// New creates a new API handler.
func New(logger log.Logger, svc TriageService, opts ...Option) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	a := &API{
		logger:   logger,
		svc:      svc,
		maxBatch: DefaultMaxBatch,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/triage", a.handleSubmit)
		r.Post("/triage/batch", a.handleSubmitBatch)
		r.Get("/triage", a.handleList)
		r.Get("/triage/{id}", a.handleGet)
		r.Get("/triage/{id}/reply", a.handleReply)
	})
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleReply(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = w.Write([]byte(triage.FormatReply(&rec.Result)))
}

// lookup loads the record named by the id URL parameter, writing the error
// response itself when it returns false.
func (a *API) lookup(w http.ResponseWriter, r *http.Request) (*triage.Record, bool) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("medtriage.record.id", id))

	rec, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get triage record", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return nil, false
	}

	span.SetAttributes(attribute.String("medtriage.severity", string(rec.Result.SeverityLevel)))
	return rec, true
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	limit := DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, MaxListLimit)
	}

	recs, err := a.svc.ListRecent(r.Context(), limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list triage records")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if recs == nil {
		recs = []*triage.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, triage.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, artifact.ErrArtifactMissing):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
