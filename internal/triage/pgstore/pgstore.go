// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/medtriage/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/medtriage/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists triage records in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns
// the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const recordColumns = `id, symptoms, result, cached, created_at, duration_s`

// Get retrieves a triage record by ID.
func (s *Store) Get(ctx context.Context, id string) (*triage.Record, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	r, err := scanRecord(s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM triage_records WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		fail(span, err)
		return nil, false, err
	}
	return r, true, nil
}

// Put inserts or replaces a triage record.
func (s *Store) Put(ctx context.Context, r *triage.Record) error {
	ctx, span := startSpan(ctx, "pgstore.Put", "UPSERT")
	defer span.End()

	resultJSON, err := json.Marshal(r.Result)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("marshal result: %w", err)
	}

	query := `INSERT INTO triage_records (
		id, symptoms, specialty, model_label, severity, urgent, confidence,
		confidence_source, answer_status, result, cached, created_at, duration_s
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	ON CONFLICT (id) DO UPDATE SET
		symptoms          = EXCLUDED.symptoms,
		specialty         = EXCLUDED.specialty,
		model_label       = EXCLUDED.model_label,
		severity          = EXCLUDED.severity,
		urgent            = EXCLUDED.urgent,
		confidence        = EXCLUDED.confidence,
		confidence_source = EXCLUDED.confidence_source,
		answer_status     = EXCLUDED.answer_status,
		result            = EXCLUDED.result,
		cached            = EXCLUDED.cached,
		duration_s        = EXCLUDED.duration_s`

	_, err = s.pool.Exec(ctx, query,
		r.ID, r.Symptoms, r.Result.Specialty, r.Result.ModelLabel, string(r.Result.SeverityLevel),
		r.Result.Urgent, r.Result.Confidence, string(r.Result.ConfidenceSource),
		string(r.Result.AnswerStatus), resultJSON, r.Cached, r.CreatedAt, r.Duration,
	)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// ListRecent returns up to limit records, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*triage.Record, error) {
	ctx, span := startSpan(ctx, "pgstore.ListRecent", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM triage_records ORDER BY created_at DESC, id DESC LIMIT $1`,
		max(limit, 0),
	)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []*triage.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			fail(span, err)
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		fail(span, err)
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// scanRecord scans one row of recordColumns. pgx.ErrNoRows is returned unwrapped.
func scanRecord(row pgx.Row) (*triage.Record, error) {
	var (
		r          triage.Record
		resultJSON []byte
	)
	if err := row.Scan(&r.ID, &r.Symptoms, &resultJSON, &r.Cached, &r.CreatedAt, &r.Duration); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan: %w", err)
	}
	if err := json.Unmarshal(resultJSON, &r.Result); err != nil {
		return nil, fmt.Errorf("unmarshal result %s: %w", r.ID, err)
	}
	return &r, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
