// Package sqlitestore provides a single-file SQLite implementation of
// triage.Store for deployments without PostgreSQL.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	_ "modernc.org/sqlite"

	"github.com/linnemanlabs/medtriage/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/medtriage/internal/triage/sqlitestore")

//go:embed schema.sql
var schema string

// Store persists triage records in SQLite. created_at is stored as Unix
// nanoseconds.
type Store struct {
	db *sql.DB
}

// Open opens the database at path, creating it and its schema as needed.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; avoids SQLITE_BUSY under concurrent Put
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

const recordColumns = `id, symptoms, result, cached, created_at, duration_s`

// Get retrieves a triage record by ID.
func (s *Store) Get(ctx context.Context, id string) (*triage.Record, bool, error) {
	ctx, span := startSpan(ctx, "sqlitestore.Get", "SELECT")
	defer span.End()

	r, err := scanRecord(s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM triage_records WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		fail(span, err)
		return nil, false, err
	}
	return r, true, nil
}

// Put inserts or replaces a triage record.
func (s *Store) Put(ctx context.Context, r *triage.Record) error {
	ctx, span := startSpan(ctx, "sqlitestore.Put", "UPSERT")
	defer span.End()

	resultJSON, err := json.Marshal(r.Result)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("marshal result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO triage_records (
		id, symptoms, severity, urgent, answer_status, result, cached, created_at, duration_s
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		symptoms      = excluded.symptoms,
		severity      = excluded.severity,
		urgent        = excluded.urgent,
		answer_status = excluded.answer_status,
		result        = excluded.result,
		cached        = excluded.cached,
		duration_s    = excluded.duration_s`,
		r.ID, r.Symptoms, string(r.Result.SeverityLevel), r.Result.Urgent,
		string(r.Result.AnswerStatus), string(resultJSON), r.Cached,
		r.CreatedAt.UnixNano(), r.Duration,
	)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// ListRecent returns up to limit records, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*triage.Record, error) {
	ctx, span := startSpan(ctx, "sqlitestore.ListRecent", "SELECT")
	defer span.End()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM triage_records ORDER BY created_at DESC, id DESC LIMIT ?`,
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

type scanner interface {
	Scan(dest ...any) error
}

// scanRecord scans one row of recordColumns. sql.ErrNoRows is returned unwrapped.
func scanRecord(row scanner) (*triage.Record, error) {
	var (
		r          triage.Record
		resultJSON string
		createdAt  int64
	)
	if err := row.Scan(&r.ID, &r.Symptoms, &resultJSON, &r.Cached, &createdAt, &r.Duration); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan: %w", err)
	}
	if err := json.Unmarshal([]byte(resultJSON), &r.Result); err != nil {
		return nil, fmt.Errorf("unmarshal result %s: %w", r.ID, err)
	}
	r.CreatedAt = time.Unix(0, createdAt).UTC()
	return &r, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
