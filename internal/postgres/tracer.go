package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

// SlowQueryThreshold is the duration above which a successful query is logged.
const SlowQueryThreshold = 100 * time.Millisecond

var queryObserver atomic.Pointer[observerHolder]

type observerHolder struct{ QueryObserver }

type methodKey struct{}

type queryKey struct{}

// QueryObserver receives one call per finished query, labelled by the HTTP
// method and chi route that caused it.
type QueryObserver interface {
	ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, method, route, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration) {
	f(ctx, method, route, outcome, dur)
}

// SetQueryObserver installs the process-wide observer; nil removes it.
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&observerHolder{o})
}

func currentObserver() QueryObserver {
	if h := queryObserver.Load(); h != nil {
		return h.QueryObserver
	}
	return nil
}

// WithHTTPMethod records the request method for query metric labels.
func WithHTTPMethod(ctx context.Context, method string) context.Context {
	if method == "" {
		return ctx
	}
	return context.WithValue(ctx, methodKey{}, method)
}

func labels(ctx context.Context) (method, route string) {
	method, _ = ctx.Value(methodKey{}).(string)
	if method == "" {
		method = "UNKNOWN"
	}
	if rc := chi.RouteContext(ctx); rc != nil {
		route = rc.RoutePattern()
	}
	if route == "" {
		route = "unknown"
	}
	return method, route
}

// queryInfo is carried from TraceQueryStart to TraceQueryEnd.
type queryInfo struct {
	sql     string
	nargs   int
	start   time.Time
	caller  string
	handler string
}

// queryTracer decorates an inner pgx.QueryTracer (otelpgx) with caller
// attribution, metrics and error/slow-query logs. Query arguments are never
// logged because they carry symptom text.
type queryTracer struct {
	inner pgx.QueryTracer
	slow  time.Duration
}

func newQueryTracer(inner pgx.QueryTracer) *queryTracer {
	return &queryTracer{inner: inner, slow: SlowQueryThreshold}
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	q := &queryInfo{sql: data.SQL, nargs: len(data.Args), start: time.Now()}
	q.caller, q.handler = queryFrames()

	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		if q.caller != "" {
			span.SetAttributes(attribute.String("db.caller", q.caller))
		}
		if q.handler != "" {
			span.SetAttributes(attribute.String("db.handler", q.handler))
		}
	}
	return context.WithValue(ctx, queryKey{}, q)
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	q, ok := ctx.Value(queryKey{}).(*queryInfo)
	if !ok {
		return
	}
	dur := time.Since(q.start)

	if obs := currentObserver(); obs != nil {
		method, route := labels(ctx)
		obs.ObserveQuery(ctx, method, route, outcome(data.Err), dur)
	}

	if data.Err == nil && dur < t.slow {
		return
	}

	fields := q.fields(dur, data.CommandTag)
	L := log.FromContext(ctx)
	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields, "db.error_code", pgErr.Code, "db.error_constraint", pgErr.ConstraintName)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	L.Warn(ctx, "slow db query", fields...)
}

func (q *queryInfo) fields(dur time.Duration, tag pgconn.CommandTag) []any {
	fields := []any{
		"db.statement", q.sql,
		"db.arg_count", q.nargs,
		"db.duration", dur.Seconds(),
	}
	if s := strings.TrimSpace(tag.String()); s != "" {
		if op, _, _ := strings.Cut(s, " "); op != "" {
			fields = append(fields, "db.operation.name", strings.ToUpper(op))
		}
		fields = append(fields, "db.rows", tag.RowsAffected())
	}
	if q.caller != "" {
		fields = append(fields, "db.caller", q.caller)
	}
	if q.handler != "" {
		fields = append(fields, "db.handler", q.handler)
	}
	return fields
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// queryFrames returns the first application frame issuing the query and
// the first frame above it outside the store packages.
func queryFrames() (caller, handler string) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	for {
		fr, more := frames.Next()
		fn := fr.Function
		switch {
		case fn == "", isDriverFrame(fn):
		case caller == "":
			caller = shortenFuncName(fn)
		case !isStoreHelper(fn):
			return caller, shortenFuncName(fn)
		}
		if !more {
			return caller, handler
		}
	}
}

func isDriverFrame(fn string) bool {
	return strings.HasPrefix(fn, "runtime.") ||
		strings.Contains(fn, "github.com/jackc/pgx/v5") ||
		strings.Contains(fn, "github.com/exaring/otelpgx") ||
		strings.Contains(fn, "(*queryTracer).TraceQuery")
}

// storePackages issue queries on behalf of a handler further up the stack.
var storePackages = []string{
	"github.com/linnemanlabs/medtriage/internal/postgres.",
	"github.com/linnemanlabs/medtriage/internal/triage/pgstore.",
}

func isStoreHelper(fn string) bool {
	for _, p := range storePackages {
		if strings.Contains(fn, p) {
			return true
		}
	}
	return false
}

// shortenFuncName drops the import path and package name, keeping the
// receiver and method.
func shortenFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	if dot := strings.Index(fn, "."); dot >= 0 && dot+1 < len(fn) {
		fn = fn[dot+1:]
	}
	return fn
}
