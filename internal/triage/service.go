package triage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

// DefaultBatchWorkers bounds batch parallelism when no limit is configured.
const DefaultBatchWorkers = 4

// BatchItem is the outcome of one query in a batch, in submission order.
type BatchItem struct {
	Index  int     `json:"index"`
	Record *Record `json:"record,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// Service is the business boundary for triage operations.
type Service struct {
	store    Store
	engine   *Engine
	logger   log.Logger
	cache    Cache
	notifier Notifier
	metrics  *Metrics
	workers  int

	notifying sync.WaitGroup
}

// ServiceOption configures optional Service dependencies.
type ServiceOption func(*Service)

// WithCache serves repeated symptom texts from c.
func WithCache(c Cache) ServiceOption {
	return func(s *Service) { s.cache = c }
}

// WithNotifier sends urgent records to n.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics counts submissions on m.
func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithBatchWorkers bounds the number of concurrent runs in SubmitBatch.
func WithBatchWorkers(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// NewService creates a new triage service.
func NewService(store Store, engine *Engine, logger log.Logger, opts ...ServiceOption) *Service {
	if store == nil || engine == nil {
		panic(xerrors.New("triage: NewService requires a store and an engine"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	s := &Service{
		store:   store,
		engine:  engine,
		logger:  logger,
		workers: DefaultBatchWorkers,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Submit triages q, persists the record and notifies when it is urgent.
func (s *Service) Submit(ctx context.Context, q Query) (*Record, error) {
	rec, err := s.submit(ctx, q)
	s.count(rec, err)
	return rec, err
}

func (s *Service) submit(ctx context.Context, q Query) (*Record, error) {
	symptoms := strings.TrimSpace(q.Symptoms)
	if symptoms == "" {
		return nil, ErrInvalidInput
	}

	start := time.Now()
	rec := &Record{
		ID:        ulid.Make().String(),
		Symptoms:  symptoms,
		CreatedAt: start,
	}

	if r, ok := s.cached(symptoms); ok {
		rec.Result = *r
		rec.Cached = true
	} else {
		r, err := s.engine.Run(ctx, symptoms, q.History)
		if err != nil {
			return nil, err
		}
		rec.Result = *r
		if s.cache != nil && r.AnswerStatus != AnswerDegraded {
			s.cache.Set(symptoms, r)
		}
	}
	rec.Duration = time.Since(start).Seconds()

	if err := s.store.Put(ctx, rec); err != nil {
		return nil, err
	}

	L := s.logger.With("triage_id", rec.ID)
	L.Info(ctx, "triage complete",
		"specialty", rec.Result.Specialty,
		"severity", rec.Result.SeverityLevel,
		"urgent", rec.Result.Urgent,
		"answer_status", rec.Result.AnswerStatus,
		"cached", rec.Cached,
		"duration", rec.Duration,
	)

	if rec.Result.Urgent && s.notifier != nil {
		cp := *rec
		s.notifying.Add(1)
		// pass a copy so the caller may mutate rec
		go s.notify(context.WithoutCancel(ctx), &cp)
	}

	return rec, nil
}

// SubmitBatch submits every query with bounded parallelism. Failures are
// reported per item and never abort the batch.
func (s *Service) SubmitBatch(ctx context.Context, queries []Query) []BatchItem {
	items := make([]BatchItem, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, q := range queries {
		g.Go(func() error {
			items[i].Index = i
			rec, err := s.Submit(gctx, q)
			if err != nil {
				items[i].Error = err.Error()
				return nil
			}
			items[i].Record = rec
			return nil
		})
	}
	_ = g.Wait()

	return items
}

// Get retrieves a triage record by ID.
func (s *Service) Get(ctx context.Context, id string) (*Record, bool, error) {
	return s.store.Get(ctx, id)
}

// ListRecent returns up to limit records, newest first.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]*Record, error) {
	return s.store.ListRecent(ctx, limit)
}

// Wait blocks until in-flight notifications finish.
func (s *Service) Wait() {
	s.notifying.Wait()
}

func (s *Service) cached(key string) (*Result, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(key)
}

func (s *Service) notify(ctx context.Context, rec *Record) {
	defer s.notifying.Done()
	if err := s.notifier.Notify(ctx, rec); err != nil {
		s.logger.Error(ctx, err, "failed to send urgent notification", "triage_id", rec.ID)
	}
}

func (s *Service) count(rec *Record, err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		s.metrics.SubmitsTotal.WithLabelValues("invalid").Inc()
	case err != nil:
		s.metrics.SubmitsTotal.WithLabelValues("error").Inc()
	case rec.Cached:
		s.metrics.SubmitsTotal.WithLabelValues("cached").Inc()
	default:
		s.metrics.SubmitsTotal.WithLabelValues("accepted").Inc()
	}
}
