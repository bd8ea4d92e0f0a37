package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/medtriage/internal/artifact"
	mc "github.com/linnemanlabs/medtriage/internal/cfg"
	"github.com/linnemanlabs/medtriage/internal/notify/slack"
	"github.com/linnemanlabs/medtriage/internal/postgres"
	"github.com/linnemanlabs/medtriage/internal/resultcache"
	"github.com/linnemanlabs/medtriage/internal/triage"
	"github.com/linnemanlabs/medtriage/internal/triage/memstore"
	"github.com/linnemanlabs/medtriage/internal/triage/pgstore"
	"github.com/linnemanlabs/medtriage/internal/triage/sqlitestore"
)

// wire builds the triage service and everything behind it. cleanup releases
// the record store and is safe to call once.
func wire(ctx context.Context, c *mc.Config, reg prometheus.Registerer, L log.Logger) (*triage.Service, func(), error) {
	tm := triage.NewMetrics(reg)

	artifacts := artifact.NewStore(c.ArtifactDir, L,
		artifact.WithFiles(c.ArtifactFiles()),
		artifact.WithLoadHook(tm.LoadHook()),
	)
	if c.WarmArtifacts {
		if _, err := artifacts.ClassifierBundle(ctx); err != nil {
			return nil, nil, fmt.Errorf("warm classifier: %w", err)
		}
		// answers degrade without the index, so startup continues
		if _, err := artifacts.AnswerIndex(ctx); err != nil {
			L.Warn(ctx, "answer index unavailable at startup", "error", err)
		}
	}

	rules := triage.DefaultRules()
	if c.SeverityRulesFile != "" {
		var err error
		if rules, err = triage.LoadRules(c.SeverityRulesFile); err != nil {
			return nil, nil, fmt.Errorf("severity rules: %w", err)
		}
		L.Info(ctx, "loaded severity rules", "path", c.SeverityRulesFile,
			"high", len(rules.HighPhrases()), "medium", len(rules.MediumPhrases()))
	}

	store, cleanup, err := openStore(ctx, c, reg, L)
	if err != nil {
		return nil, nil, err
	}

	engine := triage.NewEngine(
		triage.NewClassifier(artifacts),
		rules,
		triage.NewRetriever(artifacts, c.TopK, c.MinSimilarity),
		L,
		tm.Hooks(),
	)

	opts := []triage.ServiceOption{
		triage.WithMetrics(tm),
		triage.WithBatchWorkers(c.BatchWorkers),
	}
	if ttl := c.CacheTTL(); ttl > 0 {
		opts = append(opts, triage.WithCache(resultcache.New(ttl, 2*ttl)))
		L.Info(ctx, "result cache enabled", "ttl", ttl.String())
	}
	if c.SlackWebhookURL != "" {
		opts = append(opts, triage.WithNotifier(slack.New(c.SlackWebhookURL, L, slack.WithSymptoms(c.SlackSymptomBytes))))
		L.Info(ctx, "notifier enabled", "type", "slack", "symptom_bytes", c.SlackSymptomBytes)
	}

	return triage.NewService(store, engine, L, opts...), cleanup, nil
}

// openStore picks postgres, then sqlite, then the in-memory store.
func openStore(ctx context.Context, c *mc.Config, reg prometheus.Registerer, L log.Logger) (triage.Store, func(), error) {
	switch {
	case c.DatabaseURL != "":
		pool, err := postgres.NewPool(ctx, c.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres pool: %w", err)
		}
		st, err := pgstore.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("pgstore init: %w", err)
		}

		queryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medtriage_db_query_duration_seconds",
			Help:    "Duration of individual database queries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "outcome"})
		reg.MustRegister(queryDuration)
		postgres.SetQueryObserver(postgres.QueryObserverFunc(
			func(_ context.Context, method, route, outcome string, dur time.Duration) {
				queryDuration.WithLabelValues(method, route, outcome).Observe(dur.Seconds())
			},
		))

		L.Info(ctx, "using postgres store")
		return st, pool.Close, nil

	case c.SQLitePath != "":
		st, err := sqlitestore.Open(ctx, c.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlitestore init: %w", err)
		}
		L.Info(ctx, "using sqlite store", "path", c.SQLitePath)
		return st, func() { _ = st.Close() }, nil

	default:
		L.Info(ctx, "using in-memory store (no database-url or sqlite-path configured)")
		return memstore.New(), func() {}, nil
	}
}
