// Medtriage serves symptom triage over HTTP: specialty prediction, severity
// rules and answer retrieval from local artifacts.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"
	v "github.com/linnemanlabs/go-core/version"

	mc "github.com/linnemanlabs/medtriage/internal/cfg"
)

const appName = "medtriage"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

// configs groups the per-package settings parsed from flags and env.
type configs struct {
	app    mc.Config
	http   httpserver.Config
	httpmw httpmw.Config
	log    log.Config
	ops    opshttp.Config
	prof   prof.Config
	trace  otelx.Config
}

func (c *configs) register(fs *flag.FlagSet) {
	c.app.RegisterFlags(fs)
	c.http.RegisterFlags(fs)
	c.httpmw.RegisterFlags(fs)
	c.log.RegisterFlags(fs)
	c.ops.RegisterFlags(fs)
	c.prof.RegisterFlags(fs)
	c.trace.RegisterFlags(fs)
}

func (c *configs) validate() error {
	err := errors.Join(
		c.app.Validate(),
		c.http.Validate(),
		c.httpmw.Validate(),
		c.log.Validate(),
		c.ops.Validate(),
		c.prof.Validate(),
		c.trace.Validate(),
	)
	if err != nil {
		return err
	}
	if c.app.APIPort == c.ops.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", c.app.APIPort)
	}
	return nil
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = appName
	v.Component = component
	vi := v.Get()

	var c configs
	c.register(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// MEDTRIAGE_* env vars fill only flags not set on the command line
	cfg.FillFromEnv(flag.CommandLine, "MEDTRIAGE_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := c.validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	lg, err := log.New(c.log.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "starting medtriage",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", c.app.APIPort,
		"admin_port", c.ops.Port,
		"artifact_dir", c.app.ArtifactDir,
		"top_k", c.app.TopK,
		"min_similarity", c.app.MinSimilarity,
		"cache_ttl_seconds", c.app.CacheTTLSeconds,
		"batch_workers", c.app.BatchWorkers,
		"rate_limit_rps", c.app.RateLimitRPS,
		"cors_origins", c.app.CORSOrigins,
		"enable_tracing", c.trace.EnableTracing,
		"enable_pyroscope", c.prof.EnablePyroscope,
	)

	// profiling starts first so the whole lifetime is sampled
	profOpts := c.prof.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", c.prof.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	traceOpts := c.trace.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version
	shutdownOtel, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profErr == nil && c.prof.EnablePyroscope)

	svc, cleanup, err := wire(ctx, &c.app, m.Registry(), L)
	if err != nil {
		return err
	}
	defer cleanup()

	// readiness fails once shutdown starts so the load balancer drains us
	var gate health.ShutdownGate
	readiness := health.All(gate.Probe())
	liveness := health.Fixed(true, "")

	opsOpts := c.ops.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic
	stopOps, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}

	serverOpts, err := c.http.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}
	h := newHandler(&c.app, c.httpmw, svc, L, handlerDeps{
		metrics: func(next http.Handler) http.Handler { return m.Middleware(next) },
		healthz: health.HealthzHandler(liveness),
		readyz:  health.ReadyzHandler(readiness),
	})
	stopAPI, err := httpserver.Start(ctx, fmt.Sprintf(":%d", c.app.APIPort), h, L, serverOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start triage api listener")
		_ = stopOps(context.Background())
		return err
	}

	status := fmt.Sprintf("serving triage on :%d", c.app.APIPort)
	switch err := notifySystemd(ctx, status); {
	case errors.Is(err, errNotSystemd):
	case err != nil:
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	L.Info(context.Background(), "shutdown signal received")

	gate.Set("draining")
	drain(L, time.Duration(c.app.DrainSeconds)*time.Second)

	stops := []namedStop{
		{"triage api http server", stopAPI},
		{"ops http server", stopOps},
		{"pending notifications", func(context.Context) error { svc.Wait(); return nil }},
	}
	if shutdownOtel != nil {
		stops = append(stops, namedStop{"otel", shutdownOtel})
	}
	shutdown(L, time.Duration(c.app.ShutdownBudgetSeconds)*time.Second, stops)

	L.Info(context.Background(), "shutdown complete")
	return nil
}

// drain waits out the drain period; a second signal cuts it short.
func drain(L log.Logger, d time.Duration) {
	L.Info(context.Background(), "draining", "drain_seconds", d.Seconds())
	force := make(chan os.Signal, 1)
	signal.Notify(force, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(force)

	select {
	case <-time.After(d):
		L.Info(context.Background(), "drain period complete")
	case <-force:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
}

type namedStop struct {
	name string
	fn   func(context.Context) error
}

// shutdown runs each stop in order with an equal slice of budget.
func shutdown(L log.Logger, budget time.Duration, stops []namedStop) {
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	per := budget / time.Duration(len(stops))
	for _, s := range stops {
		sctx, scancel := context.WithTimeout(ctx, per)
		if err := s.fn(sctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		scancel()
	}
}
