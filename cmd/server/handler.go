package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/medtriage/internal/authmw"
	mc "github.com/linnemanlabs/medtriage/internal/cfg"
	"github.com/linnemanlabs/medtriage/internal/postgres"
	"github.com/linnemanlabs/medtriage/internal/ratelimit"
	"github.com/linnemanlabs/medtriage/internal/triageapi"
)

const maxRequestBytes = 1 << 20

// handlerDeps are the go-core pieces the API handler is wrapped with.
type handlerDeps struct {
	metrics func(http.Handler) http.Handler
	healthz http.HandlerFunc
	readyz  http.HandlerFunc
}

// newHandler builds the public API handler. Wrappers are applied inside
// out, so the last one added sees the raw request first.
func newHandler(c *mc.Config, mwCfg httpmw.Config, svc triageapi.TriageService, L log.Logger, deps handlerDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Compress(5, "application/json", "text/markdown"))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(withHTTPMethod)
	r.Use(httpmw.AccessLog())
	r.Use(httpmw.MaxBody(maxRequestBytes))

	r.Get("/-/healthy", deps.healthz)
	r.Get("/-/ready", deps.readyz)

	api := triageapi.New(L, svc, triageapi.WithMaxBatch(c.MaxBatchSize))
	r.Group(func(r chi.Router) {
		r.Use(authmw.BearerToken(authmw.ParseTokens(c.APITokens)...))
		if c.RateLimitRPS > 0 {
			r.Use(ratelimit.New(c.RateLimitRPS, c.RateLimitBurst).Middleware)
		}
		api.RegisterRoutes(r)
	})

	var h http.Handler = r
	h = httpmw.WithLogger(L)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// renamed to the chi route pattern by AnnotateHTTPRoute
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)
	if deps.metrics != nil {
		h = deps.metrics(h)
	}
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{TrustedHops: mwCfg.TrustedProxyHops})(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(L, nil)(h)

	// preflight requests carry no token, so CORS sits outside auth
	if origins := c.Origins(); len(origins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			ExposedHeaders: []string{"X-Request-Id", "X-Trace-Id"},
			MaxAge:         600,
		}).Handler(h)
	}
	return httpmw.SecurityHeaders(h)
}

// withHTTPMethod tags the request context for per-route DB query metrics.
func withHTTPMethod(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(postgres.WithHTTPMethod(r.Context(), r.Method)))
	})
}
