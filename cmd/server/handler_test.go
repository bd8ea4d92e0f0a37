package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/medtriage/internal/artifact/artifacttest"
	mc "github.com/linnemanlabs/medtriage/internal/cfg"
	"github.com/linnemanlabs/medtriage/internal/triage"
)

func newTestHandler(t *testing.T, modify func(c *mc.Config)) http.Handler {
	t.Helper()

	c := testConfig(t, artifacttest.Options{})
	c.CacheTTLSeconds = 0
	if modify != nil {
		modify(c)
	}
	svc, cleanup, err := wire(context.Background(), c, prometheus.NewRegistry(), log.Nop())
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	t.Cleanup(cleanup)

	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }
	return newHandler(c, httpmw.Config{}, svc, log.Nop(), handlerDeps{healthz: ok, readyz: ok})
}

func request(h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.10:40000"
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_HealthWithoutToken(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, nil)
	for _, path := range []string{"/-/healthy", "/-/ready"} {
		if rec := request(h, http.MethodGet, path, "", ""); rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestHandler_RequiresToken(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, nil)
	body := `{"symptoms": "chest pain"}`

	if rec := request(h, http.MethodPost, "/api/v1/triage", "", body); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}
	if rec := request(h, http.MethodPost, "/api/v1/triage", "wrong", body); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rec.Code)
	}

	rec := request(h, http.MethodPost, "/api/v1/triage", "secret", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got triage.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if got.ID == "" || got.Result.Specialty != "Cardiology" {
		t.Errorf("record = %+v", got)
	}
}

func TestHandler_RateLimit(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, func(c *mc.Config) {
		c.RateLimitRPS = 0.01
		c.RateLimitBurst = 1
	})

	first := request(h, http.MethodGet, "/api/v1/triage", "secret", "")
	if first.Code != http.StatusOK {
		t.Fatalf("first request = %d, want 200", first.Code)
	}
	second := request(h, http.MethodGet, "/api/v1/triage", "secret", "")
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second request = %d, want 429", second.Code)
	}
}

func TestHandler_CORSPreflight(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, func(c *mc.Config) { c.CORSOrigins = "https://app.example" })

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/triage", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code == http.StatusUnauthorized {
		t.Fatal("preflight must not require a token")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Errorf("Access-Control-Allow-Origin = %q, want https://app.example", got)
	}
}

func TestHandler_CORSUnknownOrigin(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, func(c *mc.Config) { c.CORSOrigins = "https://app.example" })

	req := httptest.NewRequest(http.MethodGet, "/-/healthy", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
}
