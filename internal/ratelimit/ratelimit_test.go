package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/linnemanlabs/go-core/httpmw"
)

func TestLimiter_AllowPerClient(t *testing.T) {
	t.Parallel()

	l := New(0.001, 2)

	for i := range 2 {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed within burst", i)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Error("request over burst should be rejected")
	}
	if !l.Allow("10.0.0.2") {
		t.Error("other client should have its own bucket")
	}
}

func TestLimiter_ConcurrentSameKeyShareBucket(t *testing.T) {
	t.Parallel()

	l := New(0.001, 5)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("shared") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed > 5 {
		t.Errorf("allowed = %d, want at most burst 5", allowed)
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	l := New(0.5, 1)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/triage", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := do("192.0.2.1:4000"); rec.Code != http.StatusNoContent {
		t.Fatalf("first status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	// same IP, different port
	rec := do("192.0.2.1:4001")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want %q", got, "2")
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
	if got := rec.Body.String(); got != `{"error":"rate limit exceeded"}`+"\n" {
		t.Errorf("body = %q", got)
	}
}

func TestMiddleware_BehindProxy(t *testing.T) {
	t.Parallel()

	l := New(0.001, 1)
	h := httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{TrustedHops: 1})(
		l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})),
	)

	do := func(forwardedFor string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/triage", nil)
		req.RemoteAddr = "10.0.0.5:40000"
		req.Header.Set("X-Forwarded-For", forwardedFor)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	tests := []struct {
		name string
		xff  string
		want int
	}{
		{"first client", "203.0.113.1", http.StatusNoContent},
		{"second client same proxy", "198.51.100.7", http.StatusNoContent},
		{"first client again", "203.0.113.1", http.StatusTooManyRequests},
	}
	// sequential: each case depends on the buckets left by the previous one
	for _, tt := range tests {
		if got := do(tt.xff); got != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestClientKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr string
		want string
	}{
		{"192.0.2.1:1234", "192.0.2.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"no-port", "no-port"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.addr
		if got := clientKey(req); got != tt.want {
			t.Errorf("clientKey(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestClientKey_PrefersResolvedIP(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:40000"
	req = req.WithContext(httpmw.WithClientIP(req.Context(), "198.51.100.7"))

	if got := clientKey(req); got != "198.51.100.7" {
		t.Errorf("clientKey = %q, want 198.51.100.7", got)
	}
}
