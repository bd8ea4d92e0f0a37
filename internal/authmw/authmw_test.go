package authmw

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
})

func serve(h http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/triage", http.NoBody)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBearerToken_ValidToken(t *testing.T) {
	t.Parallel()

	h := BearerToken("secret-token-123")(okHandler)
	if rec := serve(h, "Bearer secret-token-123"); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestBearerToken_RotatedTokens(t *testing.T) {
	t.Parallel()

	h := BearerToken("old-token", "new-token")(okHandler)
	for _, tok := range []string{"old-token", "new-token"} {
		if rec := serve(h, "Bearer "+tok); rec.Code != http.StatusOK {
			t.Errorf("token %q: status = %d, want %d", tok, rec.Code, http.StatusOK)
		}
	}
	if rec := serve(h, "Bearer other"); rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestBearerToken_Rejected(t *testing.T) {
	t.Parallel()

	h := BearerToken("correct-token")(okHandler)

	tests := []struct {
		name  string
		value string
	}{
		{"missing header", ""},
		{"Basic auth", "Basic dXNlcjpwYXNz"},
		{"lowercase bearer", "bearer correct-token"},
		{"no prefix", "correct-token"},
		{"wrong token", "Bearer wrong-token"},
		{"partial match", "Bearer correct"},
		{"token with suffix", "Bearer correct-token-extra"},
		{"empty token", "Bearer "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := serve(h, tt.value)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
			if got := rec.Header().Get("WWW-Authenticate"); got != challenge {
				t.Errorf("WWW-Authenticate = %q, want %q", got, challenge)
			}
		})
	}
}

func TestBearerToken_EmptyTokensRejectEverything(t *testing.T) {
	t.Parallel()

	h := BearerToken("", "")(okHandler)
	if rec := serve(h, "Bearer "); rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestBearerToken_PassesRequestThrough(t *testing.T) {
	t.Parallel()

	var called bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusCreated)
	})

	rec := serve(BearerToken("tok")(inner), "Bearer tok")
	if !called {
		t.Error("inner handler was not called")
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
}

func TestParseTokens(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"one", []string{"one"}},
		{" a , b ,, ", []string{"a", "b"}},
	}
	for _, tt := range tests {
		if got := ParseTokens(tt.in); !slices.Equal(got, tt.want) {
			t.Errorf("ParseTokens(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
