package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// okHandler answers 200 "ok".
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok")) //nolint:errcheck
})

func callWithKey(t *testing.T, mw func(http.Handler) http.Handler, header, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/alerts/a1", nil)
	if key != "" {
		req.Header.Set(header, key)
	}
	rec := httptest.NewRecorder()
	mw(okHandler).ServeHTTP(rec, req)
	return rec
}

func TestAPIKey_ModeNone_PassesThrough(t *testing.T) {
	rec := callWithKey(t, APIKey("none", "x-api-key", "secret"), "x-api-key", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
}

func TestAPIKey_EmptyKey_PassesThrough(t *testing.T) {
	// key="" means auth is not configured → allow all.
	rec := callWithKey(t, APIKey("apikey", "x-api-key", ""), "x-api-key", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
}

func TestAPIKey_CorrectKey_Passes(t *testing.T) {
	rec := callWithKey(t, APIKey("apikey", "x-api-key", "supersecret"), "x-api-key", "supersecret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body: got %q, want ok", rec.Body.String())
	}
}

func TestAPIKey_HeaderNameIsCaseInsensitive(t *testing.T) {
	rec := callWithKey(t, APIKey("apikey", "x-relic-key", "k"), "X-Relic-Key", "k")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
}

func TestAPIKey_Rejects(t *testing.T) {
	cases := map[string]struct{ header, key string }{
		"missing":      {"x-api-key", ""},
		"wrong key":    {"x-api-key", "nope"},
		"wrong header": {"authorization", "supersecret"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := callWithKey(t, APIKey("apikey", "x-api-key", "supersecret"), tc.header, tc.key)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status: got %d, want 401", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type: got %q", ct)
			}
		})
	}
}
