package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestItoa(t *testing.T) {
	cases := map[int]string{0: "0", 7: "7", 200: "200", 404: "404", 1234: "1234"}
	for n, want := range cases {
		if got := itoa(n); got != want {
			t.Fatalf("itoa(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestStatusRecorder(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: 200}
	sr.WriteHeader(http.StatusTeapot)
	if sr.status != http.StatusTeapot {
		t.Fatalf("status = %d", sr.status)
	}
}

func TestRoutePatternOrPath_FallsBackToPath(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/some/raw/path", nil)
	if got := routePatternOrPath(r); got != "/some/raw/path" {
		t.Fatalf("pattern = %q", got)
	}
}

func TestMetricsMiddleware_PassThrough(t *testing.T) {
	var called bool
	h := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if !called {
		t.Fatal("handler not invoked")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
}
