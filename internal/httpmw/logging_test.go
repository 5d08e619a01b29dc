package httpmw

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-cv/internal/log"
)

func newLoggedRouter(L log.Logger, skip ...string) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/content", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Put("/api/content", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	r.Get("/-/ready", func(w http.ResponseWriter, r *http.Request) {})
	return Chain(r,
		RequestID(""),
		ClientIP,
		WithLogger(L),
		AccessLog(skip...),
	)
}

func TestAccessLog_RecordsRequest(t *testing.T) {
	L := newRecLogger()
	h := newLoggedRouter(L)

	req := httptest.NewRequest(http.MethodGet, "/api/content?token=secret", http.NoBody)
	req.RemoteAddr = "203.0.113.4:5000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	entries := L.all()
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	e := entries[0]
	if e.level != "info" || e.msg != "http request" {
		t.Fatalf("entry = %+v", e)
	}
	checks := map[string]any{
		"http.response.status_code": http.StatusOK,
		"http.response.body.size":   int64(len(`{"ok":true}`)),
		"http.route":                "/api/content",
		"client.address":            "203.0.113.4",
		"url.path":                  "/api/content",
		"http.request.method":       http.MethodGet,
		"request_id":                rec.Header().Get(DefaultRequestIDHeader),
	}
	for k, want := range checks {
		if got, _ := field(e.kv, k); got != want {
			t.Errorf("%s = %v, want %v", k, got, want)
		}
	}
	for i := 0; i < len(e.kv); i++ {
		if s, ok := e.kv[i].(string); ok && strings.Contains(s, "secret") {
			t.Fatalf("query string leaked into log: %v", e.kv)
		}
	}
}

func TestAccessLog_ServerErrorIsWarn(t *testing.T) {
	L := newRecLogger()
	newLoggedRouter(L).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/api/content", http.NoBody))

	e := L.all()[0]
	if e.level != "warn" {
		t.Fatalf("level = %q, want warn", e.level)
	}
	if got, _ := field(e.kv, "http.response.status_code"); got != http.StatusInternalServerError {
		t.Fatalf("status = %v", got)
	}
}

func TestAccessLog_SkipsProbePaths(t *testing.T) {
	L := newRecLogger()
	newLoggedRouter(L, "/-/ready").ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/-/ready", http.NoBody))
	if n := len(L.all()); n != 0 {
		t.Fatalf("logged %d entries for skipped path", n)
	}
}

func TestAccessLog_UnmatchedRoute(t *testing.T) {
	L := newRecLogger()
	newLoggedRouter(L).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope/123", http.NoBody))

	e := L.all()[0]
	if got, _ := field(e.kv, "http.route"); got != UnmatchedRoute {
		t.Fatalf("http.route = %v", got)
	}
	if got, _ := field(e.kv, "http.response.status_code"); got != http.StatusNotFound {
		t.Fatalf("status = %v", got)
	}
}

func TestAccessLog_WriteSpanRecorded(t *testing.T) {
	ctx, sr, end := recordingContext(t)
	L := newRecLogger()
	newLoggedRouter(L).ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodGet, "/api/content", http.NoBody).WithContext(ctx))
	end()

	var found bool
	for _, s := range sr.Ended() {
		if s.Name() == "response.write" {
			found = true
		}
	}
	if !found {
		t.Fatal("response.write span missing")
	}
}

func TestStatusRecorder_FirstStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &statusRecorder{ResponseWriter: rec, ctx: httptest.NewRequest(http.MethodGet, "/", http.NoBody).Context()}
	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusTeapot)
	if rw.code() != http.StatusCreated {
		t.Fatalf("code = %d", rw.code())
	}
	if rw.Unwrap() != rec {
		t.Fatal("Unwrap should return the wrapped writer")
	}
}

func TestSchemeFromRequest(t *testing.T) {
	tests := []struct {
		name  string
		proto string
		tls   bool
		want  string
	}{
		{"plain", "", false, "http"},
		{"tls", "", true, "https"},
		{"forwarded https", "https", false, "https"},
		{"forwarded chain", "HTTPS, http", false, "https"},
		{"forwarded junk ignored", "gopher", false, "http"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.proto != "" {
				r.Header.Set("X-Forwarded-Proto", tt.proto)
			}
			if tt.tls {
				r.TLS = &tls.ConnectionState{}
			}
			if got := schemeFromRequest(r); got != tt.want {
				t.Fatalf("scheme = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestScope_AddsHandlerField(t *testing.T) {
	L := newRecLogger()
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).Info(r.Context(), "inside")
	}), WithLogger(L), Scope("content"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	e := L.all()[0]
	if got, _ := field(e.kv, "handler"); got != "content" {
		t.Fatalf("handler = %v", got)
	}
}
