package http

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestLogger(t *testing.T) {
	t.Parallel()

	t.Run("injects a request scoped logger", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		base := slog.New(slog.NewJSONHandler(&buf, nil))

		var sawLogger bool
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sawLogger = LoggerFromContext(r.Context()) != nil
			w.WriteHeader(http.StatusNoContent)
		})

		handler := RequestLogger(base)(inner)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/workers", nil))

		if !sawLogger {
			t.Fatal("the handler did not receive a context logger")
		}
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
	})

	t.Run("logs start and completion with request attributes", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		base := slog.New(slog.NewJSONHandler(&buf, nil))

		handler := RequestLogger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/workers/user-1/start", nil))

		output := buf.String()
		lines := strings.Count(strings.TrimSpace(output), "\n") + 1
		if lines != 2 {
			t.Fatalf("log lines = %d, want start and completion entries:\n%s", lines, output)
		}
		for _, want := range []string{"request started", "request completed", `"method":"POST"`, `"path":"/workers/user-1/start"`, `"request_id"`} {
			if !strings.Contains(output, want) {
				t.Fatalf("log output missing %q:\n%s", want, output)
			}
		}
	})

	t.Run("assigns distinct request ids", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		base := slog.New(slog.NewJSONHandler(&buf, nil))

		handler := RequestLogger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/workers", nil))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/workers", nil))

		output := buf.String()
		if !strings.Contains(output, `"request_id":1`) || !strings.Contains(output, `"request_id":2`) {
			t.Fatalf("log output missing sequential request ids:\n%s", output)
		}
	})
}
