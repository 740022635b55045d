package logger

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newTestRouter(buf *bytes.Buffer, handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	l := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/x", handler)
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestMiddleware_RequestIDReachesContextLogger(t *testing.T) {
	buf := new(bytes.Buffer)
	r := newTestRouter(buf, func(c *gin.Context) {
		From(c.Request.Context()).Info("inside service")
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerRequestID, "rid-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get(headerRequestID); got != "rid-123" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", len(lines), buf.String())
	}
	for _, line := range lines {
		if !strings.Contains(line, `"request_id":"rid-123"`) {
			t.Fatalf("missing request_id in %s", line)
		}
	}
}

func TestMiddleware_GeneratesRequestID(t *testing.T) {
	buf := new(bytes.Buffer)
	r := newTestRouter(buf, func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Header().Get(headerRequestID) == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestMiddleware_LevelByStatus(t *testing.T) {
	buf := new(bytes.Buffer)
	r := newTestRouter(buf, func(c *gin.Context) { c.Status(http.StatusNotFound) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	if !strings.Contains(buf.String(), `"level":"WARN"`) {
		t.Fatalf("expected WARN for 404, got %s", buf.String())
	}
}

func TestMiddleware_QuietHealthz(t *testing.T) {
	buf := new(bytes.Buffer)
	r := newTestRouter(buf, func(c *gin.Context) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if buf.Len() != 0 {
		t.Fatalf("expected no log for healthz, got %s", buf.String())
	}
}

func TestFrom_FallsBackToDefault(t *testing.T) {
	if From(context.Background()) != slog.Default() {
		t.Fatalf("expected default logger")
	}
}

func TestNewWithWriter_Levels(t *testing.T) {
	buf := new(bytes.Buffer)
	NewWithWriter(buf, "production").Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug must be off in production: %s", buf.String())
	}

	NewWithWriter(buf, "local").Debug("shown")
	if !strings.Contains(buf.String(), `"service":"callbilling"`) {
		t.Fatalf("expected service attribute, got %s", buf.String())
	}
}
