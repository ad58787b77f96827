package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_ObserveCall(t *testing.T) {
	c := New()
	c.ObserveCall("memory", "get_memory", "ok", 5*time.Millisecond)
	c.ObserveCall("memory", "get_memory", "ok", time.Millisecond)
	c.ObserveCall("_unknown", "_unknown", "unsupported", 0)

	if got := testutil.ToFloat64(c.toolCalls.WithLabelValues("memory", "get_memory", "ok")); got != 2 {
		t.Errorf("ok calls = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.toolCalls.WithLabelValues("_unknown", "_unknown", "unsupported")); got != 1 {
		t.Errorf("unsupported calls = %v, want 1", got)
	}
}

func TestCollector_ObserveBatch(t *testing.T) {
	c := New()
	c.ObserveBatch("ok", 3)
	c.ObserveBatch("malformed", 0)

	if got := testutil.ToFloat64(c.batches.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok batches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.batches.WithLabelValues("malformed")); got != 1 {
		t.Errorf("malformed batches = %v, want 1", got)
	}
}

func TestCollector_MiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := New()

	r := gin.New()
	r.Use(c.Middleware())
	r.GET("/healthz", func(ctx *gin.Context) { ctx.Status(http.StatusOK) })
	r.GET("/metrics", gin.WrapH(c.Handler()))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	if got := testutil.ToFloat64(c.httpRequests.WithLabelValues("GET", "/healthz", "200")); got != 1 {
		t.Errorf("healthz requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.httpRequests.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Errorf("unmatched requests = %v, want 1", got)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(w.Body)
	if !strings.Contains(string(body), "toolgate_http_requests_total") {
		t.Errorf("/metrics output lacks toolgate_http_requests_total")
	}
}
