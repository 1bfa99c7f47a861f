package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", m.Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics scrape returned %d", w.Code)
	}
	return w.Body.String()
}

func TestMetricsExposition(t *testing.T) {
	m := New()
	m.SetActiveSessions(3)
	m.RecordSessionEvicted()
	m.RecordCommand("navigate", 120*time.Millisecond, true)
	m.RecordCommand("click", 40*time.Millisecond, false)
	m.SetWSConnections(2)
	m.RecordWSMessage("out")
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordProviderFailure("aggregator")

	body := scrape(t, m)
	for _, want := range []string{
		"browserd_active_sessions 3",
		"browserd_sessions_evicted_total 1",
		`browserd_commands_total{action="navigate",status="ok"} 1`,
		`browserd_commands_total{action="click",status="error"} 1`,
		"browserd_ws_connections 2",
		`browserd_ws_messages_total{direction="out"} 1`,
		"browserd_search_cache_hits_total 1",
		"browserd_search_cache_misses_total 1",
		`browserd_search_provider_failures_total{provider="aggregator"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestHTTPMiddlewareRecordsRoutes(t *testing.T) {
	m := New()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/api/browser/session/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/browser/session/s1", nil))

	body := scrape(t, m)
	want := `browserd_http_requests_total{method="GET",path="/api/browser/session/:id",status="200"} 1`
	if !strings.Contains(body, want) {
		t.Errorf("exposition missing %q", want)
	}
}
