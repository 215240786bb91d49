package telemetry

import (
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestEcho(p *Provider) *echo.Echo {
	e := echo.New()
	e.Use(p.MetricsMiddleware())
	e.GET("/api/v1/cases/:id", func(c echo.Context) error {
		if c.Param("id") == "missing" {
			return echo.NewHTTPError(http.StatusNotFound, "case not found")
		}
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", p.PrometheusHandler())
	return e
}

func get(e *echo.Echo, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestConfig_Defaults(t *testing.T) {
	p := NewProvider(Config{})
	if p.cfg.ServiceName != "annotator" {
		t.Errorf("expected default service name, got %q", p.cfg.ServiceName)
	}
	if !p.cfg.metricsOn() {
		t.Error("expected metrics enabled by default")
	}
}

func TestMetricsMiddleware_LabelsByRoute(t *testing.T) {
	p := NewProvider(Config{})
	e := newTestEcho(p)

	get(e, "/api/v1/cases/P-1")
	get(e, "/api/v1/cases/P-2")
	get(e, "/api/v1/cases/missing")

	if got := p.Requests(http.MethodGet, "/api/v1/cases/:id", "200"); got != 2 {
		t.Errorf("expected 2 ok requests, got %d", got)
	}
	if got := p.Requests(http.MethodGet, "/api/v1/cases/:id", "404"); got != 1 {
		t.Errorf("expected 1 not found request, got %d", got)
	}
	if p.ActiveRequests() != 0 {
		t.Errorf("expected no active requests, got %d", p.ActiveRequests())
	}
}

func TestMetricsMiddleware_Disabled(t *testing.T) {
	p := NewProvider(Config{MetricsEnabled: BoolPtr(false)})
	e := newTestEcho(p)

	get(e, "/api/v1/cases/P-1")
	p.AnnotationEvent(EventAnnotationSaved)

	if got := p.Requests(http.MethodGet, "/api/v1/cases/:id", "200"); got != 0 {
		t.Errorf("expected nothing recorded, got %d", got)
	}
	if p.Events(EventAnnotationSaved) != 0 {
		t.Error("expected no events recorded")
	}
}

func TestPrometheusHandler_Format(t *testing.T) {
	p := NewProvider(Config{ServiceVersion: "1.2.3"})
	e := newTestEcho(p)

	get(e, "/api/v1/cases/P-1")
	p.AnnotationEvent(EventAnnotationSaved)
	p.AnnotationEvent(EventAnnotationSaved)

	rec := get(e, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()

	want := []string{
		"# TYPE http_server_requests_total counter",
		`http_server_requests_total{method="GET",route="/api/v1/cases/:id",status_code="200"} 1`,
		`http_server_request_duration_seconds_bucket{method="GET",route="/api/v1/cases/:id",status_code="200",le="+Inf"} 1`,
		"http_server_active_requests",
		`annotator_events_total{event="annotation_saved"} 2`,
		`annotator_build_info{service="annotator",version="1.2.3"} 1`,
	}
	for _, w := range want {
		if !strings.Contains(body, w) {
			t.Errorf("expected metrics output to contain %q, body:\n%s", w, body)
		}
	}
}

func TestHistogram_Observe(t *testing.T) {
	h := newHistogram([]float64{0.1, 1})
	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(5)

	cum := h.cumulativeBuckets()
	if cum[0] != 1 || cum[1] != 2 {
		t.Errorf("unexpected cumulative buckets %v", cum)
	}
	if h.Count() != 3 {
		t.Errorf("expected 3 observations, got %d", h.Count())
	}
	if math.Abs(h.Sum()-5.55) > 1e-9 {
		t.Errorf("expected sum 5.55, got %g", h.Sum())
	}
}

func TestProvider_ConcurrentSafe(t *testing.T) {
	p := NewProvider(Config{})
	e := newTestEcho(p)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			get(e, "/api/v1/cases/P-1")
			p.AnnotationEvent(EventWorkspaceInitialized)
		}()
	}
	wg.Wait()

	if got := p.Requests(http.MethodGet, "/api/v1/cases/:id", "200"); got != 20 {
		t.Errorf("expected 20 requests, got %d", got)
	}
	if got := p.Events(EventWorkspaceInitialized); got != 20 {
		t.Errorf("expected 20 events, got %d", got)
	}
}
