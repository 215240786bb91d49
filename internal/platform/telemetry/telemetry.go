// Package telemetry records HTTP server and annotation workflow metrics and
// serves them in the Prometheus text exposition format.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// Config holds the telemetry settings.
type Config struct {
	ServiceName    string
	ServiceVersion string
	MetricsEnabled *bool // nil = enabled
}

func (c *Config) metricsOn() bool {
	if c.MetricsEnabled == nil {
		return true
	}
	return *c.MetricsEnabled
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "annotator"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
}

// BoolPtr is a helper to create a *bool for Config fields.
func BoolPtr(b bool) *bool {
	return &b
}

// Annotation workflow events counted by Provider.AnnotationEvent.
const (
	EventWorkspaceInitialized = "workspace_initialized"
	EventAnnotationSaved      = "annotation_saved"
	EventAnnotationUnchanged  = "annotation_unchanged"
	EventWorkspaceUploaded    = "workspace_uploaded"
	EventWorkspaceDownloaded  = "workspace_downloaded"
)

var defaultDurationBuckets = []float64{
	0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0,
}

// histogram keeps non-cumulative bucket counts; cumulative counts are
// computed at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	for {
		old := atomic.LoadUint64(&h.sum)
		next := math.Float64bits(math.Float64frombits(old) + v)
		if atomic.CompareAndSwapUint64(&h.sum, old, next) {
			break
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum := make([]int64, len(h.bucketCounts))
	var running int64
	for i, c := range h.bucketCounts {
		running += c
		cum[i] = running
	}
	return cum
}

// LabelsKey joins the request labels into a single map key.
func LabelsKey(method, route, statusCode string) string {
	return method + "|" + route + "|" + statusCode
}

// Provider holds all metric state.
type Provider struct {
	cfg Config

	mu        sync.RWMutex
	durations map[string]*histogram // by LabelsKey
	requests  map[string]int64      // by LabelsKey
	events    map[string]int64

	active int64
}

func NewProvider(cfg Config) *Provider {
	cfg.applyDefaults()
	return &Provider{
		cfg:       cfg,
		durations: make(map[string]*histogram),
		requests:  make(map[string]int64),
		events:    make(map[string]int64),
	}
}

// AnnotationEvent counts one workflow event.
func (p *Provider) AnnotationEvent(event string) {
	if !p.cfg.metricsOn() {
		return
	}
	p.mu.Lock()
	p.events[event]++
	p.mu.Unlock()
}

// Events returns the count recorded for event.
func (p *Provider) Events(event string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.events[event]
}

// Requests returns the number of requests recorded for the label set.
func (p *Provider) Requests(method, route, statusCode string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.requests[LabelsKey(method, route, statusCode)]
}

// ActiveRequests returns the number of requests currently in flight.
func (p *Provider) ActiveRequests() int64 {
	return atomic.LoadInt64(&p.active)
}

func (p *Provider) observe(key string, seconds float64) {
	p.mu.Lock()
	h, ok := p.durations[key]
	if !ok {
		h = newHistogram(defaultDurationBuckets)
		p.durations[key] = h
	}
	p.requests[key]++
	p.mu.Unlock()
	h.Observe(seconds)
}

// MetricsMiddleware returns an Echo middleware that records request counts
// and durations labeled by method, route pattern and status code.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !p.cfg.metricsOn() {
				return next(c)
			}

			atomic.AddInt64(&p.active, 1)
			defer atomic.AddInt64(&p.active, -1)

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			p.observe(LabelsKey(c.Request().Method, route, strconv.Itoa(status)), time.Since(start).Seconds())
			return err
		}
	}
}

// PrometheusHandler serves the metrics in Prometheus text format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		fmt.Fprintf(&b, "# HELP annotator_build_info Build information.\n")
		fmt.Fprintf(&b, "# TYPE annotator_build_info gauge\n")
		fmt.Fprintf(&b, "annotator_build_info{service=%q,version=%q} 1\n\n", p.cfg.ServiceName, p.cfg.ServiceVersion)

		p.mu.RLock()
		keys := sortedKeys(p.requests)
		requests := make(map[string]int64, len(p.requests))
		durations := make(map[string]*histogram, len(p.durations))
		for k, v := range p.requests {
			requests[k] = v
			durations[k] = p.durations[k]
		}
		events := make(map[string]int64, len(p.events))
		for k, v := range p.events {
			events[k] = v
		}
		p.mu.RUnlock()

		b.WriteString("# HELP http_server_requests_total Total HTTP requests.\n")
		b.WriteString("# TYPE http_server_requests_total counter\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "http_server_requests_total{%s} %d\n", labels(k), requests[k])
		}
		b.WriteByte('\n')

		b.WriteString("# HELP http_server_request_duration_seconds Duration of HTTP requests in seconds.\n")
		b.WriteString("# TYPE http_server_request_duration_seconds histogram\n")
		for _, k := range keys {
			writeHistogram(&b, "http_server_request_duration_seconds", labels(k), durations[k])
		}
		b.WriteByte('\n')

		b.WriteString("# HELP http_server_active_requests Number of active HTTP requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n\n", p.ActiveRequests())

		b.WriteString("# HELP annotator_events_total Annotation workflow events.\n")
		b.WriteString("# TYPE annotator_events_total counter\n")
		for _, k := range sortedKeys(events) {
			fmt.Fprintf(&b, "annotator_events_total{event=%q} %d\n", k, events[k])
		}

		return c.String(http.StatusOK, b.String())
	}
}

func labels(key string) string {
	parts := strings.SplitN(key, "|", 3)
	if len(parts) != 3 {
		return ""
	}
	return fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	if h == nil {
		return
	}
	cum := h.cumulativeBuckets()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, h.Count())
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, h.Count())
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
