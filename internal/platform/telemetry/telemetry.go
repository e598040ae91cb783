// Package telemetry records HTTP and HL7 operation metrics in process and
// serves them in the Prometheus text exposition format.
package telemetry

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// Config configures a Provider.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Disabled       bool

	// Operations maps route patterns (c.Path()) to the operation label of
	// hl7_operations_total. Routes not listed are only timed.
	Operations map[string]string
}

// durationBuckets are request duration boundaries in seconds.
var durationBuckets = []float64{
	0.001, 0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0, 30.0,
}

// Outcome labels for hl7_operations_total.
const (
	OutcomeOK          = "ok"
	OutcomeClientError = "client_error"
	OutcomeError       = "error"
)

type gaugeFunc struct {
	name, help string
	fn         func() float64
}

// Provider holds all metric state.
type Provider struct {
	cfg Config

	durations  *histogramStore // key: method|route|status
	operations *counterStore   // key: operation|outcome
	active     int64

	mu     sync.RWMutex
	gauges []gaugeFunc
}

func NewProvider(cfg Config) *Provider {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "hl7mapper"
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "0.0.0"
	}
	return &Provider{
		cfg:        cfg,
		durations:  newHistogramStore(durationBuckets),
		operations: newCounterStore(),
	}
}

// LabelsKey builds the key of a request duration histogram.
func LabelsKey(method, route string, status int) string {
	return method + "|" + route + "|" + strconv.Itoa(status)
}

// Outcome classifies a response status.
func Outcome(status int) string {
	switch {
	case status >= 500:
		return OutcomeError
	case status >= 400:
		return OutcomeClientError
	default:
		return OutcomeOK
	}
}

// CountOperation increments hl7_operations_total{operation,outcome}.
func (p *Provider) CountOperation(operation, outcome string) {
	p.operations.add(operation+"|"+outcome, 1)
}

// Operations returns the current value of hl7_operations_total.
func (p *Provider) Operations(operation, outcome string) int64 {
	return p.operations.get(operation + "|" + outcome)
}

// RequestDuration returns the histogram for one label set, or nil.
func (p *Provider) RequestDuration(method, route string, status int) *histogram {
	return p.durations.get(LabelsKey(method, route, status))
}

// ActiveRequests returns the number of requests in flight.
func (p *Provider) ActiveRequests() int64 {
	return atomic.LoadInt64(&p.active)
}

// RegisterGaugeFunc adds a gauge whose value is read at scrape time.
func (p *Provider) RegisterGaugeFunc(name, help string, fn func() float64) {
	p.mu.Lock()
	p.gauges = append(p.gauges, gaugeFunc{name: name, help: help, fn: fn})
	p.mu.Unlock()
}

// Middleware times every routed request and counts the mapped operations.
func (p *Provider) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if p.cfg.Disabled {
				return next(c)
			}

			atomic.AddInt64(&p.active, 1)
			start := time.Now()

			err := next(c)

			atomic.AddInt64(&p.active, -1)
			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			// label by route pattern; unmatched requests share one series
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			req := c.Request()
			p.durations.getOrCreate(LabelsKey(req.Method, route, status)).Observe(time.Since(start).Seconds())

			if op, ok := p.cfg.Operations[route]; ok {
				p.CountOperation(op, Outcome(status))
			}
			return err
		}
	}
}

// Handler serves GET /metrics.
func (p *Provider) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		b.WriteString("# HELP hl7mapper_build_info Build information.\n")
		b.WriteString("# TYPE hl7mapper_build_info gauge\n")
		fmt.Fprintf(&b, "hl7mapper_build_info{service=%q,version=%q} 1\n\n", p.cfg.ServiceName, p.cfg.ServiceVersion)

		name := "http_server_request_duration_seconds"
		fmt.Fprintf(&b, "# HELP %s Duration of HTTP requests in seconds.\n", name)
		fmt.Fprintf(&b, "# TYPE %s histogram\n", name)
		durations := p.durations.snapshot()
		for _, key := range sortedKeys(durations) {
			parts := strings.SplitN(key, "|", 3)
			labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
			writeHistogram(&b, name, labels, durations[key])
		}
		b.WriteByte('\n')

		b.WriteString("# HELP http_server_active_requests Number of active HTTP requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n\n", p.ActiveRequests())

		b.WriteString("# HELP hl7_operations_total HL7 operations by outcome.\n")
		b.WriteString("# TYPE hl7_operations_total counter\n")
		ops := p.operations.snapshot()
		for _, key := range sortedKeys(ops) {
			op, outcome, _ := strings.Cut(key, "|")
			fmt.Fprintf(&b, "hl7_operations_total{operation=%q,outcome=%q} %d\n", op, outcome, ops[key])
		}
		b.WriteByte('\n')

		p.mu.RLock()
		gauges := append([]gaugeFunc(nil), p.gauges...)
		p.mu.RUnlock()
		for _, g := range gauges {
			fmt.Fprintf(&b, "# HELP %s %s\n", g.name, g.help)
			fmt.Fprintf(&b, "# TYPE %s gauge\n", g.name)
			fmt.Fprintf(&b, "%s %s\n\n", g.name, strconv.FormatFloat(g.fn(), 'g', -1, 64))
		}

		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}
