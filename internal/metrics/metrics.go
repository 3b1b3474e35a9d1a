// Package metrics exposes Prometheus collectors for the store. All methods are safe on a nil
// *Metrics so that components can run without instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "appstore"

// Metrics holds the store collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	submissions  *prometheus.CounterVec
	purchases    *prometheus.CounterVec
	signSeconds  prometheus.Histogram
	reaped       prometheus.Counter
	httpRequests *prometheus.CounterVec
	httpSeconds  *prometheus.HistogramVec
}

// New registers the store collectors plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "submissions_total",
			Help: "Package submissions by result.",
		}, []string{"result"}),
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "purchases_total",
			Help: "Download issuances by result.",
		}, []string{"result"}),
		signSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "sign_duration_seconds",
			Help:    "Time spent producing a signed package copy.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "downloads_reaped_total",
			Help: "Expired or orphaned download artifacts removed.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "Client API requests.",
		}, []string{"route", "method", "code"}),
		httpSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "Client API latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.submissions, m.purchases, m.signSeconds, m.reaped, m.httpRequests, m.httpSeconds,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Result turns an operation error into a low-cardinality label.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

// Submission counts a submission outcome.
func (m *Metrics) Submission(result string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(result).Inc()
}

// Purchase counts an issuance outcome.
func (m *Metrics) Purchase(result string) {
	if m == nil {
		return
	}
	m.purchases.WithLabelValues(result).Inc()
}

// ObserveSign records the duration of one signing pass.
func (m *Metrics) ObserveSign(d time.Duration) {
	if m == nil {
		return
	}
	m.signSeconds.Observe(d.Seconds())
}

// Reaped adds n removed artifacts.
func (m *Metrics) Reaped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reaped.Add(float64(n))
}

// ObserveHTTP records one client API request.
func (m *Metrics) ObserveHTTP(route, method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpSeconds.WithLabelValues(route, method).Observe(d.Seconds())
}
