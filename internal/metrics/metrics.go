// ABOUTME: Prometheus collectors for service operations, oracle calls and HTTP traffic
// ABOUTME: Implements the service and keyring observer interfaces

package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/cose-gateway/internal/service"
)

const namespace = "cose_gateway"

// Metrics holds all application metrics.
type Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	oracleCallsTotal  *prometheus.CounterVec
	oracleDuration    *prometheus.HistogramVec
	payloadBytesTotal *prometheus.CounterVec
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates metrics registered on a fresh registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry creates metrics registered on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		operationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Service operations by method and outcome",
		}, []string{"method", "outcome"}),
		operationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Service operation latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		oracleCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_calls_total",
			Help:      "Key derivation oracle calls by operation and outcome",
		}, []string{"op", "outcome"}),
		oracleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_call_duration_seconds",
			Help:      "Key derivation oracle call latency",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"op"}),
		payloadBytesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_bytes_total",
			Help:      "Payload and DEK bytes written per namespace",
		}, []string{"namespace"}),
		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by route and status",
		}, []string{"route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP API request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		registry: reg,
	}
}

// ObserveOperation implements service.Observer.
func (m *Metrics) ObserveOperation(method string, d time.Duration, err error) {
	m.operationsTotal.WithLabelValues(method, service.Kind(err)).Inc()
	m.operationDuration.WithLabelValues(method).Observe(d.Seconds())
}

// AddPayloadBytes implements service.Observer.
func (m *Metrics) AddPayloadBytes(ns string, n int) {
	if n > 0 {
		m.payloadBytesTotal.WithLabelValues(ns).Add(float64(n))
	}
}

// ObserveOracleCall implements keyring.Observer.
func (m *Metrics) ObserveOracleCall(op string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.oracleCallsTotal.WithLabelValues(op, outcome).Inc()
	m.oracleDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordHTTPRequest records an HTTP API request. When ctx carries a sampled
// span its trace id is attached as an exemplar.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, route string, status int, d time.Duration) {
	counter := m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(status))
	hist := m.httpDuration.WithLabelValues(route)
	if ex := getExemplar(ctx); ex != nil {
		counter.(prometheus.ExemplarAdder).AddWithExemplar(1, ex)
		hist.(prometheus.ExemplarObserver).ObserveWithExemplar(d.Seconds(), ex)
		return
	}
	counter.Inc()
	hist.Observe(d.Seconds())
}

// RegisterGauge exposes a value computed on scrape, such as the replay
// cache size.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func getExemplar(ctx context.Context) prometheus.Labels {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String()}
}
