package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	analysesTotal      *prometheus.CounterVec
	parseFallbackTotal *prometheus.CounterVec
	chatTurnsTotal     *prometheus.CounterVec
	modelDuration      *prometheus.HistogramVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lifeline",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lifeline",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lifeline",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	analysesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lifeline",
			Subsystem: "reading",
			Name:      "analyses_total",
			Help:      "Total palm analyses by mode and outcome.",
		},
		[]string{"service", "mode", "outcome"},
	)
	parseFallbackTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lifeline",
			Subsystem: "reading",
			Name:      "parse_fallback_total",
			Help:      "Total analyses whose model answer did not parse as sections.",
		},
		[]string{"service"},
	)
	chatTurnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lifeline",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Total chat turns by outcome.",
		},
		[]string{"service", "outcome"},
	)
	modelDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lifeline",
			Subsystem: "model",
			Name:      "call_duration_seconds",
			Help:      "Model call duration in seconds by operation.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		analysesTotal,
		parseFallbackTotal,
		chatTurnsTotal,
		modelDuration,
	)

	return &HTTPServerMetrics{
		registry:           registry,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
		requestInFlight:    requestInFlight,
		analysesTotal:      analysesTotal,
		parseFallbackTotal: parseFallbackTotal,
		chatTurnsTotal:     chatTurnsTotal,
		modelDuration:      modelDuration,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case path == "/v1/readings/analyze" || path == "/v1/readings/compare":
		return path
	case strings.HasPrefix(path, "/v1/readings/") && strings.HasSuffix(path, "/chat"):
		return "/v1/readings/{reading_id}/chat"
	case strings.HasPrefix(path, "/v1/readings/"):
		return "/v1/readings/{reading_id}"
	case strings.HasPrefix(path, "/v1/jobs/"):
		return "/v1/jobs/{job_id}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordAnalysis(service, mode string, fallback bool, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.analysesTotal.WithLabelValues(service, mode, outcome).Inc()
	if err == nil && fallback {
		m.parseFallbackTotal.WithLabelValues(service).Inc()
	}
}

func (m *HTTPServerMetrics) RecordChatTurn(service string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.chatTurnsTotal.WithLabelValues(service, outcome).Inc()
}

func (m *HTTPServerMetrics) ObserveModelCall(service, operation string, duration time.Duration) {
	m.modelDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
