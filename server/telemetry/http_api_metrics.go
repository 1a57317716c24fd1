package telemetry

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	httpRequestCounterName  = "apksignd.http.request.counter"
	httpResponseCounterName = "apksignd.http.response.counter"
	httpRequestDurationName = "apksignd.http.request.duration.ms"
)

// WrappedResponseWriter is a wrapper for http.ResponseWriter that allows the
// written HTTP status code to be captured for metrics reporting or logging purposes.
type WrappedResponseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

// WrapResponseWriter wraps original http.ResponseWriter
func WrapResponseWriter(w http.ResponseWriter) *WrappedResponseWriter {
	return &WrappedResponseWriter{ResponseWriter: w}
}

// Status returns response status
func (rw *WrappedResponseWriter) Status() int {
	return rw.status
}

// WriteHeader wraps http.ResponseWriter.WriteHeader method
func (rw *WrappedResponseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}

	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
	rw.wroteHeader = true
}

// HTTPMiddleware handler used to collect metrics of every request/response coming to the API.
// Also adds request tracing (logging).
type HTTPMiddleware struct {
	ctx context.Context
	// all HTTP requests
	httpRequestCounter metric.Int64Counter
	// all HTTP responses by status code
	httpResponseCounter metric.Int64Counter
	// all HTTP request durations
	httpRequestDuration metric.Int64Histogram
}

// NewMetricsMiddleware creates a new HTTPMiddleware
func NewMetricsMiddleware(ctx context.Context, meter metric.Meter) (*HTTPMiddleware, error) {
	httpRequestCounter, err := meter.Int64Counter(httpRequestCounterName, metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}
	httpResponseCounter, err := meter.Int64Counter(httpResponseCounterName, metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}
	httpRequestDuration, err := meter.Int64Histogram(httpRequestDurationName, metric.WithUnit("milliseconds"))
	if err != nil {
		return nil, err
	}

	return &HTTPMiddleware{
		ctx:                 ctx,
		httpRequestCounter:  httpRequestCounter,
		httpResponseCounter: httpResponseCounter,
		httpRequestDuration: httpRequestDuration,
	}, nil
}

// Handler logs every request and response and adds the, to metrics.
func (m *HTTPMiddleware) Handler(h http.Handler) http.Handler {
	fn := func(rw http.ResponseWriter, r *http.Request) {
		reqStart := time.Now()
		log.Tracef("HTTP request %s: %s %s", r.RemoteAddr, r.Method, r.URL.Path)

		m.httpRequestCounter.Add(m.ctx, 1, metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("endpoint", r.URL.Path)))

		w := WrapResponseWriter(rw)
		h.ServeHTTP(w, r)

		if w.Status() >= 400 {
			log.Debugf("HTTP response %s: %s %s status %d", r.RemoteAddr, r.Method, r.URL.Path, w.Status())
		}

		m.httpResponseCounter.Add(m.ctx, 1, metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("endpoint", r.URL.Path),
			attribute.Int("code", w.Status())))

		reqTook := time.Since(reqStart)
		m.httpRequestDuration.Record(m.ctx, reqTook.Milliseconds(), metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("endpoint", r.URL.Path)))
	}

	return http.HandlerFunc(fn)
}
