// Package telemetry instruments the gateway with request duration metrics
// and slow-request logging.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"feedsync/pkg/logger"
)

var slowThreshold = 200 * time.Millisecond

var requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "feedsync_http_request_duration_seconds",
	Help:    "Gateway request latency by route template.",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "route", "status"})

func init() {
	prometheus.MustRegister(requestDuration)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware records per-request latency and logs anything slower than the
// threshold. Route templates keep the label cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		requestDuration.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Observe(elapsed.Seconds())

		if elapsed > slowThreshold {
			logger.Warn("slow_request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "elapsed_ms", elapsed.Milliseconds())
		}
	})
}
