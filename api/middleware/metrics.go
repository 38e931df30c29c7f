package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/openalpha/stockex/metrics"
)

// statusRecorder captures the response status for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Instrument counts requests and observes latency under a stable route
// label (the mux pattern, not the raw path).
func Instrument(route string, next http.Handler) http.Handler {
	m := metrics.GetCollector()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.APIRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		m.APILatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
