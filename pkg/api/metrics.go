package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spin_gpt",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status.",
	}, []string{"route", "method", "code"})

	metricRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "spin_gpt",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration, including the full stream for chat routes.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10),
	}, []string{"route"})

	metricActiveStreams = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "spin_gpt",
		Subsystem: "http",
		Name:      "active_streams",
		Help:      "Open chat streams by transport.",
	}, []string{"transport"})

	metricRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "spin_gpt",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Chat requests rejected by the per-client rate limiter.",
	})
)

func recordRequest(route, method string, status int, elapsed time.Duration) {
	metricRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	metricRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}
