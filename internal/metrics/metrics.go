package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch kinds.
const (
	KindFeed   = "feed"
	KindDetail = "detail"
)

// Fetch outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allrisfeed_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "allrisfeed_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allrisfeed_upstream_fetches_total",
		Help: "Upstream fetches by kind (feed, detail) and outcome",
	}, []string{"kind", "outcome"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "allrisfeed_upstream_fetch_duration_seconds",
		Help:    "Upstream fetch duration in seconds, including retries",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	eventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "allrisfeed_events_enriched_total",
		Help: "Events emitted in enhanced feeds",
	})
)

// RecordRequest records one served HTTP request.
func RecordRequest(method, route string, statusCode int, duration time.Duration) {
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(statusCode),
	}
	requestsTotal.With(labels).Inc()
	requestDuration.With(labels).Observe(duration.Seconds())
}

// RecordFetch records one upstream fetch. Skipped fetches carry no duration.
func RecordFetch(kind, outcome string, duration time.Duration) {
	fetchesTotal.WithLabelValues(kind, outcome).Inc()
	if outcome != OutcomeSkipped {
		fetchDuration.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// RecordEvents adds n to the enriched event counter.
func RecordEvents(n int) {
	eventsTotal.Add(float64(n))
}

func Handler() http.Handler {
	return promhttp.Handler()
}
