package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	fetchRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stock_oracle",
			Subsystem: "fetch",
			Name:      "requests_total",
			Help:      "Provider HTTP calls by outcome (ok, transient, permanent).",
		},
		[]string{"provider", "outcome"},
	)

	fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stock_oracle",
			Subsystem: "fetch",
			Name:      "request_duration_seconds",
			Help:      "Duration of provider HTTP calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"provider"},
	)

	parseAnomalies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stock_oracle",
			Subsystem: "fetch",
			Name:      "parse_anomalies_total",
			Help:      "Provider rows dropped during parsing.",
		},
		[]string{"provider"},
	)

	syncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stock_oracle",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Symbol sync runs by status.",
		},
		[]string{"status"},
	)

	syncPoints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stock_oracle",
			Subsystem: "sync",
			Name:      "points_total",
			Help:      "Points handled by sync, by kind (inserted, updated, rejected).",
		},
		[]string{"kind"},
	)

	predictionCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stock_oracle",
			Subsystem: "prediction",
			Name:      "cache_total",
			Help:      "Prediction cache lookups by result (hit, miss).",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		fetchRequests,
		fetchDuration,
		parseAnomalies,
		syncRuns,
		syncPoints,
		predictionCache,
		collectors.NewGoCollector(),
	)
}

// Handler exposes the registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordFetch(provider, outcome string, d time.Duration) {
	fetchRequests.WithLabelValues(provider, outcome).Inc()
	fetchDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func RecordAnomalies(provider string, n int) {
	if n > 0 {
		parseAnomalies.WithLabelValues(provider).Add(float64(n))
	}
}

func RecordSync(status string, inserted, updated, rejected int) {
	syncRuns.WithLabelValues(status).Inc()
	syncPoints.WithLabelValues("inserted").Add(float64(inserted))
	syncPoints.WithLabelValues("updated").Add(float64(updated))
	syncPoints.WithLabelValues("rejected").Add(float64(rejected))
}

func RecordCache(hit bool) {
	if hit {
		predictionCache.WithLabelValues("hit").Inc()
		return
	}
	predictionCache.WithLabelValues("miss").Inc()
}
