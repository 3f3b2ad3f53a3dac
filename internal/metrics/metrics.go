package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	requestCounter     *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	attemptCounter     *prometheus.CounterVec
	invalidCounter     prometheus.Counter
	activeCredentials  prometheus.Gauge
	inflightRequests   prometheus.Gauge
	waitingRequests    prometheus.Gauge
	invalidFileReloads *prometheus.CounterVec
)

func ensureRegistered() {
	registerOnce.Do(func() {
		requestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagegw",
			Name:      "requests_total",
			Help:      "Total number of processed requests partitioned by route and status class.",
		}, []string{"route", "status_class"})

		requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "imagegw",
			Name:      "request_latency_seconds",
			Help:      "Observed latency of proxied requests.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"route"})

		attemptCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagegw",
			Name:      "upstream_attempts_total",
			Help:      "Upstream calls partitioned by classified outcome.",
		}, []string{"outcome"})

		invalidCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "imagegw",
			Name:      "invalid_credentials_total",
			Help:      "Credentials removed from rotation after the upstream rejected them.",
		})

		activeCredentials = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "imagegw",
			Name:      "active_credentials",
			Help:      "Credentials currently in the rotation pool.",
		})

		inflightRequests = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "imagegw",
			Name:      "inflight_requests",
			Help:      "Requests holding a concurrency permit.",
		})

		waitingRequests = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "imagegw",
			Name:      "waiting_requests",
			Help:      "Requests queued for a concurrency permit.",
		})

		invalidFileReloads = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagegw",
			Name:      "invalid_file_reloads_total",
			Help:      "Reloads of the invalid credential record partitioned by result (success/failure).",
		}, []string{"result"})

		prometheus.MustRegister(
			requestCounter,
			requestDuration,
			attemptCounter,
			invalidCounter,
			activeCredentials,
			inflightRequests,
			waitingRequests,
			invalidFileReloads,
		)
	})
}

// ObserveRequest records metrics for an incoming request.
func ObserveRequest(route string, status int, latency time.Duration) {
	ensureRegistered()
	statusClass := fmt.Sprintf("%dxx", status/100)
	if route == "" {
		route = "unknown"
	}
	requestCounter.WithLabelValues(route, statusClass).Inc()
	requestDuration.WithLabelValues(route).Observe(latency.Seconds())
}

// ObserveAttempt counts one upstream call by outcome.
func ObserveAttempt(outcome string) {
	ensureRegistered()
	if outcome == "" {
		outcome = "unknown"
	}
	attemptCounter.WithLabelValues(outcome).Inc()
}

// ObserveInvalidCredential counts a credential leaving rotation.
func ObserveInvalidCredential() {
	ensureRegistered()
	invalidCounter.Inc()
}

// SetActiveCredentials reports the current pool size.
func SetActiveCredentials(n int) {
	ensureRegistered()
	activeCredentials.Set(float64(n))
}

// SetConcurrency reports permit holders and queued waiters.
func SetConcurrency(inflight, waiting int) {
	ensureRegistered()
	inflightRequests.Set(float64(inflight))
	waitingRequests.Set(float64(waiting))
}

// ObserveInvalidFileReload increments success/failure counters for record reloads.
func ObserveInvalidFileReload(success bool) {
	ensureRegistered()
	result := "failure"
	if success {
		result = "success"
	}
	invalidFileReloads.WithLabelValues(result).Inc()
}

// Handler exposes the metrics endpoint compatible with Prometheus scraping.
func Handler() http.Handler {
	ensureRegistered()
	return promhttp.Handler()
}
