package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_count",
			Help: "HTTP request count",
		},
		[]string{"method", "endpoint", "http_status"},
	)

	httpRequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_latency_sec",
			Help: "HTTP request latency histogram",
		},
		[]string{"method", "endpoint", "http_status"},
	)

	whatsappRequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "whatsapp_api_request_latency_sec",
			Help: "WhatsApp API request latency histogram",
		},
		[]string{"endpoint"},
	)

	publishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amqp_publish_total",
			Help: "Messages and events published to the vumi exchange",
		},
		[]string{"routing_key"},
	)

	dedupHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dedup_hits_total",
			Help: "Inbound messages dropped as duplicates",
		},
	)

	dedupMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dedup_misses_total",
			Help: "Inbound messages published as first-seen",
		},
	)

	reapedClaimsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reaped_claims_total",
			Help: "Expired conversation claims turned into close messages",
		},
	)
)

// RecordHTTPRequest records one handled HTTP request.
func RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, endpoint, code).Inc()
	httpRequestLatency.WithLabelValues(method, endpoint, code).Observe(duration.Seconds())
}

// ObserveWhatsAppRequest records one Turn API call by endpoint.
func ObserveWhatsAppRequest(endpoint string, duration time.Duration) {
	whatsappRequestLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordPublish records one publish to the bus.
func RecordPublish(routingKey string) {
	publishesTotal.WithLabelValues(routingKey).Inc()
}

// RecordDedupHit records an inbound duplicate.
func RecordDedupHit() {
	dedupHitsTotal.Inc()
}

// RecordDedupMiss records a first-seen inbound message.
func RecordDedupMiss() {
	dedupMissesTotal.Inc()
}

// RecordReapedClaims records claims closed by the reaper.
func RecordReapedClaims(n int) {
	reapedClaimsTotal.Add(float64(n))
}

// Handler returns the Prometheus metrics handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
