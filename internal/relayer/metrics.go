package relayer

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry         *prometheus.Registry
	fundRequests     *prometheus.CounterVec
	fundDuration     prometheus.Histogram
	idempotencyCache prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "claimcode_relayer_fund_requests_total",
		Help: "Funding requests handled by the relayer",
	}, []string{"status"})

	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "claimcode_relayer_fund_duration_seconds",
		Help:    "Time to confirm the funding transfers for a recipient",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40},
	})

	cache := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "claimcode_relayer_idempotency_records",
		Help: "Idempotency records currently held in memory",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(requests, duration, cache)

	return &metricsRegistry{
		registry:         r,
		fundRequests:     requests,
		fundDuration:     duration,
		idempotencyCache: cache,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incFund(status string) {
	m.fundRequests.WithLabelValues(status).Inc()
}

func (m *metricsRegistry) observeFund(start time.Time) {
	m.fundDuration.Observe(time.Since(start).Seconds())
}

func (m *metricsRegistry) setCacheSize(n int) {
	m.idempotencyCache.Set(float64(n))
}
