package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
)

// Metrics holds all Prometheus metrics for the billing service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	gatewayDuration *prometheus.HistogramVec
	gatewayErrors   *prometheus.CounterVec
	tokenRefreshes  *prometheus.CounterVec
	issuance        *prometheus.CounterVec
	batchRuns       *prometheus.CounterVec
	reconciled      *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		gatewayDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "boletos_gateway_duration_seconds",
				Help:    "Duration of bank gateway calls by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		gatewayErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boletos_gateway_errors_total",
				Help: "Bank gateway failures by operation and error kind.",
			},
			[]string{"operation", "kind"},
		),
		tokenRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boletos_token_refreshes_total",
				Help: "OAuth2 token grants by outcome.",
			},
			[]string{"outcome"},
		),
		issuance: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boletos_issuance_total",
				Help: "Issuance attempts by outcome.",
			},
			[]string{"outcome"},
		),
		batchRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boletos_batch_runs_total",
				Help: "Finalized batch runs by status.",
			},
			[]string{"status"},
		),
		reconciled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boletos_reconciled_total",
				Help: "Reconciliation outcomes per boleto.",
			},
			[]string{"outcome"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boletos_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boletos_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// RecordGatewayCall records the duration of a gateway operation.
func (m *Metrics) RecordGatewayCall(operation string, d time.Duration) {
	m.gatewayDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrGatewayError increments the gateway error counter.
func (m *Metrics) IncrGatewayError(operation, kind string) {
	m.gatewayErrors.WithLabelValues(operation, kind).Inc()
}

// IncrTokenRefresh counts one token grant.
func (m *Metrics) IncrTokenRefresh(outcome string) {
	m.tokenRefreshes.WithLabelValues(outcome).Inc()
}

// IncrIssuance counts one issuance attempt.
func (m *Metrics) IncrIssuance(outcome string) {
	m.issuance.WithLabelValues(outcome).Inc()
}

// IncrBatchRun counts one finalized batch run.
func (m *Metrics) IncrBatchRun(status domain.BatchStatus) {
	m.batchRuns.WithLabelValues(string(status)).Inc()
}

// IncrReconciled counts one reconciliation outcome.
func (m *Metrics) IncrReconciled(outcome string) {
	m.reconciled.WithLabelValues(outcome).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// GetBillingSnapshot returns cumulative counters for GET /v1/metrics/billing.
func (m *Metrics) GetBillingSnapshot() *domain.BillingMetrics {
	hits := getCounterValue(m.cacheHits, "status")
	misses := getCounterValue(m.cacheMisses, "status")
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	var batches float64
	for _, s := range []domain.BatchStatus{domain.BatchSuccess, domain.BatchPartial, domain.BatchError} {
		batches += getCounterValue(m.batchRuns, string(s))
	}

	return &domain.BillingMetrics{
		Registered:       int64(getCounterValue(m.issuance, "registered")),
		RegisterFailures: int64(getCounterValue(m.issuance, "rejected") + getCounterValue(m.issuance, "error")),
		Unconfirmed:      int64(getCounterValue(m.issuance, "unconfirmed")),
		TokenRefreshes:   int64(getCounterValue(m.tokenRefreshes, "success")),
		GatewayErrors:    int64(sumCounter(m.gatewayErrors)),
		StatusCacheHit:   hitRate,
		BatchRuns:        int64(batches),
		Period:           "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

// sumCounter adds every series of a CounterVec regardless of labels.
func sumCounter(cv *prometheus.CounterVec) float64 {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()
	var total float64
	for metric := range ch {
		m := &dto.Metric{}
		if err := metric.Write(m); err == nil && m.Counter != nil {
			total += m.Counter.GetValue()
		}
	}
	return total
}
