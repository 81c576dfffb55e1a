// Package metrics defines the Prometheus collectors exported by decklens.
//
// Collectors are registered on an injected registry so tests and embedders
// never touch the global default. Every recording method is safe on a nil
// *Metrics, which is how components run without instrumentation.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every decklens collector.
type Metrics struct {
	BreakerTransitionsTotal *prometheus.CounterVec
	BreakerAdjustment       *prometheus.GaugeVec
	FallbackInvocations     *prometheus.CounterVec
	CacheLookupsTotal       *prometheus.CounterVec
	RemoteCallsTotal        *prometheus.CounterVec
	RateLimitRejections     *prometheus.CounterVec
	JobTransitionsTotal     *prometheus.CounterVec
	JobDurationSeconds      *prometheus.HistogramVec
	RetentionDeletedTotal   *prometheus.CounterVec
	RecognitionAttempts     *prometheus.CounterVec
}

// New registers the collectors on reg under namespace.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "decklens"
	}
	factory := promauto.With(reg)
	return &Metrics{
		BreakerTransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Hard state transitions of fallback engine breakers",
		}, []string{"engine", "from", "to"}),
		BreakerAdjustment: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_adjustment",
			Help:      "Current soft adjustment subtracted from the fallback threshold",
		}, []string{"engine"}),
		FallbackInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_invocations_total",
			Help:      "Fallback recognizer decisions by outcome",
		}, []string{"engine", "outcome"}), // success, failure, skipped
		CacheLookupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolution_lookups_total",
			Help:      "Resolution lookups by tier and outcome",
		}, []string{"tier", "outcome"}),
		RemoteCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_remote_calls_total",
			Help:      "Remote catalog calls by outcome",
		}, []string{"outcome"}),
		RateLimitRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the sliding window limiter",
		}, []string{"key"}),
		JobTransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_transitions_total",
			Help:      "Job state transitions",
		}, []string{"state"}),
		JobDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Pipeline execution duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}, []string{"state", "used_fallback"}),
		RetentionDeletedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deleted_total",
			Help:      "Records reclaimed by the retention sweep",
		}, []string{"class"}),
		RecognitionAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_attempts_total",
			Help:      "Recognizer invocations by engine and outcome",
		}, []string{"engine", "outcome"}),
	}
}

func (m *Metrics) BreakerTransition(engine, from, to string) {
	if m == nil {
		return
	}
	m.BreakerTransitionsTotal.WithLabelValues(engine, from, to).Inc()
}

func (m *Metrics) SetBreakerAdjustment(engine string, value float64) {
	if m == nil {
		return
	}
	m.BreakerAdjustment.WithLabelValues(engine).Set(value)
}

func (m *Metrics) Fallback(engine, outcome string) {
	if m == nil {
		return
	}
	m.FallbackInvocations.WithLabelValues(engine, outcome).Inc()
}

func (m *Metrics) Lookup(tier, outcome string) {
	if m == nil {
		return
	}
	m.CacheLookupsTotal.WithLabelValues(tier, outcome).Inc()
}

func (m *Metrics) RemoteCall(outcome string) {
	if m == nil {
		return
	}
	m.RemoteCallsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RateLimited(key string) {
	if m == nil {
		return
	}
	m.RateLimitRejections.WithLabelValues(key).Inc()
}

func (m *Metrics) JobTransition(state string) {
	if m == nil {
		return
	}
	m.JobTransitionsTotal.WithLabelValues(state).Inc()
}

func (m *Metrics) ObserveJob(state string, usedFallback bool, d time.Duration) {
	if m == nil {
		return
	}
	m.JobDurationSeconds.WithLabelValues(state, strconv.FormatBool(usedFallback)).Observe(d.Seconds())
}

func (m *Metrics) RetentionDeleted(class string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RetentionDeletedTotal.WithLabelValues(class).Add(float64(n))
}

func (m *Metrics) Recognition(engine, outcome string) {
	if m == nil {
		return
	}
	m.RecognitionAttempts.WithLabelValues(engine, outcome).Inc()
}
