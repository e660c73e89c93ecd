package redelivery

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	attempts  *prometheus.CounterVec
	retries   *prometheus.CounterVec
	recovered *prometheus.CounterVec
	committed *prometheus.CounterVec
	waits     *prometheus.HistogramVec
}

// NewMetrics registers the engine collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "redelivery_attempts_total",
			Help: "Total number of handler invocations over a working set",
		}, []string{"topic"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "redelivery_retries_total",
			Help: "Total number of backoff retries scheduled",
		}, []string{"topic"}),
		recovered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "redelivery_recovered_total",
			Help: "Total number of messages sent to a dead-letter destination",
		}, []string{"topic", "kind"}),
		committed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "redelivery_committed_messages_total",
			Help: "Total number of messages whose offsets were committed",
		}, []string{"topic"}),
		waits: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "redelivery_backoff_wait_seconds",
			Help:    "Backoff delay applied before a retry",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"}),
	}
}

func (m *Metrics) attempt(topic string) {
	if m != nil {
		m.attempts.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) retry(topic string, wait time.Duration) {
	if m != nil {
		m.retries.WithLabelValues(topic).Inc()
		m.waits.WithLabelValues(topic).Observe(wait.Seconds())
	}
}

func (m *Metrics) recover(topic string, kind Kind) {
	if m != nil {
		m.recovered.WithLabelValues(topic, kind.String()).Inc()
	}
}

func (m *Metrics) commit(topic string, n int) {
	if m != nil && n > 0 {
		m.committed.WithLabelValues(topic).Add(float64(n))
	}
}
