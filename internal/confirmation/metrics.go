package confirmation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report confirmation
// activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	created      prometheus.Counter
	responded    *prometheus.CounterVec
	executed     *prometheus.CounterVec
	expired      prometheus.Counter
	responseTime prometheus.Histogram
}

// MustNewMetrics constructs collectors on reg. Registration errors
// panic, mirroring promauto semantics, except AlreadyRegistered which
// reuses the registered collector so a second wiring keeps recording
// into the exported series.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	register := func(collector prometheus.Collector) prometheus.Collector {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return already.ExistingCollector
			}
			panic(err)
		}
		return collector
	}

	return &Metrics{
		created: register(prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aide",
			Subsystem: "confirmation",
			Name:      "flows_created_total",
			Help:      "Confirmation flows created.",
		})).(prometheus.Counter),
		responded: register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aide",
			Subsystem: "confirmation",
			Name:      "flows_responded_total",
			Help:      "Confirmation responses by decision.",
		}, []string{"decision"})).(*prometheus.CounterVec),
		executed: register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aide",
			Subsystem: "confirmation",
			Name:      "flows_executed_total",
			Help:      "Confirmed actions executed, by outcome.",
		}, []string{"outcome"})).(*prometheus.CounterVec),
		expired: register(prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aide",
			Subsystem: "confirmation",
			Name:      "flows_expired_total",
			Help:      "Confirmation flows that expired before a response.",
		})).(prometheus.Counter),
		responseTime: register(prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aide",
			Subsystem: "confirmation",
			Name:      "response_seconds",
			Help:      "Time from flow creation to user response.",
			Buckets:   prometheus.ExponentialBuckets(1, 3, 10),
		})).(prometheus.Histogram),
	}
}

func (m *Metrics) flowCreated() {
	if m == nil {
		return
	}
	m.created.Inc()
}

func (m *Metrics) flowResponded(confirmed bool, responseTime time.Duration) {
	if m == nil {
		return
	}
	decision := "rejected"
	if confirmed {
		decision = "confirmed"
	}
	m.responded.WithLabelValues(decision).Inc()
	m.responseTime.Observe(responseTime.Seconds())
}

func (m *Metrics) flowExecuted(success bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if success {
		outcome = "executed"
	}
	m.executed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) flowsExpired(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.expired.Add(float64(count))
}
