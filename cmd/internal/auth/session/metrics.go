package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the session subsystem.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	issued         prometheus.Counter
	rotations      *prometheus.CounterVec
	rotateDuration prometheus.Histogram
	revocations    *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them on reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		issued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stockpad",
			Subsystem: "session",
			Name:      "issued_total",
			Help:      "Sessions issued at login or registration.",
		}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockpad",
			Subsystem: "session",
			Name:      "rotations_total",
			Help:      "Refresh rotations by result.",
		}, []string{"result"}),
		rotateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stockpad",
			Subsystem: "session",
			Name:      "rotate_duration_seconds",
			Help:      "Time spent in refresh rotation, including store round-trips.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockpad",
			Subsystem: "session",
			Name:      "revocations_total",
			Help:      "Refresh records cleared, by reason.",
		}, []string{"reason"}),
	}

	if reg != nil {
		reg.MustRegister(m.issued, m.rotations, m.rotateDuration, m.revocations)
	}
	return m
}

func (m *Metrics) incIssued() {
	if m == nil {
		return
	}
	m.issued.Inc()
}

func (m *Metrics) observeRotate(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(result).Inc()
	m.rotateDuration.Observe(d.Seconds())
}

func (m *Metrics) incRevoked(reason string) {
	if m == nil {
		return
	}
	m.revocations.WithLabelValues(reason).Inc()
}
