// Package metrics exposes Prometheus collectors for admission decisions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gatekeep"

// Outcome label values.
const (
	OutcomeAdmitted = "admitted"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

type Metrics struct {
	decisions      *prometheus.CounterVec
	checkDuration  prometheus.Histogram
	encodingErrors *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration, which keeps tests independent of the default registry.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Rate limit checks by outcome.",
		}, []string{"outcome"}),
		checkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_duration_seconds",
			Help:      "Time spent deciding admission, including waiting for the store.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
		}),
		encodingErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "header_encoding_errors_total",
			Help:      "Rate limit headers dropped because their value was invalid.",
		}, []string{"header"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.decisions, m.checkDuration, m.encodingErrors} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// ObserveCheck records one check with its outcome label.
func (m *Metrics) ObserveCheck(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
	m.checkDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) HeaderEncodingFailed(header string) {
	if m == nil {
		return
	}
	m.encodingErrors.WithLabelValues(header).Inc()
}

// RegisterTrackedKeys exposes the size of a store as a gauge.
func RegisterTrackedKeys(reg prometheus.Registerer, size func() int) error {
	return reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracked_keys",
		Help:      "Client keys currently held by the in-memory window store.",
	}, func() float64 {
		return float64(size())
	}))
}
