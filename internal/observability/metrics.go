package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the outbox relay. It implements
// the relay's MetricsRecorder interface so it can be handed to the enqueuer
// and dispatcher directly. All counters and histograms are registered via
// promauto for automatic registration with the default Prometheus registry.
type Metrics struct {
	// EnvelopesEnqueued counts envelopes added to units of work.
	EnvelopesEnqueued prometheus.Counter

	// EnvelopesPublished counts envelopes delivered to the broker and marked dispatched.
	EnvelopesPublished prometheus.Counter

	// CyclesTotal counts completed dispatch cycles.
	CyclesTotal prometheus.Counter

	// CycleErrors counts dispatch cycles aborted by a storage failure, labeled by stage.
	CycleErrors *prometheus.CounterVec

	// CycleDuration observes dispatch cycle duration in seconds.
	CycleDuration prometheus.Histogram

	// EnvelopesPerCycle observes the number of envelopes published per cycle.
	EnvelopesPerCycle prometheus.Histogram

	// PublishFailures counts broker publish failures, labeled by topic.
	PublishFailures *prometheus.CounterVec

	// WakesAccepted counts out-of-band wake signals accepted by the dispatcher.
	WakesAccepted prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		EnvelopesEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_enqueued_total",
			Help:      "Total number of envelopes enqueued into units of work",
		}),
		EnvelopesPublished: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_published_total",
			Help:      "Total number of envelopes published and marked dispatched",
		}),
		CyclesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_cycles_total",
			Help:      "Total number of completed dispatch cycles",
		}),
		CycleErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_cycle_errors_total",
			Help:      "Total number of dispatch cycles aborted by a storage failure",
		}, []string{"stage"}),
		CycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_cycle_duration_seconds",
			Help:      "Duration of dispatch cycles in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		EnvelopesPerCycle: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "envelopes_per_cycle",
			Help:      "Number of envelopes published per dispatch cycle",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		PublishFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Total number of broker publish failures by topic",
		}, []string{"topic"}),
		WakesAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wakes_accepted_total",
			Help:      "Total number of wake signals accepted by the dispatcher",
		}),
	}
}

// RecordEnqueued records envelopes added to a unit of work.
func (m *Metrics) RecordEnqueued(count int) {
	m.EnvelopesEnqueued.Add(float64(count))
}

// RecordCycle records a completed dispatch cycle.
func (m *Metrics) RecordCycle(published int, duration time.Duration) {
	m.CyclesTotal.Inc()
	m.EnvelopesPublished.Add(float64(published))
	m.EnvelopesPerCycle.Observe(float64(published))
	m.CycleDuration.Observe(duration.Seconds())
}

// RecordCycleError records a dispatch cycle aborted by a storage failure.
func (m *Metrics) RecordCycleError(stage string) {
	m.CycleErrors.WithLabelValues(stage).Inc()
}

// RecordPublishFailure records a broker publish failure for a topic.
func (m *Metrics) RecordPublishFailure(topic string) {
	m.PublishFailures.WithLabelValues(topic).Inc()
}

// RecordWake records an accepted wake signal.
func (m *Metrics) RecordWake() {
	m.WakesAccepted.Inc()
}
