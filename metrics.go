package outbox

import "time"

// MetricsRecorder receives measurements from the enqueuer and dispatcher.
// The internal/observability package provides a Prometheus implementation;
// NopMetrics is used when no recorder is configured.
type MetricsRecorder interface {
	// RecordEnqueued counts envelopes added to a unit of work.
	RecordEnqueued(count int)

	// RecordCycle records a completed dispatch cycle: how many envelopes
	// were published and how long the cycle took.
	RecordCycle(published int, duration time.Duration)

	// RecordCycleError counts a dispatch cycle aborted by a storage failure,
	// labeled by the stage that failed (begin, select, mark, commit).
	RecordCycleError(stage string)

	// RecordPublishFailure counts a broker publish failure for a topic.
	RecordPublishFailure(topic string)

	// RecordWake counts an out-of-band wake signal accepted by the dispatcher.
	RecordWake()
}

// NopMetrics is a MetricsRecorder that discards all measurements.
type NopMetrics struct{}

// RecordEnqueued implements MetricsRecorder.
func (NopMetrics) RecordEnqueued(int) {}

// RecordCycle implements MetricsRecorder.
func (NopMetrics) RecordCycle(int, time.Duration) {}

// RecordCycleError implements MetricsRecorder.
func (NopMetrics) RecordCycleError(string) {}

// RecordPublishFailure implements MetricsRecorder.
func (NopMetrics) RecordPublishFailure(string) {}

// RecordWake implements MetricsRecorder.
func (NopMetrics) RecordWake() {}
