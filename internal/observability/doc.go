// Package observability provides logging and metrics support for the outbox
// relay.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for enqueue, dispatch cycles, and broker publishes
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    Output:    "stdout",
//	    AddSource: true,
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("topic", topic).Msg("envelope published")
//
// Add envelope context to a logger:
//
//	logger = observability.WithEnvelopeContext(logger, envelopeID, topic, messageType)
//
// # Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics("outbox")
//
// Metrics implements the relay's MetricsRecorder interface, so it plugs into
// the enqueuer and dispatcher directly:
//
//	dispatcher := outbox.NewDispatcher(store, publisher,
//	    outbox.WithDispatcherMetrics(metrics))
//
// # Standard Fields
//
// Common fields used across the relay:
//
//   - component: Relay component emitting the entry (dispatcher, publisher)
//   - envelope_id: Envelope identifier
//   - topic: Destination topic
//   - message_type: Registered message type name
//   - correlation_id: Caller-supplied correlation identifier
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
