package outbox

import "context"

// Publisher sends envelope payloads to the message broker. The kafka
// subpackage provides the production implementation.
//
// Publish may be called more than once for the same envelope; consumers must
// deduplicate by envelope id. A nil return means the broker acknowledged the
// message; any error means the envelope stays undispatched and is retried.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}
