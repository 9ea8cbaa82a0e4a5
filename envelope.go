package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Format tags recorded on envelopes. The format describes how Data was
// serialized; it is carried to the broker as-is and never interpreted here.
const (
	// FormatJSON is the default payload encoding.
	FormatJSON = "json"
)

// Envelope represents one outgoing message stored in the outbox table.
// All fields except ProcessedAt are immutable after creation. ProcessedAt
// transitions exactly once, from nil to a concrete timestamp, when the
// dispatcher has published the envelope and committed the mark.
type Envelope struct {
	// ID is the globally unique message identifier. Consumers use it to
	// deduplicate redelivered messages.
	ID uuid.UUID

	// CorrelationID causally links related messages. Set by the caller,
	// may be empty.
	CorrelationID string

	// Topic is the destination channel name.
	Topic string

	// Key is the partition/routing key, typically an aggregate identifier.
	Key string

	// Type is the logical message type name.
	Type string

	// Format identifies the payload encoding (e.g. "json").
	Format string

	// Data is the serialized payload.
	Data []byte

	// OccurredAt is the creation timestamp, used for ordering within a
	// dispatch scan.
	OccurredAt time.Time

	// ProcessedAt is nil while the envelope is undispatched.
	ProcessedAt *time.Time
}

// EnvelopeOption configures an envelope at creation time.
type EnvelopeOption func(*Envelope)

// WithEnvelopeID sets the envelope identifier.
// If not provided, a new UUID is generated.
func WithEnvelopeID(id uuid.UUID) EnvelopeOption {
	return func(e *Envelope) {
		e.ID = id
	}
}

// WithCorrelationID sets the correlation identifier linking this envelope to
// related messages.
func WithCorrelationID(correlationID string) EnvelopeOption {
	return func(e *Envelope) {
		e.CorrelationID = correlationID
	}
}

// WithOccurredAt sets the creation timestamp.
// If not provided, the current UTC time is used.
func WithOccurredAt(occurredAt time.Time) EnvelopeOption {
	return func(e *Envelope) {
		e.OccurredAt = occurredAt
	}
}

// NewEnvelope creates an undispatched envelope for the given destination and
// payload.
func NewEnvelope(topic, key, msgType, format string, data []byte, opts ...EnvelopeOption) *Envelope {
	e := &Envelope{
		ID:         uuid.New(),
		Topic:      topic,
		Key:        key,
		Type:       msgType,
		Format:     format,
		Data:       data,
		OccurredAt: time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Dispatched reports whether the envelope has been marked dispatched.
func (e *Envelope) Dispatched() bool {
	return e.ProcessedAt != nil
}
