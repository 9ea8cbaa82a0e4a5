package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Waker accepts out-of-band wake requests. *Dispatcher implements it.
type Waker interface {
	Wake() bool
}

// Enqueuer is the write-path entry point. It maps domain events to envelopes
// via the registry and stores them in the caller's unit of work. No broker
// I/O happens here; envelopes become durable when the unit of work commits.
//
// An Enqueuer is safe for concurrent use.
type Enqueuer struct {
	registry *Registry
	waker    Waker
	metrics  MetricsRecorder
	now      func() time.Time
}

// EnqueuerOption configures an Enqueuer.
type EnqueuerOption func(*Enqueuer)

// WithWaker connects the enqueuer to a dispatcher so that returned Notifiers
// can request immediate dispatch cycles. Without a waker, Notify is a no-op.
func WithWaker(w Waker) EnqueuerOption {
	return func(e *Enqueuer) {
		e.waker = w
	}
}

// WithEnqueueMetrics sets the metrics recorder.
func WithEnqueueMetrics(m MetricsRecorder) EnqueuerOption {
	return func(e *Enqueuer) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithEnqueueClock overrides the envelope timestamp source. Intended for
// tests.
func WithEnqueueClock(now func() time.Time) EnqueuerOption {
	return func(e *Enqueuer) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEnqueuer creates an Enqueuer backed by the given registry.
func NewEnqueuer(registry *Registry, opts ...EnqueuerOption) *Enqueuer {
	e := &Enqueuer{
		registry: registry,
		metrics:  NopMetrics{},
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Enqueue builds an envelope for each event and stores them in the unit of
// work, preserving argument order in OccurredAt. It returns a Notifier bound
// to the enqueued envelope ids, usable after the unit commits.
//
// Enqueue fails with an UnregisteredMessageTypeError when an event's name has
// no registration; in that case nothing is stored and the unit of work is
// otherwise unaffected.
//
// When the context carries a correlation id (see ContextWithCorrelationID),
// it is stamped on every envelope.
func (e *Enqueuer) Enqueue(ctx context.Context, uow *UnitOfWork, events ...Event) (*Notifier, error) {
	return e.EnqueueCorrelated(ctx, uow, CorrelationIDFromContext(ctx), events...)
}

// EnqueueCorrelated is Enqueue with a correlation id stamped on every
// envelope built from this call.
func (e *Enqueuer) EnqueueCorrelated(ctx context.Context, uow *UnitOfWork, correlationID string, events ...Event) (*Notifier, error) {
	envelopes := make([]*Envelope, 0, len(events))
	occurredAt := e.now().UTC()

	for i, event := range events {
		// Successive timestamps keep argument order stable under the
		// occurred_at scan. Microsecond steps survive timestamptz rounding.
		env, err := e.buildEnvelope(event, correlationID, occurredAt.Add(time.Duration(i)*time.Microsecond))
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, env)
	}

	if len(envelopes) > 0 {
		if err := uow.Tx().InsertEnvelopes(ctx, envelopes); err != nil {
			return nil, err
		}
	}

	e.metrics.RecordEnqueued(len(envelopes))

	ids := make([]uuid.UUID, len(envelopes))
	for i, env := range envelopes {
		ids[i] = env.ID
	}

	return &Notifier{uow: uow, waker: e.waker, ids: ids}, nil
}

func (e *Enqueuer) buildEnvelope(event Event, correlationID string, occurredAt time.Time) (*Envelope, error) {
	name := event.EventName()
	reg, ok := e.registry.Lookup(name)
	if !ok {
		return nil, &UnregisteredMessageTypeError{Name: name}
	}

	data, err := reg.Encode(event)
	if err != nil {
		return nil, fmt.Errorf("encoding event %q: %w", name, err)
	}

	return NewEnvelope(reg.Topic, reg.Key(event), reg.Type, reg.Format, data,
		WithCorrelationID(correlationID),
		WithOccurredAt(occurredAt),
	), nil
}
