// Package outbox implements the transactional outbox pattern: domain state
// changes and the messages they produce are persisted atomically in one
// storage transaction, then delivered to a message broker by a background
// dispatcher with at-least-once semantics.
//
// # Overview
//
// Application code opens a UnitOfWork, performs its domain writes through the
// unit's transaction, and calls Enqueuer.Enqueue with its domain events. The
// events become Envelopes stored in the outbox table within the same
// transaction. After Commit, the Dispatcher picks undispatched envelopes up
// on its next poll cycle (or immediately, via the Notifier returned by
// Enqueue) and publishes them to the broker.
//
// # Components
//
//   - Envelope: one outgoing message (identity, routing, payload, dispatch state)
//   - Registry: startup-time mapping from event name to topic, key and codec
//   - UnitOfWork: one atomic storage transaction for domain writes and envelope inserts
//   - Enqueuer: builds envelopes from events and stores them in the unit of work
//   - Dispatcher: polling publisher loop with coalesced wake signals
//   - Notifier: post-commit handle requesting an immediate dispatch cycle
//
// Storage and broker are pluggable behind the Store and Publisher contracts;
// the postgres and kafka subpackages provide the production implementations.
//
// # Delivery guarantees
//
// Envelopes whose transaction committed are eventually published at least
// once. Duplicates are possible when a dispatch cycle fails between broker
// acknowledgment and commit; consumers must deduplicate by Envelope.ID.
// No envelope is ever published before its owning transaction commits, and
// no envelope is ever silently dropped.
//
// # Usage
//
// Register message types once at startup:
//
//	registry := outbox.NewRegistry()
//	registry.MustRegister("order.placed", outbox.Registration{
//	    Topic: "orders",
//	    Key:   func(e outbox.Event) string { return e.(OrderPlaced).OrderID },
//	})
//
// Write path:
//
//	uow, err := outbox.Begin(ctx, store)
//	// ... domain writes via uow.Tx() ...
//	notifier, err := enqueuer.Enqueue(ctx, uow, OrderPlaced{OrderID: id})
//	if err := uow.Commit(ctx); err != nil { ... }
//	notifier.Notify() // optional: request immediate dispatch
package outbox
