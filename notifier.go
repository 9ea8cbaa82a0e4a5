package outbox

import "github.com/google/uuid"

// Notifier is the in-process handle returned by Enqueue. After the owning
// unit of work commits, Notify requests an immediate dispatch cycle instead
// of waiting for the next poll interval.
//
// Notify is safe to call zero, one, or many times, from any goroutine. Wake
// signals are coalesced by the dispatcher: bursts collapse into at most one
// extra cycle.
type Notifier struct {
	uow   *UnitOfWork
	waker Waker
	ids   []uuid.UUID
}

// Notify requests an out-of-band dispatch cycle. It reports whether a wake
// signal was delivered: false when the owning unit of work has not committed
// (so the envelopes are not durable), when no dispatcher is connected, or
// when a wake is already pending.
func (n *Notifier) Notify() bool {
	if n.waker == nil {
		return false
	}
	if !n.uow.Committed() {
		return false
	}
	return n.waker.Wake()
}

// EnvelopeIDs returns the ids of the envelopes enqueued by the call that
// produced this notifier.
func (n *Notifier) EnvelopeIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(n.ids))
	copy(ids, n.ids)
	return ids
}
