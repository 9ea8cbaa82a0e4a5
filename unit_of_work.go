package outbox

import (
	"context"
	"sync"
)

// UnitOfWork groups domain-state writes and envelope inserts into one atomic
// storage transaction. Everything written through the unit becomes durable
// together on Commit, or is discarded together on Rollback.
//
// A unit of work is not safe for concurrent use; each caller opens its own.
type UnitOfWork struct {
	tx Tx

	mu        sync.Mutex
	done      bool
	committed bool
}

// Begin opens a new unit of work on the given store.
func Begin(ctx context.Context, store Store) (*UnitOfWork, error) {
	tx, err := store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &UnitOfWork{tx: tx}, nil
}

// Tx returns the underlying storage transaction. Application code uses it for
// domain writes that must commit atomically with enqueued envelopes; the
// postgres implementation additionally satisfies the pgx query interface so
// repositories can consume it directly.
func (u *UnitOfWork) Tx() Tx {
	return u.tx
}

// Commit makes the unit's writes durable. It returns ErrUnitOfWorkDone if the
// unit was already finished, ErrConcurrencyConflict (wrapped) if storage
// detected a conflicting concurrent write, or a StorageError otherwise.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.done {
		return ErrUnitOfWorkDone
	}
	u.done = true

	if err := u.tx.Commit(ctx); err != nil {
		return err
	}

	u.committed = true
	return nil
}

// Rollback discards the unit's writes. Calling Rollback on a finished unit is
// a no-op, so it is safe to defer alongside Commit.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.done {
		return nil
	}
	u.done = true

	return u.tx.Rollback(ctx)
}

// Committed reports whether Commit completed successfully.
func (u *UnitOfWork) Committed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.committed
}

// UndispatchedEnvelopes returns up to limit undispatched envelopes in
// OccurredAt order, read within this unit's transaction. The dispatcher opens
// its own unit of work per poll cycle; application writers normally have no
// reason to call this.
func (u *UnitOfWork) UndispatchedEnvelopes(ctx context.Context, limit int) ([]*Envelope, error) {
	return u.tx.SelectUndispatched(ctx, limit)
}
