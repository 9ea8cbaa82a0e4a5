package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store provides transactional access to the outbox table. The postgres
// subpackage implements it on pgx; any storage engine with atomic multi-row
// insert and row-level concurrency control can serve.
//
// When multiple dispatcher instances run against the same table, the
// implementation must prevent two instances from selecting the same
// undispatched envelope (e.g. SELECT ... FOR UPDATE SKIP LOCKED).
type Store interface {
	// Begin opens a new storage transaction.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one atomic storage transaction over the outbox table. Implementations
// wrap failures in StorageError and surface concurrency conflicts as
// ErrConcurrencyConflict.
type Tx interface {
	// InsertEnvelopes durably stores the given envelopes. The insert becomes
	// visible only when the transaction commits.
	InsertEnvelopes(ctx context.Context, envelopes []*Envelope) error

	// SelectUndispatched returns up to limit envelopes with ProcessedAt nil,
	// oldest OccurredAt first. Rows marked dispatched by a prior committed
	// transaction are never returned again.
	SelectUndispatched(ctx context.Context, limit int) ([]*Envelope, error)

	// MarkDispatched sets ProcessedAt for the given ids. Ids already marked
	// are skipped, not an error.
	MarkDispatched(ctx context.Context, ids []uuid.UUID, dispatchedAt time.Time) error

	// Commit makes the transaction's writes durable.
	Commit(ctx context.Context) error

	// Rollback discards the transaction. Safe to call after Commit.
	Rollback(ctx context.Context) error
}
