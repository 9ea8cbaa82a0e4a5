// Package postgres implements the outbox storage contract on PostgreSQL via
// pgx. It provides the transactional insert, the skip-locked select of
// undispatched envelopes that keeps multiple dispatcher instances from
// claiming the same row, and the idempotent dispatched-marking.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/outbox"
)

// DefaultTableName is the outbox table used when no override is configured.
const DefaultTableName = "outbox_messages"

// PostgreSQL error codes mapped to the concurrency-conflict error.
const (
	pgSerializationFailure = "40001" // serialization_failure
	pgDeadlockDetected     = "40P01" // deadlock_detected
)

// Beginner is the subset of *pgxpool.Pool used by the store. pgxmock's pool
// satisfies it as well, which keeps the store testable without a database.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Querier is the pgx query interface exposed by Tx for domain writes.
// It matches what both pgx.Tx and *pgxpool.Pool provide, so application
// repositories written against it work inside and outside a unit of work.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Compile-time checks.
var (
	_ outbox.Store = (*Store)(nil)
	_ outbox.Tx    = (*Tx)(nil)
	_ Querier      = (*Tx)(nil)
)

// Store implements outbox.Store on a pgx connection pool.
type Store struct {
	db    Beginner
	table string
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithTableName sets a custom outbox table name. Default is
// DefaultTableName. The name must be a valid SQL identifier matching
// [a-zA-Z_][a-zA-Z0-9_]*; an invalid name causes NewStore to panic.
func WithTableName(table string) StoreOption {
	return func(s *Store) {
		s.table = table
	}
}

var sqlIdentifierRegexp = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// NewStore creates a Store on the given pool.
func NewStore(db Beginner, opts ...StoreOption) *Store {
	s := &Store{
		db:    db,
		table: DefaultTableName,
	}

	for _, opt := range opts {
		opt(s)
	}

	if !sqlIdentifierRegexp.MatchString(s.table) {
		panic(fmt.Errorf("invalid outbox table name %q: must match [a-zA-Z_][a-zA-Z0-9_]*", s.table))
	}

	return s
}

// Begin opens a new storage transaction.
func (s *Store) Begin(ctx context.Context) (outbox.Tx, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, wrapError("begin transaction", err)
	}
	return &Tx{tx: tx, table: s.table}, nil
}

// Tx is a single pgx transaction over the outbox table. Besides the
// outbox.Tx contract it exposes the pgx query interface, so application
// repositories can perform their domain writes through the same transaction.
type Tx struct {
	tx    pgx.Tx
	table string
}

// InsertEnvelopes stores the given envelopes with a single multi-row insert.
func (t *Tx) InsertEnvelopes(ctx context.Context, envelopes []*outbox.Envelope) error {
	if len(envelopes) == 0 {
		return nil
	}

	var valueStrings []string
	var args []interface{}

	for i, env := range envelopes {
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			i*8+1, i*8+2, i*8+3, i*8+4, i*8+5, i*8+6, i*8+7, i*8+8))
		args = append(args,
			env.ID, env.CorrelationID, env.Topic, env.Key,
			env.Type, env.Format, env.Data, env.OccurredAt)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, correlation_id, topic, key, message_type, format, payload, occurred_at)
		VALUES %s`,
		t.table, strings.Join(valueStrings, ", "))

	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return wrapError("insert envelopes", err)
	}
	return nil
}

// SelectUndispatched returns up to limit undispatched envelopes, oldest
// first. Rows are locked with FOR UPDATE SKIP LOCKED so concurrent
// dispatcher instances never claim the same envelope.
func (t *Tx) SelectUndispatched(ctx context.Context, limit int) ([]*outbox.Envelope, error) {
	query := fmt.Sprintf(`
		SELECT id, correlation_id, topic, key, message_type, format, payload, occurred_at, processed_at
		FROM %s
		WHERE processed_at IS NULL
		ORDER BY occurred_at ASC, id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, t.table)

	rows, err := t.tx.Query(ctx, query, limit)
	if err != nil {
		return nil, wrapError("select undispatched", err)
	}
	defer rows.Close()

	var envelopes []*outbox.Envelope
	for rows.Next() {
		env := &outbox.Envelope{}
		if err := rows.Scan(
			&env.ID, &env.CorrelationID, &env.Topic, &env.Key,
			&env.Type, &env.Format, &env.Data, &env.OccurredAt, &env.ProcessedAt,
		); err != nil {
			return nil, wrapError("scan envelope", err)
		}
		envelopes = append(envelopes, env)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("iterate envelopes", err)
	}

	return envelopes, nil
}

// MarkDispatched sets processed_at for the given ids. Rows already marked are
// left untouched, which makes retrying a failed commit safe.
func (t *Tx) MarkDispatched(ctx context.Context, ids []uuid.UUID, dispatchedAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET processed_at = $1
		WHERE id = ANY($2) AND processed_at IS NULL`, t.table)

	if _, err := t.tx.Exec(ctx, query, dispatchedAt, ids); err != nil {
		return wrapError("mark dispatched", err)
	}
	return nil
}

// Commit makes the transaction's writes durable.
func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return wrapError("commit transaction", err)
	}
	return nil
}

// Rollback discards the transaction. Calling Rollback after Commit is a
// no-op.
func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return wrapError("rollback transaction", err)
	}
	return nil
}

// Exec implements Querier for domain writes within the transaction.
func (t *Tx) Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error) {
	return t.tx.Exec(ctx, sql, arguments...)
}

// Query implements Querier for domain reads within the transaction.
func (t *Tx) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return t.tx.Query(ctx, sql, args...)
}

// QueryRow implements Querier for domain reads within the transaction.
func (t *Tx) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return t.tx.QueryRow(ctx, sql, args...)
}

// SendBatch implements Querier for batched domain writes within the
// transaction.
func (t *Tx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return t.tx.SendBatch(ctx, b)
}

// wrapError maps pgx errors to the outbox error taxonomy: serialization
// failures and deadlocks become ErrConcurrencyConflict, everything else a
// StorageError.
func wrapError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%s: %w: %s", op, outbox.ErrConcurrencyConflict, pgErr.Message)
		}
	}
	return outbox.NewStorageError(op, err)
}
