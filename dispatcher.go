package outbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Dispatcher default settings.
const (
	// DefaultPollInterval is the time between dispatch cycles when no wake
	// signal arrives. It is also the retry cadence for envelopes whose
	// publish failed.
	DefaultPollInterval = 1 * time.Second

	// DefaultBatchSize is the maximum number of envelopes handled per cycle.
	DefaultBatchSize = 100

	// DefaultPublishTimeout bounds a single broker publish attempt.
	DefaultPublishTimeout = 5 * time.Second

	// DefaultStorageTimeout bounds the mark-dispatched and commit steps of a
	// cycle, which run to completion even during shutdown.
	DefaultStorageTimeout = 5 * time.Second
)

// Compile-time check that *Dispatcher implements Waker.
var _ Waker = (*Dispatcher)(nil)

// Dispatcher is the polling publisher: a background loop that periodically
// scans the outbox table for undispatched envelopes, publishes them to the
// broker in OccurredAt order, and marks them dispatched inside its own
// storage transaction.
//
// A cycle runs on the poll interval or on a coalesced wake signal, never
// concurrently with another cycle. Storage and broker failures abort the
// cycle, not the loop. A broker failure stops the batch at the failing
// envelope so relative order is preserved; everything already acknowledged in
// that cycle is still marked dispatched and committed.
type Dispatcher struct {
	store     Store
	publisher Publisher

	pollInterval   time.Duration
	batchSize      int
	publishTimeout time.Duration
	storageTimeout time.Duration
	limiter        *rate.Limiter
	logger         zerolog.Logger
	metrics        MetricsRecorder
	now            func() time.Time

	started int32
	closed  int32
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	wakeCh  chan struct{}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPollInterval sets the time between dispatch cycles.
// Default is DefaultPollInterval. Must be positive.
func WithPollInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.pollInterval = interval
		}
	}
}

// WithBatchSize sets the maximum number of envelopes handled per cycle.
// Default is DefaultBatchSize. Must be positive.
func WithBatchSize(size int) DispatcherOption {
	return func(d *Dispatcher) {
		if size > 0 {
			d.batchSize = size
		}
	}
}

// WithPublishTimeout bounds a single broker publish attempt.
// Default is DefaultPublishTimeout. Must be positive.
func WithPublishTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.publishTimeout = timeout
		}
	}
}

// WithStorageTimeout bounds the mark-dispatched and commit steps of a cycle.
// Default is DefaultStorageTimeout. Must be positive.
func WithStorageTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.storageTimeout = timeout
		}
	}
}

// WithPublishRateLimit caps broker publish attempts per second across cycles.
// Zero or negative rps disables the limiter (the default).
func WithPublishRateLimit(rps float64, burst int) DispatcherOption {
	return func(d *Dispatcher) {
		if rps > 0 {
			if burst < 1 {
				burst = 1
			}
			d.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithDispatcherLogger sets the logger. Default discards all output.
func WithDispatcherLogger(logger zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithDispatcherMetrics sets the metrics recorder.
func WithDispatcherMetrics(m MetricsRecorder) DispatcherOption {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithDispatcherClock overrides the dispatch timestamp source. Intended for
// tests.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDispatcher creates a Dispatcher reading from store and publishing via
// publisher.
func NewDispatcher(store Store, publisher Publisher, opts ...DispatcherOption) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		store:          store,
		publisher:      publisher,
		pollInterval:   DefaultPollInterval,
		batchSize:      DefaultBatchSize,
		publishTimeout: DefaultPublishTimeout,
		storageTimeout: DefaultStorageTimeout,
		logger:         zerolog.Nop(),
		metrics:        NopMetrics{},
		now:            time.Now,
		ctx:            ctx,
		cancel:         cancel,
		wakeCh:         make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Start begins the background dispatch loop. Calling Start more than once has
// no effect after the first call.
func (d *Dispatcher) Start() {
	if !atomic.CompareAndSwapInt32(&d.started, 0, 1) {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ticker := time.NewTicker(d.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				d.runCycle()
			case <-d.wakeCh:
				d.runCycle()
			case <-d.ctx.Done():
				return
			}
		}
	}()

	d.logger.Info().
		Dur("poll_interval", d.pollInterval).
		Int("batch_size", d.batchSize).
		Msg("outbox dispatcher started")
}

// Stop gracefully shuts down the dispatch loop. An in-flight cycle finishes
// its storage transaction before the loop halts; pending broker publishes are
// aborted and their envelopes stay undispatched for the next process. The
// provided context bounds how long to wait.
//
// Calling Stop more than once is safe; only the first call has an effect.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&d.closed, 0, 1) {
		return nil
	}

	d.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()

	select {
	case <-done:
		d.logger.Info().Msg("outbox dispatcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wake requests an out-of-band dispatch cycle. Signals are coalesced: while a
// wake is already pending, further calls report false and add nothing. Safe
// to call from any goroutine, including while a cycle is in progress.
func (d *Dispatcher) Wake() bool {
	select {
	case d.wakeCh <- struct{}{}:
		d.metrics.RecordWake()
		return true
	default:
		return false
	}
}

// runCycle performs one dispatch cycle: select a batch, publish in order,
// mark what the broker acknowledged, commit. Any failure leaves the
// unpublished remainder with ProcessedAt nil for the next cycle.
func (d *Dispatcher) runCycle() {
	start := d.now()

	tx, err := d.store.Begin(d.ctx)
	if err != nil {
		d.cycleError("begin", err)
		return
	}

	committed := false
	defer func() {
		if !committed {
			rollbackCtx, cancel := context.WithTimeout(context.Background(), d.storageTimeout)
			defer cancel()
			_ = tx.Rollback(rollbackCtx)
		}
	}()

	envelopes, err := tx.SelectUndispatched(d.ctx, d.batchSize)
	if err != nil {
		d.cycleError("select", err)
		return
	}
	if len(envelopes) == 0 {
		return
	}

	published := d.publishBatch(envelopes)
	if len(published) == 0 {
		return
	}

	// Mark and commit run to completion even when the dispatcher is
	// stopping, so acknowledged publishes are recorded before shutdown.
	storageCtx, cancel := context.WithTimeout(context.Background(), d.storageTimeout)
	defer cancel()

	if err := tx.MarkDispatched(storageCtx, published, d.now().UTC()); err != nil {
		d.cycleError("mark", err)
		return
	}

	if err := tx.Commit(storageCtx); err != nil {
		// The batch is retried next cycle; re-publishing is an accepted
		// at-least-once duplicate and MarkDispatched is idempotent.
		d.cycleError("commit", err)
		return
	}
	committed = true

	d.metrics.RecordCycle(len(published), d.now().Sub(start))
	d.logger.Debug().
		Int("published", len(published)).
		Int("batch", len(envelopes)).
		Msg("dispatch cycle completed")
}

// publishBatch publishes envelopes in selection order and returns the ids the
// broker acknowledged. It stops at the first failure so an envelope is never
// skipped ahead of an earlier one from the same batch.
func (d *Dispatcher) publishBatch(envelopes []*Envelope) []uuid.UUID {
	published := make([]uuid.UUID, 0, len(envelopes))

	for _, env := range envelopes {
		if err := d.publishEnvelope(env); err != nil {
			d.metrics.RecordPublishFailure(env.Topic)
			d.logger.Warn().
				Err(err).
				Stringer("envelope_id", env.ID).
				Str("topic", env.Topic).
				Int("remaining", len(envelopes)-len(published)).
				Msg("publish failed, deferring rest of batch")
			break
		}
		published = append(published, env.ID)
	}

	return published
}

func (d *Dispatcher) publishEnvelope(env *Envelope) error {
	if d.limiter != nil {
		if err := d.limiter.Wait(d.ctx); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.publishTimeout)
	defer cancel()

	if err := d.publisher.Publish(ctx, env.Topic, env.Key, env.Data); err != nil {
		return &PublishError{Envelope: *env, Err: err}
	}
	return nil
}

func (d *Dispatcher) cycleError(stage string, err error) {
	d.metrics.RecordCycleError(stage)

	// Context cancellation during shutdown is expected, not an error.
	if errors.Is(err, context.Canceled) && d.ctx.Err() != nil {
		return
	}

	d.logger.Error().
		Err(err).
		Str("stage", stage).
		Msg("dispatch cycle aborted")
}
