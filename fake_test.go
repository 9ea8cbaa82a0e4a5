package outbox

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Store used by the package tests. It mimics the
// transactional behavior of the postgres implementation: tx-local writes
// become visible only on Commit, and injected errors abort the matching
// operation.
type memStore struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]*Envelope
	order []uuid.UUID

	beginErr  error
	selectErr error
	markErr   error
	commitErr error

	begins int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[uuid.UUID]*Envelope)}
}

func (s *memStore) Begin(ctx context.Context) (Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begins++
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &memTx{store: s, marks: make(map[uuid.UUID]time.Time)}, nil
}

func (s *memStore) setBeginErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beginErr = err
}

func (s *memStore) setSelectErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectErr = err
}

func (s *memStore) setCommitErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
}

func (s *memStore) beginCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begins
}

// pendingCount returns the number of committed, undispatched envelopes.
func (s *memStore) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.rows {
		if e.ProcessedAt == nil {
			n++
		}
	}
	return n
}

func (s *memStore) rowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *memStore) envelope(id uuid.UUID) (*Envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[id]
	if !ok {
		return nil, false
	}
	c := *e
	return &c, true
}

type memTx struct {
	store    *memStore
	inserted []*Envelope
	marks    map[uuid.UUID]time.Time
	done     bool
}

func (t *memTx) InsertEnvelopes(ctx context.Context, envelopes []*Envelope) error {
	for _, e := range envelopes {
		c := *e
		t.inserted = append(t.inserted, &c)
	}
	return nil
}

func (t *memTx) SelectUndispatched(ctx context.Context, limit int) ([]*Envelope, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selectErr != nil {
		return nil, s.selectErr
	}

	var out []*Envelope
	for _, id := range s.order {
		if e := s.rows[id]; e.ProcessedAt == nil {
			c := *e
			out = append(out, &c)
		}
	}
	// The tx sees its own uncommitted inserts, like a real transaction.
	for _, e := range t.inserted {
		c := *e
		out = append(out, &c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) MarkDispatched(ctx context.Context, ids []uuid.UUID, dispatchedAt time.Time) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if t.store.markErr != nil {
		return t.store.markErr
	}
	for _, id := range ids {
		t.marks[id] = dispatchedAt
	}
	return nil
}

func (t *memTx) Commit(ctx context.Context) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.done {
		return errors.New("tx already finished")
	}
	t.done = true

	if s.commitErr != nil {
		return s.commitErr
	}

	for _, e := range t.inserted {
		s.rows[e.ID] = e
		s.order = append(s.order, e.ID)
	}
	for id, at := range t.marks {
		if e, ok := s.rows[id]; ok && e.ProcessedAt == nil {
			ts := at
			e.ProcessedAt = &ts
		}
	}
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	t.done = true
	return nil
}

type brokerMessage struct {
	Topic   string
	Key     string
	Payload []byte
}

// fakePublisher records published messages and can be told to fail for
// specific keys or topics.
type fakePublisher struct {
	mu         sync.Mutex
	messages   []brokerMessage
	failKeys   map[string]error
	failTopics map[string]error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{
		failKeys:   make(map[string]error),
		failTopics: make(map[string]error),
	}
}

func (p *fakePublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.failKeys[key]; err != nil {
		return err
	}
	if err := p.failTopics[topic]; err != nil {
		return err
	}

	p.messages = append(p.messages, brokerMessage{Topic: topic, Key: key, Payload: append([]byte(nil), payload...)})
	return nil
}

func (p *fakePublisher) failKey(key string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failKeys[key] = err
}

func (p *fakePublisher) clearKey(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.failKeys, key)
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func (p *fakePublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.messages))
	for i, m := range p.messages {
		out[i] = m.Key
	}
	return out
}

func (p *fakePublisher) all() []brokerMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]brokerMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Domain events used across the package tests.

type orderPlaced struct {
	OrderID string `json:"order_id"`
	Total   int    `json:"total"`
}

func (orderPlaced) EventName() string { return "OrderPlaced" }

type invoiceIssued struct {
	InvoiceID string `json:"invoice_id"`
}

func (invoiceIssued) EventName() string { return "InvoiceIssued" }

func newTestRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister("OrderPlaced", Registration{
		Topic: "orders.events",
		Key:   func(e Event) string { return e.(orderPlaced).OrderID },
	})
	r.MustRegister("InvoiceIssued", Registration{
		Topic: "billing.events",
		Key:   func(e Event) string { return e.(invoiceIssued).InvoiceID },
	})
	return r
}
