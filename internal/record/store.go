package record

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"

	"telar/api/internal/backend"
)

// VocabularySink receives free-text values observed on saved records, so the
// vocabulary can grow from real submissions. Matching is exact and
// case-sensitive on the sink side; the store does no normalization at write
// time.
type VocabularySink interface {
	ObserveOperator(ctx context.Context, value string) error
	ObserveComment(ctx context.Context, value string) error
}

// Subscriber callbacks. onRecords receives a fresh sorted copy on every
// committed change; onError receives a non-empty message on backend failure
// and an empty message once service is restored.
type subscriber struct {
	onRecords func([]Record)
	onError   func(string)
}

// Store mirrors the records collection 1:1 from the backend, newest first.
// The cache is rebuilt only from backend notifications: a Save is visible in
// the cache only after the backend confirms it back through the
// subscription, never speculatively.
type Store struct {
	backend backend.Backend
	vocab   VocabularySink

	mu      sync.Mutex
	cache   []Record
	started bool
	lastErr string
	subs    map[int]*subscriber
	nextSub int
	unsub   backend.Unsubscribe
}

// NewStore creates a store. vocab may be nil when vocabulary growth is not
// wanted (tests, migrations).
func NewStore(b backend.Backend, vocab VocabularySink) *Store {
	return &Store{
		backend: b,
		vocab:   vocab,
		subs:    make(map[int]*subscriber),
	}
}

// Start opens the backend subscription. Explicit rather than implicit at
// construction so the process controls listener lifecycle.
func (s *Store) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	unsub := s.backend.Subscribe(backend.CollectionRecords, s.applyDocs, s.applyError)
	s.mu.Lock()
	s.unsub = unsub
	s.mu.Unlock()
}

// Stop tears down the backend subscription. Idempotent.
func (s *Store) Stop() {
	s.mu.Lock()
	unsub := s.unsub
	s.unsub = nil
	s.started = false
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Subscribe registers a listener. It fires immediately with the current
// cache (possibly empty) and then on every backend change. All concurrent
// subscribers receive every update. The returned function is idempotent.
func (s *Store) Subscribe(onRecords func([]Record), onError func(string)) func() {
	sub := &subscriber{onRecords: onRecords, onError: onError}

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	current := copyRecords(s.cache)
	lastErr := s.lastErr
	s.mu.Unlock()

	if onRecords != nil {
		onRecords(current)
	}
	if onError != nil && lastErr != "" {
		onError(lastErr)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Snapshot returns a copy of the last-delivered cache, sorted newest first.
func (s *Store) Snapshot() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyRecords(s.cache)
}

// ListAll reads the collection straight from the backend, bypassing the
// cache. Used by the rename cascade, which must rewrite what is committed,
// not what has propagated.
func (s *Store) ListAll(ctx context.Context) ([]Record, error) {
	docs, err := s.backend.List(ctx, backend.CollectionRecords)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	records := decodeDocs(docs)
	sortRecords(records)
	return records, nil
}

// Save upserts by identifier: a new ID creates, an existing ID fully
// replaces. Assigns ID and CreatedAt when the caller left them zero. A
// non-empty operator or comment is forwarded to the vocabulary sink.
func (s *Store) Save(ctx context.Context, r Record) (Record, error) {
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = nowFunc()
	}

	data, err := json.Marshal(r)
	if err != nil {
		return Record{}, fmt.Errorf("encode record %s: %w", r.ID, err)
	}
	if err := s.backend.Put(ctx, backend.CollectionRecords, r.ID, data); err != nil {
		return Record{}, fmt.Errorf("save record %s: %w", r.ID, err)
	}

	if s.vocab != nil {
		if r.Operator != "" {
			if err := s.vocab.ObserveOperator(ctx, r.Operator); err != nil {
				log.Printf("record: observe operator %q: %v", r.Operator, err)
			}
		}
		if r.ChangesComment != "" {
			if err := s.vocab.ObserveComment(ctx, r.ChangesComment); err != nil {
				log.Printf("record: observe comment %q: %v", r.ChangesComment, err)
			}
		}
	}
	return r, nil
}

// DeleteOne removes exactly one record. Deleting an absent identifier is a
// silent no-op.
func (s *Store) DeleteOne(ctx context.Context, id string) error {
	if err := s.backend.Delete(ctx, backend.CollectionRecords, id); err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

// ClearAll removes every record. The export-then-confirm ritual lives in the
// HTTP layer; the store performs the operation unconditionally.
func (s *Store) ClearAll(ctx context.Context) error {
	docs, err := s.backend.List(ctx, backend.CollectionRecords)
	if err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	for _, doc := range docs {
		if err := s.backend.Delete(ctx, backend.CollectionRecords, doc.ID); err != nil {
			return fmt.Errorf("clear records: delete %s: %w", doc.ID, err)
		}
	}
	return nil
}

// applyDocs rebuilds the cache from a backend snapshot and fans it out.
func (s *Store) applyDocs(docs []backend.Document) {
	records := decodeDocs(docs)
	sortRecords(records)

	s.mu.Lock()
	s.cache = records
	subs := currentSubs(s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		if sub.onRecords != nil {
			sub.onRecords(copyRecords(records))
		}
	}
}

// applyError fans a classified backend failure (or recovery, err == nil) out
// to every subscriber as a message string. The cache is kept as-is.
func (s *Store) applyError(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	s.mu.Lock()
	if s.lastErr == msg {
		s.mu.Unlock()
		return
	}
	s.lastErr = msg
	subs := currentSubs(s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		if sub.onError != nil {
			sub.onError(msg)
		}
	}
}

func decodeDocs(docs []backend.Document) []Record {
	records := make([]Record, 0, len(docs))
	for _, doc := range docs {
		var r Record
		if err := json.Unmarshal(doc.Data, &r); err != nil {
			log.Printf("record: skip malformed document %s: %v", doc.ID, err)
			continue
		}
		records = append(records, r)
	}
	return records
}

// sortRecords orders newest first; equal timestamps fall back to descending
// ID so the order is deterministic across backends.
func sortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID > records[j].ID
	})
}

func copyRecords(records []Record) []Record {
	out := make([]Record, len(records))
	copy(out, records)
	return out
}

func currentSubs(subs map[int]*subscriber) []*subscriber {
	out := make([]*subscriber, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub)
	}
	return out
}
