package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is the in-process adapter: a map of collections plus a broadcast
// hub that fans committed writes out to every subscriber. It backs the
// single-box deployment and all in-process tests.
type Memory struct {
	mu          sync.Mutex
	seq         uint64
	collections map[string]map[string][]byte
	subs        map[string][]*memorySub
	closed      bool
}

// NewMemory creates an empty in-process backend.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string][]byte),
		subs:        make(map[string][]*memorySub),
	}
}

// memorySnapshot is one committed state of a collection. seq is assigned
// under the hub lock, so ordering by seq is ordering by commit.
type memorySnapshot struct {
	seq  uint64
	docs []Document
}

type memorySub struct {
	ch   chan memorySnapshot
	done chan struct{}
	once sync.Once
}

// deliver coalesces without regressing: a pending older snapshot is replaced,
// a pending newer one wins. Delivery happens outside the hub lock, so two
// writers can race here; the seq comparison guarantees the pending snapshot
// after quiescence is the latest committed state.
func (s *memorySub) deliver(snap memorySnapshot) {
	for {
		select {
		case pending := <-s.ch:
			if pending.seq > snap.seq {
				snap = pending
			}
		default:
			select {
			case s.ch <- snap:
				return
			default:
			}
		}
	}
}

func (s *memorySub) stop() {
	s.once.Do(func() { close(s.done) })
}

func (m *Memory) Put(ctx context.Context, collection, id string, doc []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("put %s/%s: %w", collection, id, ErrUnavailable)
	}
	col := m.collections[collection]
	if col == nil {
		col = make(map[string][]byte)
		m.collections[collection] = col
	}
	copied := make([]byte, len(doc))
	copy(copied, doc)
	col[id] = copied
	m.seq++
	docs, subs := m.snapshotLocked(collection)
	snap := memorySnapshot{seq: m.seq, docs: docs}
	m.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(snap)
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("delete %s/%s: %w", collection, id, ErrUnavailable)
	}
	col := m.collections[collection]
	if col == nil {
		m.mu.Unlock()
		return nil
	}
	if _, ok := col[id]; !ok {
		m.mu.Unlock()
		return nil
	}
	delete(col, id)
	m.seq++
	docs, subs := m.snapshotLocked(collection)
	snap := memorySnapshot{seq: m.seq, docs: docs}
	m.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(snap)
	}
	return nil
}

func (m *Memory) List(ctx context.Context, collection string) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("list %s: %w", collection, ErrUnavailable)
	}
	docs, _ := m.snapshotLocked(collection)
	return docs, nil
}

func (m *Memory) Get(ctx context.Context, collection, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, ErrUnavailable)
	}
	col := m.collections[collection]
	data, ok := col[id]
	if !ok {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, ErrNotFound)
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	return copied, nil
}

func (m *Memory) Subscribe(collection string, onDocs func(docs []Document), onError func(err error)) Unsubscribe {
	sub := &memorySub{
		ch:   make(chan memorySnapshot, 1),
		done: make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		if onError != nil {
			onError(fmt.Errorf("subscribe %s: %w", collection, ErrUnavailable))
		}
		return func() {}
	}
	m.subs[collection] = append(m.subs[collection], sub)
	docs, _ := m.snapshotLocked(collection)
	snap := memorySnapshot{seq: m.seq, docs: docs}
	m.mu.Unlock()

	sub.deliver(snap)
	go func() {
		for {
			select {
			case snap := <-sub.ch:
				onDocs(snap.docs)
			case <-sub.done:
				return
			}
		}
	}()

	return func() {
		sub.stop()
		m.mu.Lock()
		list := m.subs[collection]
		for i, cand := range list {
			if cand == sub {
				m.subs[collection] = append(list[:i], list[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
	}
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("ping: %w", ErrUnavailable)
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for _, list := range m.subs {
		for _, sub := range list {
			sub.stop()
		}
	}
	m.subs = make(map[string][]*memorySub)
	return nil
}

// snapshotLocked returns the ordered document list and the current
// subscriber set for a collection. Caller holds m.mu.
func (m *Memory) snapshotLocked(collection string) ([]Document, []*memorySub) {
	col := m.collections[collection]
	docs := make([]Document, 0, len(col))
	for id, data := range col {
		copied := make([]byte, len(data))
		copy(copied, data)
		docs = append(docs, Document{ID: id, Data: copied})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })

	subs := make([]*memorySub, len(m.subs[collection]))
	copy(subs, m.subs[collection])
	return docs, subs
}
