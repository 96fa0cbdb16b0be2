// Package vocab owns the two controlled vocabularies (change-reason comments
// and operator names): the merge of built-in defaults with user-contributed
// values, de-duplication, delete, and the rename cascade across historical
// records.
package vocab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"telar/api/internal/backend"
	"telar/api/internal/record"
)

// Kind selects one of the two vocabularies.
type Kind string

const (
	KindComments  Kind = "comments"
	KindOperators Kind = "operators"
)

// DefaultComments are the built-in change reasons. They are always part of
// the displayed list and cannot be removed by users; deleting one only
// scrubs a custom duplicate (see Remove).
var DefaultComments = []string{"Bio", "Cambio de artículo", "Montado", "Pedidos", "Rotura"}

// DefaultOperators is empty: operator names are entirely user-contributed.
var DefaultOperators = []string{}

var (
	// ErrBuiltinDefault is returned by Remove for a built-in entry; the
	// merged list re-includes defaults, so the removal cannot take effect
	// from the user's perspective.
	ErrBuiltinDefault = errors.New("vocabulary entry is a built-in default")
	// ErrUnknownKind is returned for a kind outside the two vocabularies.
	ErrUnknownKind = errors.New("unknown vocabulary kind")
)

// RecordRewriter is the slice of the record store the rename cascade needs:
// an authoritative read and full-replace writes.
type RecordRewriter interface {
	ListAll(ctx context.Context) ([]record.Record, error)
	Save(ctx context.Context, r record.Record) (record.Record, error)
}

type listener struct {
	onChange func(comments, operators []string)
}

// Registry keeps the merged vocabulary caches, mirrored from the two
// singleton backend documents. Writes go read-modify-write against the
// backend document, never against the cache.
type Registry struct {
	backend backend.Backend
	records RecordRewriter

	mu      sync.Mutex
	custom  map[Kind][]string
	started bool
	subs    map[int]*listener
	nextSub int
	unsub   backend.Unsubscribe
}

// NewRegistry creates a registry. The record rewriter is attached separately
// with SetRecords because the record store in turn needs the registry as its
// vocabulary sink.
func NewRegistry(b backend.Backend) *Registry {
	return &Registry{
		backend: b,
		custom:  map[Kind][]string{KindComments: nil, KindOperators: nil},
		subs:    make(map[int]*listener),
	}
}

// SetRecords attaches the record store used by the rename cascade.
func (g *Registry) SetRecords(records RecordRewriter) {
	g.mu.Lock()
	g.records = records
	g.mu.Unlock()
}

// Start opens the backend subscription for the vocabulary collection.
func (g *Registry) Start() {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return
	}
	g.started = true
	g.mu.Unlock()

	unsub := g.backend.Subscribe(backend.CollectionVocabulary, g.applyDocs, func(err error) {
		if err != nil {
			log.Printf("vocab: subscription error: %v", err)
		}
	})
	g.mu.Lock()
	g.unsub = unsub
	g.mu.Unlock()
}

// Stop tears down the backend subscription. Idempotent.
func (g *Registry) Stop() {
	g.mu.Lock()
	unsub := g.unsub
	g.unsub = nil
	g.started = false
	g.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Subscribe registers a listener that always receives both merged lists
// together, immediately and on every change to either vocabulary.
func (g *Registry) Subscribe(onChange func(comments, operators []string)) func() {
	sub := &listener{onChange: onChange}

	g.mu.Lock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = sub
	comments := mergedLocked(g.custom[KindComments], DefaultComments)
	operators := mergedLocked(g.custom[KindOperators], DefaultOperators)
	g.mu.Unlock()

	if onChange != nil {
		onChange(comments, operators)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.subs, id)
			g.mu.Unlock()
		})
	}
}

// Merged returns the displayed list for a kind: the sorted, deduplicated
// union of built-in defaults and custom entries.
func (g *Registry) Merged(kind Kind) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return mergedLocked(g.custom[kind], defaults(kind))
}

// AddIfAbsent appends a value to the custom list unless it is already a
// member of the displayed vocabulary. Matching is exact and case-sensitive.
func (g *Registry) AddIfAbsent(ctx context.Context, kind Kind, value string) error {
	if err := checkKind(kind); err != nil {
		return err
	}
	if value == "" {
		return nil
	}
	custom, err := g.loadCustom(ctx, kind)
	if err != nil {
		return err
	}
	if contains(defaults(kind), value) || contains(custom, value) {
		return nil
	}
	return g.storeCustom(ctx, kind, append(custom, value))
}

// Remove deletes a value from the custom list. Removing an absent value is a
// silent no-op. A built-in default still gets its custom duplicate scrubbed,
// but the call reports ErrBuiltinDefault because the merged list re-includes
// defaults: from the user's perspective defaults are permanent.
func (g *Registry) Remove(ctx context.Context, kind Kind, value string) error {
	if err := checkKind(kind); err != nil {
		return err
	}
	custom, err := g.loadCustom(ctx, kind)
	if err != nil {
		return err
	}
	next := without(custom, value)
	if len(next) != len(custom) {
		if err := g.storeCustom(ctx, kind, next); err != nil {
			return err
		}
	}
	if contains(defaults(kind), value) {
		return fmt.Errorf("remove %s %q: %w", kind, value, ErrBuiltinDefault)
	}
	return nil
}

// Rename replaces oldValue with newValue in the vocabulary and rewrites
// every record whose matching field equals oldValue exactly. Records are
// rewritten first; the vocabulary document is only updated once every
// rewrite succeeded, so a partial failure never reports success. Renaming
// onto an existing value is a merge.
func (g *Registry) Rename(ctx context.Context, kind Kind, oldValue, newValue string) error {
	if err := checkKind(kind); err != nil {
		return err
	}
	if oldValue == newValue || oldValue == "" || newValue == "" {
		return nil
	}

	g.mu.Lock()
	records := g.records
	g.mu.Unlock()
	if records == nil {
		return fmt.Errorf("rename %s: record store not attached", kind)
	}

	all, err := records.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("rename %s %q: %w", kind, oldValue, err)
	}
	for _, r := range all {
		if fieldFor(kind, r) != oldValue {
			continue
		}
		setField(kind, &r, newValue)
		if _, err := records.Save(ctx, r); err != nil {
			return fmt.Errorf("rename %s %q: rewrite record %s: %w", kind, oldValue, r.ID, err)
		}
	}

	custom, err := g.loadCustom(ctx, kind)
	if err != nil {
		return fmt.Errorf("rename %s %q: %w", kind, oldValue, err)
	}
	next := without(custom, oldValue)
	if !contains(defaults(kind), newValue) && !contains(next, newValue) {
		next = append(next, newValue)
	}
	if err := g.storeCustom(ctx, kind, next); err != nil {
		return fmt.Errorf("rename %s %q: %w", kind, oldValue, err)
	}
	return nil
}

var _ record.VocabularySink = (*Registry)(nil)

// ObserveOperator implements record.VocabularySink.
func (g *Registry) ObserveOperator(ctx context.Context, value string) error {
	return g.AddIfAbsent(ctx, KindOperators, value)
}

// ObserveComment implements record.VocabularySink.
func (g *Registry) ObserveComment(ctx context.Context, value string) error {
	return g.AddIfAbsent(ctx, KindComments, value)
}

// loadCustom reads the authoritative custom list from the backend document.
// The cache is deliberately not used for writes: read-modify-write against
// the store keeps sequential writers from clobbering each other within one
// process. Concurrent clients remain last-write-wins by design.
func (g *Registry) loadCustom(ctx context.Context, kind Kind) ([]string, error) {
	data, err := g.backend.Get(ctx, backend.CollectionVocabulary, string(kind))
	if errors.Is(err, backend.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s vocabulary: %w", kind, err)
	}
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("decode %s vocabulary: %w", kind, err)
	}
	return values, nil
}

func (g *Registry) storeCustom(ctx context.Context, kind Kind, values []string) error {
	values = dedupe(values)
	sort.Strings(values)
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode %s vocabulary: %w", kind, err)
	}
	if err := g.backend.Put(ctx, backend.CollectionVocabulary, string(kind), data); err != nil {
		return fmt.Errorf("store %s vocabulary: %w", kind, err)
	}
	return nil
}

// applyDocs rebuilds both custom caches from a backend snapshot and fans the
// merged lists out.
func (g *Registry) applyDocs(docs []backend.Document) {
	custom := map[Kind][]string{KindComments: nil, KindOperators: nil}
	for _, doc := range docs {
		kind := Kind(doc.ID)
		if checkKind(kind) != nil {
			continue
		}
		var values []string
		if err := json.Unmarshal(doc.Data, &values); err != nil {
			log.Printf("vocab: skip malformed %s document: %v", doc.ID, err)
			continue
		}
		custom[kind] = values
	}

	g.mu.Lock()
	g.custom = custom
	comments := mergedLocked(custom[KindComments], DefaultComments)
	operators := mergedLocked(custom[KindOperators], DefaultOperators)
	subs := make([]*listener, 0, len(g.subs))
	for _, sub := range g.subs {
		subs = append(subs, sub)
	}
	g.mu.Unlock()

	for _, sub := range subs {
		if sub.onChange != nil {
			sub.onChange(append([]string(nil), comments...), append([]string(nil), operators...))
		}
	}
}

func defaults(kind Kind) []string {
	if kind == KindComments {
		return DefaultComments
	}
	return DefaultOperators
}

func checkKind(kind Kind) error {
	if kind != KindComments && kind != KindOperators {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return nil
}

func fieldFor(kind Kind, r record.Record) string {
	if kind == KindComments {
		return r.ChangesComment
	}
	return r.Operator
}

func setField(kind Kind, r *record.Record, value string) {
	if kind == KindComments {
		r.ChangesComment = value
	} else {
		r.Operator = value
	}
}

func mergedLocked(custom, builtin []string) []string {
	merged := dedupe(append(append([]string(nil), builtin...), custom...))
	sort.Strings(merged)
	return merged
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func contains(values []string, v string) bool {
	for _, cand := range values {
		if cand == v {
			return true
		}
	}
	return false
}

func without(values []string, v string) []string {
	out := make([]string, 0, len(values))
	for _, cand := range values {
		if cand != v {
			out = append(out, cand)
		}
	}
	return out
}
