// Package backend defines the persistence contract the sync core is written
// against. A backend stores JSON documents grouped into collections, supports
// listing a whole collection, and pushes change notifications to subscribers.
// Three adapters exist: an in-process memory hub, Redis, and Postgres. The
// core never branches on which one is active.
package backend

import (
	"context"
	"errors"
)

// Collections used by the sync core. Records are one document per production
// event; the vocabulary collection holds exactly two singleton documents
// (DocComments and DocOperators), each a JSON array of strings.
const (
	CollectionRecords    = "records"
	CollectionVocabulary = "vocabulary"

	DocComments  = "comments"
	DocOperators = "operators"
)

// Document is one stored entry of a collection.
type Document struct {
	ID   string
	Data []byte
}

// Unsubscribe stops delivery for a subscription. Safe to call more than once.
type Unsubscribe func()

// Backend is the abstract durable store. Writes are synchronous; change
// delivery is asynchronous via Subscribe. A writer's own write produces a
// notification like any other committed write, which is how callers observe
// their own mutations (there is no optimistic local state anywhere above
// this interface).
type Backend interface {
	// Put creates or fully replaces the document with the given id.
	Put(ctx context.Context, collection, id string, doc []byte) error
	// Delete removes a document. Deleting an absent document is not an error.
	Delete(ctx context.Context, collection, id string) error
	// List returns every document in the collection, ordered by id.
	List(ctx context.Context, collection string) ([]Document, error)
	// Get returns a single document, or ErrNotFound.
	Get(ctx context.Context, collection, id string) ([]byte, error)
	// Subscribe registers a listener for a collection. onDocs fires with the
	// full document list shortly after registration and again after every
	// committed change. onError reports a classified failure and fires with
	// nil once service is restored; the subscription itself survives outages.
	Subscribe(collection string, onDocs func(docs []Document), onError func(err error)) Unsubscribe
	// Ping probes reachability of the underlying store.
	Ping(ctx context.Context) error
	// Close releases all connections and stops every subscription.
	Close() error
}

// Sentinel classifications for adapter failures. Adapters wrap their native
// errors in one of these so the layers above can distinguish a transient
// outage (keep cache, resume automatically) from a permission problem
// (needs operator intervention) without importing driver packages.
var (
	// ErrUnavailable marks transient connectivity failures.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrPermission marks rejections that will not resolve by retrying.
	ErrPermission = errors.New("backend permission denied")
	// ErrNotFound is returned by Get for an absent document.
	ErrNotFound = errors.New("document not found")
)
