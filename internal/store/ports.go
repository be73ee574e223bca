// Package store defines the document store boundary: owner-scoped push
// subscriptions and identifier-based writes.
package store

import (
	"context"
	"errors"
	"time"
)

// Collections used by the dashboard.
const (
	Transactions = "transactions"
	Settings     = "settings"
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrMissingOwner = errors.New("document has no owner")
	ErrClosed       = errors.New("store closed")
)

// Document is a stored record. CreatedAt is assigned by the store on create
// and is nil until then. Fields holds everything else, keyed by wire name.
type Document struct {
	ID        string
	Owner     string
	CreatedAt *time.Time
	Fields    map[string]any
}

// Clone returns a copy whose Fields map can be mutated freely.
func (d Document) Clone() Document {
	out := d
	if d.CreatedAt != nil {
		ts := *d.CreatedAt
		out.CreatedAt = &ts
	}
	out.Fields = make(map[string]any, len(d.Fields))
	for k, v := range d.Fields {
		out.Fields[k] = v
	}
	return out
}

// Query selects one owner's documents of a collection. Results are always
// ordered by CreatedAt descending, documents without a timestamp last.
type Query struct {
	Collection string
	Owner      string
}

type (
	// SnapshotFunc receives the full result set after every change. The
	// slice may be shared between subscribers and must not be modified.
	SnapshotFunc func(docs []Document)
	// ErrorFunc receives subscription failures. The subscription stays open.
	ErrorFunc func(err error)

	// Subscriber opens push subscriptions. Deliveries for one subscription
	// are strictly ordered; none happen after the returned function returns.
	Subscriber interface {
		Subscribe(q Query, onSnapshot SnapshotFunc, onError ErrorFunc) (unsubscribe func())
	}

	// Writer performs identifier-based mutations.
	Writer interface {
		// Create appends a document, assigning its id and CreatedAt.
		Create(ctx context.Context, collection string, doc Document) (id string, err error)
		// Set writes a document under a caller-chosen id, replacing its
		// fields. CreatedAt is kept if the document exists, assigned otherwise.
		Set(ctx context.Context, collection string, doc Document) error
		// Update merges fields into an existing document.
		Update(ctx context.Context, collection, id string, fields map[string]any) error
		Delete(ctx context.Context, collection, id string) error
	}

	// Reader fetches a single document.
	Reader interface {
		Get(ctx context.Context, collection, id string) (Document, error)
	}

	Store interface {
		Subscriber
		Reader
		Writer
	}
)

// Change operations.
const (
	OpCreate = "create"
	OpSet    = "set"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Change describes a committed write so that other processes can refresh
// their subscriptions.
type Change struct {
	Collection string    `json:"collection"`
	Owner      string    `json:"owner"`
	ID         string    `json:"id"`
	Op         string    `json:"op"`
	At         time.Time `json:"at"`
	Origin     string    `json:"origin,omitempty"`
}

// ChangePublisher fans committed writes out to other processes.
type ChangePublisher interface {
	PublishChange(ctx context.Context, c Change) error
}
