// Package memory is an in-process document store with push subscriptions.
// It backs development runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"finpulse/internal/store"

	"github.com/oklog/ulid/v2"
)

type Store struct {
	mu    sync.Mutex
	colls map[string]map[string]store.Document
	now   func() time.Time
	newID func() string
	hub   *store.Hub
}

type Option func(*Store)

// WithClock overrides the timestamp source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDs overrides the id generator used by Create.
func WithIDs(next func() string) Option {
	return func(s *Store) { s.newID = next }
}

func New(opts ...Option) *Store {
	s := &Store{
		colls: make(map[string]map[string]store.Document),
		now:   time.Now,
		newID: func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = store.NewHub(s.query)
	return s
}

func (s *Store) Subscribe(q store.Query, onSnapshot store.SnapshotFunc, onError store.ErrorFunc) func() {
	return s.hub.Subscribe(q, onSnapshot, onError)
}

// InjectError reports err to the subscriptions of one owner's collection,
// standing in for a transient upstream failure.
func (s *Store) InjectError(q store.Query, err error) {
	s.hub.Fail(q.Collection, q.Owner, err)
}

// Subscriptions returns the number of open subscriptions.
func (s *Store) Subscriptions() int {
	return s.hub.Len()
}

func (s *Store) Close() error {
	s.hub.Close()
	return nil
}

func (s *Store) Get(_ context.Context, collection, id string) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.colls[collection][id]
	if !ok {
		return store.Document{}, fmt.Errorf("get %s/%s: %w", collection, id, store.ErrNotFound)
	}
	return doc.Clone(), nil
}

func (s *Store) Create(_ context.Context, collection string, doc store.Document) (string, error) {
	if doc.Owner == "" {
		return "", store.ErrMissingOwner
	}
	doc = doc.Clone()
	doc.ID = s.newID()
	ts := s.now()
	doc.CreatedAt = &ts

	s.mu.Lock()
	s.coll(collection)[doc.ID] = doc
	s.mu.Unlock()

	s.hub.Notify(collection, doc.Owner)
	return doc.ID, nil
}

func (s *Store) Set(_ context.Context, collection string, doc store.Document) error {
	if doc.Owner == "" {
		return store.ErrMissingOwner
	}
	if doc.ID == "" {
		return fmt.Errorf("set %s: empty id", collection)
	}
	doc = doc.Clone()

	s.mu.Lock()
	c := s.coll(collection)
	prev, exists := c[doc.ID]
	if exists {
		doc.CreatedAt = prev.CreatedAt
	} else {
		ts := s.now()
		doc.CreatedAt = &ts
	}
	c[doc.ID] = doc
	s.mu.Unlock()

	s.hub.Notify(collection, doc.Owner)
	if exists && prev.Owner != doc.Owner {
		s.hub.Notify(collection, prev.Owner)
	}
	return nil
}

func (s *Store) Update(_ context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	doc, ok := s.colls[collection][id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("update %s/%s: %w", collection, id, store.ErrNotFound)
	}
	doc = doc.Clone()
	for k, v := range fields {
		doc.Fields[k] = v
	}
	s.colls[collection][id] = doc
	s.mu.Unlock()

	s.hub.Notify(collection, doc.Owner)
	return nil
}

func (s *Store) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	doc, ok := s.colls[collection][id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("delete %s/%s: %w", collection, id, store.ErrNotFound)
	}
	delete(s.colls[collection], id)
	s.mu.Unlock()

	s.hub.Notify(collection, doc.Owner)
	return nil
}

func (s *Store) coll(name string) map[string]store.Document {
	c, ok := s.colls[name]
	if !ok {
		c = make(map[string]store.Document)
		s.colls[name] = c
	}
	return c
}

func (s *Store) query(_ context.Context, q store.Query) ([]store.Document, error) {
	s.mu.Lock()
	out := make([]store.Document, 0)
	for _, doc := range s.colls[q.Collection] {
		if doc.Owner == q.Owner {
			out = append(out, doc.Clone())
		}
	}
	s.mu.Unlock()
	store.SortByCreatedDesc(out)
	return out, nil
}
