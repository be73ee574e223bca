// Package feed turns an owner-scoped store subscription into an always
// available, immutable snapshot plus change notifications.
//
// A Feed follows exactly one owner at a time. Switching owners tears down the
// previous subscription before the new one is opened, and a generation
// counter makes sure that a late delivery for the previous owner is dropped
// rather than published. Upstream failures are reported and leave the last
// good snapshot in place.
package feed

import (
	"fmt"
	"slices"
	"sync"

	"finpulse/internal/core"
	"finpulse/internal/log"
	"finpulse/internal/store"
)

// Decoder converts a stored document into a record. A decode error drops
// the document from the snapshot and is reported.
type Decoder[T any] func(doc store.Document) (T, error)

// Snapshot is an immutable view of one owner's records, newest first.
// Items must not be modified by receivers.
type Snapshot[T any] struct {
	Owner   string
	Version uint64
	Items   []T
}

// OwnerSource reports the signed-in owner and its changes. An empty owner
// means nobody is signed in.
type OwnerSource interface {
	Owner() string
	OnOwnerChange(fn func(owner string)) (unsubscribe func())
}

type config struct {
	logger  *log.Logger
	onError func(error)
}

type Option func(*config)

func WithLogger(l *log.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithErrorHook receives every upstream and decode failure.
func WithErrorHook(fn func(error)) Option {
	return func(c *config) { c.onError = fn }
}

type Feed[T any] struct {
	st         store.Subscriber
	collection string
	decode     Decoder[T]
	logger     *log.Logger
	onError    func(error)

	mu        sync.Mutex
	owner     string
	gen       uint64
	version   uint64
	snap      Snapshot[T]
	lastErr   error
	unsub     func()
	listeners map[uint64]*listener[T]
	nextID    uint64
	closed    bool

	// dispatchMu orders snapshot publication across store deliveries and
	// owner changes.
	dispatchMu sync.Mutex
}

func New[T any](st store.Subscriber, collection string, decode Decoder[T], opts ...Option) *Feed[T] {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = log.Discard()
	}
	return &Feed[T]{
		st:         st,
		collection: collection,
		decode:     decode,
		logger:     cfg.logger.WithComponent(log.ComponentFeed),
		onError:    cfg.onError,
		listeners:  make(map[uint64]*listener[T]),
	}
}

// Snapshot returns the current snapshot. It never blocks on the store and
// is empty while no owner is set.
func (f *Feed[T]) Snapshot() Snapshot[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

// Owner returns the owner the feed currently follows.
func (f *Feed[T]) Owner() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owner
}

// Err returns the last upstream failure since the last good snapshot.
func (f *Feed[T]) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// SetOwner switches the feed to owner. The snapshot is cleared immediately;
// an empty owner leaves it empty and issues no query.
func (f *Feed[T]) SetOwner(owner string) {
	f.mu.Lock()
	if f.closed || owner == f.owner {
		f.mu.Unlock()
		return
	}
	f.gen++
	gen := f.gen
	prev := f.unsub
	f.unsub = nil
	f.owner = owner
	f.version++
	f.snap = Snapshot[T]{Owner: owner, Version: f.version}
	f.lastErr = nil
	f.mu.Unlock()

	if prev != nil {
		prev()
	}
	f.logger.Debug("Feed owner changed", log.FieldCollection, f.collection, log.FieldOwner, owner)
	f.publish(gen)

	if owner == "" {
		return
	}
	unsub := f.st.Subscribe(
		store.Query{Collection: f.collection, Owner: owner},
		func(docs []store.Document) { f.receive(gen, owner, docs) },
		func(err error) { f.fail(gen, err) },
	)

	f.mu.Lock()
	if f.gen != gen || f.closed {
		f.mu.Unlock()
		unsub()
		return
	}
	f.unsub = unsub
	f.mu.Unlock()
}

// Bind makes the feed follow src until the returned function is called.
func (f *Feed[T]) Bind(src OwnerSource) (unbind func()) {
	stop := src.OnOwnerChange(f.SetOwner)
	f.SetOwner(src.Owner())
	return stop
}

// Listen registers fn for every new snapshot. Calls are serialized and in
// order. The returned cancel is idempotent; after it returns fn is not
// called again. Neither cancel nor SetOwner may be called from inside fn.
func (f *Feed[T]) Listen(fn func(Snapshot[T])) (cancel func()) {
	l := &listener[T]{fn: fn, active: true}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return func() {}
	}
	id := f.nextID
	f.nextID++
	f.listeners[id] = l
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
		l.stop()
	}
}

// Close releases the subscription and every listener.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.gen++
	prev := f.unsub
	f.unsub = nil
	ls := f.listeners
	f.listeners = make(map[uint64]*listener[T])
	f.mu.Unlock()

	if prev != nil {
		prev()
	}
	for _, l := range ls {
		l.stop()
	}
}

func (f *Feed[T]) receive(gen uint64, owner string, docs []store.Document) {
	ordered := make([]store.Document, len(docs))
	copy(ordered, docs)
	store.SortByCreatedDesc(ordered)

	items := make([]T, 0, len(ordered))
	var rejected []error
	for _, doc := range ordered {
		if doc.Owner != owner {
			rejected = append(rejected, fmt.Errorf("document %s belongs to another owner", doc.ID))
			continue
		}
		item, err := f.decode(doc)
		if err != nil {
			rejected = append(rejected, fmt.Errorf("decode %s/%s: %w", f.collection, doc.ID, err))
			continue
		}
		items = append(items, item)
	}

	f.dispatchMu.Lock()
	defer f.dispatchMu.Unlock()

	f.mu.Lock()
	if f.gen != gen || f.closed {
		f.mu.Unlock()
		return
	}
	f.version++
	f.snap = Snapshot[T]{Owner: owner, Version: f.version, Items: items}
	f.lastErr = nil
	snap := f.snap
	ls := f.activeListeners()
	f.mu.Unlock()

	for _, err := range rejected {
		f.report(err)
	}
	for _, l := range ls {
		l.deliver(snap)
	}
}

func (f *Feed[T]) fail(gen uint64, err error) {
	wrapped := core.NewUpstreamError("subscribe "+f.collection, err)
	f.mu.Lock()
	if f.gen != gen || f.closed {
		f.mu.Unlock()
		return
	}
	f.lastErr = wrapped
	f.mu.Unlock()
	f.report(wrapped)
}

// publish delivers the current snapshot if gen is still current.
func (f *Feed[T]) publish(gen uint64) {
	f.dispatchMu.Lock()
	defer f.dispatchMu.Unlock()

	f.mu.Lock()
	if f.gen != gen || f.closed {
		f.mu.Unlock()
		return
	}
	snap := f.snap
	ls := f.activeListeners()
	f.mu.Unlock()

	for _, l := range ls {
		l.deliver(snap)
	}
}

func (f *Feed[T]) report(err error) {
	f.logger.Warn("Feed error", log.FieldCollection, f.collection, log.FieldError, err)
	if f.onError != nil {
		f.onError(err)
	}
}

// activeListeners must be called with f.mu held. Listeners are returned in
// registration order.
func (f *Feed[T]) activeListeners() []*listener[T] {
	ids := make([]uint64, 0, len(f.listeners))
	for id := range f.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]*listener[T], len(ids))
	for i, id := range ids {
		out[i] = f.listeners[id]
	}
	return out
}

type listener[T any] struct {
	mu     sync.Mutex
	fn     func(Snapshot[T])
	active bool
}

func (l *listener[T]) deliver(s Snapshot[T]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active {
		l.fn(s)
	}
}

func (l *listener[T]) stop() {
	l.mu.Lock()
	l.active = false
	l.mu.Unlock()
}
