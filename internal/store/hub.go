package store

import (
	"context"
	"sort"
	"sync"
)

// Fetcher loads the current result set of a query.
type Fetcher func(ctx context.Context, q Query) ([]Document, error)

// Hub turns change notifications into ordered, asynchronous snapshot
// deliveries. Each subscription owns one goroutine; notifications that
// arrive while a delivery is running are coalesced into one re-fetch.
type Hub struct {
	fetch Fetcher

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

func NewHub(fetch Fetcher) *Hub {
	return &Hub{fetch: fetch, subs: make(map[*subscription]struct{})}
}

type subscription struct {
	q          Query
	onSnapshot SnapshotFunc
	onError    ErrorFunc

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	pmu   sync.Mutex
	dirty bool
	errs  []error

	// cbMu is held while a callback runs so that unsubscribe can wait it out.
	cbMu   sync.Mutex
	closed bool
	once   sync.Once
}

// Subscribe registers q and schedules its first snapshot. The returned
// function is idempotent; once it returns no callback for this subscription
// runs again. It must not be called from inside this subscription's own
// callbacks.
func (h *Hub) Subscribe(q Query, onSnapshot SnapshotFunc, onError ErrorFunc) func() {
	ctx, cancel := context.WithCancel(context.Background())
	s := &subscription{
		q:          q,
		onSnapshot: onSnapshot,
		onError:    onError,
		wake:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		dirty:      true,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		if onError != nil {
			go func() {
				s.cbMu.Lock()
				defer s.cbMu.Unlock()
				if !s.closed {
					onError(ErrClosed)
				}
			}()
		}
		return func() { s.stop() }
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	s.signal()
	go h.run(s)

	return func() {
		h.mu.Lock()
		delete(h.subs, s)
		h.mu.Unlock()
		s.stop()
	}
}

// Notify schedules a re-fetch for every subscription on collection. An
// empty owner matches all owners.
func (h *Hub) Notify(collection, owner string) {
	h.each(collection, owner, func(s *subscription) {
		s.pmu.Lock()
		s.dirty = true
		s.pmu.Unlock()
		s.signal()
	})
}

// Fail reports err to every matching subscription without touching its
// last snapshot.
func (h *Hub) Fail(collection, owner string, err error) {
	h.each(collection, owner, func(s *subscription) {
		s.pmu.Lock()
		s.errs = append(s.errs, err)
		s.pmu.Unlock()
		s.signal()
	})
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close stops every subscription. Later subscriptions only receive ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.subs = make(map[*subscription]struct{})
	h.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
}

func (h *Hub) each(collection, owner string, fn func(*subscription)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if s.q.Collection != collection {
			continue
		}
		if owner != "" && s.q.Owner != owner {
			continue
		}
		fn(s)
	}
}

func (h *Hub) run(s *subscription) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}

		s.pmu.Lock()
		dirty, errs := s.dirty, s.errs
		s.dirty, s.errs = false, nil
		s.pmu.Unlock()

		var docs []Document
		if dirty {
			var err error
			docs, err = h.fetch(s.ctx, s.q)
			if err != nil {
				if s.ctx.Err() != nil {
					return
				}
				errs = append(errs, err)
				dirty = false
			}
		}

		s.cbMu.Lock()
		if s.closed {
			s.cbMu.Unlock()
			return
		}
		if s.onError != nil {
			for _, err := range errs {
				s.onError(err)
			}
		}
		if dirty && s.onSnapshot != nil {
			s.onSnapshot(docs)
		}
		s.cbMu.Unlock()
	}
}

func (s *subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) stop() {
	s.once.Do(func() {
		s.cancel()
		s.cbMu.Lock()
		s.closed = true
		s.cbMu.Unlock()
	})
}

// SortByCreatedDesc orders documents newest first. Documents without a
// timestamp go last; ties fall back to id so the order is deterministic.
func SortByCreatedDesc(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i].CreatedAt, docs[j].CreatedAt
		switch {
		case a == nil && b == nil:
			return docs[i].ID > docs[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.After(*b)
		default:
			return docs[i].ID > docs[j].ID
		}
	})
}
