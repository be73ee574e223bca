package dashboard

import (
	"sync"
	"time"

	"finpulse/internal/cache"
	"finpulse/internal/store"
)

// Registry keeps one controller per signed-in owner for server use.
// Controllers idle for longer than the TTL, or pushed out by the size
// bound, are closed.
type Registry struct {
	st    store.Subscriber
	opts  []Option
	mu    sync.Mutex
	ctrls *cache.LRUCache[*Controller]
}

func NewRegistry(st store.Subscriber, maxOwners int, idle time.Duration, opts ...Option) *Registry {
	return &Registry{
		st:   st,
		opts: opts,
		ctrls: cache.NewLRUCache[*Controller](maxOwners, idle,
			cache.WithEvict(func(_ string, c *Controller) { c.Close() })),
	}
}

// Get returns the owner's controller, creating it on first use.
func (r *Registry) Get(owner string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.ctrls.Get(owner); ok {
		r.ctrls.Touch(owner)
		return c
	}
	c := NewController(r.st, r.opts...)
	c.SetOwner(owner)
	r.ctrls.Set(owner, c)
	return c
}

// Release closes the owner's controller, if any.
func (r *Registry) Release(owner string) {
	r.mu.Lock()
	c, ok := r.ctrls.Delete(owner)
	r.mu.Unlock()
	if ok {
		c.Close()
	}
}

func (r *Registry) Len() int {
	return r.ctrls.Size()
}

// Cleaner exposes the idle sweep for a cache.Manager.
func (r *Registry) Cleaner() cache.Cleaner {
	return r.ctrls
}

func (r *Registry) Close() {
	r.mu.Lock()
	ctrls := r.ctrls.Purge()
	r.mu.Unlock()
	for _, c := range ctrls {
		c.Close()
	}
}
