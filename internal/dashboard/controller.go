package dashboard

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"finpulse/internal/cache"
	"finpulse/internal/core"
	"finpulse/internal/feed"
	"finpulse/internal/ledger"
	"finpulse/internal/log"
	"finpulse/internal/store"
)

const viewCacheSize = 8

type config struct {
	defaults Defaults
	loc      *time.Location
	now      func() time.Time
	logger   *log.Logger
	onError  func(error)
}

type Option func(*config)

func WithDefaults(d Defaults) Option {
	return func(c *config) { c.defaults = d }
}

// WithLocation sets the time zone calendar days are counted in.
func WithLocation(loc *time.Location) Option {
	return func(c *config) { c.loc = loc }
}

func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

func WithLogger(l *log.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithErrorHook receives feed failures.
func WithErrorHook(fn func(error)) Option {
	return func(c *config) { c.onError = fn }
}

// Controller is the single owner of one session's dashboard state. It
// follows the session's transactions and goal, and recomputes the view when
// either snapshot or the state changes.
type Controller struct {
	cfg    config
	txs    *feed.Feed[core.Transaction]
	goals  *feed.Feed[core.Goal]
	views  *cache.LRUCache[View]
	logger *log.Logger

	mu        sync.Mutex
	state     State
	stateVer  uint64
	listeners map[uint64]func(View)
	nextID    uint64
	closed    bool
	done      chan struct{}
	stopFeeds []func()
	unbind    []func()

	// notifyMu keeps listener calls in order.
	notifyMu sync.Mutex
}

func NewController(st store.Subscriber, opts ...Option) *Controller {
	cfg := config{defaults: StandardDefaults(), loc: time.Local, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = log.Discard()
	}

	feedOpts := []feed.Option{feed.WithLogger(cfg.logger)}
	if cfg.onError != nil {
		feedOpts = append(feedOpts, feed.WithErrorHook(cfg.onError))
	}

	c := &Controller{
		cfg:       cfg,
		txs:       feed.NewTransactions(st, feedOpts...),
		goals:     feed.NewGoals(st, feedOpts...),
		views:     cache.NewLRUCache[View](viewCacheSize, time.Hour),
		logger:    cfg.logger.WithComponent(log.ComponentDashboard),
		state:     initialState(cfg.defaults),
		listeners: make(map[uint64]func(View)),
		done:      make(chan struct{}),
	}
	c.stopFeeds = []func(){
		c.txs.Listen(func(feed.Snapshot[core.Transaction]) { c.refresh() }),
		c.goals.Listen(func(s feed.Snapshot[core.Goal]) {
			c.warnDuplicateGoals(s)
			c.refresh()
		}),
	}
	return c
}

// SetOwner points both feeds at owner. An empty owner clears the view.
func (c *Controller) SetOwner(owner string) {
	c.txs.SetOwner(owner)
	c.goals.SetOwner(owner)
}

// Bind follows src until Close.
func (c *Controller) Bind(src feed.OwnerSource) {
	u1 := c.txs.Bind(src)
	u2 := c.goals.Bind(src)
	c.mu.Lock()
	c.unbind = append(c.unbind, u1, u2)
	c.mu.Unlock()
}

func (c *Controller) Owner() string {
	return c.txs.Owner()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Transactions() []core.Transaction {
	return c.txs.Snapshot().Items
}

// Err reports the latest feed failure, if any.
func (c *Controller) Err() error {
	if err := c.txs.Err(); err != nil {
		return err
	}
	return c.goals.Err()
}

// View returns the current view, computing it only when an input changed.
func (c *Controller) View() (View, error) {
	in, ver := c.inputs()
	key := viewKey(in, ver)
	if v, ok := c.views.Get(key); ok {
		return v, nil
	}
	v, err := Compute(in)
	if err != nil {
		return View{}, err
	}
	c.views.Set(key, v)
	return v, nil
}

func (c *Controller) SetTheme(t Theme) {
	c.update(func(s *State) { s.Theme = t })
}

func (c *Controller) ToggleTheme() Theme {
	var t Theme
	c.update(func(s *State) {
		s.Theme = s.Theme.Toggle()
		t = s.Theme
	})
	return t
}

func (c *Controller) SetTab(t Tab) {
	c.update(func(s *State) { s.Tab = t })
}

// SetLimits replaces the pulse limits. Non-positive limits are rejected.
func (c *Controller) SetLimits(l ledger.Limits) error {
	if err := l.Validate(); err != nil {
		return err
	}
	c.update(func(s *State) { s.Limits = l })
	return nil
}

func (c *Controller) SetFilter(f ledger.ListFilter) {
	f = normalizeFilter(f)
	c.update(func(s *State) { s.Filter = f })
}

// Listen registers fn for every new view. Calls are serialized. fn must not
// change the controller's state or cancel itself.
func (c *Controller) Listen(fn func(View)) (cancel func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return func() {}
	}
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.notifyMu.Lock()
		defer c.notifyMu.Unlock()
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Done is closed by Close.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Close stops both feeds. Listeners are not called afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unbind := c.unbind
	c.unbind = nil
	c.mu.Unlock()

	for _, fn := range unbind {
		fn()
	}
	for _, stop := range c.stopFeeds {
		stop()
	}
	c.txs.Close()
	c.goals.Close()
	c.views.Purge()

	c.notifyMu.Lock()
	c.mu.Lock()
	c.listeners = make(map[uint64]func(View))
	c.mu.Unlock()
	c.notifyMu.Unlock()
	close(c.done)
}

func (c *Controller) update(fn func(*State)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	fn(&c.state)
	c.stateVer++
	c.mu.Unlock()
	c.refresh()
}

func (c *Controller) inputs() (Inputs, uint64) {
	txs := c.txs.Snapshot()
	goals := c.goals.Snapshot()

	c.mu.Lock()
	state, ver := c.state, c.stateVer
	c.mu.Unlock()

	in := Inputs{
		Owner:     txs.Owner,
		TxVersion: txs.Version,
		Txs:       txs.Items,
		State:     state,
		Defaults:  c.cfg.defaults,
		Now:       c.cfg.now().In(c.cfg.loc),
		Stale:     c.txs.Err() != nil || c.goals.Err() != nil,
	}
	// during an owner switch the goal feed may still hold the previous owner
	if goals.Owner == txs.Owner {
		in.GoalVersion = goals.Version
		in.Goals = goals.Items
	}
	return in, ver
}

func viewKey(in Inputs, ver uint64) string {
	y, m, d := in.Now.Date()
	return fmt.Sprintf("%s|%d|%d|%d|%t|%04d-%02d-%02d", in.Owner, in.TxVersion, in.GoalVersion, ver, in.Stale, y, m, d)
}

// warnDuplicateGoals logs the goal records a view will not use. Only one
// goal per owner counts.
func (c *Controller) warnDuplicateGoals(s feed.Snapshot[core.Goal]) {
	if len(s.Items) < 2 {
		return
	}
	kept, _ := pickGoal(s.Owner, s.Items, c.cfg.defaults.Goal)
	ignored := make([]string, 0, len(s.Items)-1)
	for _, g := range s.Items {
		if g.ID != kept.ID {
			ignored = append(ignored, g.ID)
		}
	}
	c.logger.Warn("Duplicate goal records ignored",
		log.FieldOwner, s.Owner,
		log.FieldDocumentID, kept.ID,
		"ignored", ignored)
}

func (c *Controller) refresh() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if c.closed || len(c.listeners) == 0 {
		c.mu.Unlock()
		return
	}
	ids := make([]uint64, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	v, err := c.View()
	if err != nil {
		c.logger.Error("Dashboard view failed", log.FieldOwner, c.Owner(), log.FieldError, err)
		return
	}

	slices.Sort(ids)
	c.mu.Lock()
	fns := make([]func(View), 0, len(ids))
	for _, id := range ids {
		if fn, ok := c.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}
