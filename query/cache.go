// Package query is an asynchronous keyed cache with background refetching,
// invalidation and mutations.
package query

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/go-orderbook/orderbook-go/logging"
)

// Fetcher loads the value for one key.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Options control when an entry is considered stale and refetched.
type Options struct {
	// StaleTime is how long a fetched value stays fresh. Zero means stale
	// as soon as it is fetched.
	StaleTime time.Duration
	// RefetchInterval makes a Watch refetch on a fixed cadence.
	RefetchInterval time.Duration
	// RefetchOnFocus makes a Watch refetch stale data on NotifyFocus.
	RefetchOnFocus bool
	// Timeout bounds a single fetch.
	Timeout time.Duration
}

// State is a snapshot of one entry.
type State[T any] struct {
	Data    T
	HasData bool
	// Err is the error of the most recent fetch. Data keeps the last good value.
	Err       error
	FetchedAt time.Time
	Stale     bool
	Fetching  bool
}

type entry struct {
	key         Key
	data        any
	hasData     bool
	err         error
	fetchedAt   time.Time
	staleTime   time.Duration
	invalidated bool
	fetching    int
}

func (e *entry) stale(now time.Time) bool {
	return e.invalidated || !e.hasData || now.Sub(e.fetchedAt) >= e.staleTime
}

// Cache is safe for concurrent use. The zero value is not usable; call New.
type Cache struct {
	logger logging.Logger
	group  singleflight.Group
	now    func() time.Time

	mu       sync.Mutex
	entries  map[string]*entry
	gen      uint64
	watchers map[*watcher]struct{}
	flights  map[string]*flight
	flightN  uint64
	bg       sync.WaitGroup
}

// flight is one shared fetch. Its context outlives any single caller and is
// cancelled once every waiter has left.
type flight struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// New returns an empty cache. A nil logger uses logging.DefaultLogger.
func New(logger logging.Logger) *Cache {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Cache{
		logger:   logger,
		now:      time.Now,
		entries:  make(map[string]*entry),
		watchers: make(map[*watcher]struct{}),
		flights:  make(map[string]*flight),
	}
}

func stateOf[T any](e *entry, now time.Time) State[T] {
	var s State[T]
	if e == nil {
		s.Stale = true
		return s
	}
	if e.hasData {
		if v, ok := e.data.(T); ok {
			s.Data = v
			s.HasData = true
		}
	}
	s.Err = e.err
	s.FetchedAt = e.fetchedAt
	s.Stale = e.stale(now)
	s.Fetching = e.fetching > 0
	return s
}

// Get returns the current state of key without fetching.
func Get[T any](c *Cache, key Key) State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return stateOf[T](c.entries[key.hash()], c.now())
}

// Query returns the cached state immediately and starts a background fetch
// when the entry is missing or stale.
func Query[T any](c *Cache, key Key, fn Fetcher[T], opts Options) State[T] {
	c.mu.Lock()
	e := c.entryLocked(key, opts)
	s := stateOf[T](e, c.now())
	start := s.Stale && e.fetching == 0
	if start {
		c.bg.Add(1)
	}
	c.mu.Unlock()

	if start {
		go func() {
			defer c.bg.Done()
			if _, err := Fetch(context.Background(), c, key, fn, opts); err != nil {
				c.logger.Debugf("query: background fetch %s failed: %v", key, err)
			}
		}()
	}
	return s
}

// Fetch loads key and stores the result. Concurrent fetches of the same key
// share one call, which runs until its last caller gives up; cancelling ctx
// only stops this caller from waiting. On failure the last good value is
// kept and the error is recorded next to it.
func Fetch[T any](ctx context.Context, c *Cache, key Key, fn Fetcher[T], opts Options) (State[T], error) {
	if err := ctx.Err(); err != nil {
		return Get[T](c, key), err
	}
	h := key.hash()

	c.mu.Lock()
	gen := c.gen
	c.entryLocked(key, opts)
	fk := fmt.Sprintf("%d/%s", gen, h)
	fl := c.joinLocked(ctx, fk)
	c.mu.Unlock()
	defer c.leave(fk, fl)

	ch := c.group.DoChan(fl.id, func() (any, error) {
		c.mu.Lock()
		if e, ok := c.entries[h]; ok && c.gen == gen {
			e.fetching++
		}
		c.mu.Unlock()

		fctx := fl.ctx
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(fctx, opts.Timeout)
			defer cancel()
		}
		v, err := fn(fctx)
		c.apply(h, gen, fl.ctx, v, err)
		return v, err
	})

	select {
	case <-ctx.Done():
		return Get[T](c, key), ctx.Err()
	case res := <-ch:
		return Get[T](c, key), res.Err
	}
}

func (c *Cache) joinLocked(ctx context.Context, fk string) *flight {
	fl, ok := c.flights[fk]
	if !ok {
		c.flightN++
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		fl = &flight{id: fmt.Sprintf("%s/%d", fk, c.flightN), ctx: fctx, cancel: cancel}
		c.flights[fk] = fl
	}
	fl.waiters++
	return fl
}

func (c *Cache) leave(fk string, fl *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fl.waiters--
	if fl.waiters > 0 {
		return
	}
	fl.cancel()
	if c.flights[fk] == fl {
		delete(c.flights, fk)
	}
}

// apply writes a finished fetch. Results from before the last Clear and
// fetches abandoned by all of their callers are dropped.
func (c *Cache) apply(h string, gen uint64, ctx context.Context, v any, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[h]
	if !ok || c.gen != gen {
		return
	}
	e.fetching--
	if err != nil && ctx.Err() != nil {
		return
	}
	if err != nil {
		e.err = err
	} else {
		e.data = v
		e.hasData = true
		e.err = nil
		e.fetchedAt = c.now()
		e.invalidated = false
	}
	c.notifyLocked(h)
}

// SetData stores data for key as a fresh successful fetch.
func SetData[T any](c *Cache, key Key, data T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(key, Options{})
	e.data = data
	e.hasData = true
	e.err = nil
	e.fetchedAt = c.now()
	e.invalidated = false
	c.notifyLocked(key.hash())
}

// Invalidate marks every entry under prefix stale and makes active watchers
// of those keys refetch.
func (c *Cache) Invalidate(prefix Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.matchingLocked(prefix) {
		e.invalidated = true
	}
	for w := range c.watchers {
		if w.key.HasPrefix(prefix) {
			w.signal(w.refetch)
		}
	}
}

// Clear drops every entry. Fetches in flight when Clear is called do not
// write back.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.entries = make(map[string]*entry)
	for w := range c.watchers {
		w.signal(w.changed)
	}
}

// NotifyFocus makes watchers with RefetchOnFocus refetch stale data.
func (c *Cache) NotifyFocus() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for w := range c.watchers {
		if !w.opts.RefetchOnFocus {
			continue
		}
		if e, ok := c.entries[w.key.hash()]; !ok || e.stale(now) {
			w.signal(w.refetch)
		}
	}
}

// Len reports the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Wait blocks until background fetches started by Query have returned.
func (c *Cache) Wait() {
	c.bg.Wait()
}

func (c *Cache) entryLocked(key Key, opts Options) *entry {
	h := key.hash()
	e, ok := c.entries[h]
	if !ok {
		e = &entry{key: key}
		c.entries[h] = e
	}
	if opts.StaleTime > 0 {
		e.staleTime = opts.StaleTime
	}
	return e
}

func (c *Cache) matchingLocked(prefix Key) []*entry {
	var out []*entry
	for _, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			out = append(out, e)
		}
	}
	return out
}

func (c *Cache) notifyLocked(h string) {
	for w := range c.watchers {
		if w.hash == h {
			w.signal(w.changed)
		}
	}
}
