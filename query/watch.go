package query

import (
	"context"
	"sync"
	"time"
)

type watcher struct {
	key  Key
	hash string
	opts Options

	// changed is signalled when the entry was written or dropped, refetch
	// when it was invalidated.
	changed chan struct{}
	refetch chan struct{}
}

func (w *watcher) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Watch keeps key fresh while the returned stop function has not been called.
// It fetches on start when the entry is stale, on every RefetchInterval tick,
// on invalidation and on NotifyFocus when RefetchOnFocus is set. listener is
// called from a single goroutine with every new state. stop cancels the loop,
// including a fetch in flight, and waits for it to exit; listener is not
// called after stop returns. stop must not be called from listener.
func Watch[T any](c *Cache, key Key, fn Fetcher[T], opts Options, listener func(State[T])) (stop func()) {
	w := &watcher{
		key:     key,
		hash:    key.hash(),
		opts:    opts,
		changed: make(chan struct{}, 1),
		refetch: make(chan struct{}, 1),
	}

	c.mu.Lock()
	c.entryLocked(key, opts)
	c.watchers[w] = struct{}{}
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		watchLoop(ctx, c, w, fn, listener)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
			c.mu.Lock()
			delete(c.watchers, w)
			c.mu.Unlock()
		})
	}
}

func watchLoop[T any](ctx context.Context, c *Cache, w *watcher, fn Fetcher[T], listener func(State[T])) {
	var tickC <-chan time.Time
	if w.opts.RefetchInterval > 0 {
		t := time.NewTicker(w.opts.RefetchInterval)
		defer t.Stop()
		tickC = t.C
	}

	deliver := func() {
		if ctx.Err() != nil {
			return
		}
		listener(Get[T](c, w.key))
	}
	fetch := func() {
		// Errors are recorded in the entry and reach the listener like data.
		_, _ = Fetch(ctx, c, w.key, fn, w.opts)
		select {
		case <-w.changed:
			deliver()
		default:
		}
	}

	if s := Get[T](c, w.key); s.HasData || s.Err != nil {
		deliver()
	}
	if Get[T](c, w.key).Stale {
		fetch()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.changed:
			deliver()
		case <-w.refetch:
			fetch()
		case <-tickC:
			fetch()
		}
	}
}
