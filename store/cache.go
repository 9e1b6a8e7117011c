// Package store keeps the client-side view of remote task state: a keyed
// read-through cache shared by every consumer of the same query, and the
// mutation paths that invalidate it.
package store

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Fetcher loads the authoritative value for one key.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Snapshot is what a consumer sees for a key at one point in time.
type Snapshot[T any] struct {
	Data      T
	Loading   bool
	Stale     bool
	Err       error
	FetchedAt time.Time
}

// Message returns the human readable failure, or "" when the last fetch
// worked.
func (s Snapshot[T]) Message() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

type entry[T any] struct {
	data      T
	hasData   bool
	dataGen   uint64
	fetchedAt time.Time
	err       error
	stale     bool
	loading   int
	gen       uint64
	subs      map[*Subscription[T]]struct{}
}

type settings struct {
	maxAge time.Duration
	now    func() time.Time
	logger *log.Logger
}

// Option configures a Cache or the stores built on it.
type Option func(*settings)

// WithMaxAge treats entries older than d as stale. Zero keeps entries fresh
// until they are invalidated.
func WithMaxAge(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.maxAge = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used for fetch and mutation failures.
func WithLogger(l *log.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{now: time.Now, logger: log.StandardLogger()}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Cache maps a serialized query key to the last fetched value. Concurrent
// reads of the same key share a single in-flight fetch. Cache is safe for
// concurrent use.
type Cache[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]
	flight  singleflight.Group
	settings
}

// NewCache returns an empty cache.
func NewCache[T any](opts ...Option) *Cache[T] {
	return &Cache[T]{
		entries:  make(map[string]*entry[T]),
		settings: newSettings(opts),
	}
}

// Read returns the cached value when it is fresh. Otherwise it joins or
// starts the fetch for key and waits for it. A failed fetch keeps the last
// good data in the snapshot alongside the error.
func (c *Cache[T]) Read(ctx context.Context, key string, fetch Fetcher[T]) Snapshot[T] {
	c.mu.Lock()
	e := c.entryLocked(key)
	if c.freshLocked(e) {
		snap := c.snapshotLocked(e)
		c.mu.Unlock()
		return snap
	}
	c.mu.Unlock()
	return c.load(ctx, key, fetch, false)
}

// Revalidate refreshes key in the background. Subscribers see a loading
// snapshot carrying the stale data, then the resolved one. The returned
// channel yields the resolved snapshot once.
func (c *Cache[T]) Revalidate(ctx context.Context, key string, fetch Fetcher[T]) <-chan Snapshot[T] {
	out := make(chan Snapshot[T], 1)
	go func() {
		defer close(out)
		out <- c.load(context.WithoutCancel(ctx), key, fetch, true)
	}()
	return out
}

// Peek returns the current snapshot without fetching.
func (c *Cache[T]) Peek(key string) (Snapshot[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || (!e.hasData && e.err == nil) {
		return Snapshot[T]{}, false
	}
	return c.snapshotLocked(e), true
}

func (c *Cache[T]) load(ctx context.Context, key string, fetch Fetcher[T], force bool) Snapshot[T] {
	c.mu.Lock()
	gen := c.entryLocked(key).gen
	c.mu.Unlock()

	ch := c.flight.DoChan(flightKey(key, gen), func() (any, error) {
		c.mu.Lock()
		e := c.entryLocked(key)
		if !force && e.gen == gen && e.dataGen == gen && c.freshLocked(e) {
			// An earlier flight for this generation already finished.
			snap := c.snapshotLocked(e)
			c.mu.Unlock()
			return snap, nil
		}
		e.loading++
		c.publishLocked(e)
		c.mu.Unlock()

		// Callers may go away; the fetch still lands in the cache.
		data, err := fetch(context.WithoutCancel(ctx))
		return c.finish(key, gen, data, err), nil
	})

	select {
	case res := <-ch:
		return res.Val.(Snapshot[T])
	case <-ctx.Done():
		c.mu.Lock()
		defer c.mu.Unlock()
		snap := c.snapshotLocked(c.entryLocked(key))
		snap.Err = ctx.Err()
		return snap
	}
}

func (c *Cache[T]) finish(key string, gen uint64, data T, err error) Snapshot[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(key)
	if e.loading > 0 {
		e.loading--
	}
	if err != nil {
		e.err = err
		c.logger.WithError(err).WithField("key", key).Warn("cache fetch failed")
	} else if gen >= e.dataGen {
		e.data = data
		e.hasData = true
		e.dataGen = gen
		e.fetchedAt = c.now()
		e.err = nil
		// Invalidated while in flight: keep the data but refetch next time.
		e.stale = gen < e.gen
	}
	c.publishLocked(e)
	return c.snapshotLocked(e)
}

// Invalidate marks key stale so the next read fetches again. Subscribers
// are notified with the stale snapshot.
func (c *Cache[T]) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.invalidateLocked(e)
	return true
}

// InvalidatePrefix marks every key starting with prefix stale and returns
// how many entries were touched.
func (c *Cache[T]) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key, e := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.invalidateLocked(e)
			n++
		}
	}
	return n
}

// InvalidateAll marks every entry stale.
func (c *Cache[T]) InvalidateAll() int {
	return c.InvalidatePrefix("")
}

func (c *Cache[T]) invalidateLocked(e *entry[T]) {
	e.gen++
	e.stale = true
	c.publishLocked(e)
}

// Sweep drops entries nobody subscribes to and nobody is loading.
func (c *Cache[T]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key, e := range c.entries {
		if len(e.subs) == 0 && e.loading == 0 {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// Len reports the number of entries.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Subscribers reports how many open subscriptions key has.
func (c *Cache[T]) Subscribers(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return len(e.subs)
	}
	return 0
}

func (c *Cache[T]) entryLocked(key string) *entry[T] {
	e, ok := c.entries[key]
	if !ok {
		e = &entry[T]{subs: make(map[*Subscription[T]]struct{})}
		c.entries[key] = e
	}
	return e
}

func (c *Cache[T]) freshLocked(e *entry[T]) bool {
	if !e.hasData || e.stale || e.err != nil {
		return false
	}
	if c.maxAge > 0 && c.now().Sub(e.fetchedAt) > c.maxAge {
		return false
	}
	return true
}

func (c *Cache[T]) snapshotLocked(e *entry[T]) Snapshot[T] {
	return Snapshot[T]{
		Data:      e.data,
		Loading:   e.loading > 0,
		Stale:     e.hasData && !c.freshLocked(e),
		Err:       e.err,
		FetchedAt: e.fetchedAt,
	}
}

func (c *Cache[T]) publishLocked(e *entry[T]) {
	if len(e.subs) == 0 {
		return
	}
	snap := c.snapshotLocked(e)
	for sub := range e.subs {
		sub.offer(snap)
	}
}

func flightKey(key string, gen uint64) string {
	return key + "#" + strconv.FormatUint(gen, 10)
}
