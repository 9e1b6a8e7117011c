package store

import "sync"

// Subscription delivers snapshots of one key. Only the newest undelivered
// snapshot is kept; a slow reader skips intermediate states.
type Subscription[T any] struct {
	key   string
	cache *Cache[T]
	ch    chan Snapshot[T]
	once  sync.Once
}

// Subscribe registers interest in key. If the key already holds data the
// current snapshot is delivered immediately.
func (c *Cache[T]) Subscribe(key string) *Subscription[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := &Subscription[T]{key: key, cache: c, ch: make(chan Snapshot[T], 1)}
	e := c.entryLocked(key)
	e.subs[sub] = struct{}{}
	if e.hasData || e.err != nil || e.loading > 0 {
		sub.offer(c.snapshotLocked(e))
	}
	return sub
}

// C is closed once the subscription is closed.
func (s *Subscription[T]) C() <-chan Snapshot[T] { return s.ch }

// Key returns the subscribed key.
func (s *Subscription[T]) Key() string { return s.key }

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		s.cache.mu.Lock()
		defer s.cache.mu.Unlock()
		if e, ok := s.cache.entries[s.key]; ok {
			delete(e.subs, s)
		}
		close(s.ch)
	})
}

// offer is called with the cache lock held, so there is a single sender.
func (s *Subscription[T]) offer(snap Snapshot[T]) {
	select {
	case s.ch <- snap:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snap
}
