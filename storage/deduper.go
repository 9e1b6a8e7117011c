package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInFlight is returned by Lookup while the first request carrying the
// key is still being processed.
var ErrInFlight = errors.New("request with this idempotency key is in progress")

const claimMarker = "pending"

// Deduper remembers idempotency keys per owner. Claim reserves a key,
// Complete binds it to the created record and Release frees it again when
// the create failed so the caller may retry.
type Deduper interface {
	Claim(ctx context.Context, owner, key string) (bool, error)
	Complete(ctx context.Context, owner, key string, id int64) error
	Lookup(ctx context.Context, owner, key string) (int64, error)
	Release(ctx context.Context, owner, key string) error
}

// RedisDeduper stores idempotency keys in Redis so all instances agree on
// which creates already happened.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(owner, key string) string {
	return fmt.Sprintf("idem:%s:%s", owner, key)
}

// Claim records the key if it does not already exist. It returns true when
// the key was newly added.
func (r *RedisDeduper) Claim(ctx context.Context, owner, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(owner, key), claimMarker, r.ttl).Result()
}

func (r *RedisDeduper) Complete(ctx context.Context, owner, key string, id int64) error {
	return r.client.Set(ctx, r.key(owner, key), strconv.FormatInt(id, 10), r.ttl).Err()
}

// Lookup returns the id bound to the key, ErrInFlight while it is only
// claimed, and ErrNotFound when the key is unknown.
func (r *RedisDeduper) Lookup(ctx context.Context, owner, key string) (int64, error) {
	val, err := r.client.Get(ctx, r.key(owner, key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return parseClaim(val)
}

// Release deletes a previously recorded key.
func (r *RedisDeduper) Release(ctx context.Context, owner, key string) error {
	return r.client.Del(ctx, r.key(owner, key)).Err()
}

type memoryClaim struct {
	value   string
	expires time.Time
}

// MemoryDeduper is the single-instance variant used when Redis is not
// configured.
type MemoryDeduper struct {
	mu   sync.Mutex
	keys map[string]memoryClaim
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{keys: map[string]memoryClaim{}, ttl: ttl, now: time.Now}
}

func (m *MemoryDeduper) getLocked(k string) (memoryClaim, bool) {
	c, ok := m.keys[k]
	if ok && m.ttl > 0 && !m.now().Before(c.expires) {
		delete(m.keys, k)
		return memoryClaim{}, false
	}
	return c, ok
}

func (m *MemoryDeduper) Claim(_ context.Context, owner, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := owner + ":" + key
	if _, ok := m.getLocked(k); ok {
		return false, nil
	}
	m.keys[k] = memoryClaim{value: claimMarker, expires: m.now().Add(m.ttl)}
	return true, nil
}

func (m *MemoryDeduper) Complete(_ context.Context, owner, key string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[owner+":"+key] = memoryClaim{value: strconv.FormatInt(id, 10), expires: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryDeduper) Lookup(_ context.Context, owner, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.getLocked(owner + ":" + key)
	if !ok {
		return 0, ErrNotFound
	}
	return parseClaim(c.value)
}

func (m *MemoryDeduper) Release(_ context.Context, owner, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, owner+":"+key)
	return nil
}

func parseClaim(val string) (int64, error) {
	if val == claimMarker {
		return 0, ErrInFlight
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt idempotency record %q: %w", val, err)
	}
	return id, nil
}
