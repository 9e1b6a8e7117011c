package storage

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskmanagement/domain"
)

func nullLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

// countingRepo counts the queries that reach the backing repository.
type countingRepo struct {
	*Memory
	queries atomic.Int32
	fail    error
}

func (c *countingRepo) QueryTasks(ctx context.Context, owner string, q domain.Query) ([]domain.Task, error) {
	c.queries.Add(1)
	if c.fail != nil {
		return nil, c.fail
	}
	return c.Memory.QueryTasks(ctx, owner, q)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheQueryMissThenHit(t *testing.T) {
	mr, client := newRedis(t)
	repo := &countingRepo{Memory: NewMemory()}
	cache := NewCache(repo, client, time.Minute, WithLogger(nullLogger()))
	ctx := context.Background()

	if _, err := repo.CreateTask(ctx, "alice", domain.NewTask{Title: "Cached"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	q := domain.Query{Filter: domain.Filter{domain.FilterStatus: "TO_DO"}}
	for i := 0; i < 3; i++ {
		tasks, err := cache.QueryTasks(ctx, "alice", q)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(tasks) != 1 || tasks[0].Title != "Cached" {
			t.Fatalf("unexpected tasks %#v", tasks)
		}
	}
	if n := repo.queries.Load(); n != 1 {
		t.Fatalf("expected 1 backing query, got %d", n)
	}
	if ttl := mr.TTL(tasksCacheKey("alice", q)); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	// Other owners and other queries have their own entries.
	if _, err := cache.QueryTasks(ctx, "bob", q); err != nil {
		t.Fatalf("query: %v", err)
	}
	if _, err := cache.QueryTasks(ctx, "alice", domain.Query{}); err != nil {
		t.Fatalf("query: %v", err)
	}
	if n := repo.queries.Load(); n != 3 {
		t.Fatalf("expected 3 backing queries, got %d", n)
	}
}

func TestCacheWritesEvictOwnerEntries(t *testing.T) {
	mr, client := newRedis(t)
	repo := &countingRepo{Memory: NewMemory()}
	cache := NewCache(repo, client, time.Minute, WithLogger(nullLogger()))
	ctx := context.Background()

	created, err := cache.CreateTask(ctx, "alice", domain.NewTask{Title: "One"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	q := domain.Query{}
	if _, err := cache.QueryTasks(ctx, "alice", q); err != nil {
		t.Fatalf("query: %v", err)
	}
	if _, err := cache.QueryTasks(ctx, "bob", q); err != nil {
		t.Fatalf("query: %v", err)
	}

	updated, err := cache.UpdateTask(ctx, "alice", created.ID, domain.PendingPatch(false))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if mr.Exists(tasksCacheKey("alice", q)) || mr.Exists(tasksIndexKey("alice")) {
		t.Fatalf("expected alice entries evicted")
	}
	if !mr.Exists(tasksCacheKey("bob", q)) {
		t.Fatalf("bob's entry should survive")
	}

	tasks, err := cache.QueryTasks(ctx, "alice", q)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Pending || !tasks[0].UpdatedAt.Equal(updated.UpdatedAt) {
		t.Fatalf("expected refreshed task, got %#v", tasks)
	}
}

func TestCacheFailedWriteKeepsEntries(t *testing.T) {
	mr, client := newRedis(t)
	cache := NewCache(&countingRepo{Memory: NewMemory()}, client, time.Minute, WithLogger(nullLogger()))
	ctx := context.Background()

	if _, err := cache.QueryTasks(ctx, "alice", domain.Query{}); err != nil {
		t.Fatalf("query: %v", err)
	}
	if err := cache.DeleteTask(ctx, "alice", 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !mr.Exists(tasksCacheKey("alice", domain.Query{})) {
		t.Fatalf("failed write must not evict")
	}
}

func TestCacheFallsBackOnCorruptEntry(t *testing.T) {
	mr, client := newRedis(t)
	repo := &countingRepo{Memory: NewMemory()}
	cache := NewCache(repo, client, time.Minute, WithLogger(nullLogger()))
	ctx := context.Background()

	key := tasksCacheKey("alice", domain.Query{})
	if err := mr.Set(key, "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tasks, err := cache.QueryTasks(ctx, "alice", domain.Query{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if tasks == nil || repo.queries.Load() != 1 {
		t.Fatalf("expected fallback to repository")
	}
}

func TestCacheWithoutRedisPassesThrough(t *testing.T) {
	repo := &countingRepo{Memory: NewMemory()}
	cache := NewCache(repo, nil, time.Minute)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := cache.QueryTasks(ctx, "alice", domain.Query{}); err != nil {
			t.Fatalf("query: %v", err)
		}
	}
	if n := repo.queries.Load(); n != 2 {
		t.Fatalf("expected every query to reach the repository, got %d", n)
	}
	if err := cache.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestCacheDoesNotStoreErrors(t *testing.T) {
	mr, client := newRedis(t)
	boom := errors.New("boom")
	cache := NewCache(&countingRepo{Memory: NewMemory(), fail: boom}, client, time.Minute)
	if _, err := cache.QueryTasks(context.Background(), "alice", domain.Query{}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if mr.Exists(tasksCacheKey("alice", domain.Query{})) {
		t.Fatalf("errors must not be cached")
	}
}
