package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func nullLogger() Option {
	logger, _ := test.NewNullLogger()
	return WithLogger(logger)
}

// gatedFetcher blocks until release is closed and counts invocations.
type gatedFetcher struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	value   []string
	err     error
}

func newGatedFetcher(value ...string) *gatedFetcher {
	return &gatedFetcher{started: make(chan struct{}, 16), release: make(chan struct{}), value: value}
}

func (g *gatedFetcher) fetch(ctx context.Context) ([]string, error) {
	g.calls.Add(1)
	g.started <- struct{}{}
	<-g.release
	return g.value, g.err
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting")
	}
}

func nextSnapshot[T any](t *testing.T, sub *Subscription[T], match func(Snapshot[T]) bool) Snapshot[T] {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-sub.C():
			if !ok {
				t.Fatalf("subscription closed")
			}
			if match(snap) {
				return snap
			}
		case <-deadline:
			t.Fatalf("timed out waiting for snapshot")
		}
	}
}

func TestReadSharesInFlightFetch(t *testing.T) {
	cache := NewCache[[]string](nullLogger())
	fetcher := newGatedFetcher("a", "b")
	ctx := context.Background()

	sub := cache.Subscribe("k")
	defer sub.Close()

	var wg sync.WaitGroup
	results := make([]Snapshot[[]string], 8)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = cache.Read(ctx, "k", fetcher.fetch)
	}()
	waitFor(t, fetcher.started)

	loading := nextSnapshot(t, sub, func(s Snapshot[[]string]) bool { return s.Loading })
	if len(loading.Data) != 0 {
		t.Fatalf("expected no data while first load is in flight, got %v", loading.Data)
	}

	for i := 1; i < len(results); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = cache.Read(ctx, "k", fetcher.fetch)
		}()
	}
	close(fetcher.release)
	wg.Wait()

	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("expected exactly one fetch, got %d", got)
	}
	for i, r := range results {
		if r.Err != nil || len(r.Data) != 2 || r.Loading {
			t.Fatalf("reader %d got %#v", i, r)
		}
	}
	done := nextSnapshot(t, sub, func(s Snapshot[[]string]) bool { return !s.Loading })
	if len(done.Data) != 2 {
		t.Fatalf("subscriber missed resolved data: %#v", done)
	}
}

func TestReadServesCachedValueUntilInvalidated(t *testing.T) {
	cache := NewCache[int](nullLogger())
	var calls int
	fetch := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}
	ctx := context.Background()

	if got := cache.Read(ctx, "k", fetch).Data; got != 1 {
		t.Fatalf("unexpected first read: %d", got)
	}
	if got := cache.Read(ctx, "k", fetch).Data; got != 1 {
		t.Fatalf("expected cached value, got %d", got)
	}
	if !cache.Invalidate("k") {
		t.Fatalf("expected entry to exist")
	}
	if snap, _ := cache.Peek("k"); !snap.Stale {
		t.Fatalf("expected stale snapshot after invalidation")
	}
	if got := cache.Read(ctx, "k", fetch).Data; got != 2 {
		t.Fatalf("expected refetch after invalidation, got %d", got)
	}
	if cache.Invalidate("missing") {
		t.Fatalf("invalidating an unknown key should report false")
	}
}

func TestReadKeepsLastGoodDataOnFailure(t *testing.T) {
	logger, hook := test.NewNullLogger()
	cache := NewCache[[]string](WithLogger(logger))
	ctx := context.Background()

	ok := func(context.Context) ([]string, error) { return []string{"cached"}, nil }
	fail := func(context.Context) ([]string, error) { return nil, errBoom }

	cache.Read(ctx, "k", ok)
	cache.Invalidate("k")
	snap := cache.Read(ctx, "k", fail)

	if !errors.Is(snap.Err, errBoom) || snap.Message() != "boom" {
		t.Fatalf("expected boom error, got %v", snap.Err)
	}
	if len(snap.Data) != 1 || snap.Data[0] != "cached" {
		t.Fatalf("expected stale data, got %#v", snap.Data)
	}
	if !snap.Stale {
		t.Fatalf("expected stale flag")
	}
	if entry := hook.LastEntry(); entry == nil || entry.Message != "cache fetch failed" || entry.Data["key"] != "k" {
		t.Fatalf("expected failure to be logged, got %#v", entry)
	}

	// Failed entries are not fresh: the next read retries the fetch.
	snap = cache.Read(ctx, "k", ok)
	if snap.Err != nil || snap.Stale {
		t.Fatalf("expected recovery, got %#v", snap)
	}
}

func TestReadFailureWithoutDataIsEmpty(t *testing.T) {
	cache := NewCache[[]string](nullLogger())
	snap := cache.Read(context.Background(), "k", func(context.Context) ([]string, error) { return nil, errBoom })
	if snap.Data != nil || snap.Err == nil || snap.Stale {
		t.Fatalf("unexpected snapshot: %#v", snap)
	}
}

func TestInvalidateDuringFetchLeavesEntryStale(t *testing.T) {
	cache := NewCache[[]string](nullLogger())
	fetcher := newGatedFetcher("old")
	ctx := context.Background()

	done := make(chan Snapshot[[]string], 1)
	go func() { done <- cache.Read(ctx, "k", fetcher.fetch) }()
	waitFor(t, fetcher.started)

	cache.Invalidate("k")
	close(fetcher.release)
	snap := <-done

	if len(snap.Data) != 1 || !snap.Stale {
		t.Fatalf("expected data stored but stale, got %#v", snap)
	}

	fresh := cache.Read(ctx, "k", func(context.Context) ([]string, error) { return []string{"new"}, nil })
	if fresh.Data[0] != "new" || fresh.Stale {
		t.Fatalf("expected refetch after invalidation, got %#v", fresh)
	}
	if fetcher.calls.Load() != 1 {
		t.Fatalf("unexpected fetch count %d", fetcher.calls.Load())
	}
}

func TestReadReturnsWhenCallerGivesUp(t *testing.T) {
	cache := NewCache[[]string](nullLogger())
	fetcher := newGatedFetcher("late")
	sub := cache.Subscribe("k")
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Snapshot[[]string], 1)
	go func() { done <- cache.Read(ctx, "k", fetcher.fetch) }()
	waitFor(t, fetcher.started)
	cancel()

	snap := <-done
	if !errors.Is(snap.Err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", snap.Err)
	}

	// The fetch was not cancelled and still lands in the cache.
	close(fetcher.release)
	landed := nextSnapshot(t, sub, func(s Snapshot[[]string]) bool { return !s.Loading && len(s.Data) == 1 })
	if landed.Data[0] != "late" {
		t.Fatalf("unexpected data %#v", landed.Data)
	}
}

func TestMaxAgeExpiresEntries(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewCache[int](nullLogger(), WithMaxAge(time.Minute), WithClock(func() time.Time { return now }))
	var calls int
	fetch := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}
	ctx := context.Background()

	cache.Read(ctx, "k", fetch)
	now = now.Add(30 * time.Second)
	if got := cache.Read(ctx, "k", fetch).Data; got != 1 {
		t.Fatalf("expected fresh value, got %d", got)
	}
	now = now.Add(time.Minute)
	if snap, _ := cache.Peek("k"); !snap.Stale {
		t.Fatalf("expected expired entry to be stale")
	}
	if got := cache.Read(ctx, "k", fetch).Data; got != 2 {
		t.Fatalf("expected refetch after max age, got %d", got)
	}
}

func TestRevalidateNotifiesSubscribers(t *testing.T) {
	cache := NewCache[[]string](nullLogger())
	ctx := context.Background()
	cache.Read(ctx, "k", func(context.Context) ([]string, error) { return []string{"v1"}, nil })

	sub := cache.Subscribe("k")
	defer sub.Close()
	first := nextSnapshot(t, sub, func(Snapshot[[]string]) bool { return true })
	if first.Data[0] != "v1" {
		t.Fatalf("expected current snapshot on subscribe, got %#v", first)
	}

	fetcher := newGatedFetcher("v2")
	result := cache.Revalidate(ctx, "k", fetcher.fetch)
	waitFor(t, fetcher.started)

	loading := nextSnapshot(t, sub, func(s Snapshot[[]string]) bool { return s.Loading })
	if loading.Data[0] != "v1" {
		t.Fatalf("expected stale data while revalidating, got %#v", loading.Data)
	}
	close(fetcher.release)

	resolved := <-result
	if resolved.Data[0] != "v2" || resolved.Loading {
		t.Fatalf("unexpected resolved snapshot %#v", resolved)
	}
	last := nextSnapshot(t, sub, func(s Snapshot[[]string]) bool { return !s.Loading })
	if last.Data[0] != "v2" {
		t.Fatalf("subscriber saw %#v", last.Data)
	}
}

func TestSubscriptionKeepsNewestSnapshot(t *testing.T) {
	cache := NewCache[int](nullLogger())
	sub := cache.Subscribe("k")
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		cache.Invalidate("k")
		cache.Read(ctx, "k", func(context.Context) (int, error) { return i, nil })
	}
	snap := <-sub.C()
	if snap.Data != 3 {
		t.Fatalf("expected newest snapshot, got %d", snap.Data)
	}
	select {
	case s := <-sub.C():
		t.Fatalf("expected a single buffered snapshot, got %#v", s)
	default:
	}

	if cache.Subscribers("k") != 1 {
		t.Fatalf("expected one subscriber")
	}
	sub.Close()
	sub.Close()
	if _, ok := <-sub.C(); ok {
		t.Fatalf("expected closed channel")
	}
	if cache.Subscribers("k") != 0 {
		t.Fatalf("expected no subscribers after close")
	}
}

func TestInvalidatePrefixAndSweep(t *testing.T) {
	cache := NewCache[int](nullLogger())
	ctx := context.Background()
	fetch := func(context.Context) (int, error) { return 1, nil }
	for _, key := range []string{"tasks?a=1", "tasks?b=2", "tasks/stats"} {
		cache.Read(ctx, key, fetch)
	}

	if n := cache.InvalidatePrefix("tasks?"); n != 2 {
		t.Fatalf("expected 2 invalidated entries, got %d", n)
	}
	if snap, _ := cache.Peek("tasks/stats"); snap.Stale {
		t.Fatalf("stats entry should not be touched")
	}
	if n := cache.InvalidateAll(); n != 3 {
		t.Fatalf("expected all entries invalidated, got %d", n)
	}

	sub := cache.Subscribe("tasks?a=1")
	defer sub.Close()
	if n := cache.Sweep(); n != 2 {
		t.Fatalf("expected 2 swept entries, got %d", n)
	}
	if cache.Len() != 1 {
		t.Fatalf("expected watched entry to survive, len=%d", cache.Len())
	}
}
