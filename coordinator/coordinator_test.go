package coordinator

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/bookwise/metrics"
	"github.com/aluiziolira/bookwise/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// gatedFetch blocks each key until a result is released for it. It ignores
// cancellation, like a transport that cannot be aborted.
type gatedFetch struct {
	mu    sync.Mutex
	gates map[string]chan string
	calls atomic.Int32
}

func newGatedFetch() *gatedFetch {
	return &gatedFetch{gates: make(map[string]chan string)}
}

func (g *gatedFetch) gate(key string) chan string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[key]
	if !ok {
		ch = make(chan string)
		g.gates[key] = ch
	}
	return ch
}

func (g *gatedFetch) fetch(_ context.Context, key string) (string, error) {
	g.calls.Add(1)
	return <-g.gate(key), nil
}

func (g *gatedFetch) release(key, value string) {
	g.gate(key) <- value
}

func waitResult(t *testing.T, m *metrics.Metrics, name, result string, want float64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.CoordinatorResults.WithLabelValues(name, result)) == want
	}, time.Second, 5*time.Millisecond)
}

func TestLateResponseOfSupersededRequestIsDropped(t *testing.T) {
	ctx := context.Background()
	m := metrics.NewMetrics()
	g := newGatedFetch()
	c := New[string]("search", g.fetch, WithMetrics(m))

	ha := c.Request(ctx, "A")
	hb := c.Request(ctx, "B")

	_, err := ha.Wait(ctx)
	require.ErrorIs(t, err, ErrSuperseded)

	g.release("B", "result-B")
	state, err := hb.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusSettled, state.Status)
	assert.Equal(t, "result-B", state.Value)

	g.release("A", "result-A")
	waitResult(t, m, "search", "dropped", 1)

	snap := c.Snapshot()
	assert.Equal(t, "B", snap.Key)
	assert.Equal(t, "result-B", snap.Value)
	assert.Equal(t, hb.Token(), snap.Token)
}

func TestEarlyResponseOfSupersededRequestIsDropped(t *testing.T) {
	ctx := context.Background()
	m := metrics.NewMetrics()
	g := newGatedFetch()
	c := New[string]("search", g.fetch, WithMetrics(m))

	c.Request(ctx, "A")
	hb := c.Request(ctx, "B")

	g.release("A", "result-A")
	waitResult(t, m, "search", "dropped", 1)

	snap := c.Snapshot()
	assert.Equal(t, StatusPending, snap.Status)
	assert.Equal(t, "B", snap.Key)
	assert.False(t, snap.HasValue)

	g.release("B", "result-B")
	state, err := hb.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "result-B", state.Value)
}

func TestEmptyKeyIsIdleWithoutFetch(t *testing.T) {
	g := newGatedFetch()
	c := New[string]("search", g.fetch)

	state, err := c.Request(context.Background(), "").Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, state.Status)
	assert.Zero(t, g.calls.Load())
}

func TestEmptyKeyCancelsPending(t *testing.T) {
	ctx := context.Background()
	m := metrics.NewMetrics()
	g := newGatedFetch()
	c := New[string]("search", g.fetch, WithMetrics(m))

	c.Request(ctx, "A")
	c.Request(ctx, "")
	g.release("A", "late")
	waitResult(t, m, "search", "dropped", 1)

	assert.Equal(t, StatusIdle, c.Snapshot().Status)
}

func TestPendingRequestForSameKeyIsReused(t *testing.T) {
	ctx := context.Background()
	g := newGatedFetch()
	c := New[string]("detail", g.fetch)

	h1 := c.Request(ctx, "os-concepts")
	h2 := c.Request(ctx, "os-concepts")
	assert.Same(t, h1, h2)

	g.release("os-concepts", "book")
	_, err := h1.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), g.calls.Load())
}

func TestFreshCacheHitSkipsFetch(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	fetch := func(_ context.Context, key string) (string, error) {
		calls.Add(1)
		return "value-" + key, nil
	}
	clock := newFakeClock()
	c := New[string]("detail", fetch, WithClock(clock.Now), WithStaleAfter(10*time.Minute))

	_, err := c.Request(ctx, "a").Wait(ctx)
	require.NoError(t, err)
	_, err = c.Request(ctx, "b").Wait(ctx)
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	state, err := c.Request(ctx, "a").Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusSettled, state.Status)
	assert.Equal(t, "value-a", state.Value)
	assert.False(t, state.Stale)
	assert.Equal(t, int32(2), calls.Load())
}

func TestExpiredCacheEntryIsRefetched(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	fetch := func(_ context.Context, key string) (string, error) {
		return fmt.Sprintf("%s-%d", key, calls.Add(1)), nil
	}
	clock := newFakeClock()
	c := New[string]("detail", fetch,
		WithClock(clock.Now),
		WithStaleAfter(10*time.Minute),
		WithCache(8, time.Hour),
	)
	defer c.Close()

	_, err := c.Request(ctx, "a").Wait(ctx)
	require.NoError(t, err)
	v, ok := c.Cached("a")
	require.True(t, ok)
	assert.Equal(t, "a-1", v)

	clock.Advance(time.Hour + time.Minute)
	_, ok = c.Cached("a")
	assert.False(t, ok, "entries past the cache ttl are evicted")

	h := c.Request(ctx, "a")
	state, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a-2", state.Value)
	assert.False(t, state.Stale)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCloseLeavesNoGoroutines(t *testing.T) {
	ctx := context.Background()
	fetch := func(_ context.Context, key string) (string, error) { return key, nil }
	before := runtime.NumGoroutine()

	for i := 0; i < 20; i++ {
		c := New[string]("search", fetch, WithCache(4, time.Minute))
		_, err := c.Request(ctx, fmt.Sprintf("k%d", i)).Wait(ctx)
		require.NoError(t, err)
		c.Close()
	}

	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, time.Second, 10*time.Millisecond)
}

func TestStaleValueServedWhileRefreshing(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	fetch := func(_ context.Context, _ string) (string, error) {
		n := calls.Add(1)
		return fmt.Sprintf("v%d", n), nil
	}
	clock := newFakeClock()
	c := New[string]("search", fetch, WithClock(clock.Now), WithStaleAfter(5*time.Minute))

	_, err := c.Request(ctx, "os").Wait(ctx)
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	assert.True(t, c.Snapshot().Stale)

	state, err := c.Request(ctx, "os").Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v1", state.Value)
	assert.True(t, state.Stale)
	assert.True(t, state.Refreshing)

	require.Eventually(t, func() bool {
		s := c.Snapshot()
		return s.Value == "v2" && !s.Stale && !s.Refreshing
	}, time.Second, 5*time.Millisecond)
}

func TestStaleValueKeptWithoutBackgroundRefresh(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	fetch := func(_ context.Context, _ string) (string, error) {
		calls.Add(1)
		return "v", nil
	}
	clock := newFakeClock()
	c := New[string]("search", fetch,
		WithClock(clock.Now),
		WithStaleAfter(time.Minute),
		WithBackgroundRefresh(false),
	)

	_, err := c.Request(ctx, "os").Wait(ctx)
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	state, err := c.Request(ctx, "os").Wait(ctx)
	require.NoError(t, err)
	assert.True(t, state.Stale)
	assert.False(t, state.Refreshing)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFailedBackgroundRefreshKeepsStaleValue(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	fetch := func(_ context.Context, _ string) (string, error) {
		if calls.Add(1) > 1 {
			return "", models.ErrNetwork{Err: errors.New("connection reset")}
		}
		return "v1", nil
	}
	clock := newFakeClock()
	c := New[string]("search", fetch, WithClock(clock.Now), WithStaleAfter(time.Minute))

	_, err := c.Request(ctx, "os").Wait(ctx)
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	c.Request(ctx, "os")

	require.Eventually(t, func() bool {
		return !c.Snapshot().Refreshing
	}, time.Second, 5*time.Millisecond)

	snap := c.Snapshot()
	assert.Equal(t, StatusSettled, snap.Status)
	assert.Equal(t, "v1", snap.Value)
	assert.Equal(t, "network", models.ErrorKind(snap.Err))
}

func TestFailedFetch(t *testing.T) {
	ctx := context.Background()
	fetch := func(_ context.Context, key string) (string, error) {
		return "", models.ErrNotFound{Err: fmt.Errorf("book %q", key)}
	}
	c := New[string]("detail", fetch)

	state, err := c.Request(ctx, "missing").Wait(ctx)
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
	assert.Equal(t, StatusFailed, state.Status)
	assert.True(t, models.IsNotFound(state.Err))
	assert.Equal(t, StatusFailed, c.Snapshot().Status)
}

func TestRetryAfterFailure(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	fetch := func(_ context.Context, _ string) (string, error) {
		if calls.Add(1) == 1 {
			return "", models.ErrNetwork{Err: errors.New("timeout")}
		}
		return "ok", nil
	}
	c := New[string]("detail", fetch)

	_, err := c.Request(ctx, "id").Wait(ctx)
	require.Error(t, err)

	state, err := c.Retry(ctx).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", state.Value)
}

func TestCallerCancellationIsAbsorbed(t *testing.T) {
	fetch := func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	c := New[string]("search", fetch)

	ctx, cancel := context.WithCancel(context.Background())
	h := c.Request(ctx, "os")
	cancel()

	state, err := h.Wait(context.Background())
	require.ErrorIs(t, err, models.ErrCancelled)
	assert.Equal(t, StatusIdle, state.Status)
	assert.NoError(t, state.Err)
}

func TestSupersededFetchSeesCancellation(t *testing.T) {
	ctx := context.Background()
	cancelled := make(chan struct{})
	fetch := func(fctx context.Context, key string) (string, error) {
		if key == "A" {
			<-fctx.Done()
			close(cancelled)
			return "", fctx.Err()
		}
		return "b", nil
	}
	c := New[string]("search", fetch)

	c.Request(ctx, "A")
	state, err := c.Request(ctx, "B").Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", state.Value)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("superseded fetch was not cancelled")
	}
	assert.Equal(t, "B", c.Snapshot().Key)
}

func TestResetInvalidatesPendingToken(t *testing.T) {
	ctx := context.Background()
	m := metrics.NewMetrics()
	g := newGatedFetch()
	c := New[string]("detail", g.fetch, WithMetrics(m))

	h := c.Request(ctx, "id")
	c.Reset()

	_, err := h.Wait(ctx)
	require.ErrorIs(t, err, ErrSuperseded)

	g.release("id", "late")
	waitResult(t, m, "detail", "dropped", 1)
	assert.Equal(t, StatusIdle, c.Snapshot().Status)
}

func TestCloseRejectsFurtherRequests(t *testing.T) {
	ctx := context.Background()
	m := metrics.NewMetrics()
	g := newGatedFetch()
	c := New[string]("detail", g.fetch, WithMetrics(m))

	var mu sync.Mutex
	var seen []Status
	c.Subscribe(func(s State[string]) {
		mu.Lock()
		seen = append(seen, s.Status)
		mu.Unlock()
	})

	c.Request(ctx, "id")
	c.Close()
	g.release("id", "late")
	waitResult(t, m, "detail", "dropped", 1)

	_, err := c.Request(ctx, "other").Wait(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusPending}, seen)
}

func TestSubscribeReceivesTransitionsInOrder(t *testing.T) {
	ctx := context.Background()
	g := newGatedFetch()
	c := New[string]("search", g.fetch)

	var mu sync.Mutex
	var seen []string
	unsubscribe := c.Subscribe(func(s State[string]) {
		mu.Lock()
		seen = append(seen, s.Status.String()+":"+s.Key)
		mu.Unlock()
	})

	h := c.Request(ctx, "os")
	g.release("os", "v")
	_, err := h.Wait(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)

	unsubscribe()
	c.Request(ctx, "")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"pending:os", "settled:os"}, seen)
}
