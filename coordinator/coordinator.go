package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/bookwise/models"
)

// FetchFunc loads the value for key. It should stop work when ctx is
// cancelled; if it cannot, its result is discarded anyway.
type FetchFunc[T any] func(ctx context.Context, key string) (T, error)

// Handle refers to one Request call.
type Handle[T any] struct {
	token    uint64
	key      string
	done     chan struct{}
	resolved bool
	state    State[T]
	err      error
}

func newHandle[T any](token uint64, key string) *Handle[T] {
	return &Handle[T]{token: token, key: key, done: make(chan struct{})}
}

// resolve must be called with the owning coordinator's lock held.
func (h *Handle[T]) resolve(state State[T], err error) {
	if h.resolved {
		return
	}
	h.resolved = true
	h.state = state
	h.err = err
	close(h.done)
}

// Token returns the generation the request was issued under.
func (h *Handle[T]) Token() uint64 { return h.token }

// Key returns the requested key.
func (h *Handle[T]) Key() string { return h.key }

// Done is closed once the request settles, fails or is superseded.
func (h *Handle[T]) Done() <-chan struct{} { return h.done }

// Wait blocks until the request resolves or ctx is done. A failed fetch
// returns its error alongside the Failed state; a superseded request returns
// ErrSuperseded.
func (h *Handle[T]) Wait(ctx context.Context) (State[T], error) {
	select {
	case <-h.done:
		return h.state, h.err
	case <-ctx.Done():
		return State[T]{}, ctx.Err()
	}
}

type subscriber[T any] struct {
	id int
	fn func(State[T])
}

// Coordinator tracks one key at a time. Every request mints a new generation
// token; a completion is applied only if its token is still current.
type Coordinator[T any] struct {
	name  string
	fetch FetchFunc[T]
	opts  options
	cache *lru.Cache[string, entry[T]]

	mu         sync.Mutex
	generation uint64
	state      State[T]
	cancel     context.CancelFunc
	handle     *Handle[T]
	closed     bool
	subs       []subscriber[T]
	nextSub    int

	// notifyMu keeps subscriber deliveries in transition order.
	notifyMu sync.Mutex
}

// New returns an idle coordinator. name labels logs and metrics.
func New[T any](name string, fetch FetchFunc[T], opts ...Option) *Coordinator[T] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	cache, err := lru.New[string, entry[T]](o.cacheSize)
	if err != nil {
		// lru only rejects non-positive sizes and WithCache keeps them out.
		panic(err)
	}
	return &Coordinator[T]{
		name:  name,
		fetch: fetch,
		opts:  o,
		cache: cache,
	}
}

// Name returns the label the coordinator was created with.
func (c *Coordinator[T]) Name() string { return c.name }

// Request makes key the tracked key.
//
// An empty key cancels any pending fetch and yields Idle without fetching. A
// pending fetch for the same key is reused. A cached value is served without
// waiting; if it is stale a background refresh is started when enabled.
// Otherwise the previous fetch is cancelled and a new one starts under a
// fresh token.
func (c *Coordinator[T]) Request(ctx context.Context, key string, opts ...RequestOption) *Handle[T] {
	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		h := newHandle[T](0, key)
		h.resolve(State[T]{Key: key}, ErrClosed)
		return h
	}

	if key == "" {
		c.invalidateLocked()
		c.state = State[T]{Token: c.generation}
		h := newHandle[T](c.generation, key)
		h.resolve(c.state, nil)
		c.opts.metrics.IncRequest(c.name, "idle")
		c.unlockAndPublish()
		return h
	}

	if !ro.force && key == c.state.Key && c.state.Loading() && c.handle != nil {
		h := c.handle
		c.mu.Unlock()
		c.opts.metrics.IncRequest(c.name, "in_flight")
		return h
	}

	if !ro.force {
		if e, ok := c.cachedLocked(key); ok {
			stale := c.isStale(e.fetchedAt)
			c.invalidateLocked()
			token := c.generation
			c.state = State[T]{
				Status:    StatusSettled,
				Key:       key,
				Value:     e.value,
				HasValue:  true,
				UpdatedAt: e.fetchedAt,
				Stale:     stale,
				Token:     token,
			}
			if stale && c.opts.backgroundRefresh {
				c.state.Refreshing = true
				c.startLocked(ctx, key, token, true)
			}
			h := newHandle[T](token, key)
			h.resolve(c.state, nil)
			c.handle = h
			if stale {
				c.opts.metrics.IncRequest(c.name, "stale_hit")
			} else {
				c.opts.metrics.IncRequest(c.name, "cache_hit")
			}
			c.unlockAndPublish()
			return h
		}
	}

	prev := c.state
	c.invalidateLocked()
	token := c.generation
	next := State[T]{Status: StatusPending, Key: key, Token: token}
	if prev.Key == key && prev.HasValue {
		next.Value = prev.Value
		next.HasValue = true
		next.UpdatedAt = prev.UpdatedAt
	}
	c.state = next
	h := newHandle[T](token, key)
	c.handle = h
	c.startLocked(ctx, key, token, false)
	c.opts.metrics.IncRequest(c.name, "started")
	c.unlockAndPublish()
	return h
}

// Retry refetches the tracked key, bypassing the cache. It is a no-op while
// the coordinator is idle.
func (c *Coordinator[T]) Retry(ctx context.Context) *Handle[T] {
	c.mu.Lock()
	key := c.state.Key
	c.mu.Unlock()
	return c.Request(ctx, key, Force())
}

// Snapshot returns the current state with staleness evaluated now.
func (c *Coordinator[T]) Snapshot() State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	if s.Status == StatusSettled {
		s.Stale = c.isStale(s.UpdatedAt)
	}
	return s
}

// Pending returns the handle of the fetch the tracked key is waiting on, or
// nil when nothing is pending. Background refreshes do not count.
func (c *Coordinator[T]) Pending() *Handle[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status != StatusPending || c.handle == nil {
		return nil
	}
	return c.handle
}

// Cached returns the cached value for key, if any, regardless of staleness.
// Values older than the cache TTL are gone.
func (c *Coordinator[T]) Cached(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cachedLocked(key)
	return e.value, ok
}

// Subscribe registers fn to receive every state transition and returns a
// function that removes it. fn runs synchronously and must not call back into
// the coordinator.
func (c *Coordinator[T]) Subscribe(fn func(State[T])) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs = append(c.subs, subscriber[T]{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.subs = slices.DeleteFunc(c.subs, func(s subscriber[T]) bool { return s.id == id })
	}
}

// Reset invalidates any pending token and returns to Idle. Cached values are
// kept.
func (c *Coordinator[T]) Reset() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.invalidateLocked()
	c.state = State[T]{Token: c.generation}
	c.unlockAndPublish()
}

// Close invalidates any pending token, drops subscribers and the cache. Late
// responses are discarded and further requests resolve with ErrClosed. No
// goroutine outlives Close except fetches already running, which exit once
// they observe their cancelled context.
func (c *Coordinator[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.invalidateLocked()
	c.closed = true
	c.state = State[T]{Token: c.generation}
	c.subs = nil
	c.cache.Purge()
}

func (c *Coordinator[T]) invalidateLocked() {
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.handle != nil {
		c.handle.resolve(c.state, ErrSuperseded)
		c.handle = nil
	}
}

func (c *Coordinator[T]) startLocked(parent context.Context, key string, token uint64, background bool) {
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	go c.run(ctx, cancel, key, token, background)
}

func (c *Coordinator[T]) run(ctx context.Context, cancel context.CancelFunc, key string, token uint64, background bool) {
	defer cancel()
	start := time.Now()
	value, err := c.fetch(ctx, key)
	c.opts.metrics.ObserveFetch(c.name, time.Since(start))
	c.complete(ctx, key, token, background, value, err)
}

func (c *Coordinator[T]) complete(ctx context.Context, key string, token uint64, background bool, value T, err error) {
	c.mu.Lock()
	if c.closed || token != c.generation {
		current := c.generation
		c.mu.Unlock()
		c.opts.metrics.IncResult(c.name, "dropped")
		c.logger().Debug("dropping superseded response",
			slog.String("coordinator", c.name),
			slog.String("key", key),
			slog.Uint64("token", token),
			slog.Uint64("current", current),
		)
		return
	}
	c.cancel = nil

	var handleErr error
	now := c.opts.now()
	switch {
	case err == nil:
		c.cache.Add(key, entry[T]{value: value, fetchedAt: now})
		c.state = State[T]{
			Status:    StatusSettled,
			Key:       key,
			Value:     value,
			HasValue:  true,
			UpdatedAt: now,
			Token:     token,
		}
		c.opts.metrics.IncResult(c.name, "settled")
	case models.IsCancelled(err) || errors.Is(ctx.Err(), context.Canceled):
		c.state.Refreshing = false
		if c.state.Status == StatusPending {
			c.state.Status = StatusIdle
		}
		handleErr = models.ErrCancelled
		c.opts.metrics.IncResult(c.name, "cancelled")
	case background:
		c.state.Refreshing = false
		c.state.Err = err
		c.opts.metrics.IncResult(c.name, "failed")
		c.logger().Warn("background refresh failed, keeping stale value",
			slog.String("coordinator", c.name),
			slog.String("key", key),
			slog.Any("error", err),
		)
	default:
		c.state.Status = StatusFailed
		c.state.Err = err
		c.state.Refreshing = false
		handleErr = err
		c.opts.metrics.IncResult(c.name, "failed")
		c.logger().Debug("fetch failed",
			slog.String("coordinator", c.name),
			slog.String("key", key),
			slog.String("kind", models.ErrorKind(err)),
			slog.Any("error", err),
		)
	}

	if c.handle != nil && c.handle.token == token {
		c.handle.resolve(c.state, handleErr)
	}
	c.unlockAndPublish()
}

// unlockAndPublish releases c.mu and delivers the current state to
// subscribers.
func (c *Coordinator[T]) unlockAndPublish() {
	state := c.state
	subs := slices.Clone(c.subs)
	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()
	for _, s := range subs {
		s.fn(state)
	}
}

// cachedLocked returns the entry for key unless it has outlived the cache
// TTL on the coordinator clock, in which case it is evicted.
func (c *Coordinator[T]) cachedLocked(key string) (entry[T], bool) {
	e, ok := c.cache.Get(key)
	if !ok {
		return entry[T]{}, false
	}
	if c.opts.cacheTTL > 0 && c.opts.now().Sub(e.fetchedAt) > c.opts.cacheTTL {
		c.cache.Remove(key)
		return entry[T]{}, false
	}
	return e, true
}

func (c *Coordinator[T]) isStale(fetchedAt time.Time) bool {
	return c.opts.now().Sub(fetchedAt) > c.opts.staleAfter
}

func (c *Coordinator[T]) logger() *slog.Logger {
	if c.opts.logger != nil {
		return c.opts.logger
	}
	return slog.Default()
}
