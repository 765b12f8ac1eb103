// Package session composes the debouncer, coordinators, filters and
// comparison helpers into the views a front end renders: a search page and a
// book detail page.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/aluiziolira/bookwise/config"
	"github.com/aluiziolira/bookwise/coordinator"
	"github.com/aluiziolira/bookwise/debounce"
	"github.com/aluiziolira/bookwise/metrics"
)

// Option configures a session.
type Option func(*options)

type options struct {
	cfg       *config.Config
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
	scheduler debounce.Scheduler
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.cfg == nil {
		o.cfg = config.DefaultConfig()
	}
	return o
}

// WithConfig supplies limits, timings and cache policy. DefaultConfig is
// used otherwise.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithMetrics records coordinator and debounce activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the logger passed to the coordinators.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock replaces time.Now for staleness decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithScheduler replaces the timer used to debounce search input.
func WithScheduler(s debounce.Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

// awaitSettled waits until c has no pending request or ctx ends, and
// returns the state it observed last.
func awaitSettled[T any](ctx context.Context, c *coordinator.Coordinator[T]) coordinator.State[T] {
	for {
		h := c.Pending()
		if h == nil {
			return c.Snapshot()
		}
		if _, err := h.Wait(ctx); err != nil && ctx.Err() != nil {
			return c.Snapshot()
		}
	}
}

func (o options) coordinatorOptions(staleAfter time.Duration) []coordinator.Option {
	opts := []coordinator.Option{
		coordinator.WithStaleAfter(staleAfter),
		coordinator.WithCache(o.cfg.CacheSize, o.cfg.CacheTTL),
		coordinator.WithBackgroundRefresh(o.cfg.BackgroundRefresh),
		coordinator.WithMetrics(o.metrics),
	}
	if o.logger != nil {
		opts = append(opts, coordinator.WithLogger(o.logger))
	}
	if o.now != nil {
		opts = append(opts, coordinator.WithClock(o.now))
	}
	return opts
}

func (o options) debounceOptions() []debounce.Option {
	opts := []debounce.Option{
		debounce.WithQuietPeriod(o.cfg.Debounce),
		debounce.WithMinLength(o.cfg.MinQueryLength),
		debounce.WithMetrics(o.metrics),
	}
	if o.scheduler != nil {
		opts = append(opts, debounce.WithScheduler(o.scheduler))
	}
	return opts
}
