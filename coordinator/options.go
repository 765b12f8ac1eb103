package coordinator

import (
	"log/slog"
	"time"

	"github.com/aluiziolira/bookwise/metrics"
)

const (
	defaultStaleAfter = 5 * time.Minute
	defaultCacheTTL   = 2 * time.Hour
	defaultCacheSize  = 128
)

type options struct {
	staleAfter        time.Duration
	cacheTTL          time.Duration
	cacheSize         int
	backgroundRefresh bool
	now               func() time.Time
	metrics           *metrics.Metrics
	logger            *slog.Logger
}

func defaultOptions() options {
	return options{
		staleAfter:        defaultStaleAfter,
		cacheTTL:          defaultCacheTTL,
		cacheSize:         defaultCacheSize,
		backgroundRefresh: true,
		now:               time.Now,
	}
}

// Option configures a Coordinator.
type Option func(*options)

// WithStaleAfter sets how long a settled value counts as fresh.
func WithStaleAfter(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.staleAfter = d
		}
	}
}

// WithCache bounds the settled-value cache by entry count and age. Entries
// older than ttl are evicted and must be fetched again.
func WithCache(size int, ttl time.Duration) Option {
	return func(o *options) {
		if size > 0 {
			o.cacheSize = size
		}
		if ttl > 0 {
			o.cacheTTL = ttl
		}
	}
}

// WithBackgroundRefresh toggles refetching stale values behind the cached copy.
func WithBackgroundRefresh(enabled bool) Option {
	return func(o *options) {
		o.backgroundRefresh = enabled
	}
}

// WithClock replaces time.Now for staleness decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMetrics records request outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithLogger sets the logger. slog.Default is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

type requestOptions struct {
	force bool
}

// RequestOption adjusts a single Request call.
type RequestOption func(*requestOptions)

// Force bypasses the cache and any in-flight request for the same key.
func Force() RequestOption {
	return func(o *requestOptions) {
		o.force = true
	}
}
