// Package debounce delays forwarding fast-changing search input until the
// user pauses typing.
package debounce

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/aluiziolira/bookwise/metrics"
)

const (
	DefaultQuietPeriod = 300 * time.Millisecond
	DefaultMinLength   = 2
)

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Forwarder receives debounced input.
type Forwarder interface {
	// Forward is called with the trimmed query once input has been quiet.
	Forward(query string)
	// Clear is called when the input became too short to search.
	Clear()
}

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithQuietPeriod sets how long input must pause before it is forwarded.
func WithQuietPeriod(d time.Duration) Option {
	return func(db *Debouncer) {
		if d >= 0 {
			db.quiet = d
		}
	}
}

// WithMinLength sets the minimum trimmed rune count that is forwarded.
func WithMinLength(n int) Option {
	return func(db *Debouncer) {
		if n >= 0 {
			db.minLen = n
		}
	}
}

// WithScheduler replaces the timer source.
func WithScheduler(s Scheduler) Option {
	return func(db *Debouncer) {
		if s != nil {
			db.sched = s
		}
	}
}

// WithMetrics counts forwards and clears on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(db *Debouncer) {
		db.metrics = m
	}
}

// Debouncer forwards only the last of a burst of inputs. Every OnInput call
// bumps a sequence number; a timer fires only if its sequence is still the
// latest.
type Debouncer struct {
	quiet   time.Duration
	minLen  int
	sched   Scheduler
	target  Forwarder
	metrics *metrics.Metrics

	mu      sync.Mutex
	text    string
	seq     uint64
	timer   Timer
	stopped bool
}

// New returns a Debouncer forwarding to target.
func New(target Forwarder, opts ...Option) *Debouncer {
	d := &Debouncer{
		quiet:  DefaultQuietPeriod,
		minLen: DefaultMinLength,
		sched:  realScheduler{},
		target: target,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OnInput records raw for display and schedules a forward after the quiet
// period, replacing any forward scheduled earlier. Input shorter than the
// minimum length cancels the pending forward and clears immediately.
func (d *Debouncer) OnInput(raw string) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.text = raw
	d.seq++
	seq := d.seq
	d.stopTimerLocked()

	query := strings.TrimSpace(raw)
	if !d.searchable(query) {
		d.mu.Unlock()
		d.metrics.IncClear()
		d.target.Clear()
		return
	}
	d.timer = d.sched.AfterFunc(d.quiet, func() {
		d.fire(seq, query)
	})
	d.mu.Unlock()
}

// Flush forwards the current input immediately if it is searchable.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.seq++
	d.stopTimerLocked()
	query := strings.TrimSpace(d.text)
	d.mu.Unlock()

	if !d.searchable(query) {
		return
	}
	d.metrics.IncForward()
	d.target.Forward(query)
}

// Text returns the most recent raw input.
func (d *Debouncer) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

// Pending reports whether a forward is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Stop cancels any scheduled forward. Later input is ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.seq++
	d.stopTimerLocked()
}

func (d *Debouncer) fire(seq uint64, query string) {
	d.mu.Lock()
	if d.stopped || seq != d.seq {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()

	d.metrics.IncForward()
	d.target.Forward(query)
}

func (d *Debouncer) searchable(query string) bool {
	return query != "" && utf8.RuneCountInString(query) >= d.minLen
}

func (d *Debouncer) stopTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
