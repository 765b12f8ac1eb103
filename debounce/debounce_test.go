package debounce

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/bookwise/metrics"
)

type fakeTimer struct {
	at      time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// fakeScheduler runs callbacks on a virtual clock advanced by the test.
type fakeScheduler struct {
	now    time.Duration
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{at: s.now + d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) Advance(d time.Duration) {
	target := s.now + d
	for {
		due := s.due(target)
		if due == nil {
			break
		}
		s.now = due.at
		due.stopped = true
		due.f()
	}
	s.now = target
}

func (s *fakeScheduler) due(target time.Duration) *fakeTimer {
	var live []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && t.at <= target {
			live = append(live, t)
		}
	}
	if len(live) == 0 {
		return nil
	}
	sort.Slice(live, func(i, j int) bool { return live[i].at < live[j].at })
	return live[0]
}

type forward struct {
	query string
	at    time.Duration
}

type recorder struct {
	mu       sync.Mutex
	sched    *fakeScheduler
	forwards []forward
	clears   int
}

func (r *recorder) Forward(query string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forwards = append(r.forwards, forward{query: query, at: r.sched.now})
}

func (r *recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears++
}

func setup(opts ...Option) (*Debouncer, *fakeScheduler, *recorder) {
	sched := &fakeScheduler{}
	rec := &recorder{sched: sched}
	d := New(rec, append([]Option{WithScheduler(sched)}, opts...)...)
	return d, sched, rec
}

func TestBurstForwardsOnceAfterQuietPeriod(t *testing.T) {
	d, sched, rec := setup()

	for i, text := range []string{"ope", "oper", "opera", "operating"} {
		if i > 0 {
			sched.Advance(50 * time.Millisecond)
		}
		d.OnInput(text)
	}
	assert.Equal(t, 150*time.Millisecond, sched.now)

	sched.Advance(299 * time.Millisecond)
	assert.Empty(t, rec.forwards)

	sched.Advance(10 * time.Second)
	require.Len(t, rec.forwards, 1)
	assert.Equal(t, forward{query: "operating", at: 450 * time.Millisecond}, rec.forwards[0])
}

func TestShortInputClearsWithoutForward(t *testing.T) {
	m := metrics.NewMetrics()
	d, sched, rec := setup(WithMetrics(m))

	d.OnInput("operating")
	sched.Advance(100 * time.Millisecond)
	d.OnInput(" o ")
	sched.Advance(time.Second)

	assert.Empty(t, rec.forwards)
	assert.Equal(t, 1, rec.clears)
	assert.Equal(t, " o ", d.Text())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DebounceClears))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.DebounceForwards))
}

func TestMinimumLengthCountsTrimmedRunes(t *testing.T) {
	tests := []struct {
		input   string
		forward bool
	}{
		{input: "", forward: false},
		{input: "   ", forward: false},
		{input: "a", forward: false},
		{input: " a ", forward: false},
		{input: "ab", forward: true},
		{input: "é!", forward: true},
		{input: "  os  ", forward: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			d, sched, rec := setup()
			d.OnInput(tt.input)
			sched.Advance(time.Second)
			assert.Equal(t, tt.forward, len(rec.forwards) == 1)
		})
	}
}

func TestForwardCarriesTrimmedQuery(t *testing.T) {
	d, sched, rec := setup()
	d.OnInput("  galvin  ")
	sched.Advance(DefaultQuietPeriod)
	require.Len(t, rec.forwards, 1)
	assert.Equal(t, "galvin", rec.forwards[0].query)
	assert.Equal(t, "  galvin  ", d.Text())
}

func TestFlushForwardsImmediately(t *testing.T) {
	d, sched, rec := setup()
	d.OnInput("stallings")
	assert.True(t, d.Pending())

	d.Flush()
	assert.False(t, d.Pending())
	require.Len(t, rec.forwards, 1)
	assert.Equal(t, time.Duration(0), rec.forwards[0].at)

	sched.Advance(time.Second)
	assert.Len(t, rec.forwards, 1)
}

func TestStopCancelsScheduledForward(t *testing.T) {
	d, sched, rec := setup()
	d.OnInput("tanenbaum")
	d.Stop()
	sched.Advance(time.Second)
	d.OnInput("silberschatz")
	sched.Advance(time.Second)
	assert.Empty(t, rec.forwards)
}

func TestRealSchedulerFires(t *testing.T) {
	done := make(chan string, 1)
	d := New(forwardFunc(func(q string) { done <- q }), WithQuietPeriod(10*time.Millisecond))
	d.OnInput("os")
	select {
	case q := <-done:
		assert.Equal(t, "os", q)
	case <-time.After(time.Second):
		t.Fatal("forward did not fire")
	}
}

type forwardFunc func(string)

func (f forwardFunc) Forward(q string) { f(q) }
func (forwardFunc) Clear()             {}
