package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/bookwise/config"
	"github.com/aluiziolira/bookwise/debounce"
	"github.com/aluiziolira/bookwise/models"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.MockLatency = 0
	return cfg
}

// manualScheduler runs scheduled callbacks only when the test fires them.
type manualScheduler struct {
	mu      sync.Mutex
	pending []*manualTimer
}

type manualTimer struct {
	mu      sync.Mutex
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (s *manualScheduler) AfterFunc(_ time.Duration, f func()) debounce.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{f: f}
	s.pending = append(s.pending, t)
	return t
}

// Fire runs every callback that has not been stopped and returns how many ran.
func (s *manualScheduler) Fire() int {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	ran := 0
	for _, t := range pending {
		t.mu.Lock()
		live := !t.stopped
		t.stopped = true
		t.mu.Unlock()
		if live {
			t.f()
			ran++
		}
	}
	return ran
}

// scriptedBackend answers from per-key scripts and can hold responses back
// until released.
type scriptedBackend struct {
	mu       sync.Mutex
	search   map[string]models.SearchResultSet
	books    map[string]models.Book
	history  map[string]models.PriceHistory
	failures map[string]error
	gates    map[string]chan struct{}

	searchCalls atomic.Int32
}

func newScriptedBackend() *scriptedBackend {
	return &scriptedBackend{
		search:   make(map[string]models.SearchResultSet),
		books:    make(map[string]models.Book),
		history:  make(map[string]models.PriceHistory),
		failures: make(map[string]error),
		gates:    make(map[string]chan struct{}),
	}
}

func (b *scriptedBackend) hold(key string) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan struct{})
	b.gates[key] = ch
	return ch
}

func (b *scriptedBackend) wait(key string) {
	b.mu.Lock()
	ch := b.gates[key]
	b.mu.Unlock()
	if ch != nil {
		<-ch
	}
}

func (b *scriptedBackend) failure(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures[key]
}

func (b *scriptedBackend) SearchBooks(_ context.Context, query string, _ int) (models.SearchResultSet, error) {
	b.searchCalls.Add(1)
	b.wait("search:" + query)
	if err := b.failure("search:" + query); err != nil {
		return models.SearchResultSet{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.search[query]
	if !ok {
		return models.SearchResultSet{Query: query, Results: []models.Book{}}, nil
	}
	return set, nil
}

func (b *scriptedBackend) GetBookDetail(_ context.Context, id string) (models.Book, error) {
	b.wait("detail:" + id)
	if err := b.failure("detail:" + id); err != nil {
		return models.Book{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	book, ok := b.books[id]
	if !ok {
		return models.Book{}, models.ErrNotFound{Err: errors.New(id)}
	}
	return book, nil
}

func (b *scriptedBackend) GetPriceHistory(_ context.Context, id string, _ int) (models.PriceHistory, error) {
	b.wait("history:" + id)
	if err := b.failure("history:" + id); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history[id], nil
}

func (b *scriptedBackend) CreateAlert(context.Context, models.AlertRequest) error {
	return nil
}

func priced(id, title string, price float64, platform string) models.Book {
	return models.Book{
		BookID:  id,
		Title:   title,
		Authors: []string{"Author"},
		Offers: []models.Offer{{
			Platform:   platform,
			PlatformID: platform + ":" + id,
			Price:      price,
			Currency:   "INR",
		}},
	}
}
