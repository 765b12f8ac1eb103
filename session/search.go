package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/bookwise/compare"
	"github.com/aluiziolira/bookwise/coordinator"
	"github.com/aluiziolira/bookwise/debounce"
	"github.com/aluiziolira/bookwise/filter"
	"github.com/aluiziolira/bookwise/models"
)

// suggestStaleAfter is the freshness window of type-ahead suggestions.
const suggestStaleAfter = time.Minute

// Searcher runs catalogue searches.
type Searcher interface {
	SearchBooks(ctx context.Context, query string, limit int) (models.SearchResultSet, error)
}

// SearchView is what a search page renders.
type SearchView struct {
	Status     coordinator.Status
	Text       string // raw input, shown as typed
	Query      string // query the results belong to
	Total      int
	Unfiltered int
	Results    []models.Book
	Strip      compare.Strip
	Filters    filter.State
	Stale      bool
	Refreshing bool
	Err        error

	Suggestions []string
}

// Failed reports a search error, as opposed to a search with no results.
func (v SearchView) Failed() bool {
	return v.Status == coordinator.StatusFailed
}

// Empty reports a successful search that left nothing to show.
func (v SearchView) Empty() bool {
	return v.Status == coordinator.StatusSettled && len(v.Results) == 0
}

// Loading reports whether results are being fetched.
func (v SearchView) Loading() bool {
	return v.Status == coordinator.StatusPending || v.Refreshing
}

// SearchSession owns one search page: the typed text, the debounced query,
// the result fetch and the filter selection.
type SearchSession struct {
	ctx      context.Context
	results  *coordinator.Coordinator[models.SearchResultSet]
	suggest  *coordinator.Coordinator[models.SearchResultSet]
	debounce *debounce.Debouncer

	mu      sync.Mutex
	filters filter.State
}

// NewSearchSession builds a search page over backend. Requests issued by the
// session are bound to ctx. A non-empty category seeds the filter state and
// is browsed until the first searchable input replaces it.
func NewSearchSession(ctx context.Context, backend Searcher, category string, opts ...Option) *SearchSession {
	o := newOptions(opts)
	cfg := o.cfg
	if ctx == nil {
		ctx = context.Background()
	}

	s := &SearchSession{
		ctx:     ctx,
		filters: filter.DefaultState(category),
	}
	limit := cfg.SearchLimit
	s.results = coordinator.New("search", func(ctx context.Context, query string) (models.SearchResultSet, error) {
		return backend.SearchBooks(ctx, query, limit)
	}, o.coordinatorOptions(cfg.SearchStaleAfter)...)

	if cfg.SuggestLimit > 0 {
		suggestLimit := cfg.SuggestLimit
		s.suggest = coordinator.New("suggest", func(ctx context.Context, query string) (models.SearchResultSet, error) {
			return backend.SearchBooks(ctx, query, suggestLimit)
		}, o.coordinatorOptions(suggestStaleAfter)...)
	}

	s.debounce = debounce.New(forwarder{s}, o.debounceOptions()...)
	if category != "" {
		s.results.Request(s.ctx, category)
	}
	return s
}

// forwarder adapts the session to debounce.Forwarder without exporting the
// callbacks.
type forwarder struct{ s *SearchSession }

func (f forwarder) Forward(query string) {
	f.s.results.Request(f.s.ctx, query)
	if f.s.suggest != nil {
		f.s.suggest.Request(f.s.ctx, query)
	}
}

// Clear drops the results of both coordinators without fetching anything.
func (f forwarder) Clear() {
	if f.s.suggest != nil {
		f.s.suggest.Request(f.s.ctx, "")
	}
	f.s.results.Request(f.s.ctx, "")
}

// Input records raw text and schedules the debounced search.
func (s *SearchSession) Input(text string) {
	s.debounce.OnInput(text)
}

// Submit searches the current text immediately.
func (s *SearchSession) Submit() {
	s.debounce.Flush()
}

// Retry refetches the current query after a failure.
func (s *SearchSession) Retry() *coordinator.Handle[models.SearchResultSet] {
	return s.results.Retry(s.ctx)
}

// Await blocks until the current result request is no longer pending and
// returns the resulting view. Failures are reported through the view.
func (s *SearchSession) Await(ctx context.Context) (SearchView, error) {
	return s.view(awaitSettled(ctx, s.results)), ctx.Err()
}

// Category returns the browse category.
func (s *SearchSession) Category() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters.Category
}

// SetCategory changes the browse category. The category is browsed right
// away only while the text input is empty; typed text keeps its own results
// or, when too short, none.
func (s *SearchSession) SetCategory(category string) {
	s.mu.Lock()
	s.filters.Category = category
	s.mu.Unlock()

	if strings.TrimSpace(s.debounce.Text()) == "" {
		s.results.Request(s.ctx, category)
	}
}

// Filters returns a copy of the filter selection.
func (s *SearchSession) Filters() filter.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters.Clone()
}

// TogglePlatform adds or removes a platform from the selection.
func (s *SearchSession) TogglePlatform(platform string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters.TogglePlatform(platform)
}

// ToggleAvailability adds or removes an availability flag.
func (s *SearchSession) ToggleAvailability(flag filter.Availability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters.ToggleAvailability(flag)
}

// SetRating sets or clears the minimum rating.
func (s *SearchSession) SetRating(rating float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters.SetRating(rating)
}

// SetPriceBound moves one end of the price range.
func (s *SearchSession) SetPriceBound(index int, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters.SetPriceBound(index, value)
}

// ResetFilters restores the default selection.
func (s *SearchSession) ResetFilters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters.Reset()
}

// View derives the page from the latest result state and the filters.
func (s *SearchSession) View() SearchView {
	return s.view(s.results.Snapshot())
}

// Subscribe calls fn with a fresh view after every result transition. fn
// must not call back into the session.
func (s *SearchSession) Subscribe(fn func(SearchView)) func() {
	return s.results.Subscribe(func(st coordinator.State[models.SearchResultSet]) {
		fn(s.view(st))
	})
}

// Close stops pending input and discards in-flight results.
func (s *SearchSession) Close() {
	s.debounce.Stop()
	s.results.Close()
	if s.suggest != nil {
		s.suggest.Close()
	}
}

func (s *SearchSession) view(st coordinator.State[models.SearchResultSet]) SearchView {
	filters := s.Filters()
	v := SearchView{
		Status:     st.Status,
		Text:       s.debounce.Text(),
		Query:      st.Key,
		Filters:    filters,
		Stale:      st.Stale,
		Refreshing: st.Refreshing,
	}
	if st.Status == coordinator.StatusFailed {
		v.Err = st.Err
	}
	if st.HasValue {
		v.Total = st.Value.TotalResults
		v.Unfiltered = len(st.Value.Results)
		v.Results = filter.Apply(st.Value.Results, filters)
		v.Strip = compare.NewStrip(v.Results)
	}
	if s.suggest != nil {
		if sg := s.suggest.Snapshot(); sg.HasValue && sg.Key != "" {
			for _, b := range sg.Value.Results {
				v.Suggestions = append(v.Suggestions, b.Title)
			}
		}
	}
	return v
}
