package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/bookwise/alert"
	"github.com/aluiziolira/bookwise/compare"
	"github.com/aluiziolira/bookwise/coordinator"
	"github.com/aluiziolira/bookwise/models"
)

// DetailBackend serves the detail page.
type DetailBackend interface {
	GetBookDetail(ctx context.Context, bookID string) (models.Book, error)
	GetPriceHistory(ctx context.Context, bookID string, days int) (models.PriceHistory, error)
	alert.Creator
}

// DetailView is what a book detail page renders.
type DetailView struct {
	// Book is the full record once loaded, otherwise the summary the page
	// was opened with.
	Book     models.Book
	Degraded bool

	DetailStatus  coordinator.Status
	DetailErr     error
	HistoryStatus coordinator.Status
	HistoryErr    error

	History  models.PriceHistory
	Trend    compare.TrendSummary
	Cheapest *models.Offer
	Fastest  *models.Offer

	SuggestedTarget float64
	HasSuggestion   bool
}

// Loading reports whether either fetch is still running.
func (v DetailView) Loading() bool {
	return v.DetailStatus == coordinator.StatusPending || v.HistoryStatus == coordinator.StatusPending
}

// DetailSession owns one detail page: the book detail and its price history.
type DetailSession struct {
	ctx     context.Context
	backend DetailBackend
	detail  *coordinator.Coordinator[models.Book]
	history *coordinator.Coordinator[models.PriceHistory]

	mu      sync.Mutex
	summary models.Book
	days    int
}

// NewDetailSession builds a detail page over backend. Requests issued by the
// session are bound to ctx.
func NewDetailSession(ctx context.Context, backend DetailBackend, opts ...Option) *DetailSession {
	o := newOptions(opts)
	cfg := o.cfg
	if ctx == nil {
		ctx = context.Background()
	}
	return &DetailSession{
		ctx:     ctx,
		backend: backend,
		days:    cfg.HistoryDays,
		detail: coordinator.New("detail", func(ctx context.Context, id string) (models.Book, error) {
			return backend.GetBookDetail(ctx, id)
		}, o.coordinatorOptions(cfg.DetailStaleAfter)...),
		history: coordinator.New("history", func(ctx context.Context, key string) (models.PriceHistory, error) {
			id, days, err := splitHistoryKey(key)
			if err != nil {
				return nil, err
			}
			return backend.GetPriceHistory(ctx, id, days)
		}, o.coordinatorOptions(cfg.HistoryStaleAfter)...),
	}
}

// Open shows summary and starts loading its detail and price history.
// Opening another book supersedes the previous one.
func (s *DetailSession) Open(summary models.Book) {
	s.mu.Lock()
	s.summary = summary
	days := s.days
	s.mu.Unlock()

	s.detail.Request(s.ctx, summary.BookID)
	s.history.Request(s.ctx, historyKey(summary.BookID, days))
}

// SetHistoryDays changes the history window and refetches it.
func (s *DetailSession) SetHistoryDays(days int) {
	s.mu.Lock()
	s.days = days
	id := s.summary.BookID
	s.mu.Unlock()

	s.history.Request(s.ctx, historyKey(id, days))
}

// Retry refetches whichever of detail and history failed.
func (s *DetailSession) Retry() {
	if s.detail.Snapshot().Status == coordinator.StatusFailed {
		s.detail.Retry(s.ctx)
	}
	if s.history.Snapshot().Status == coordinator.StatusFailed {
		s.history.Retry(s.ctx)
	}
}

// Load opens summary and waits for both fetches. Fetch failures are
// reported on the view; the returned error is non-nil only when ctx ends.
func (s *DetailSession) Load(ctx context.Context, summary models.Book) (DetailView, error) {
	s.Open(summary)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		awaitSettled(gctx, s.detail)
		return gctx.Err()
	})
	g.Go(func() error {
		awaitSettled(gctx, s.history)
		return gctx.Err()
	})
	err := g.Wait()
	return s.View(), err
}

// View derives the page. A missing or failed detail degrades to the
// summary.
func (s *DetailSession) View() DetailView {
	s.mu.Lock()
	summary := s.summary
	s.mu.Unlock()

	d := s.detail.Snapshot()
	h := s.history.Snapshot()

	v := DetailView{
		Book:          summary,
		Degraded:      true,
		DetailStatus:  d.Status,
		HistoryStatus: h.Status,
	}
	if d.Status == coordinator.StatusFailed {
		v.DetailErr = d.Err
	}
	if h.Status == coordinator.StatusFailed {
		v.HistoryErr = h.Err
	}
	if d.HasValue && d.Key == summary.BookID {
		v.Book = d.Value
		v.Degraded = false
	}

	if h.HasValue && strings.HasPrefix(h.Key, summary.BookID+"|") {
		v.History = h.Value
	} else if len(v.Book.PriceTrend) > 0 {
		v.History = v.Book.PriceTrend
	}
	v.Trend = compare.Summarize(v.History)
	v.Cheapest = compare.Cheapest(v.Book.Offers)
	v.Fastest = compare.FastestDelivery(v.Book.Offers)
	v.SuggestedTarget, v.HasSuggestion = alert.SuggestTarget(v.Book.Offers)
	return v
}

// AlertForm returns a form for the displayed book, prefilled with the
// suggested target.
func (s *DetailSession) AlertForm() *alert.Form {
	return alert.NewForm(s.View().Book)
}

// SubmitAlert validates form and sends it to the backend.
func (s *DetailSession) SubmitAlert(ctx context.Context, form *alert.Form) error {
	return form.Submit(ctx, s.backend)
}

// Close discards in-flight fetches.
func (s *DetailSession) Close() {
	s.detail.Close()
	s.history.Close()
}

func historyKey(bookID string, days int) string {
	if bookID == "" {
		return ""
	}
	return bookID + "|" + strconv.Itoa(days)
}

func splitHistoryKey(key string) (string, int, error) {
	i := strings.LastIndex(key, "|")
	if i < 0 {
		return "", 0, errors.New("malformed history key")
	}
	days, err := strconv.Atoi(key[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed history key %q: %w", key, err)
	}
	return key[:i], days, nil
}
